package dispatch

import (
	"context"

	"github.com/Yurzs/ollama-x/internal/identity"
	"github.com/Yurzs/ollama-x/internal/registry"
)

// AdmissionPolicy resolves the model name a request is actually dispatched
// against, applying the enforce_model/anonymous_model overrides of spec
// §4.2 "Admission policy" ahead of selection.
type AdmissionPolicy struct {
	EnforceModel   func() string
	AnonymousModel func() string
}

// Resolve returns the model the dispatcher should select against for a
// request naming requestedModel on behalf of user.
func (p AdmissionPolicy) Resolve(user identity.User, requestedModel string) string {
	if p.EnforceModel != nil {
		if m := p.EnforceModel(); m != "" {
			return m
		}
	}
	if user.IsGuest() && p.AnonymousModel != nil {
		if m := p.AnonymousModel(); m != "" {
			return m
		}
	}
	return requestedModel
}

// Dispatcher ties backend selection to per-backend queue admission: the
// one entry point proxy handlers call to run a request against "whichever
// active backend is least loaded" (spec §4.2).
type Dispatcher struct {
	Selector *Selector
	Queues   *QueuePool
	Policy   AdmissionPolicy
}

func NewDispatcher(reg *registry.Registry, queues *QueuePool, policy AdmissionPolicy) *Dispatcher {
	return &Dispatcher{
		Selector: NewSelector(reg, queues),
		Queues:   queues,
		Policy:   policy,
	}
}

// Dispatch resolves the admission-adjusted model, selects a backend, and
// submits do to that backend's queue. do receives the resolved backend and
// the (possibly prefix-substituted) model name to send downstream.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	user identity.User,
	requestedModel string,
	do func(ctx context.Context, backend registry.Backend, resolvedModel string) (any, error),
) (any, error) {
	model := d.Policy.Resolve(user, requestedModel)

	backend, resolvedModel, err := d.Selector.Select(ctx, model)
	if err != nil {
		return nil, err
	}

	handler := d.Queues.Get(backend.URL)
	return handler.Submit(ctx, func(ctx context.Context) (any, error) {
		return do(ctx, backend, resolvedModel)
	})
}
