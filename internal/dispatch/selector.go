package dispatch

import (
	"context"
	"time"

	"github.com/Yurzs/ollama-x/internal/gwerrors"
	"github.com/Yurzs/ollama-x/internal/registry"
)

// Selector picks the least-loaded active backend for a model (spec §4.2
// "Selection algorithm"), consulting live QueueHandler depths rather than a
// static load field.
type Selector struct {
	Registry *registry.Registry
	Queues   *QueuePool
	Now      func() time.Time
}

func NewSelector(reg *registry.Registry, queues *QueuePool) *Selector {
	return &Selector{Registry: reg, Queues: queues, Now: time.Now}
}

// Select returns the chosen backend and the model name to actually send it
// (after prefix substitution), or gwerrors.NoServerAvailable if no active
// backend advertises the model.
func (s *Selector) Select(ctx context.Context, model string) (registry.Backend, string, error) {
	backends, err := s.Registry.All(ctx)
	if err != nil {
		return registry.Backend{}, "", err
	}

	now := s.Now()
	var (
		best      registry.Backend
		bestDepth = -1
		found     bool
	)
	for _, b := range backends {
		if !b.IsActive(now) {
			continue
		}
		if model != "" && !backendHasMatch(b, model) {
			continue
		}
		depth := s.Queues.DepthFor(b.URL)
		if !found || depth < bestDepth {
			best, bestDepth, found = b, depth, true
		}
	}

	if !found {
		return registry.Backend{}, "", gwerrors.NoServerAvailable(model)
	}

	resolved := model
	if model != "" {
		names := make([]string, 0, len(best.Models))
		for _, m := range best.Models {
			names = append(names, m.Name)
		}
		resolved = ResolvePrefix(model, names)
	}

	return best, resolved, nil
}

func backendHasMatch(b registry.Backend, model string) bool {
	for _, m := range b.Models {
		if MatchModel(model, m.Name) {
			return true
		}
	}
	for _, m := range b.RunningModels {
		if MatchModel(model, m.Name) {
			return true
		}
	}
	return false
}
