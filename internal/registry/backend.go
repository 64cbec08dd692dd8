// Package registry tracks the pool of Ollama backend servers the gateway
// dispatches to: their CRUD lifecycle, their advertised models, and the
// active/inactive predicate the dispatcher uses to pick one.
package registry

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Yurzs/ollama-x/internal/gwerrors"
	"github.com/Yurzs/ollama-x/internal/store"
)

// ActiveWindow is how long a backend is considered active after its last
// successful health probe (spec §3 "Backend": "active iff last_alive within
// the last 20 seconds").
const ActiveWindow = 20 * time.Second

// ModelInfo is one entry of a backend's advertised model list, as returned
// by Ollama's /api/tags.
type ModelInfo struct {
	Name       string `json:"name" bson:"name"`
	Size       int64  `json:"size,omitempty" bson:"size,omitempty"`
	Digest     string `json:"digest,omitempty" bson:"digest,omitempty"`
	ModifiedAt string `json:"modified_at,omitempty" bson:"modified_at,omitempty"`
}

// RunningModel is one entry of a backend's /api/ps response.
type RunningModel struct {
	Name      string `json:"name" bson:"name"`
	SizeVRAM  int64  `json:"size_vram,omitempty" bson:"size_vram,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
}

// Backend is one registered Ollama server (spec §3 "Backend").
type Backend struct {
	ID             string         `json:"id" bson:"_id"`
	URL            string         `json:"url" bson:"url"`
	LastUpdate     time.Time      `json:"last_update" bson:"last_update"`
	LastAlive      time.Time      `json:"last_alive" bson:"last_alive"`
	Models         []ModelInfo    `json:"models" bson:"models"`
	RunningModels  []RunningModel `json:"running_models" bson:"running_models"`
}

// IsActive reports whether b had a successful probe within ActiveWindow of
// now (spec §3, boundary is inclusive of exactly ActiveWindow ago).
func (b Backend) IsActive(now time.Time) bool {
	return !b.LastAlive.Before(now.Add(-ActiveWindow))
}

// HasModel reports whether b advertises name among its pulled models.
func (b Backend) HasModel(name string) bool {
	for _, m := range b.Models {
		if m.Name == name {
			return true
		}
	}
	return false
}

// Repository is the subset of store.Repository[Backend] the registry needs.
type Repository = store.Repository[Backend]

// Indexes declares the indexes for the backends collection: a backend's URL
// is unique, mirroring ollama_x/model/server.py's create_indexes.
func Indexes() []store.IndexSpec {
	return []store.IndexSpec{
		{Name: "url_unique", Keys: []string{"url"}, Unique: true},
	}
}

// Registry is the backend CRUD surface used by the admin HTTP handlers and
// by the scheduler.
type Registry struct {
	Repo Repository
}

// Register inserts a new backend for url, starting inactive until its
// first successful health probe.
func (r *Registry) Register(ctx context.Context, url string) (Backend, error) {
	b := Backend{
		ID:         uuid.NewString(),
		URL:        url,
		LastUpdate: time.Unix(0, 0).UTC(),
		LastAlive:  time.Unix(0, 0).UTC(),
	}
	inserted, err := r.Repo.Insert(ctx, b)
	if dk, ok := err.(*store.ErrDuplicateKey); ok {
		return Backend{}, gwerrors.DuplicateKey(dk.Keys)
	}
	if err != nil {
		return Backend{}, gwerrors.Internal(err)
	}
	return inserted, nil
}

// Deregister removes a backend by id.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	if err := r.Repo.Delete(ctx, map[string]any{"_id": id}); err != nil {
		return gwerrors.Internal(err)
	}
	return nil
}

// Get fetches a single backend by id.
func (r *Registry) Get(ctx context.Context, id string) (Backend, error) {
	b, err := r.Repo.FindOne(ctx, map[string]any{"_id": id})
	if err == store.ErrNotFound {
		return Backend{}, gwerrors.NotFound("backend not found")
	}
	if err != nil {
		return Backend{}, gwerrors.Internal(err)
	}
	return b, nil
}

// All returns every registered backend, active or not.
func (r *Registry) All(ctx context.Context) ([]Backend, error) {
	cur, err := r.Repo.Iterate(ctx, nil)
	if err != nil {
		return nil, gwerrors.Internal(err)
	}
	defer cur.Close(ctx)

	var out []Backend
	for cur.Next(ctx) {
		b, err := cur.Decode()
		if err != nil {
			return nil, gwerrors.Internal(err)
		}
		out = append(out, b)
	}
	return out, nil
}

// ActiveForModel returns every active backend advertising model (or every
// active backend, if model is empty), mirroring
// ollama_x/model/server.py's APIServer.all_active.
func (r *Registry) ActiveForModel(ctx context.Context, model string, now time.Time) ([]Backend, error) {
	all, err := r.All(ctx)
	if err != nil {
		return nil, err
	}

	var out []Backend
	for _, b := range all {
		if !b.IsActive(now) {
			continue
		}
		if model != "" && !b.HasModel(model) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
