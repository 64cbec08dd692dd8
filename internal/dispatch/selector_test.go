package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yurzs/ollama-x/internal/gwerrors"
	"github.com/Yurzs/ollama-x/internal/registry"
	"github.com/Yurzs/ollama-x/internal/store"
)

func newTestRegistry(t *testing.T, backends ...registry.Backend) *registry.Registry {
	t.Helper()
	repo := store.NewMemoryRepository[registry.Backend]()
	require.NoError(t, repo.CreateIndexes(context.Background(), registry.Indexes()))
	for _, b := range backends {
		_, err := repo.Insert(context.Background(), b)
		require.NoError(t, err)
	}
	return &registry.Registry{Repo: repo}
}

func TestSelector_PicksLeastLoaded(t *testing.T) {
	now := time.Now()
	active := now
	reg := newTestRegistry(t,
		registry.Backend{ID: "a", URL: "http://a", LastAlive: active, Models: []registry.ModelInfo{{Name: "llama3:latest"}}},
		registry.Backend{ID: "b", URL: "http://b", LastAlive: active, Models: []registry.ModelInfo{{Name: "llama3:latest"}}},
	)

	queues := NewQueuePool()
	sel := &Selector{Registry: reg, Queues: queues, Now: func() time.Time { return now }}

	// Artificially inflate backend b's queue depth: fill all QueueLimit
	// slots with long-running requests, then submit enough more that one
	// stays in hb's FIFO, so its depth sample is nonzero.
	hb := queues.Get("http://b")
	var started int64
	release := make(chan struct{})
	for i := 0; i < QueueLimit+2; i++ {
		go hb.Submit(context.Background(), func(ctx context.Context) (any, error) {
			atomic.AddInt64(&started, 1)
			<-release
			return nil, nil
		})
	}
	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&started) == QueueLimit && hb.Depth() == 1
	}, time.Second, time.Millisecond)

	backend, resolved, err := sel.Select(context.Background(), "llama3")
	require.NoError(t, err)
	assert.Equal(t, "a", backend.ID)
	assert.Equal(t, "llama3:latest", resolved)

	close(release)
}

func TestSelector_NoActiveBackend(t *testing.T) {
	now := time.Now()
	stale := now.Add(-time.Hour)
	reg := newTestRegistry(t, registry.Backend{ID: "a", URL: "http://a", LastAlive: stale})

	sel := &Selector{Registry: reg, Queues: NewQueuePool(), Now: func() time.Time { return now }}

	_, _, err := sel.Select(context.Background(), "llama3")
	require.Error(t, err)
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.CodeNoServerAvailable, ge.Code)
}

func TestSelector_ActiveBoundary(t *testing.T) {
	now := time.Now()
	reg := newTestRegistry(t,
		registry.Backend{ID: "fresh", URL: "http://fresh", LastAlive: now.Add(-19 * time.Second)},
		registry.Backend{ID: "stale", URL: "http://stale", LastAlive: now.Add(-21 * time.Second)},
	)
	sel := &Selector{Registry: reg, Queues: NewQueuePool(), Now: func() time.Time { return now }}

	backend, _, err := sel.Select(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "fresh", backend.ID)
}
