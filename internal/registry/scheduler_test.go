package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yurzs/ollama-x/internal/gwlog"
	"github.com/Yurzs/ollama-x/internal/store"
)

func newTestScheduler(t *testing.T, reg *Registry) *Scheduler {
	t.Helper()
	models := store.NewMemoryRepository[OllamaModel]()
	require.NoError(t, models.CreateIndexes(context.Background(), ModelIndexes()))
	return NewScheduler(reg, models, time.Second, gwlog.Discard("test"))
}

// TestCheckAPI_SemaphoreSkipsBeyondMaxInstances mirrors ollama_x's
// job_defaults={max_instances: 3}: a fourth overlapping check_api for the
// same backend must not run at all while three are still in flight.
func TestCheckAPI_SemaphoreSkipsBeyondMaxInstances(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	backend, err := reg.Register(ctx, "http://held")
	require.NoError(t, err)

	release := make(chan struct{})
	var inFlight int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&inFlight, 1)
		<-release
		w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()
	require.NoError(t, reg.Repo.Update(ctx, map[string]any{"_id": backend.ID}, map[string]any{"url": srv.URL}))

	s := newTestScheduler(t, reg)
	sem := s.semaphoreFor(backend.ID)
	// Pre-fill the semaphore to maxInstances so the next checkAPI call
	// observes it already full, exactly as three slow overlapping runs
	// would leave it.
	for i := 0; i < maxInstances; i++ {
		sem <- struct{}{}
	}

	done := make(chan struct{})
	go func() {
		s.checkAPI(ctx, backend.ID)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("checkAPI did not return promptly when semaphore was full")
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&inFlight), "skipped call must never reach the backend")

	for i := 0; i < maxInstances; i++ {
		<-sem
	}
	close(release)
}

// TestCheckAPI_BreakerOpensAfterConsecutiveFailures confirms the
// circuit breaker short-circuits a backend that keeps failing instead of
// hitting it forever.
func TestCheckAPI_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	backend, err := reg.Register(ctx, "http://flaky")
	require.NoError(t, err)

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	require.NoError(t, reg.Repo.Update(ctx, map[string]any{"_id": backend.ID}, map[string]any{"url": srv.URL}))

	s := newTestScheduler(t, reg)
	// breakerFor trips after 3 consecutive failures (spec §4.1).
	for i := 0; i < 3; i++ {
		s.checkAPI(ctx, backend.ID)
	}
	afterTrip := atomic.LoadInt32(&hits)
	require.Equal(t, int32(3), afterTrip)

	s.checkAPI(ctx, backend.ID)
	assert.Equal(t, afterTrip, atomic.LoadInt32(&hits), "an open breaker must not call the backend again")
}

// TestCheckRunningModels_ResetsOnEveryFailureMode confirms running_models
// is fail-closed to [] on every probe error path, not just left stale.
func TestCheckRunningModels_ResetsOnEveryFailureMode(t *testing.T) {
	ctx := context.Background()

	t.Run("non-200 response", func(t *testing.T) {
		reg := newTestRegistry(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		backend, err := reg.Register(ctx, srv.URL)
		require.NoError(t, err)
		require.NoError(t, reg.Repo.Update(ctx, map[string]any{"_id": backend.ID}, map[string]any{
			"running_models": []RunningModel{{Name: "stale:latest"}},
		}))

		s := newTestScheduler(t, reg)
		s.checkRunningModels(ctx, backend.ID)

		got, err := reg.Get(ctx, backend.ID)
		require.NoError(t, err)
		assert.Empty(t, got.RunningModels)
	})

	t.Run("transport error", func(t *testing.T) {
		reg := newTestRegistry(t)
		backend, err := reg.Register(ctx, "http://127.0.0.1:0")
		require.NoError(t, err)
		require.NoError(t, reg.Repo.Update(ctx, map[string]any{"_id": backend.ID}, map[string]any{
			"running_models": []RunningModel{{Name: "stale:latest"}},
		}))

		s := newTestScheduler(t, reg)
		s.checkRunningModels(ctx, backend.ID)

		got, err := reg.Get(ctx, backend.ID)
		require.NoError(t, err)
		assert.Empty(t, got.RunningModels)
	})

	t.Run("bad decode", func(t *testing.T) {
		reg := newTestRegistry(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer srv.Close()

		backend, err := reg.Register(ctx, srv.URL)
		require.NoError(t, err)
		require.NoError(t, reg.Repo.Update(ctx, map[string]any{"_id": backend.ID}, map[string]any{
			"running_models": []RunningModel{{Name: "stale:latest"}},
		}))

		s := newTestScheduler(t, reg)
		s.checkRunningModels(ctx, backend.ID)

		got, err := reg.Get(ctx, backend.ID)
		require.NoError(t, err)
		assert.Empty(t, got.RunningModels)
	})

	t.Run("backend vanished mid-check", func(t *testing.T) {
		reg := newTestRegistry(t)
		s := newTestScheduler(t, reg)
		// checkRunningModels must not panic and must leave no stale state
		// behind for a backend id that no longer exists; Update against a
		// missing filter is a no-op in both store implementations.
		s.checkRunningModels(ctx, "no-such-backend")
	})

	t.Run("success replaces running_models", func(t *testing.T) {
		reg := newTestRegistry(t)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"models":[{"name":"llama3:latest"}]}`))
		}))
		defer srv.Close()

		backend, err := reg.Register(ctx, srv.URL)
		require.NoError(t, err)

		s := newTestScheduler(t, reg)
		s.checkRunningModels(ctx, backend.ID)

		got, err := reg.Get(ctx, backend.ID)
		require.NoError(t, err)
		require.Len(t, got.RunningModels, 1)
		assert.Equal(t, "llama3:latest", got.RunningModels[0].Name)
	})
}

// TestSaveModelsInfo_CachesAndReplacesOnDigestChange covers the
// save_models_info job: first sighting of a digest caches /api/show's
// response, a repeated sighting at the same digest is a no-op, and a new
// digest evicts the stale row before reinserting.
func TestSaveModelsInfo_CachesAndReplacesOnDigestChange(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	var showCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&showCalls, 1)
		w.Write([]byte(`{"modelfile":"FROM llama3","template":"{{ .Prompt }}","details":{"family":"llama"},"model_info":{"general.architecture":"llama"}}`))
	}))
	defer srv.Close()

	s := newTestScheduler(t, reg)

	s.saveModelInfo(ctx, srv.URL, ModelInfo{Name: "llama3:latest", Digest: "sha256:aaa"})
	cached, err := s.Models.FindOne(ctx, map[string]any{"_id": "llama3:latest"})
	require.NoError(t, err)
	assert.Equal(t, "sha256:aaa", cached.Digest)
	assert.Equal(t, "FROM llama3", cached.Modelfile)
	assert.Equal(t, int32(1), atomic.LoadInt32(&showCalls))

	// Same digest seen again: no new /api/show call.
	s.saveModelInfo(ctx, srv.URL, ModelInfo{Name: "llama3:latest", Digest: "sha256:aaa"})
	assert.Equal(t, int32(1), atomic.LoadInt32(&showCalls))

	// New digest: stale row evicted, fresh one cached.
	s.saveModelInfo(ctx, srv.URL, ModelInfo{Name: "llama3:latest", Digest: "sha256:bbb"})
	assert.Equal(t, int32(2), atomic.LoadInt32(&showCalls))
	cached, err = s.Models.FindOne(ctx, map[string]any{"_id": "llama3:latest"})
	require.NoError(t, err)
	assert.Equal(t, "sha256:bbb", cached.Digest)
}

// findMissRepo wraps a ModelRepository so FindOne always reports a miss,
// standing in for the loser of a FindOne/Insert race: its read landed before
// a concurrent winner's Insert, so it still believes the row is uncached.
type findMissRepo struct {
	ModelRepository
}

func (findMissRepo) FindOne(ctx context.Context, filter map[string]any) (OllamaModel, error) {
	return OllamaModel{}, store.ErrNotFound
}

// TestSaveModelInfo_ConcurrentInsertIsNotAnError covers the case where two
// backends both cache the same (name, digest) pair concurrently: FindOne
// raced ahead of both Inserts, so the loser hits the unique index on its own
// Insert. That must be swallowed as a benign race, not surfaced as a failure
// on every scheduler tick.
func TestSaveModelInfo_ConcurrentInsertIsNotAnError(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	real := store.NewMemoryRepository[OllamaModel]()
	require.NoError(t, real.CreateIndexes(ctx, ModelIndexes()))
	_, err := real.Insert(ctx, OllamaModel{ID: "llama3:latest", Digest: "sha256:aaa", Modelfile: "FROM llama3"})
	require.NoError(t, err)

	s := NewScheduler(reg, findMissRepo{real}, time.Second, gwlog.Discard("test"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"modelfile":"FROM llama3"}`))
	}))
	defer srv.Close()

	require.NotPanics(t, func() {
		s.saveModelInfo(ctx, srv.URL, ModelInfo{Name: "llama3:latest", Digest: "sha256:aaa"})
	})

	cached, err := real.FindOne(ctx, map[string]any{"_id": "llama3:latest"})
	require.NoError(t, err)
	assert.Equal(t, "sha256:aaa", cached.Digest)
}
