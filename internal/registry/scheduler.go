package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker/v2"

	"github.com/Yurzs/ollama-x/internal/gwlog"
	"github.com/Yurzs/ollama-x/internal/store"
)

// Scheduler periodically probes every registered backend's /api/tags and
// /api/ps, updating last_alive/last_update/models/running_models. Grounded
// on ollama_x/scheduler.py's check_api job: only staleness of last_alive
// demotes a backend to inactive, and a probe error is logged, never fatal.
//
// ollama_x used APScheduler with job_defaults={coalesce: False,
// max_instances: 3} so up to 3 runs of the same per-backend job may overlap
// and a further run while 3 are in flight is skipped. robfig/cron/v3 runs
// each entry in its own goroutine without that cap, so the scheduler
// enforces it itself with a per-backend counting semaphore sized
// maxInstances.
type Scheduler struct {
	Registry *Registry
	Models   ModelRepository
	Interval time.Duration
	Log      *gwlog.Monitor

	httpClient *http.Client
	cr         *cron.Cron

	mu       sync.Mutex
	sems     map[string]chan struct{}
	breakers map[string]*gobreaker.CircuitBreaker[*tagsResponse]
}

const maxInstances = 3

// NewScheduler builds a scheduler that probes every backend in reg every
// interval seconds (spec §6 SERVER_CHECK_INTERVAL), caching discovered
// model metadata into models.
func NewScheduler(reg *Registry, models ModelRepository, interval time.Duration, log *gwlog.Monitor) *Scheduler {
	return &Scheduler{
		Registry:   reg,
		Models:     models,
		Interval:   interval,
		Log:        log,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cr:         cron.New(),
		sems:       make(map[string]chan struct{}),
		breakers:   make(map[string]*gobreaker.CircuitBreaker[*tagsResponse]),
	}
}

// Start schedules the recurring jobs and runs until ctx is cancelled.
// save_models_info and check_running_models ride the same cron tick as
// check_api since all three read/update the same backend document.
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.Interval)
	_, err := s.cr.AddFunc(spec, func() { s.runOnce(ctx) })
	if err != nil {
		return err
	}
	s.cr.Start()
	go func() {
		<-ctx.Done()
		s.cr.Stop()
	}()
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	backends, err := s.Registry.All(ctx)
	if err != nil {
		s.Log.Error("scheduler: list backends: %v", err)
		return
	}
	for _, b := range backends {
		// check_api also persists the freshly probed models list
		// (save_models_info), so the two ride the same probe result.
		go s.checkAPI(ctx, b.ID)
		go s.checkRunningModels(ctx, b.ID)
	}
}

type psResponse struct {
	Models []RunningModel `json:"models"`
}

// checkRunningModels probes a backend's /api/ps and persists the result.
// A failed probe here fails closed (spec §4.1 "check_running_models": "on
// error, sets running_models := []") since backendHasMatch's routing
// decisions consult running_models directly — a stale non-empty list would
// keep routing to a backend for a model it silently unloaded while briefly
// unreachable.
func (s *Scheduler) checkRunningModels(ctx context.Context, backendID string) {
	clear := func() {
		if err := s.Registry.Repo.Update(ctx, map[string]any{"_id": backendID}, map[string]any{"running_models": []RunningModel{}}); err != nil {
			s.Log.Error("scheduler: commit running_models for %s: %v", backendID, err)
		}
	}

	b, err := s.Registry.Get(ctx, backendID)
	if err != nil {
		clear()
		return
	}

	psURL, err := url.JoinPath(b.URL, "/api/ps")
	if err != nil {
		s.Log.Error("scheduler: bad backend URL %s: %v", b.URL, err)
		clear()
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, psURL, nil)
	if err != nil {
		clear()
		return
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.Log.Warn("scheduler: check_running_models %s: %v", b.URL, err)
		clear()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		clear()
		return
	}

	var ps psResponse
	if err := json.NewDecoder(resp.Body).Decode(&ps); err != nil {
		clear()
		return
	}

	if err := s.Registry.Repo.Update(ctx, map[string]any{"_id": backendID}, map[string]any{"running_models": ps.Models}); err != nil {
		s.Log.Error("scheduler: commit running_models for %s: %v", backendID, err)
	}
}

func (s *Scheduler) semaphoreFor(id string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.sems[id]
	if !ok {
		sem = make(chan struct{}, maxInstances)
		s.sems[id] = sem
	}
	return sem
}

func (s *Scheduler) breakerFor(id string) *gobreaker.CircuitBreaker[*tagsResponse] {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[id]
	if !ok {
		cb = gobreaker.NewCircuitBreaker[*tagsResponse](gobreaker.Settings{
			Name:        "backend-" + id,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     s.Interval,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		})
		s.breakers[id] = cb
	}
	return cb
}

type tagsResponse struct {
	Models []ModelInfo `json:"models"`
}

// checkAPI probes a single backend's /api/tags, grounded on
// ollama_x/scheduler.py's check_api: GET /api/tags, 200 -> last_alive=now
// and models=response.models; non-200 or transport error -> last_alive
// untouched (so it ages out of the active window), last_update always
// advances, and the error is logged, never propagated.
//
// The circuit breaker only skips a redundant probe attempt while it is
// open; it never substitutes for or overrides the last_alive staleness
// rule that IsActive checks.
func (s *Scheduler) checkAPI(ctx context.Context, backendID string) {
	sem := s.semaphoreFor(backendID)
	select {
	case sem <- struct{}{}:
	default:
		s.Log.Warn("scheduler: check_api for %s already at max_instances=%d, skipping", backendID, maxInstances)
		return
	}
	defer func() { <-sem }()

	b, err := s.Registry.Get(ctx, backendID)
	if err != nil {
		s.Log.Warn("scheduler: backend %s vanished mid-check: %v", backendID, err)
		return
	}

	probeURL, err := url.JoinPath(b.URL, "/api/tags")
	if err != nil {
		s.Log.Error("scheduler: bad backend URL %s: %v", b.URL, err)
		return
	}

	now := time.Now().UTC()
	fields := map[string]any{"last_update": now}

	cb := s.breakerFor(backendID)
	resp, err := cb.Execute(func() (*tagsResponse, error) {
		return s.probe(ctx, probeURL)
	})
	if err != nil {
		s.Log.Warn("scheduler: backend %s is inactive: %v", b.URL, err)
	} else {
		fields["last_alive"] = now
		fields["models"] = resp.Models
		// save_models_info rides the same probe result but never blocks
		// check_api's own commit (spec §4.1: "invoked opportunistically
		// from check_api on a non-blocking task").
		go s.saveModelsInfo(ctx, b.URL, resp.Models)
	}

	if err := s.Registry.Repo.Update(ctx, map[string]any{"_id": backendID}, fields); err != nil {
		s.Log.Error("scheduler: commit changes for %s: %v", backendID, err)
	}
}

type showResponse struct {
	Modelfile string         `json:"modelfile"`
	Template  string         `json:"template"`
	Details   map[string]any `json:"details"`
	ModelInfo map[string]any `json:"model_info"`
}

// saveModelsInfo upserts cached metadata for every model whose digest
// isn't already cached (spec §3 "OllamaModel", §4.1 "save_models_info").
func (s *Scheduler) saveModelsInfo(ctx context.Context, backendURL string, models []ModelInfo) {
	for _, m := range models {
		if m.Digest == "" {
			continue
		}
		s.saveModelInfo(ctx, backendURL, m)
	}
}

// saveModelInfo fetches /api/show?verbose=true for one (name, digest) pair
// and caches it, deleting any stale row for the same name first (spec §3:
// "if the cached digest differs from the observed digest, the old metadata
// row is deleted before insertion").
func (s *Scheduler) saveModelInfo(ctx context.Context, backendURL string, m ModelInfo) {
	existing, err := s.Models.FindOne(ctx, map[string]any{"_id": m.Name})
	if err == nil {
		if existing.Digest == m.Digest {
			return
		}
		if err := s.Models.Delete(ctx, map[string]any{"_id": m.Name}); err != nil {
			s.Log.Error("scheduler: evict stale model info %s: %v", m.Name, err)
			return
		}
	} else if err != store.ErrNotFound {
		s.Log.Error("scheduler: lookup cached model info %s: %v", m.Name, err)
		return
	}

	showURL, err := url.JoinPath(backendURL, "/api/show")
	if err != nil {
		s.Log.Error("scheduler: bad backend URL %s: %v", backendURL, err)
		return
	}

	body, err := json.Marshal(map[string]any{"name": m.Name, "verbose": true})
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, showURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.Log.Warn("scheduler: save_models_info %s: %v", m.Name, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return
	}

	var show showResponse
	if err := json.NewDecoder(resp.Body).Decode(&show); err != nil {
		return
	}

	doc := OllamaModel{
		ID:        m.Name,
		Digest:    m.Digest,
		Modelfile: show.Modelfile,
		Template:  show.Template,
		Details:   show.Details,
		Info:      show.ModelInfo,
	}
	if _, err := s.Models.Insert(ctx, doc); err != nil {
		var dup *store.ErrDuplicateKey
		if errors.As(err, &dup) {
			// Another backend's concurrent probe for the same model won
			// the race and cached the same digest first; nothing to do.
			return
		}
		s.Log.Error("scheduler: cache model info %s: %v", m.Name, err)
	}
}

func (s *Scheduler) probe(ctx context.Context, probeURL string) (*tagsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, err
	}
	return &tags, nil
}
