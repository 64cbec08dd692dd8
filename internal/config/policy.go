package config

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Policy is the hot-reloadable overlay (SPEC_FULL §2.1): per-project model
// enforcement rules additive to the fixed env-var configuration.
type Policy struct {
	// EnforceModel overrides ENFORCE_MODEL when set.
	EnforceModel string `yaml:"enforceModel"`

	// ProjectModels maps a project name to a model. It is loaded and
	// reloaded with the file, but no admission path reads it: only
	// EnforceModel affects which model a request is routed to.
	ProjectModels map[string]string `yaml:"projectModels"`
}

// PolicyStore holds the current Policy behind an atomic pointer so readers
// never block on a reload in progress.
type PolicyStore struct {
	current atomic.Pointer[Policy]
}

func NewPolicyStore() *PolicyStore {
	ps := &PolicyStore{}
	ps.current.Store(&Policy{ProjectModels: map[string]string{}})
	return ps
}

func (ps *PolicyStore) Get() *Policy {
	return ps.current.Load()
}

func (ps *PolicyStore) set(p *Policy) {
	if p.ProjectModels == nil {
		p.ProjectModels = map[string]string{}
	}
	ps.current.Store(p)
}

func (ps *PolicyStore) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return err
	}
	ps.set(&p)
	return nil
}

// PolicyWatcher watches PolicyFile for changes and debounces reloads into
// the PolicyStore, the same way the teacher's configWatcher
// (proxy/config_reload.go) debounces config.yaml edits with fsnotify.
type PolicyWatcher struct {
	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	debouncer *debouncer
	onError   func(error)
	stopped   bool
}

// WatchPolicy starts watching path, loading it immediately and on every
// subsequent write/create, debounced by 250ms. onError (may be nil) is
// called with any load or watch error.
func WatchPolicy(path string, store *PolicyStore, onError func(error)) (*PolicyWatcher, error) {
	if onError == nil {
		onError = func(error) {}
	}

	if err := store.loadFile(path); err != nil {
		onError(err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	pw := &PolicyWatcher{watcher: fsw, onError: onError}
	pw.debouncer = newDebouncer(250*time.Millisecond, func() {
		if err := store.loadFile(path); err != nil {
			pw.onError(err)
		}
	})

	go pw.run()
	return pw, nil
}

func (pw *PolicyWatcher) run() {
	for {
		select {
		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				pw.debouncer.trigger()
			}
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			pw.onError(err)
		}
	}
}

func (pw *PolicyWatcher) Close() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.stopped {
		return nil
	}
	pw.stopped = true
	pw.debouncer.stop()
	return pw.watcher.Close()
}
