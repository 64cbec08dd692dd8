// Package gwevent is a small in-process publish/subscribe bus used to
// decouple log sinks and the observation pipeline from their producers.
package gwevent

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Event is anything with a stable, constant type tag.
type Event interface {
	Type() uint32
}

type registry struct {
	keys []uint32
	grps []any
}

// Dispatcher fans published events out to subscriber groups by type.
type Dispatcher struct {
	subs     atomic.Pointer[registry]
	maxQueue int
	mu       sync.Mutex
	closed   atomic.Bool
}

// NewDispatcher creates a dispatcher with a default per-subscriber queue cap
// (recorded on each group; Publish does not queue, so it is not applied).
func NewDispatcher() *Dispatcher {
	return NewDispatcherConfig(4096)
}

// NewDispatcherConfig creates a dispatcher with an explicit per-subscriber queue cap.
func NewDispatcherConfig(maxQueue int) *Dispatcher {
	d := &Dispatcher{maxQueue: maxQueue}
	d.subs.Store(&registry{keys: make([]uint32, 0, 8), grps: make([]any, 0, 8)})
	return d
}

// Close stops the dispatcher from accepting new subscriptions.
func (d *Dispatcher) Close() {
	d.closed.Store(true)
}

func (d *Dispatcher) findGroup(eventType uint32) any {
	reg := d.subs.Load()
	keys := reg.keys
	left, right := 0, len(keys)
	for left < right {
		mid := left + (right-left)/2
		if keys[mid] < eventType {
			left = mid + 1
		} else {
			right = mid
		}
	}
	if left < len(keys) && keys[left] == eventType {
		return reg.grps[left]
	}
	return nil
}

// Subscribe registers handler for events of type T, inferring the type tag
// from a zero value of T.
func Subscribe[T Event](d *Dispatcher, handler func(T)) func() {
	var zero T
	return SubscribeTo(d, zero.Type(), handler)
}

// SubscribeTo registers handler for an explicit event type.
func SubscribeTo[T Event](d *Dispatcher, eventType uint32, handler func(T)) func() {
	if d.closed.Load() {
		return func() {}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if existing := d.findGroup(eventType); existing != nil {
		grp := existing.(*group[T])
		sub := grp.add(handler)
		return func() { grp.del(sub) }
	}

	grp := &group[T]{maxQueue: d.maxQueue}
	sub := grp.add(handler)

	old := d.subs.Load()
	idx := sort.Search(len(old.keys), func(i int) bool { return old.keys[i] >= eventType })

	newKeys := make([]uint32, len(old.keys)+1)
	newGrps := make([]any, len(old.grps)+1)
	copy(newKeys[:idx], old.keys[:idx])
	copy(newGrps[:idx], old.grps[:idx])
	newKeys[idx] = eventType
	newGrps[idx] = grp
	copy(newKeys[idx+1:], old.keys[idx:])
	copy(newGrps[idx+1:], old.grps[idx:])

	d.subs.Store(&registry{keys: newKeys, grps: newGrps})
	return func() { grp.del(sub) }
}

// Publish delivers ev to every subscriber of its type by calling each
// handler synchronously in the publisher's goroutine; nothing is queued or
// dropped, so a slow handler delays the publisher.
func Publish[T Event](d *Dispatcher, ev T) {
	if grp := d.findGroup(ev.Type()); grp != nil {
		grp.(*group[T]).broadcast(ev)
	}
}

type consumer[T Event] struct {
	mu    sync.Mutex
	queue []T
}

type group[T Event] struct {
	mu       sync.Mutex
	subs     []*consumer[T]
	handlers []func(T)
	maxQueue int
}

func (g *group[T]) add(handler func(T)) *consumer[T] {
	sub := &consumer[T]{}
	g.mu.Lock()
	g.subs = append(g.subs, sub)
	g.handlers = append(g.handlers, handler)
	g.mu.Unlock()
	return sub
}

func (g *group[T]) del(sub *consumer[T]) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, s := range g.subs {
		if s == sub {
			g.subs = append(g.subs[:i], g.subs[i+1:]...)
			g.handlers = append(g.handlers[:i], g.handlers[i+1:]...)
			return
		}
	}
}

// broadcast calls every handler synchronously; handlers in this module are
// always cheap (log fan-out, observation tee) so no worker goroutines are
// spun up per event.
func (g *group[T]) broadcast(ev T) {
	g.mu.Lock()
	handlers := append([]func(T){}, g.handlers...)
	g.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Count reports the number of subscribers for T, for tests only.
func Count[T Event](d *Dispatcher, eventType uint32) int {
	if grp := d.findGroup(eventType); grp != nil {
		return len(grp.(*group[T]).subs)
	}
	return 0
}
