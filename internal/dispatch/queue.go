package dispatch

import (
	"context"
	"sync"
)

// QueueLimit is the per-backend counting semaphore capacity (spec §4.2:
// "counting semaphore of capacity LIMIT = 20").
const QueueLimit = 20

// Request is one unit of work accepted by a QueueHandler: a thunk that
// performs the actual proxy call, plus a channel the enqueuer waits on for
// the (response, error) pair — the Go equivalent of spec §4.2's
// future-plus-ready-event pattern for making enqueue-then-wait synchronous
// from the caller's perspective.
type Request struct {
	Do   func(ctx context.Context) (any, error)
	done chan result
}

type result struct {
	value any
	err   error
}

// QueueHandler serializes admission to one backend: a FIFO of pending
// requests drained by a single consumer goroutine that gates concurrent
// execution with a capacity-LIMIT semaphore (spec §4.2). The FIFO is a
// channel buffering at most 4096 requests; Submit blocks while it is full.
type QueueHandler struct {
	backendURL string
	queue      chan *Request
	sem        chan struct{}

	mu      sync.Mutex
	pending int // items sitting in queue, for qsize() sampling
}

func newQueueHandler(backendURL string) *QueueHandler {
	h := &QueueHandler{
		backendURL: backendURL,
		queue:      make(chan *Request, 4096),
		sem:        make(chan struct{}, QueueLimit),
	}
	go h.run()
	return h
}

func (h *QueueHandler) run() {
	for req := range h.queue {
		h.mu.Lock()
		h.pending--
		h.mu.Unlock()

		h.sem <- struct{}{}
		go h.serve(req)
	}
}

// serve performs the worker's job: run req.Do and release the semaphore
// exactly once in a terminal defer, matching spec §4.2's "the worker
// releases the semaphore on completion or failure".
func (h *QueueHandler) serve(req *Request) {
	defer func() { <-h.sem }()

	value, err := req.Do(context.Background())
	req.done <- result{value: value, err: err}
}

// Submit enqueues req and blocks until it completes, returning its result.
func (h *QueueHandler) Submit(ctx context.Context, do func(ctx context.Context) (any, error)) (any, error) {
	req := &Request{Do: do, done: make(chan result, 1)}

	h.mu.Lock()
	h.pending++
	h.mu.Unlock()

	select {
	case h.queue <- req:
	case <-ctx.Done():
		h.mu.Lock()
		h.pending--
		h.mu.Unlock()
		return nil, ctx.Err()
	}

	select {
	case r := <-req.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Depth reports the number of requests currently sitting in the FIFO,
// mirroring Python's asyncio.Queue.qsize() used by the selector.
func (h *QueueHandler) Depth() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending
}

// QueuePool lazily instantiates one QueueHandler per backend URL (spec
// §4.2: "For each backend URL observed, the dispatcher lazily instantiates
// a QueueHandler").
type QueuePool struct {
	mu       sync.Mutex
	handlers map[string]*QueueHandler
}

func NewQueuePool() *QueuePool {
	return &QueuePool{handlers: make(map[string]*QueueHandler)}
}

func (p *QueuePool) Get(backendURL string) *QueueHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handlers[backendURL]
	if !ok {
		h = newQueueHandler(backendURL)
		p.handlers[backendURL] = h
	}
	return h
}

// DepthFor reports the queue depth for backendURL without creating a
// handler for backends the selector has never dispatched to yet.
func (p *QueuePool) DepthFor(backendURL string) int {
	p.mu.Lock()
	h, ok := p.handlers[backendURL]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	return h.Depth()
}
