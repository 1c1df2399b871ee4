package lbot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// serviceEntry is one named service's ref-counted handler slot, mirroring
// the original source's ServerReference: at most one server may be bound
// per name, calls read the handler under a refcount guard rather than a
// lock so a slow handler never blocks registration queries, and
// unregistering clears the slot (so new calls fail) and then waits for
// every in-flight call to finish.
type serviceEntry struct {
	mu      sync.RWMutex
	handler func(ctx context.Context, req any) (any, error)

	activeCalls atomic.Int64
	drained     *broadcaster
}

func newServiceEntry() *serviceEntry {
	return &serviceEntry{drained: newBroadcaster()}
}

func (e *serviceEntry) bind(h func(ctx context.Context, req any) (any, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

func (e *serviceEntry) acquire() (func(ctx context.Context, req any) (any, error), bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := e.handler
	if h == nil {
		return nil, false
	}
	e.activeCalls.Add(1)
	return h, true
}

func (e *serviceEntry) release() {
	if e.activeCalls.Add(-1) == 0 {
		e.drained.broadcast()
	}
}

func (e *serviceEntry) unbind() {
	e.mu.Lock()
	e.handler = nil
	e.mu.Unlock()
	for {
		ch := e.drained.wait()
		if e.activeCalls.Load() == 0 {
			return
		}
		<-ch
	}
}

// ServiceRegistry holds every named service a Manager knows about, and
// the shared worker pool async calls run on.
type ServiceRegistry struct {
	mu       sync.RWMutex
	services map[string]*serviceEntry
	pool     *workerPool
	logger   zerolog.Logger
	metrics  Metrics
}

func newServiceRegistry(pool *workerPool, logger zerolog.Logger, metrics Metrics) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]*serviceEntry),
		pool:     pool,
		logger:   logger,
		metrics:  metrics,
	}
}

func (r *ServiceRegistry) entry(name string) *serviceEntry {
	r.mu.RLock()
	e, ok := r.services[name]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.services[name]; ok {
		return e
	}
	e = newServiceEntry()
	r.services[name] = e
	return e
}

func (r *ServiceRegistry) register(name string, h func(ctx context.Context, req any) (any, error)) (*serviceEntry, error) {
	e := r.entry(name)
	e.mu.Lock()
	busy := e.handler != nil
	if !busy {
		e.handler = h
	}
	e.mu.Unlock()
	if busy {
		return nil, managementErrorf(name, "service already has a registered server")
	}
	return e, nil
}

func (r *ServiceRegistry) unregister(name string, e *serviceEntry) {
	e.unbind()
}

// Future is a handle to an asynchronous service call's eventual result.
type Future[Resp any] struct {
	done   chan struct{}
	result Resp
	err    error
}

func newFuture[Resp any]() *Future[Resp] {
	return &Future[Resp]{done: make(chan struct{})}
}

// Wait blocks until the call completes or ctx is done.
func (f *Future[Resp]) Wait(ctx context.Context) (Resp, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero Resp
		return zero, ctx.Err()
	}
}

func (f *Future[Resp]) complete(result Resp, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// Server binds a handler function to a named service. Only one Server may
// be registered per name at a time.
type Server[Req any, Resp any] struct {
	reg   *ServiceRegistry
	name  string
	entry *serviceEntry
}

// NewServer registers handler as the sole server for name.
func NewServer[Req any, Resp any](
	reg *ServiceRegistry,
	name string,
	handler func(ctx context.Context, req Req) (Resp, error),
) (*Server[Req, Resp], error) {
	erased := func(ctx context.Context, req any) (any, error) {
		typed, ok := req.(Req)
		if !ok {
			return nil, conversionErrorf(name, "request type mismatch")
		}
		return handler(ctx, typed)
	}
	e, err := reg.register(name, erased)
	if err != nil {
		return nil, err
	}
	return &Server[Req, Resp]{reg: reg, name: name, entry: e}, nil
}

// Close unbinds the server and waits for any in-flight call to finish.
func (s *Server[Req, Resp]) Close() {
	s.reg.unregister(s.name, s.entry)
}

// Client calls a named service by request/response type.
type Client[Req any, Resp any] struct {
	reg  *ServiceRegistry
	name string
}

func NewClient[Req any, Resp any](reg *ServiceRegistry, name string) *Client[Req, Resp] {
	return &Client[Req, Resp]{reg: reg, name: name}
}

// CallSync invokes the registered server and blocks for its response,
// failing with ErrServiceUnavailable if no server is bound.
func (c *Client[Req, Resp]) CallSync(ctx context.Context, req Req) (Resp, error) {
	var zero Resp
	callID := uuid.New().String()
	log := c.reg.logger.With().Str("service", c.name).Str("call_id", callID).Logger()
	start := time.Now()

	e := c.reg.entry(c.name)
	h, ok := e.acquire()
	if !ok {
		log.Warn().Msg("no server registered")
		c.observe("unavailable", start)
		return zero, serviceUnavailableError(c.name)
	}
	defer e.release()

	resp, err := h(ctx, req)
	if err != nil {
		log.Debug().Err(err).Msg("call failed")
		c.observe("error", start)
		return zero, err
	}
	typed, ok := resp.(Resp)
	if !ok {
		c.observe("error", start)
		return zero, conversionErrorf(c.name, "response type mismatch")
	}
	c.observe("ok", start)
	return typed, nil
}

func (c *Client[Req, Resp]) observe(outcome string, start time.Time) {
	if c.reg.metrics != nil {
		c.reg.metrics.ObserveServiceCall(c.name, outcome, time.Since(start).Seconds())
	}
}

// CallSyncTimeout is CallSync bounded by timeout, failing with
// ErrServiceTimeout rather than the context's own deadline error. The call
// runs through CallAsync; on timeout the handler is left to finish in the
// background and its result is discarded.
func (c *Client[Req, Resp]) CallSyncTimeout(ctx context.Context, req Req, timeout time.Duration) (Resp, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.CallAsync(tctx, req).Wait(tctx)
	if err != nil && tctx.Err() == context.DeadlineExceeded {
		var zero Resp
		return zero, serviceTimeoutError(c.name)
	}
	return resp, err
}

// CallAsync submits the call to the shared worker pool and returns
// immediately with a Future. Unlike receiver callbacks, a saturated pool
// never drops an async call: SubmitOrRun runs it inline instead.
func (c *Client[Req, Resp]) CallAsync(ctx context.Context, req Req) *Future[Resp] {
	f := newFuture[Resp]()
	c.reg.pool.SubmitOrRun(func() {
		resp, err := c.CallSync(ctx, req)
		f.complete(resp, err)
	})
	return f
}
