package lbot

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// task is a unit of work submitted to a workerPool.
type task func()

// workerPool runs parallel-policy receiver callbacks and asynchronous
// service calls on a bounded set of goroutines, so a burst of publishes
// or client calls can never explode goroutine count the way an unbounded
// `go func(){...}()` per callback would. Modeled directly on the
// teacher's WorkerPool: fixed worker count, buffered queue, drop-with-a-
// counter backpressure instead of blocking the publisher.
type workerPool struct {
	workerCount int
	queue       chan task
	logger      zerolog.Logger
	limiter     *rate.Limiter

	wg      sync.WaitGroup
	dropped atomic.Int64
	limited atomic.Int64
	metrics Metrics
}

// SetRateLimit caps Submit admissions to r tasks/sec with a burst of b,
// the same token-bucket backpressure shape as the teacher's ResourceGuard
// applies to new connections. SubmitOrRun callers (service calls) ignore
// the limiter: rate-limiting is a broadcast-fan-out concern, not a
// correctness one, so it never applies to request/response traffic.
func (p *workerPool) SetRateLimit(r rate.Limit, b int) {
	p.limiter = rate.NewLimiter(r, b)
}

func (p *workerPool) RateLimitedTasks() int64 {
	return p.limited.Load()
}

func newWorkerPool(workerCount, queueSize int, logger zerolog.Logger) *workerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = workerCount * 100
	}
	return &workerPool{
		workerCount: workerCount,
		queue:       make(chan task, queueSize),
		logger:      logger,
	}
}

func (p *workerPool) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *workerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.runSafely(t)
		case <-ctx.Done():
			return
		}
	}
}

func (p *workerPool) runSafely(t task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Msg("worker pool task panicked, recovered")
		}
	}()
	t()
}

// Submit enqueues a task for asynchronous execution. If the queue is
// full the task is dropped and the drop counter incremented: publishers
// and clients never block on user callback capacity.
func (p *workerPool) Submit(t task) bool {
	if p.limiter != nil && !p.limiter.Allow() {
		p.limited.Add(1)
		return false
	}
	select {
	case p.queue <- t:
		return true
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.ObserveWorkerDropped()
		}
		return false
	}
}

// SubmitOrRun enqueues the task but, unlike Submit, falls back to running
// it synchronously on the caller's goroutine when the queue is full. The
// service registry uses this so a saturated pool degrades call latency
// instead of silently discarding a request.
func (p *workerPool) SubmitOrRun(t task) {
	select {
	case p.queue <- t:
	default:
		p.dropped.Add(1)
		t()
	}
}

func (p *workerPool) DroppedTasks() int64 {
	return p.dropped.Load()
}

func (p *workerPool) Stop() {
	close(p.queue)
	p.wg.Wait()
}
