package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"multimodal/internal/apperrors"
	"sync"
	"sync/atomic"
	"time"
)

// Pool is an in-memory job dispatcher.
// Job IDs are queued in a bounded channel and executed by a fixed set of
// workers. An ID is accepted at most once while it is queued or executing.
type Pool struct {
	queue   chan string
	handler Handler
	config  Config
	logger  *slog.Logger
	metrics MetricsRecorder

	mu       sync.Mutex
	inflight map[string]struct{}

	// Internal counters (for Stats())
	queued     atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	dropped    atomic.Int64
	duplicates atomic.Int64

	// ctx is passed to handlers and canceled when Close gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	shutdown chan struct{}
	closed   atomic.Bool
}

// NewPool creates a pool and starts its workers. metrics may be nil.
func NewPool(cfg Config, handler Handler, metrics MetricsRecorder) *Pool {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		queue:    make(chan string, cfg.BufferSize),
		handler:  handler,
		config:   cfg,
		logger:   slog.With("component", "dispatcher"),
		metrics:  metrics,
		inflight: make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
		shutdown: make(chan struct{}),
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}

	if metrics != nil {
		go p.reportQueueSize()
	}

	p.logger.Info("Dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return p
}

// reportQueueSize periodically reports the queue size metric.
func (p *Pool) reportQueueSize() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(p.queue)))
		}
	}
}

// Dispatch queues a job for execution without blocking.
// Returns ErrBufferFull when the buffer is full, a conflict error when the
// job is already queued or executing, and ErrClosed after Close.
func (p *Pool) Dispatch(jobID string) error {
	if p.closed.Load() {
		return ErrClosed
	}

	p.mu.Lock()
	if _, ok := p.inflight[jobID]; ok {
		p.mu.Unlock()
		p.duplicates.Add(1)
		return apperrors.Conflict("job", jobID, fmt.Sprintf("job %s is already queued or running", jobID))
	}
	p.inflight[jobID] = struct{}{}
	p.mu.Unlock()

	select {
	case p.queue <- jobID:
		p.queued.Add(1)
		return nil
	default:
		p.release(jobID)
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.RecordDispatcherDropped(context.Background())
		}
		p.logger.Warn("Job refused, buffer full", "jobId", jobID, "buffer", p.config.BufferSize)
		return ErrBufferFull
	}
}

func (p *Pool) release(jobID string) {
	p.mu.Lock()
	delete(p.inflight, jobID)
	p.mu.Unlock()
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	inflight := len(p.inflight)
	p.mu.Unlock()
	return Stats{
		QueueDepth: len(p.queue),
		InFlight:   inflight,
		Queued:     p.queued.Load(),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		Dropped:    p.dropped.Load(),
		Duplicates: p.duplicates.Load(),
	}
}

// Close stops accepting jobs and waits for queued and running jobs to finish.
// When ctx expires first, running handlers see their context canceled.
func (p *Pool) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil // already closed
	}

	p.logger.Info("Dispatcher shutting down", "queued", len(p.queue))
	close(p.shutdown)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info("Dispatcher shutdown complete",
			"completed", p.completed.Load(),
			"failed", p.failed.Load(),
			"dropped", p.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn("Dispatcher shutdown timed out", "remaining", len(p.queue))
		return ctx.Err()
	}
}

// worker executes jobs from the queue.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.shutdown:
			p.drainQueue()
			return
		case jobID := <-p.queue:
			p.run(jobID)
		}
	}
}

// drainQueue executes remaining jobs after the shutdown signal.
func (p *Pool) drainQueue() {
	for {
		select {
		case jobID := <-p.queue:
			p.run(jobID)
		default:
			return // queue empty
		}
	}
}

func (p *Pool) run(jobID string) {
	defer p.release(jobID)
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.logger.Error("Job handler panicked", "jobId", jobID, "panic", r)
		}
	}()

	if err := p.handler(p.ctx, jobID); err != nil {
		p.failed.Add(1)
		p.logger.Warn("Job handler failed", "jobId", jobID, "error", err)
		return
	}
	p.completed.Add(1)
}
