// Package worker runs pipeline stages for dispatched jobs, with
// per-session serialization and bounded retries for transient
// storage failures.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/psymetric/internal/adapters/mq/queue"
	"github.com/okian/psymetric/internal/adapters/repository"
	"github.com/okian/psymetric/pkg/logger"
	"github.com/okian/psymetric/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerMultiplier = 2 // multiplier for runtime.NumCPU()
	defaultMaxAttempts      = 3
	defaultBackoffBase      = 100 * time.Millisecond
	defaultBackoffCap       = 5 * time.Second
	defaultSweepInterval    = 30 * time.Second
	workerShutdownTimeout   = 5 * time.Second
	poolShutdownTimeout     = 30 * time.Second
)

// Runner executes one pipeline stage for a session. Implementations
// must be safe for concurrent use across different sessions.
type Runner interface {
	RunStage(ctx context.Context, job queue.Job) error
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Worker processes jobs until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker. Any job in flight finishes
	// before the worker exits.
	Shutdown(ctx context.Context) error
}

// sessionLocks serializes work per session across all workers sharing
// the same instance. Entries are reference counted so the map does not
// grow with session history.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sessionLock)}
}

// acquire blocks until the session lock is held and returns the
// release function.
func (l *sessionLocks) acquire(sessionID string) func() {
	l.mu.Lock()
	entry, ok := l.locks[sessionID]
	if !ok {
		entry = &sessionLock{}
		l.locks[sessionID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, sessionID)
		}
		l.mu.Unlock()
	}
}

// InMemoryWorker implements Worker for processing pipeline jobs.
type InMemoryWorker struct {
	queue  Queue
	runner Runner
	locks  *sessionLocks
	name   string

	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, runner Runner, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:       q,
		runner:      runner,
		locks:       newSessionLocks(),
		name:        "worker",
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobChan:
			if !ok {
				return
			}
			if err := w.processJob(ctx, job); err != nil {
				w.logger.Error(ctx, "job failed",
					logger.String("session_id", job.SessionID),
					logger.String("stage", string(job.Stage)),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processJob runs one job under the session lock, retrying transient
// storage failures with exponential backoff. Semantic failures such as
// missing sessions or insufficient data are surfaced immediately since
// retrying cannot change their outcome.
func (w *InMemoryWorker) processJob(ctx context.Context, job queue.Job) error {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	release := w.locks.acquire(job.SessionID)
	defer release()

	backoff := w.backoffBase
	for attempt := 1; ; attempt++ {
		err := w.runner.RunStage(ctx, job)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= w.maxAttempts {
			metrics.RecordWorkerError()
			metrics.RecordErrorByComponent("worker", string(job.Stage))
			return fmt.Errorf("stage %s for session %s: %w", job.Stage, job.SessionID, err)
		}

		metrics.RecordWorkerRetry()
		w.logger.Warn(ctx, "transient failure, retrying",
			logger.String("session_id", job.SessionID),
			logger.String("stage", string(job.Stage)),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("stage %s for session %s: %w", job.Stage, job.SessionID, ctx.Err())
		case <-w.shutdown:
			return queue.ErrStopped
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.backoffCap {
			backoff = w.backoffCap
		}
	}
}

// retryable reports whether the error is a transient infrastructure
// failure worth retrying.
func retryable(err error) bool {
	return errors.Is(err, repository.ErrTransient)
}

// Pool manages multiple workers sharing one session-lock table.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	runner  Runner

	shutdown chan struct{}

	logger logger.Logger
}

// NewPool creates a new worker pool. A non-positive count sizes the
// pool from the CPU count.
func NewPool(workerCount int, q Queue, runner Runner, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}

	pool := &Pool{
		workers:  make([]*InMemoryWorker, workerCount),
		queue:    q,
		runner:   runner,
		shutdown: make(chan struct{}),
		logger:   logger.Get().Named("worker-pool"),
	}

	locks := newSessionLocks()
	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		w := NewInMemoryWorker(q, runner, wopts...)
		w.locks = locks
		pool.workers[i] = w
	}

	metrics.UpdateWorkerActiveCount(workerCount)
	metrics.UpdateWorkerIdleCount(0)

	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Stop gracefully stops all workers.
func (p *Pool) Stop() {
	close(p.shutdown)

	for _, w := range p.workers {
		select {
		case <-w.shutdown:
		default:
			close(w.shutdown)
		}
	}
	for _, w := range p.workers {
		select {
		case <-w.done:
		case <-time.After(workerShutdownTimeout):
		}
	}
}

// Shutdown closes the queue, then waits for the workers to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}

	return nil
}
