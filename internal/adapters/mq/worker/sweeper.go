package worker

import (
	"context"
	"time"

	"github.com/okian/psymetric/internal/adapters/mq/queue"
	"github.com/okian/psymetric/pkg/logger"
)

// SweepSource lists sessions whose pipeline is behind.
type SweepSource interface {
	SessionsNeedingExtraction(ctx context.Context) ([]string, error)
	SessionsNeedingInference(ctx context.Context) ([]string, error)
}

// Enqueuer is the queue side the sweeper feeds.
type Enqueuer interface {
	Enqueue(ctx context.Context, j queue.Job) bool
}

// Sweeper periodically re-enqueues the next pipeline stage for
// sessions with unprocessed events or metrics. It makes the pipeline
// self-healing: a job lost to a crash or a full queue is picked up on
// the next sweep.
type Sweeper struct {
	source   SweepSource
	queue    Enqueuer
	interval time.Duration

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// SweeperOption configures the sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweep runs.
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// NewSweeper creates a sweeper over the given source and queue.
func NewSweeper(source SweepSource, q Enqueuer, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		source:   source,
		queue:    q,
		interval: defaultSweepInterval,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("sweeper"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the configured interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep enqueues one pass of catch-up jobs. Enqueue failures are left
// for the next pass rather than retried inline.
func (s *Sweeper) Sweep(ctx context.Context) {
	extract, err := s.source.SessionsNeedingExtraction(ctx)
	if err != nil {
		s.logger.Warn(ctx, "sweep could not list sessions needing extraction", logger.Error(err))
	}
	for _, id := range extract {
		s.queue.Enqueue(ctx, queue.Job{SessionID: id, Stage: queue.StageExtract})
	}

	infer, err := s.source.SessionsNeedingInference(ctx)
	if err != nil {
		s.logger.Warn(ctx, "sweep could not list sessions needing inference", logger.Error(err))
	}
	for _, id := range infer {
		s.queue.Enqueue(ctx, queue.Job{SessionID: id, Stage: queue.StageInfer})
	}

	if len(extract) > 0 || len(infer) > 0 {
		s.logger.Debug(ctx, "sweep enqueued catch-up jobs",
			logger.Int("extract", len(extract)),
			logger.Int("infer", len(infer)),
		)
	}
}

// Stop halts the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	<-s.done
}
