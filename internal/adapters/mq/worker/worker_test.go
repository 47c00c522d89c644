package worker_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/psymetric/internal/adapters/mq/queue"
	"github.com/okian/psymetric/internal/adapters/mq/worker"
	"github.com/okian/psymetric/internal/adapters/repository"
	"github.com/okian/psymetric/internal/domain/extract"
	"github.com/okian/psymetric/internal/domain/model"
	"github.com/okian/psymetric/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

// stubRunner scripts per-call results and records invocations.
type stubRunner struct {
	mu      sync.Mutex
	calls   []queue.Job
	results []error
}

func (r *stubRunner) RunStage(ctx context.Context, job queue.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, job)
	if len(r.results) == 0 {
		return nil
	}
	err := r.results[0]
	r.results = r.results[1:]
	return err
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func fastWorker(q worker.Queue, r worker.Runner) *worker.InMemoryWorker {
	return worker.NewInMemoryWorker(q, r,
		worker.WithBackoff(time.Millisecond, 2*time.Millisecond))
}

func TestWorkerProcessing(t *testing.T) {
	Convey("Given a worker over a drained-and-closed queue", t, func() {
		ctx := context.Background()

		Convey("When a job succeeds on the first attempt", func() {
			q := queue.NewInMemoryQueue()
			So(q.Enqueue(ctx, queue.Job{SessionID: "s1", Stage: queue.StageExtract}), ShouldBeTrue)
			So(q.Close(), ShouldBeNil)

			runner := &stubRunner{}
			fastWorker(q, runner).Run(ctx)

			Convey("Then the stage ran exactly once", func() {
				So(runner.callCount(), ShouldEqual, 1)
				So(runner.calls[0].SessionID, ShouldEqual, "s1")
				So(runner.calls[0].Stage, ShouldEqual, queue.StageExtract)
			})
		})

		Convey("When a job fails transiently before succeeding", func() {
			q := queue.NewInMemoryQueue()
			So(q.Enqueue(ctx, queue.Job{SessionID: "s1", Stage: queue.StageInfer}), ShouldBeTrue)
			So(q.Close(), ShouldBeNil)

			runner := &stubRunner{results: []error{
				fmt.Errorf("upsert: %w", repository.ErrTransient),
				fmt.Errorf("upsert: %w", repository.ErrTransient),
				nil,
			}}
			fastWorker(q, runner).Run(ctx)

			Convey("Then the stage was retried until it succeeded", func() {
				So(runner.callCount(), ShouldEqual, 3)
			})
		})

		Convey("When a job keeps failing transiently", func() {
			q := queue.NewInMemoryQueue()
			So(q.Enqueue(ctx, queue.Job{SessionID: "s1", Stage: queue.StageExtract}), ShouldBeTrue)
			So(q.Close(), ShouldBeNil)

			runner := &stubRunner{results: []error{
				repository.ErrTransient,
				repository.ErrTransient,
				repository.ErrTransient,
				repository.ErrTransient,
			}}
			w := worker.NewInMemoryWorker(q, runner,
				worker.WithBackoff(time.Millisecond, 2*time.Millisecond),
				worker.WithMaxAttempts(3))
			w.Run(ctx)

			Convey("Then attempts stop at the configured bound", func() {
				So(runner.callCount(), ShouldEqual, 3)
			})
		})

		Convey("When a job fails with a semantic error", func() {
			q := queue.NewInMemoryQueue()
			So(q.Enqueue(ctx, queue.Job{SessionID: "s1", Stage: queue.StageExtract}), ShouldBeTrue)
			So(q.Enqueue(ctx, queue.Job{SessionID: "s2", Stage: queue.StageInfer}), ShouldBeTrue)
			So(q.Close(), ShouldBeNil)

			runner := &stubRunner{results: []error{
				&extract.InsufficientDataError{Have: 2, Want: 10},
				repository.ErrSessionNotFound,
			}}
			fastWorker(q, runner).Run(ctx)

			Convey("Then neither job was retried", func() {
				So(runner.callCount(), ShouldEqual, 2)
			})
		})
	})
}

// trackingRunner flags any same-session overlap between workers.
type trackingRunner struct {
	perSession sync.Map // sessionID -> *atomic.Int32
	overlap    atomic.Bool
	processed  atomic.Int32
}

func (r *trackingRunner) RunStage(ctx context.Context, job queue.Job) error {
	v, _ := r.perSession.LoadOrStore(job.SessionID, &atomic.Int32{})
	active := v.(*atomic.Int32)
	if active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	time.Sleep(5 * time.Millisecond)
	active.Add(-1)
	r.processed.Add(1)
	return nil
}

func TestPoolSerializesPerSession(t *testing.T) {
	Convey("Given a pool of several workers sharing one queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		q := queue.NewInMemoryQueue()
		runner := &trackingRunner{}
		pool := worker.NewPool(4, q, runner)

		const jobs = 12
		for i := 0; i < jobs; i++ {
			// Only two distinct sessions, so overlap would be likely
			// without per-session locking.
			id := fmt.Sprintf("s%d", i%2)
			So(q.Enqueue(ctx, queue.Job{SessionID: id, Stage: queue.StageExtract}), ShouldBeTrue)
		}
		So(q.Close(), ShouldBeNil)

		Convey("When the pool drains the queue", func() {
			pool.Start(ctx)

			deadline := time.After(5 * time.Second)
			for runner.processed.Load() < jobs {
				select {
				case <-deadline:
					t.Fatal("pool did not drain the queue in time")
				case <-time.After(5 * time.Millisecond):
				}
			}
			pool.Stop()

			Convey("Then every job ran and same-session jobs never overlapped", func() {
				So(runner.processed.Load(), ShouldEqual, int32(jobs))
				So(runner.overlap.Load(), ShouldBeFalse)
			})
		})
	})
}

func TestSweeper(t *testing.T) {
	Convey("Given sessions at different pipeline stages", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore(ctx)
		defer store.Close()

		// s-raw has events but no metrics, s-scored has metrics but no
		// profile, s-done has everything.
		for _, id := range []string{"s-raw", "s-scored", "s-done"} {
			So(store.CreateSession(ctx, model.Session{
				ID: id, UserID: "u1", GameType: model.GameBalloonRisk, Status: model.SessionCompleted,
			}), ShouldBeNil)
			_, err := store.AppendEvent(ctx, model.Event{
				ID: "ev-" + id, SessionID: id, Type: model.EventBalloonRisk,
				Name: "pump", ClientEventID: "c-" + id, TimestampMS: 1,
				Status: model.ValidationValid,
			})
			So(err, ShouldBeNil)
		}
		for _, id := range []string{"s-scored", "s-done"} {
			So(store.UpsertMetric(ctx, model.Metric{
				SessionID: id, Name: model.MetricAvgPumps, GameType: model.GameBalloonRisk, Value: 3,
			}), ShouldBeNil)
		}
		So(store.UpsertProfile(ctx, model.Profile{
			ID: "p1", SessionID: "s-done", UserID: "u1",
		}), ShouldBeNil)

		q := queue.NewInMemoryQueue()
		sweeper := worker.NewSweeper(store, q)

		Convey("When one sweep pass runs", func() {
			sweeper.Sweep(ctx)
			So(q.Close(), ShouldBeNil)

			var jobs []queue.Job
			for job := range q.Dequeue(ctx) {
				jobs = append(jobs, job)
			}

			Convey("Then each lagging session gets its next stage enqueued", func() {
				So(len(jobs), ShouldEqual, 2)
				So(jobs[0], ShouldResemble, queue.Job{SessionID: "s-raw", Stage: queue.StageExtract})
				So(jobs[1], ShouldResemble, queue.Job{SessionID: "s-scored", Stage: queue.StageInfer})
			})
		})
	})
}
