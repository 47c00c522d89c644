package main

import (
	"context"
	"os"
	"testing"
	"time"

	app "github.com/okian/psymetric/internal/app"
	"github.com/okian/psymetric/internal/config"
	"github.com/okian/psymetric/pkg/logger"
	"github.com/okian/psymetric/pkg/metrics"
	"github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestMainFunction(t *testing.T) {
	convey.Convey("Given the main application", t, func() {
		convey.Convey("When testing configuration loading", func() {
			_ = os.Setenv("PSY_ADDR", ":8080")
			_ = os.Setenv("PSY_QUEUE_SIZE", "1000")
			_ = os.Setenv("PSY_WORKER_COUNT", "4")
			defer func() {
				_ = os.Unsetenv("PSY_ADDR")
				_ = os.Unsetenv("PSY_QUEUE_SIZE")
				_ = os.Unsetenv("PSY_WORKER_COUNT")
			}()

			convey.Convey("Then configuration should be loadable", func() {
				ctx := context.Background()
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1000)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 4)
			})
		})

		convey.Convey("When testing service creation", func() {
			convey.Convey("Then service should be creatable with default options", func() {
				svc := app.New()
				convey.So(svc, convey.ShouldNotBeNil)
			})

			convey.Convey("And service should be creatable with custom options", func() {
				svc := app.New(
					app.WithWorkerCount(4),
					app.WithQueueSize(1000),
					app.WithDedupeSize(500),
					app.WithMinEvents(5),
					app.WithSweepInterval(time.Minute),
				)
				convey.So(svc, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("When testing the service lifecycle", func() {
			svc := app.New(app.WithWorkerCount(2), app.WithQueueSize(100))
			ctx := context.Background()

			convey.Convey("Then it should start and stop cleanly", func() {
				convey.So(svc.Start(ctx), convey.ShouldBeNil)
				stats := svc.GetStats()
				convey.So(stats["started"], convey.ShouldBeTrue)
				svc.Stop()
			})
		})

		convey.Convey("When testing the metrics registry", func() {
			convey.Convey("Then the custom registry should be available", func() {
				convey.So(metrics.GetRegistry(), convey.ShouldNotBeNil)
			})
		})
	})
}

func TestSystemMetricsUpdater(t *testing.T) {
	convey.Convey("Given the system metrics updater", t, func() {
		convey.Convey("When updating system metrics", func() {
			convey.Convey("Then it should not panic", func() {
				convey.So(func() { updateSystemMetrics() }, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When running with a cancelled context", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			convey.Convey("Then the updater should return promptly", func() {
				done := make(chan struct{})
				go func() {
					startSystemMetricsUpdater(ctx)
					close(done)
				}()
				select {
				case <-done:
				case <-time.After(time.Second):
					t.Fatal("metrics updater did not stop")
				}
			})
		})
	})
}
