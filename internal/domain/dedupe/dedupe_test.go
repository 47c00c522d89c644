package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/psymetric/internal/domain/dedupe"
	"github.com/okian/psymetric/internal/domain/model"
)

func pumpEvent(sessionID, clientID string) model.Event {
	return model.Event{
		ID:            "srv-" + clientID,
		SessionID:     sessionID,
		Type:          model.EventBalloonRisk,
		Name:          "pump",
		ClientEventID: clientID,
	}
}

func TestEventKey(t *testing.T) {
	Convey("Given events with varying identity fields", t, func() {
		Convey("When two events share session, type, and client id", func() {
			a := dedupe.EventKey(pumpEvent("s1", "c1"))
			b := dedupe.EventKey(pumpEvent("s1", "c1"))

			Convey("Then their keys collide", func() {
				So(a, ShouldEqual, b)
			})
		})

		Convey("When the same client id appears in different sessions", func() {
			a := dedupe.EventKey(pumpEvent("s1", "c1"))
			b := dedupe.EventKey(pumpEvent("s2", "c1"))

			Convey("Then the keys differ", func() {
				So(a, ShouldNotEqual, b)
			})
		})

		Convey("When events differ only by type", func() {
			a := pumpEvent("s1", "c1")
			b := pumpEvent("s1", "c1")
			b.Type = model.EventSessionEnd

			Convey("Then the keys differ", func() {
				So(dedupe.EventKey(a), ShouldNotEqual, dedupe.EventKey(b))
			})
		})

		Convey("When the client event id is missing", func() {
			a := pumpEvent("s1", "")
			a.ID = "srv-1"
			b := pumpEvent("s1", "")
			b.ID = "srv-2"

			Convey("Then the server id keeps the events distinct", func() {
				So(dedupe.EventKey(a), ShouldNotEqual, dedupe.EventKey(b))
			})
		})
	})
}

func TestInMemoryDeduper(t *testing.T) {
	Convey("Given a fresh deduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper()

		Convey("When a key is recorded for the first time", func() {
			seen := d.SeenAndRecord(ctx, dedupe.EventKey(pumpEvent("s1", "c1")))

			Convey("Then it is reported as new", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When the same key is recorded twice", func() {
			key := dedupe.EventKey(pumpEvent("s1", "c1"))
			d.SeenAndRecord(ctx, key)
			seen := d.SeenAndRecord(ctx, key)

			Convey("Then the repeat is reported as seen without growing", func() {
				So(seen, ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})
		})

		Convey("When a recorded key is unrecorded after a persist failure", func() {
			key := dedupe.EventKey(pumpEvent("s1", "c1"))
			d.SeenAndRecord(ctx, key)
			d.Unrecord(ctx, key)

			Convey("Then the event may be retried", func() {
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, key), ShouldBeFalse)
			})
		})

		Convey("When unrecording a key that was never seen", func() {
			d.Unrecord(ctx, "missing")

			Convey("Then the size is unchanged", func() {
				So(d.Size(), ShouldEqual, 0)
			})
		})
	})
}

func TestDeduperEviction(t *testing.T) {
	Convey("Given a deduper bounded to three entries", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))

		for i := 1; i <= 3; i++ {
			So(d.SeenAndRecord(ctx, fmt.Sprintf("k%d", i)), ShouldBeFalse)
		}

		Convey("When a fourth key arrives", func() {
			So(d.SeenAndRecord(ctx, "k4"), ShouldBeFalse)

			Convey("Then the oldest key was evicted and the cap holds", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "k1"), ShouldBeFalse)
				So(d.Size(), ShouldEqual, 3)
			})
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))

		Convey("When many keys are recorded", func() {
			const n = 1000
			for i := 0; i < n; i++ {
				So(d.SeenAndRecord(ctx, fmt.Sprintf("k%d", i)), ShouldBeFalse)
			}

			Convey("Then nothing is evicted", func() {
				So(d.Size(), ShouldEqual, int64(n))
				So(d.SeenAndRecord(ctx, "k0"), ShouldBeTrue)
			})
		})
	})
}

func TestDeduperConcurrency(t *testing.T) {
	Convey("Given concurrent ingestion across goroutines", t, func() {
		ctx := context.Background()
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(10000))
		const goroutines = 10
		const perGoroutine = 100

		Convey("When each goroutine records distinct keys", func() {
			var wg sync.WaitGroup
			for g := 0; g < goroutines; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for i := 0; i < perGoroutine; i++ {
						d.SeenAndRecord(ctx, fmt.Sprintf("k-%d-%d", g, i))
					}
				}(g)
			}
			wg.Wait()

			Convey("Then every key is recorded exactly once", func() {
				So(d.Size(), ShouldEqual, int64(goroutines*perGoroutine))
			})
		})
	})
}
