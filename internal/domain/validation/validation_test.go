package validation_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/psymetric/internal/adapters/repository"
	"github.com/okian/psymetric/internal/domain/model"
	"github.com/okian/psymetric/internal/domain/validation"
)

var validationNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func seedRichSession(ctx context.Context, store *repository.MemStore, sessionID, userID string) {
	endAt := validationNow.Add(-time.Minute)
	_ = store.CreateSession(ctx, model.Session{
		ID:         sessionID,
		UserID:     userID,
		GameType:   model.GameBalloonRisk,
		Status:     model.SessionCompleted,
		StartTime:  validationNow.Add(-2 * time.Minute),
		EndTime:    &endAt,
		DurationMS: 60000,
	})
	for i := 0; i < 12; i++ {
		_, _ = store.AppendEvent(ctx, model.Event{
			ID:            fmt.Sprintf("ev-%s-%d", sessionID, i),
			SessionID:     sessionID,
			Type:          model.EventBalloonRisk,
			Name:          "pump",
			ClientEventID: fmt.Sprintf("c-%s-%d", sessionID, i),
			TimestampMS:   validationNow.UnixMilli() + int64(i*1000),
			Status:        model.ValidationValid,
		})
	}
	for name, value := range map[string]float64{
		model.MetricAvgPumps:         30.5,
		model.MetricRiskEscalation:   0.15,
		model.MetricConsistencyScore: 0.72,
		model.MetricAdaptationRate:   0.45,
		model.MetricLearningCurve:    0.1,
		model.MetricFeedbackResponse: 0.5,
	} {
		_ = store.UpsertMetric(ctx, model.Metric{
			SessionID: sessionID, Name: name, GameType: model.GameBalloonRisk,
			Value: value, SampleSize: 12,
		})
	}
}

func moderateTraits() (map[string]float64, map[string]float64) {
	scores := map[string]float64{
		"risk_tolerance":     0.5,
		"learning_ability":   0.6,
		"emotion_regulation": 0.55,
		"consistency":        0.45,
		"decision_speed":     0.65,
	}
	confidences := make(map[string]float64, len(scores))
	for trait := range scores {
		confidences[trait] = 0.9
	}
	return scores, confidences
}

func hasWarning(result model.ValidationResult, fragment string) bool {
	for _, w := range result.Warnings {
		if strings.Contains(w, fragment) {
			return true
		}
	}
	return false
}

func TestValidateHealthyProfile(t *testing.T) {
	Convey("Given a complete session and a moderate five-trait profile", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore(ctx)
		defer store.Close()
		seedRichSession(ctx, store, "sess-ok", "user-1")

		engine := validation.NewEngine(store,
			validation.WithClock(func() time.Time { return validationNow }))
		scores, confidences := moderateTraits()

		Convey("When validating with no prior profile for the user", func() {
			result := engine.Validate(ctx, "sess-ok", scores, confidences)

			Convey("Then the profile is valid", func() {
				So(result.IsValid, ShouldBeTrue)
				So(result.ConfidenceScore, ShouldAlmostEqual, 0.9, 0.0001)
				So(result.DataQualityScore, ShouldBeGreaterThanOrEqualTo, 0.8)
				So(result.ValidityScore, ShouldBeGreaterThanOrEqualTo, 0.7)
			})

			Convey("Then temporal stability defaults to the neutral score", func() {
				So(result.SubScores["temporal_stability"], ShouldAlmostEqual, 0.7, 0.0001)
			})

			Convey("Then every sub-score lies in the unit range", func() {
				for _, score := range result.SubScores {
					So(score, ShouldBeGreaterThanOrEqualTo, 0)
					So(score, ShouldBeLessThanOrEqualTo, 1)
				}
			})
		})
	})
}

func TestValidateExtremeScores(t *testing.T) {
	Convey("Given a profile where every trait score is extreme", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore(ctx)
		defer store.Close()
		seedRichSession(ctx, store, "sess-extreme", "user-2")

		engine := validation.NewEngine(store,
			validation.WithClock(func() time.Time { return validationNow }))
		scores := map[string]float64{
			"risk_tolerance":     0.95,
			"learning_ability":   1.0,
			"emotion_regulation": 0.95,
			"consistency":        1.0,
			"decision_speed":     0.95,
		}
		confidences := map[string]float64{
			"risk_tolerance":     0.9,
			"learning_ability":   0.9,
			"emotion_regulation": 0.9,
			"consistency":        0.9,
			"decision_speed":     0.9,
		}

		Convey("When validating", func() {
			result := engine.Validate(ctx, "sess-extreme", scores, confidences)

			Convey("Then statistical validity is penalized with a warning", func() {
				So(result.SubScores["statistical_validity"], ShouldBeLessThan, 0.5)
				So(hasWarning(result, "High proportion of extreme scores"), ShouldBeTrue)
			})
		})
	})
}

func TestValidateDegenerateInput(t *testing.T) {
	Convey("Given a session but no inferred traits at all", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore(ctx)
		defer store.Close()
		seedRichSession(ctx, store, "sess-bare", "user-3")

		engine := validation.NewEngine(store,
			validation.WithClock(func() time.Time { return validationNow }))

		Convey("When validating empty trait maps", func() {
			result := engine.Validate(ctx, "sess-bare", nil, nil)

			Convey("Then the result explains the failure instead of erroring", func() {
				So(result.IsValid, ShouldBeFalse)
				So(hasWarning(result, "No trait scores to validate"), ShouldBeTrue)
				So(result.ConfidenceScore, ShouldEqual, 0)
			})
		})
	})

	Convey("Given an unknown session id", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore(ctx)
		defer store.Close()

		engine := validation.NewEngine(store)

		Convey("When validating", func() {
			result := engine.Validate(ctx, "sess-ghost", map[string]float64{"risk_tolerance": 0.5}, nil)

			Convey("Then a degraded invalid result is returned", func() {
				So(result.IsValid, ShouldBeFalse)
				So(hasWarning(result, "Validation error"), ShouldBeTrue)
			})
		})
	})
}

func TestValidateSparseSession(t *testing.T) {
	Convey("Given a short session with too few events and metrics", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore(ctx)
		defer store.Close()
		_ = store.CreateSession(ctx, model.Session{
			ID:         "sess-thin",
			UserID:     "user-4",
			GameType:   model.GameBalloonRisk,
			Status:     model.SessionCompleted,
			DurationMS: 15000,
		})
		_, _ = store.AppendEvent(ctx, model.Event{
			ID: "ev-1", SessionID: "sess-thin", Type: model.EventBalloonRisk,
			Name: "pump", ClientEventID: "c-1", TimestampMS: 1, Status: model.ValidationValid,
		})

		engine := validation.NewEngine(store,
			validation.WithClock(func() time.Time { return validationNow }))
		scores, confidences := moderateTraits()

		Convey("When validating", func() {
			result := engine.Validate(ctx, "sess-thin", scores, confidences)

			Convey("Then data quality drags the profile below validity", func() {
				So(result.IsValid, ShouldBeFalse)
				So(result.DataQualityScore, ShouldBeLessThan, 0.8)
			})

			Convey("Then the warnings name each data problem", func() {
				So(hasWarning(result, "Session duration is very short"), ShouldBeTrue)
				So(hasWarning(result, "Insufficient events: 1 < 10"), ShouldBeTrue)
				So(hasWarning(result, "Low data completeness"), ShouldBeTrue)
			})
		})
	})
}

func TestValidateTemporalStability(t *testing.T) {
	Convey("Given a prior profile for the same user within thirty days", t, func() {
		ctx := context.Background()
		store := repository.NewMemStore(ctx)
		defer store.Close()
		seedRichSession(ctx, store, "sess-prev", "user-5")
		seedRichSession(ctx, store, "sess-cur", "user-5")
		_ = store.UpsertProfile(ctx, model.Profile{
			ID:        "p-prev",
			SessionID: "sess-prev",
			UserID:    "user-5",
			Traits: map[string]model.TraitScore{
				"risk_tolerance": {Trait: "risk_tolerance", Normalized: 0.9},
			},
			CreatedAt: validationNow.Add(-10 * 24 * time.Hour),
		})

		engine := validation.NewEngine(store,
			validation.WithClock(func() time.Time { return validationNow }))

		Convey("When the current score moved far from the prior one", func() {
			result := engine.Validate(ctx, "sess-cur",
				map[string]float64{"risk_tolerance": 0.4, "consistency": 0.5},
				map[string]float64{"risk_tolerance": 0.78, "consistency": 0.75})

			Convey("Then stability reflects the drift and warns about it", func() {
				So(result.SubScores["temporal_stability"], ShouldAlmostEqual, 0.5, 0.0001)
				So(hasWarning(result, "Large change in risk_tolerance"), ShouldBeTrue)
			})
		})

		Convey("When the current score matches the prior one", func() {
			result := engine.Validate(ctx, "sess-cur",
				map[string]float64{"risk_tolerance": 0.9, "consistency": 0.5},
				map[string]float64{"risk_tolerance": 0.78, "consistency": 0.75})

			Convey("Then stability is perfect for the matched trait", func() {
				So(result.SubScores["temporal_stability"], ShouldAlmostEqual, 1.0, 0.0001)
				So(hasWarning(result, "Large change"), ShouldBeFalse)
			})
		})
	})
}
