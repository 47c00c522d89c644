package traits_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/psymetric/internal/domain/model"
	"github.com/okian/psymetric/internal/domain/traits"
)

func TestRiskToleranceModel(t *testing.T) {
	Convey("Given the risk tolerance model and default baselines", t, func() {
		m := traits.RiskToleranceModel{}
		base := traits.NewBaselines()

		Convey("When every metric sits exactly on its population center", func() {
			score, err := m.Predict(map[string]float64{
				model.MetricAvgPumps:         30.5,
				model.MetricRiskEscalation:   0.14,
				model.MetricConsistencyScore: 0.72,
				model.MetricAdaptationRate:   0.45,
			}, base)

			Convey("Then the score is at the population midpoint", func() {
				So(err, ShouldBeNil)
				So(score.Normalized, ShouldAlmostEqual, 0.5, 0.0001)
				So(score.Raw, ShouldAlmostEqual, 0, 0.0001)
				So(score.Interpretation, ShouldEqual, "Moderate Risk Tolerance")
			})

			Convey("Then confidence equals the reliability coefficient", func() {
				So(err, ShouldBeNil)
				So(score.Confidence, ShouldAlmostEqual, 0.78, 0.0001)
			})

			Convey("Then the interval brackets the score inside the unit range", func() {
				So(err, ShouldBeNil)
				So(score.Interval.Lower, ShouldBeLessThan, score.Normalized)
				So(score.Interval.Upper, ShouldBeGreaterThan, score.Normalized)
				So(score.Interval.Lower, ShouldBeGreaterThanOrEqualTo, 0)
				So(score.Interval.Upper, ShouldBeLessThanOrEqualTo, 1)
			})

			Convey("Then all four metrics contributed", func() {
				So(err, ShouldBeNil)
				So(len(score.Contributing), ShouldEqual, 4)
			})
		})

		Convey("When pumping is well above the population mean", func() {
			score, err := m.Predict(map[string]float64{
				model.MetricAvgPumps:       56.1,
				model.MetricRiskEscalation: 0.31,
			}, base)

			Convey("Then the score exceeds the midpoint", func() {
				So(err, ShouldBeNil)
				So(score.Normalized, ShouldBeGreaterThan, 0.5)
			})

			Convey("Then confidence is strictly below full reliability", func() {
				So(err, ShouldBeNil)
				So(score.Confidence, ShouldBeLessThan, 0.78)
				So(score.Confidence, ShouldAlmostEqual, 0.39, 0.0001)
			})
		})

		Convey("When escalation sits far outside the typical range", func() {
			centered, cerr := m.Predict(map[string]float64{
				model.MetricRiskEscalation: 0.14,
			}, base)
			extreme, xerr := m.Predict(map[string]float64{
				model.MetricRiskEscalation: 1.4,
			}, base)

			Convey("Then median scaling keeps the score inside the unit range", func() {
				So(cerr, ShouldBeNil)
				So(xerr, ShouldBeNil)
				So(centered.Normalized, ShouldAlmostEqual, 0.5, 0.0001)
				So(extreme.Normalized, ShouldBeGreaterThan, centered.Normalized)
				So(extreme.Normalized, ShouldBeLessThanOrEqualTo, 1)
			})
		})

		Convey("When no required metric is present", func() {
			_, err := m.Predict(map[string]float64{
				model.MetricAvgDecisionTime: 1200,
			}, base)

			Convey("Then the model reports no evidence", func() {
				So(err, ShouldEqual, traits.ErrNoEvidence)
			})
		})
	})
}

func TestLearningAbilityModel(t *testing.T) {
	Convey("Given the learning ability model", t, func() {
		m := traits.LearningAbilityModel{}
		base := traits.NewBaselines()

		Convey("When learning metrics show steady improvement", func() {
			score, err := m.Predict(map[string]float64{
				model.MetricLearningCurve:    0,
				model.MetricAdaptationRate:   0.8,
				model.MetricFeedbackResponse: 0.6,
			}, base)

			Convey("Then the composite reflects the renormalized weights", func() {
				So(err, ShouldBeNil)
				So(score.Normalized, ShouldAlmostEqual, 0.6278, 0.001)
				So(score.Interpretation, ShouldEqual, "High Learning Ability")
			})

			Convey("Then confidence equals reliability with full evidence", func() {
				So(err, ShouldBeNil)
				So(score.Confidence, ShouldAlmostEqual, 0.72, 0.0001)
			})
		})

		Convey("When only the learning curve is observed", func() {
			score, err := m.Predict(map[string]float64{
				model.MetricLearningCurve: 2.0,
			}, base)

			Convey("Then confidence drops proportionally", func() {
				So(err, ShouldBeNil)
				So(score.Confidence, ShouldAlmostEqual, 0.24, 0.0001)
				So(score.Confidence, ShouldBeLessThan, 0.72)
			})

			Convey("Then a steep curve still scores inside the unit range", func() {
				So(err, ShouldBeNil)
				So(score.Normalized, ShouldBeGreaterThanOrEqualTo, 0)
				So(score.Normalized, ShouldBeLessThanOrEqualTo, 1)
			})
		})
	})
}

func TestEmotionRegulationModel(t *testing.T) {
	Convey("Given the emotion regulation model", t, func() {
		m := traits.EmotionRegulationModel{}
		base := traits.NewBaselines()

		Convey("When the subject recovers quickly after losses", func() {
			score, err := m.Predict(map[string]float64{
				model.MetricStressResponse:   0.2,
				model.MetricRecoveryTime:     30000,
				model.MetricPostLossBehavior: 0.9,
			}, base)

			Convey("Then regulation scores in the good band", func() {
				So(err, ShouldBeNil)
				So(score.Normalized, ShouldAlmostEqual, 0.72, 0.001)
				So(score.Interpretation, ShouldEqual, "Good Emotion Regulation")
				So(score.Confidence, ShouldAlmostEqual, 0.75, 0.0001)
			})
		})

		Convey("When recovery takes longer than the reference window", func() {
			score, err := m.Predict(map[string]float64{
				model.MetricRecoveryTime: 120000,
			}, base)

			Convey("Then the recovery component bottoms out at zero", func() {
				So(err, ShouldBeNil)
				So(score.Normalized, ShouldAlmostEqual, 0, 0.0001)
				So(score.Interpretation, ShouldEqual, "Very Poor Emotion Regulation")
			})
		})
	})
}

func TestConsistencyAndDecisionSpeedModels(t *testing.T) {
	Convey("Given the consistency model", t, func() {
		m := traits.ConsistencyModel{}
		base := traits.NewBaselines()

		Convey("When behavior is steady with low interval variation", func() {
			score, err := m.Predict(map[string]float64{
				model.MetricConsistencyScore: 0.9,
				model.MetricPumpIntervalCV:   0.1,
			}, base)

			Convey("Then the score lands in the top band", func() {
				So(err, ShouldBeNil)
				So(score.Normalized, ShouldAlmostEqual, 0.9, 0.0001)
				So(score.Interpretation, ShouldEqual, "Highly Consistent Behavior")
				So(score.Confidence, ShouldAlmostEqual, 0.75, 0.0001)
			})
		})

		Convey("When variation exceeds the normalization ceiling", func() {
			score, err := m.Predict(map[string]float64{
				model.MetricPumpIntervalCV: 3.5,
			}, base)

			Convey("Then the inverted component clamps at zero", func() {
				So(err, ShouldBeNil)
				So(score.Normalized, ShouldAlmostEqual, 0, 0.0001)
			})
		})
	})

	Convey("Given the decision speed model", t, func() {
		m := traits.DecisionSpeedModel{}
		base := traits.NewBaselines()

		Convey("When decisions are quick and often rapid", func() {
			score, err := m.Predict(map[string]float64{
				model.MetricAvgDecisionTime:   1000,
				model.MetricRapidDecisionRate: 0.5,
			}, base)

			Convey("Then the composite mixes latency and rapid rate", func() {
				So(err, ShouldBeNil)
				So(score.Normalized, ShouldAlmostEqual, 0.68, 0.0001)
				So(score.Interpretation, ShouldEqual, "Rapid Decision-Maker")
			})
		})

		Convey("When average decision time exceeds the reference", func() {
			score, err := m.Predict(map[string]float64{
				model.MetricAvgDecisionTime:   9000,
				model.MetricRapidDecisionRate: 0,
			}, base)

			Convey("Then the score floors at zero", func() {
				So(err, ShouldBeNil)
				So(score.Normalized, ShouldAlmostEqual, 0, 0.0001)
				So(score.Interpretation, ShouldEqual, "Very Deliberate Decision-Maker")
			})
		})
	})
}

func TestConfidenceCompleteness(t *testing.T) {
	Convey("Given every registered trait model", t, func() {
		reg := traits.NewDefaultRegistry()
		base := reg.Baselines()

		for _, m := range reg.Models() {
			m := m
			required := m.RequiredMetrics()

			Convey("When "+m.Trait()+" receives all of its required metrics", func() {
				full := make(map[string]float64, len(required))
				for _, name := range required {
					full[name] = 0.5
				}
				fullScore, err := m.Predict(full, base)
				So(err, ShouldBeNil)

				Convey("Then score and confidence stay inside the unit range", func() {
					So(fullScore.Normalized, ShouldBeGreaterThanOrEqualTo, 0)
					So(fullScore.Normalized, ShouldBeLessThanOrEqualTo, 1)
					So(fullScore.Confidence, ShouldBeGreaterThan, 0)
					So(fullScore.Confidence, ShouldBeLessThanOrEqualTo, 1)
				})

				Convey("Then dropping half the metrics strictly lowers confidence", func() {
					partial := make(map[string]float64)
					for _, name := range required[:len(required)/2] {
						partial[name] = 0.5
					}
					partialScore, perr := m.Predict(partial, base)
					So(perr, ShouldBeNil)
					So(partialScore.Confidence, ShouldBeLessThan, fullScore.Confidence)
				})
			})
		}
	})
}

func TestRegistry(t *testing.T) {
	Convey("Given the default registry", t, func() {
		reg := traits.NewDefaultRegistry()

		Convey("When listing its models", func() {
			models := reg.Models()

			Convey("Then all five standard traits are present exactly once", func() {
				So(len(models), ShouldEqual, 5)
				seen := make(map[string]bool)
				for _, m := range models {
					seen[m.Trait()] = true
				}
				So(seen["risk_tolerance"], ShouldBeTrue)
				So(seen["learning_ability"], ShouldBeTrue)
				So(seen["emotion_regulation"], ShouldBeTrue)
				So(seen["consistency"], ShouldBeTrue)
				So(seen["decision_speed"], ShouldBeTrue)
			})

			Convey("Then mutating the returned slice leaves the registry intact", func() {
				models[0] = nil
				So(reg.Models()[0], ShouldNotBeNil)
			})
		})

		Convey("When an extra model is registered via options", func() {
			extra := traits.NewDefaultRegistry(traits.WithModel(traits.ConsistencyModel{}))

			Convey("Then it is appended after the standard set", func() {
				So(len(extra.Models()), ShouldEqual, 6)
			})
		})
	})
}

func TestBaselinesRefit(t *testing.T) {
	Convey("Given the default population baselines", t, func() {
		base := traits.NewBaselines()

		Convey("When refit with a large enough sample", func() {
			samples := map[string][]float64{
				model.MetricAvgPumps: {40, 42, 38, 41, 39, 43, 40, 41, 42, 39, 40, 41},
			}
			next := base.Refit("2.0", samples)

			Convey("Then the new baselines carry the fitted mean", func() {
				stat, ok := next.Stat(model.MetricAvgPumps)
				So(ok, ShouldBeTrue)
				So(stat.Mean, ShouldAlmostEqual, 40.5, 0.1)
				So(next.Version(), ShouldEqual, "2.0")
			})

			Convey("Then the previous baselines are untouched", func() {
				stat, ok := base.Stat(model.MetricAvgPumps)
				So(ok, ShouldBeTrue)
				So(stat.Mean, ShouldAlmostEqual, 30.5, 0.0001)
			})

			Convey("Then untouched metrics keep their defaults", func() {
				stat, ok := next.Stat(model.MetricConsistencyScore)
				So(ok, ShouldBeTrue)
				So(stat.Mean, ShouldAlmostEqual, 0.72, 0.0001)
			})
		})

		Convey("When refit with too few samples", func() {
			next := base.Refit("2.1", map[string][]float64{
				model.MetricAvgPumps: {40, 42, 38},
			})

			Convey("Then the sparse metric keeps its prior statistics", func() {
				stat, ok := next.Stat(model.MetricAvgPumps)
				So(ok, ShouldBeTrue)
				So(stat.Mean, ShouldAlmostEqual, 30.5, 0.0001)
			})
		})
	})
}
