package traits

import (
	"math"

	"github.com/okian/psymetric/internal/domain/model"
)

// The weights, reliability coefficients, and normalization constants
// below are calibration parameters carried over from validation
// studies. Treat them as configuration subject to revision, not as
// derived values.

// RiskToleranceModel scores risk appetite from balloon pumping
// behavior, normalized against population baselines.
type RiskToleranceModel struct{}

func (RiskToleranceModel) Trait() string         { return "risk_tolerance" }
func (RiskToleranceModel) Dimension() string     { return "risk" }
func (RiskToleranceModel) Version() string       { return "1.0" }
func (RiskToleranceModel) MinConfidence() float64 { return 0.7 }

func (RiskToleranceModel) RequiredMetrics() []string {
	return []string{
		model.MetricAvgPumps,
		model.MetricRiskEscalation,
		model.MetricConsistencyScore,
		model.MetricAdaptationRate,
	}
}

const riskToleranceReliability = 0.78

func (m RiskToleranceModel) Predict(metrics map[string]float64, base *Baselines) (model.TraitScore, error) {
	weights := map[string]float64{
		model.MetricAvgPumps:         0.40,
		model.MetricRiskEscalation:   0.25,
		model.MetricConsistencyScore: 0.20,
		model.MetricAdaptationRate:   0.15,
	}

	var components []component
	for _, name := range m.RequiredMetrics() {
		value, ok := metrics[name]
		if !ok {
			continue
		}
		stat, _ := base.Stat(name)
		// Escalation slopes are heavy-tailed, so they scale against
		// the median and MAD rather than the mean.
		z := zScore(value, stat.Mean, stat.Std)
		if name == model.MetricRiskEscalation {
			z = robustScale(value, stat.Median, stat.MAD)
		}
		components = append(components, component{
			metric: name,
			weight: weights[name],
			value:  z,
		})
	}
	if len(components) == 0 {
		return model.TraitScore{}, ErrNoEvidence
	}

	compositeZ, contributing := composite(components)
	score := normCDF(compositeZ)
	confidence := confidenceFor(len(components), len(m.RequiredMetrics()), riskToleranceReliability)

	return model.TraitScore{
		Trait:        m.Trait(),
		Dimension:    m.Dimension(),
		Raw:          compositeZ,
		Normalized:   clamp01(score),
		Confidence:   confidence,
		Contributing: contributing,
		Interpretation: band(score, [5]string{
			"Very Low Risk Tolerance",
			"Low Risk Tolerance",
			"Moderate Risk Tolerance",
			"High Risk Tolerance",
			"Very High Risk Tolerance",
		}),
		ModelVersion: m.Version(),
		Interval:     intervalFor(score, riskToleranceReliability, 10),
	}, nil
}

// LearningAbilityModel scores adaptation from learning-pattern metrics.
type LearningAbilityModel struct{}

func (LearningAbilityModel) Trait() string          { return "learning_ability" }
func (LearningAbilityModel) Dimension() string      { return "cognition" }
func (LearningAbilityModel) Version() string        { return "1.0" }
func (LearningAbilityModel) MinConfidence() float64 { return 0.7 }

func (LearningAbilityModel) RequiredMetrics() []string {
	return []string{
		model.MetricLearningCurve,
		model.MetricAdaptationRate,
		model.MetricFeedbackResponse,
	}
}

const learningAbilityReliability = 0.72

func (m LearningAbilityModel) Predict(metrics map[string]float64, base *Baselines) (model.TraitScore, error) {
	norms := map[string]func(float64) float64{
		model.MetricLearningCurve:    sigmoid,
		model.MetricAdaptationRate:   clamp01,
		model.MetricFeedbackResponse: clamp01,
	}
	weights := map[string]float64{
		model.MetricLearningCurve:    0.35,
		model.MetricAdaptationRate:   0.30,
		model.MetricFeedbackResponse: 0.25,
	}

	var components []component
	for _, name := range m.RequiredMetrics() {
		value, ok := metrics[name]
		if !ok {
			continue
		}
		components = append(components, component{
			metric: name,
			weight: weights[name],
			value:  norms[name](value),
		})
	}
	if len(components) == 0 {
		return model.TraitScore{}, ErrNoEvidence
	}

	score, contributing := composite(components)
	confidence := confidenceFor(len(components), len(m.RequiredMetrics()), learningAbilityReliability)

	return model.TraitScore{
		Trait:        m.Trait(),
		Dimension:    m.Dimension(),
		Raw:          score,
		Normalized:   clamp01(score),
		Confidence:   confidence,
		Contributing: contributing,
		Interpretation: band(score, [5]string{
			"Low Learning Ability",
			"Below Average Learning Ability",
			"Average Learning Ability",
			"High Learning Ability",
			"Exceptional Learning Ability",
		}),
		ModelVersion: m.Version(),
		Interval:     intervalFor(score, learningAbilityReliability, 8),
	}, nil
}

// EmotionRegulationModel scores composure from post-loss behavior.
// Lower stress response and faster recovery read as better regulation.
type EmotionRegulationModel struct{}

func (EmotionRegulationModel) Trait() string          { return "emotion_regulation" }
func (EmotionRegulationModel) Dimension() string      { return "emotion" }
func (EmotionRegulationModel) Version() string        { return "1.0" }
func (EmotionRegulationModel) MinConfidence() float64 { return 0.7 }

func (EmotionRegulationModel) RequiredMetrics() []string {
	return []string{
		model.MetricStressResponse,
		model.MetricRecoveryTime,
		model.MetricPostLossBehavior,
	}
}

const (
	emotionRegulationReliability = 0.75
	recoveryReferenceMS          = 60000
)

func (m EmotionRegulationModel) Predict(metrics map[string]float64, base *Baselines) (model.TraitScore, error) {
	norms := map[string]func(float64) float64{
		model.MetricStressResponse:   func(v float64) float64 { return 1 - math.Min(1, math.Abs(v)) },
		model.MetricRecoveryTime:     func(v float64) float64 { return 1 - minMax(v, 0, recoveryReferenceMS) },
		model.MetricPostLossBehavior: clamp01,
	}
	weights := map[string]float64{
		model.MetricStressResponse:   0.40,
		model.MetricRecoveryTime:     0.35,
		model.MetricPostLossBehavior: 0.25,
	}

	var components []component
	for _, name := range m.RequiredMetrics() {
		value, ok := metrics[name]
		if !ok {
			continue
		}
		components = append(components, component{
			metric: name,
			weight: weights[name],
			value:  norms[name](value),
		})
	}
	if len(components) == 0 {
		return model.TraitScore{}, ErrNoEvidence
	}

	score, contributing := composite(components)
	confidence := confidenceFor(len(components), len(m.RequiredMetrics()), emotionRegulationReliability)

	return model.TraitScore{
		Trait:        m.Trait(),
		Dimension:    m.Dimension(),
		Raw:          score,
		Normalized:   clamp01(score),
		Confidence:   confidence,
		Contributing: contributing,
		Interpretation: band(score, [5]string{
			"Very Poor Emotion Regulation",
			"Poor Emotion Regulation",
			"Moderate Emotion Regulation",
			"Good Emotion Regulation",
			"Excellent Emotion Regulation",
		}),
		ModelVersion: m.Version(),
		Interval:     intervalFor(score, emotionRegulationReliability, 6),
	}, nil
}

// ConsistencyModel scores behavioral stability from variation metrics.
type ConsistencyModel struct{}

func (ConsistencyModel) Trait() string          { return "consistency" }
func (ConsistencyModel) Dimension() string      { return "behavior" }
func (ConsistencyModel) Version() string        { return "1.0" }
func (ConsistencyModel) MinConfidence() float64 { return 0.7 }

func (ConsistencyModel) RequiredMetrics() []string {
	return []string{
		model.MetricConsistencyScore,
		model.MetricPumpIntervalCV,
	}
}

const consistencyReliability = 0.75

func (m ConsistencyModel) Predict(metrics map[string]float64, base *Baselines) (model.TraitScore, error) {
	norms := map[string]func(float64) float64{
		model.MetricConsistencyScore: clamp01,
		// A low coefficient of variation means steady behavior.
		model.MetricPumpIntervalCV: func(v float64) float64 { return 1 - clamp01(v) },
	}
	weights := map[string]float64{
		model.MetricConsistencyScore: 0.60,
		model.MetricPumpIntervalCV:   0.40,
	}

	var components []component
	for _, name := range m.RequiredMetrics() {
		value, ok := metrics[name]
		if !ok {
			continue
		}
		components = append(components, component{
			metric: name,
			weight: weights[name],
			value:  norms[name](value),
		})
	}
	if len(components) == 0 {
		return model.TraitScore{}, ErrNoEvidence
	}

	score, contributing := composite(components)
	confidence := confidenceFor(len(components), len(m.RequiredMetrics()), consistencyReliability)

	return model.TraitScore{
		Trait:        m.Trait(),
		Dimension:    m.Dimension(),
		Raw:          score,
		Normalized:   clamp01(score),
		Confidence:   confidence,
		Contributing: contributing,
		Interpretation: band(score, [5]string{
			"Highly Variable Behavior",
			"Variable Behavior",
			"Moderately Consistent",
			"Consistent Behavior",
			"Highly Consistent Behavior",
		}),
		ModelVersion: m.Version(),
		Interval:     intervalFor(score, consistencyReliability, 8),
	}, nil
}

// DecisionSpeedModel scores decision tempo from inter-action latency.
type DecisionSpeedModel struct{}

func (DecisionSpeedModel) Trait() string          { return "decision_speed" }
func (DecisionSpeedModel) Dimension() string      { return "cognition" }
func (DecisionSpeedModel) Version() string        { return "1.0" }
func (DecisionSpeedModel) MinConfidence() float64 { return 0.7 }

func (DecisionSpeedModel) RequiredMetrics() []string {
	return []string{
		model.MetricAvgDecisionTime,
		model.MetricRapidDecisionRate,
	}
}

const (
	decisionSpeedReliability = 0.75
	decisionReferenceMS      = 5000
)

func (m DecisionSpeedModel) Predict(metrics map[string]float64, base *Baselines) (model.TraitScore, error) {
	norms := map[string]func(float64) float64{
		// Faster decisions score higher.
		model.MetricAvgDecisionTime:   func(v float64) float64 { return 1 - minMax(v, 0, decisionReferenceMS) },
		model.MetricRapidDecisionRate: clamp01,
	}
	weights := map[string]float64{
		model.MetricAvgDecisionTime:   0.60,
		model.MetricRapidDecisionRate: 0.40,
	}

	var components []component
	for _, name := range m.RequiredMetrics() {
		value, ok := metrics[name]
		if !ok {
			continue
		}
		components = append(components, component{
			metric: name,
			weight: weights[name],
			value:  norms[name](value),
		})
	}
	if len(components) == 0 {
		return model.TraitScore{}, ErrNoEvidence
	}

	score, contributing := composite(components)
	confidence := confidenceFor(len(components), len(m.RequiredMetrics()), decisionSpeedReliability)

	return model.TraitScore{
		Trait:        m.Trait(),
		Dimension:    m.Dimension(),
		Raw:          score,
		Normalized:   clamp01(score),
		Confidence:   confidence,
		Contributing: contributing,
		Interpretation: band(score, [5]string{
			"Very Deliberate Decision-Maker",
			"Deliberate Decision-Maker",
			"Moderate Decision Speed",
			"Rapid Decision-Maker",
			"Very Rapid Decision-Maker",
		}),
		ModelVersion: m.Version(),
		Interval:     intervalFor(score, decisionSpeedReliability, 8),
	}, nil
}
