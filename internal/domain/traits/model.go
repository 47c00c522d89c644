package traits

import (
	"math"

	"github.com/okian/psymetric/internal/domain/model"
)

// Critical value for the default 95% confidence level.
const zCritical95 = 1.959963984540054

// Model scores one psychometric trait from a session's metric map.
type Model interface {
	// Trait names the measured trait, e.g. "risk_tolerance".
	Trait() string

	// Dimension groups the trait on a broader axis.
	Dimension() string

	// Version identifies the scoring formula revision.
	Version() string

	// RequiredMetrics lists the metric names the model reads.
	RequiredMetrics() []string

	// MinConfidence is the threshold below which the trait is dropped
	// from the assembled profile.
	MinConfidence() float64

	// Predict computes the trait score against the given baselines.
	// Returns ErrNoEvidence when none of the required metrics are
	// present.
	Predict(metrics map[string]float64, base *Baselines) (model.TraitScore, error)
}

// component is one weighted, normalized input into a composite score.
type component struct {
	metric string
	weight float64
	value  float64
}

// composite renormalizes the weighted sum over observed components so
// missing metrics drop out of the weight total instead of dragging the
// score toward zero.
func composite(components []component) (float64, []string) {
	var sum, weightTotal float64
	contributing := make([]string, 0, len(components))
	for _, c := range components {
		sum += c.value * c.weight
		weightTotal += c.weight
		contributing = append(contributing, c.metric)
	}
	if weightTotal == 0 {
		return 0, contributing
	}
	return sum / weightTotal, contributing
}

// confidenceFor combines metric completeness and model reliability.
func confidenceFor(observed, required int, reliability float64) float64 {
	if required == 0 {
		return 0
	}
	return clamp01(float64(observed) / float64(required) * reliability)
}

// intervalFor computes the confidence interval around score using the
// model's reliability and its interval constant k.
func intervalFor(score, reliability float64, k float64) model.Interval {
	se := math.Sqrt((1 - reliability) / k)
	margin := zCritical95 * se
	return model.Interval{
		Lower: clamp01(score - margin),
		Upper: clamp01(score + margin),
	}
}

// band picks an interpretation label by score quintile.
func band(score float64, labels [5]string) string {
	switch {
	case score >= 0.8:
		return labels[4]
	case score >= 0.6:
		return labels[3]
	case score >= 0.4:
		return labels[2]
	case score >= 0.2:
		return labels[1]
	default:
		return labels[0]
	}
}
