// Package validation scores the trustworthiness of an inferred trait
// profile along four independent axes and combines them into a single
// pass/fail verdict with human-readable remediation hints.
package validation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/okian/psymetric/internal/adapters/repository"
	"github.com/okian/psymetric/internal/domain/model"
	"github.com/okian/psymetric/pkg/metrics"
)

// Default validation criteria.
const (
	defaultMinConfidence     = 0.7
	defaultMinCompleteness   = 0.8
	defaultMinSampleSize     = 10
	defaultMaxOutlierRatio   = 0.1
	defaultValidityThreshold = 0.7
)

// Fixed sub-score weights and reference values.
const (
	weightDataQuality  = 0.30
	weightStatistical  = 0.25
	weightConsistency  = 0.25
	weightTemporal     = 0.20

	durationReferenceMS = 60000
	shortSessionMS      = 30000
	stabilityWindow     = 30 * 24 * time.Hour
	neutralScore        = 0.7
	largeChange         = 0.3
)

// Criteria are the thresholds a profile must clear to be valid.
type Criteria struct {
	MinConfidence     float64
	MinCompleteness   float64
	MinSampleSize     int
	MaxOutlierRatio   float64
	ValidityThreshold float64
}

// DefaultCriteria returns the standard validation thresholds.
func DefaultCriteria() Criteria {
	return Criteria{
		MinConfidence:     defaultMinConfidence,
		MinCompleteness:   defaultMinCompleteness,
		MinSampleSize:     defaultMinSampleSize,
		MaxOutlierRatio:   defaultMaxOutlierRatio,
		ValidityThreshold: defaultValidityThreshold,
	}
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithCriteria replaces the default thresholds.
func WithCriteria(c Criteria) Option {
	return func(e *Engine) {
		if c.MinSampleSize > 0 {
			e.criteria = c
		}
	}
}

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine validates trait profiles against session data and history.
type Engine struct {
	store    repository.Store
	criteria Criteria
	now      func() time.Time
}

// NewEngine creates a validation engine backed by the given store.
func NewEngine(store repository.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		criteria: DefaultCriteria(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validate scores the profile described by traitScores and
// confidenceScores for the session. It never returns an error: any
// failure to gather supporting data degrades the result and is
// reported through warnings, so callers always get a usable verdict.
func (e *Engine) Validate(ctx context.Context, sessionID string, traitScores, confidenceScores map[string]float64) model.ValidationResult {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		metrics.RecordValidationResult("error")
		return model.ValidationResult{
			Warnings:        []string{fmt.Sprintf("Validation error: %v", err)},
			Recommendations: []string{"Review data quality and retry validation"},
			SubScores:       map[string]float64{},
		}
	}

	dq := e.dataQuality(ctx, session)
	sv := e.statisticalValidity(traitScores, confidenceScores)
	ic := e.internalConsistency(traitScores)
	ts := e.temporalStability(ctx, session, traitScores)

	validity := weightDataQuality*dq.score +
		weightStatistical*sv.score +
		weightConsistency*ic.score +
		weightTemporal*ts.score

	var confidence float64
	if len(confidenceScores) > 0 {
		for _, c := range confidenceScores {
			confidence += c
		}
		confidence /= float64(len(confidenceScores))
	}

	result := model.ValidationResult{
		IsValid: confidence >= e.criteria.MinConfidence &&
			dq.score >= e.criteria.MinCompleteness &&
			validity >= e.criteria.ValidityThreshold,
		ConfidenceScore:  confidence,
		DataQualityScore: dq.score,
		ReliabilityScore: ic.score,
		ValidityScore:    validity,
		SubScores: map[string]float64{
			"data_quality":         dq.score,
			"statistical_validity": sv.score,
			"internal_consistency": ic.score,
			"temporal_stability":   ts.score,
		},
	}
	for _, c := range []check{dq, sv, ic, ts} {
		result.Warnings = append(result.Warnings, c.warnings...)
		result.Recommendations = append(result.Recommendations, c.recommendations...)
	}

	if result.IsValid {
		metrics.RecordValidationResult("valid")
	} else {
		metrics.RecordValidationResult("invalid")
	}
	return result
}

// check is one sub-score together with its findings.
type check struct {
	score           float64
	warnings        []string
	recommendations []string
}

func (c *check) warn(warning, recommendation string) {
	c.warnings = append(c.warnings, warning)
	c.recommendations = append(c.recommendations, recommendation)
}

func (e *Engine) dataQuality(ctx context.Context, session model.Session) check {
	var c check

	durationComponent := 0.5
	if session.DurationMS > 0 {
		durationComponent = math.Min(1, float64(session.DurationMS)/durationReferenceMS)
		if session.DurationMS < shortSessionMS {
			c.warn("Session duration is very short (< 30 seconds)",
				"Encourage longer engagement for better assessment")
		}
	}

	events, err := e.store.EventsBySession(ctx, session.ID)
	if err != nil {
		events = nil
	}
	eventCount := len(events)
	if eventCount < e.criteria.MinSampleSize {
		c.warn(fmt.Sprintf("Insufficient events: %d < %d", eventCount, e.criteria.MinSampleSize),
			"Collect more behavioral data")
	}
	eventComponent := math.Min(1, float64(eventCount)/float64(e.criteria.MinSampleSize))

	rows, err := e.store.MetricsBySession(ctx, session.ID)
	if err != nil {
		rows = nil
	}
	expected := expectedMetrics(session.GameType)
	completeness := 0.0
	if len(expected) > 0 {
		observed := 0
		for _, m := range rows {
			if expected[m.Name] {
				observed++
			}
		}
		completeness = float64(observed) / float64(len(expected))
	}
	if completeness < e.criteria.MinCompleteness {
		c.warn(fmt.Sprintf("Low data completeness: %.2f", completeness),
			"Ensure all game components are completed")
	}

	outlierRatio := outlierRatioIQR(rows)
	if outlierRatio > e.criteria.MaxOutlierRatio {
		c.warn(fmt.Sprintf("High outlier ratio: %.2f", outlierRatio),
			"Review data collection for anomalies")
	}

	c.score = (durationComponent + eventComponent + completeness + (1 - outlierRatio)) / 4
	return c
}

func (e *Engine) statisticalValidity(traitScores, confidenceScores map[string]float64) check {
	var c check

	if len(traitScores) == 0 {
		c.warn("No trait scores to validate", "Run trait inference before validation")
		return c
	}

	var scores []float64
	for _, s := range traitScores {
		scores = append(scores, s)
	}

	extreme := 0
	for _, s := range scores {
		if s < 0.1 || s > 0.9 {
			extreme++
		}
	}
	extremeRatio := float64(extreme) / float64(len(scores))
	if extremeRatio > 0.5 {
		c.warn("High proportion of extreme scores", "Review assessment methodology")
	}

	confComponent := 0.5
	if len(confidenceScores) > 0 {
		lowConfidence := 0
		sum := 0.0
		for _, conf := range confidenceScores {
			sum += conf
			if conf < e.criteria.MinConfidence {
				lowConfidence++
			}
		}
		confComponent = sum / float64(len(confidenceScores))
		if lowConfidence > 0 {
			c.warn(fmt.Sprintf("%d traits have low confidence", lowConfidence),
				"Collect additional data for low-confidence traits")
		}
	}

	// Some spread across traits is expected; a flat profile is suspect.
	varianceComponent := math.Min(1, stddev(scores)*2)

	c.score = ((1 - extremeRatio) + confComponent + varianceComponent) / 3
	return c
}

func (e *Engine) internalConsistency(traitScores map[string]float64) check {
	var c check

	if len(traitScores) < 2 {
		c.score = 0.5
		return c
	}

	var checks []float64

	risk, hasRisk := traitScores["risk_tolerance"]
	emotion, hasEmotion := traitScores["emotion_regulation"]
	if hasRisk && hasEmotion {
		diff := math.Abs(risk - emotion)
		if diff > 0.7 {
			c.warn("Inconsistent risk tolerance and emotion regulation scores",
				"Review behavioral patterns for consistency")
		}
		checks = append(checks, 1-diff)
	}

	// Learning ability and risk calibration interact in ways the pair
	// check cannot score directly; presence of both earns a lenient
	// fixed credit.
	if _, hasLearning := traitScores["learning_ability"]; hasLearning && hasRisk {
		checks = append(checks, 0.8)
	}

	if len(checks) == 0 {
		c.score = neutralScore
		return c
	}
	sum := 0.0
	for _, v := range checks {
		sum += v
	}
	c.score = sum / float64(len(checks))
	return c
}

func (e *Engine) temporalStability(ctx context.Context, session model.Session, traitScores map[string]float64) check {
	var c check

	since := e.now().Add(-stabilityWindow)
	prior, err := e.store.LatestProfileByUser(ctx, session.UserID, since, session.ID)
	if errors.Is(err, repository.ErrProfileNotFound) {
		c.score = neutralScore
		return c
	}
	if err != nil {
		c.score = 0.5
		c.warnings = append(c.warnings, fmt.Sprintf("Temporal validation error: %v", err))
		return c
	}

	names := make([]string, 0, len(prior.Traits))
	for name := range prior.Traits {
		if _, ok := traitScores[name]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var stabilities []float64
	for _, name := range names {
		diff := math.Abs(traitScores[name] - prior.Traits[name].Normalized)
		stabilities = append(stabilities, 1-math.Min(1, diff))
		if diff > largeChange {
			c.warn(fmt.Sprintf("Large change in %s: %.2f", name, diff),
				fmt.Sprintf("Review factors affecting %s", name))
		}
	}

	if len(stabilities) == 0 {
		c.score = neutralScore
		return c
	}
	sum := 0.0
	for _, v := range stabilities {
		sum += v
	}
	c.score = sum / float64(len(stabilities))
	return c
}

// expectedMetrics lists the metric names a complete extraction run
// should produce for the games in the session.
func expectedMetrics(game model.GameType) map[string]bool {
	expected := make(map[string]bool)
	balloon := []string{
		model.MetricAvgPumps,
		model.MetricRiskEscalation,
		model.MetricConsistencyScore,
		model.MetricAdaptationRate,
		model.MetricLearningCurve,
		model.MetricFeedbackResponse,
	}
	memory := []string{
		model.MetricMemoryAccuracy,
		model.MetricMemoryAvgReaction,
	}
	reaction := []string{
		model.MetricReactionAvgTime,
		model.MetricReactionTimeStd,
		model.MetricReactionAccuracy,
	}

	switch game {
	case model.GameBalloonRisk:
		addAll(expected, balloon)
	case model.GameMemoryCards:
		addAll(expected, memory)
	case model.GameReactionTimer:
		addAll(expected, reaction)
	case model.GameMixed:
		addAll(expected, balloon)
		addAll(expected, memory)
		addAll(expected, reaction)
	}
	return expected
}

func addAll(set map[string]bool, names []string) {
	for _, name := range names {
		set[name] = true
	}
}

// outlierRatioIQR reports the fraction of metric values falling
// outside [Q1 - 1.5*IQR, Q3 + 1.5*IQR].
func outlierRatioIQR(rows []model.Metric) float64 {
	if len(rows) < 3 {
		return 0
	}
	values := make([]float64, len(rows))
	for i, m := range rows {
		values[i] = m.Value
	}
	sort.Float64s(values)

	q1 := quantile(values, 0.25)
	q3 := quantile(values, 0.75)
	iqr := q3 - q1
	if iqr == 0 {
		return 0
	}

	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr
	outliers := 0
	for _, v := range values {
		if v < lower || v > upper {
			outliers++
		}
	}
	return float64(outliers) / float64(len(values))
}

// quantile interpolates linearly between order statistics. Values
// must be sorted.
func quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	pos := q * float64(len(values)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return values[lo]
	}
	frac := pos - float64(lo)
	return values[lo]*(1-frac) + values[hi]*frac
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}
