// Package extract aggregates a session's raw events into named
// behavioral metrics. Extraction is deterministic: identical persisted
// events always produce identical metric values.
package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/psymetric/internal/adapters/repository"
	"github.com/okian/psymetric/internal/domain/model"
	pkgmetrics "github.com/okian/psymetric/pkg/metrics"
)

// Default extraction configuration constants.
const (
	defaultMinEvents          = 10
	defaultRapidDecisionMS    = 1000
	defaultPostPopWindowMS    = 30000
	defaultDataVersion        = "1.0"
	calculationMethod         = "metric_extractor"
	learningMinPumps          = 5
)

// Option applies a configuration option to the Extractor.
type Option func(*Extractor)

// WithMinEvents sets the minimum number of valid events required
// before metrics are computed.
func WithMinEvents(n int) Option {
	return func(x *Extractor) {
		if n > 0 {
			x.minEvents = n
		}
	}
}

// WithRapidDecisionThreshold sets the latency below which a decision
// counts as rapid, in milliseconds.
func WithRapidDecisionThreshold(ms float64) Option {
	return func(x *Extractor) {
		if ms > 0 {
			x.rapidDecisionMS = ms
		}
	}
}

// WithDataVersion tags produced metrics with a data schema version.
func WithDataVersion(v string) Option {
	return func(x *Extractor) {
		if v != "" {
			x.dataVersion = v
		}
	}
}

// WithClock overrides the calculation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(x *Extractor) {
		if now != nil {
			x.now = now
		}
	}
}

// Extractor computes and persists behavioral metrics for a session.
type Extractor struct {
	store repository.Store

	minEvents       int
	rapidDecisionMS float64
	postPopWindowMS int64
	dataVersion     string
	now             func() time.Time
}

// NewExtractor creates an extractor backed by the given store.
func NewExtractor(store repository.Store, opts ...Option) *Extractor {
	x := &Extractor{
		store:           store,
		minEvents:       defaultMinEvents,
		rapidDecisionMS: defaultRapidDecisionMS,
		postPopWindowMS: defaultPostPopWindowMS,
		dataVersion:     defaultDataVersion,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract loads the session's valid events, computes metrics per game
// type, and upserts one Metric per (session, name). It returns the
// stored metrics in a stable order.
func (x *Extractor) Extract(ctx context.Context, sessionID string) ([]model.Metric, error) {
	start := time.Now()
	defer func() {
		pkgmetrics.RecordExtractionLatency(float64(time.Since(start).Milliseconds()))
	}()

	session, err := x.store.GetSession(ctx, sessionID)
	if err != nil {
		pkgmetrics.RecordExtractionRun("failure")
		return nil, err
	}
	events, err := x.store.EventsBySession(ctx, sessionID)
	if err != nil {
		pkgmetrics.RecordExtractionRun("failure")
		return nil, err
	}

	valid := make([]model.Event, 0, len(events))
	for _, e := range events {
		if e.Status == model.ValidationValid {
			valid = append(valid, e)
		}
	}
	if len(valid) < x.minEvents {
		pkgmetrics.RecordExtractionRun("insufficient_data")
		return nil, &InsufficientDataError{Have: len(valid), Want: x.minEvents}
	}

	calculatedAt := x.now().UTC()
	record := func(name string, game model.GameType, value float64) model.Metric {
		return model.Metric{
			SessionID:    sessionID,
			Name:         name,
			GameType:     game,
			Value:        value,
			SampleSize:   len(valid),
			Method:       calculationMethod,
			DataVersion:  x.dataVersion,
			CalculatedAt: calculatedAt,
		}
	}

	var metrics []model.Metric
	metrics = append(metrics, x.balloonMetrics(valid, record)...)
	metrics = append(metrics, x.memoryMetrics(valid, record)...)
	metrics = append(metrics, x.reactionMetrics(valid, record)...)
	metrics = append(metrics, x.sessionMetrics(session, events, valid, record)...)

	for _, m := range metrics {
		if err := x.store.UpsertMetric(ctx, m); err != nil {
			pkgmetrics.RecordExtractionRun("failure")
			return nil, fmt.Errorf("store metric %s: %w", m.Name, err)
		}
	}
	pkgmetrics.RecordExtractionRun("success")
	return metrics, nil
}

type recordFunc func(name string, game model.GameType, value float64) model.Metric

// balloonMetrics computes the balloon risk metric families. Each
// family has its own minimum evidence gate; families without evidence
// are omitted rather than zero-filled, except emotional regulation
// which reports zeros whenever negative outcomes exist.
func (x *Extractor) balloonMetrics(events []model.Event, record recordFunc) []model.Metric {
	var pumps, cashOuts, pops []model.Event
	for _, e := range events {
		if e.Type != model.EventBalloonRisk {
			continue
		}
		switch {
		case hasField(e, "pump_number"):
			pumps = append(pumps, e)
		case hasField(e, "earnings_collected"):
			cashOuts = append(cashOuts, e)
		case hasField(e, "pumps_at_pop"):
			pops = append(pops, e)
		}
	}
	if len(pumps) == 0 && len(cashOuts) == 0 && len(pops) == 0 {
		return nil
	}

	game := model.GameBalloonRisk
	var out []model.Metric

	pumpCounts := floatFields(pumps, "pump_number")
	intervals := positiveFloatFields(pumps, "time_since_prev_pump")

	if len(pumps) > 0 {
		outcomes := float64(len(pops) + len(cashOuts))
		popRate := 0.0
		if outcomes > 0 {
			popRate = float64(len(pops)) / outcomes
		}
		out = append(out,
			record(model.MetricAvgPumps, game, mean(pumpCounts)),
			record(model.MetricMaxPumps, game, maxOf(pumpCounts)),
			record(model.MetricRiskEscalation, game, riskEscalation(pumpCounts)),
			record(model.MetricBalloonsPopped, game, float64(len(pops))),
			record(model.MetricBalloonsCashed, game, float64(len(cashOuts))),
			record(model.MetricPopRate, game, popRate),
		)
	}

	if len(pumps) > 1 {
		out = append(out,
			record(model.MetricPumpIntervalStd, game, std(intervals)),
			record(model.MetricPumpIntervalCV, game, cv(intervals)),
			record(model.MetricConsistencyScore, game, behavioralConsistency(pumpCounts, intervals)),
		)
	}

	if len(pumps) > learningMinPumps {
		out = append(out,
			record(model.MetricAdaptationRate, game, adaptationRate(pumpCounts)),
			record(model.MetricLearningCurve, game, slope(pumpCounts)),
			record(model.MetricFeedbackResponse, game, x.feedbackResponse(pumps, pops)),
		)
	}

	if len(pumps) > 0 {
		rapid := 0
		for _, t := range intervals {
			if t < x.rapidDecisionMS {
				rapid++
			}
		}
		rapidRate := 0.0
		if len(intervals) > 0 {
			rapidRate = float64(rapid) / float64(len(intervals))
		}
		out = append(out,
			record(model.MetricAvgDecisionTime, game, mean(intervals)),
			record(model.MetricDecisionTimeStd, game, std(intervals)),
			record(model.MetricRapidDecisionRate, game, rapidRate),
		)
	}

	// Emotional regulation hooks are computed only when negative
	// outcomes exist; today they report zero rather than a fabricated
	// estimate, so downstream confidence stays honest.
	if len(pops) > 0 {
		out = append(out,
			record(model.MetricPostLossBehavior, game, 0),
			record(model.MetricStressResponse, game, 0),
			record(model.MetricRecoveryTime, game, 0),
		)
	}

	return out
}

func (x *Extractor) memoryMetrics(events []model.Event, record recordFunc) []model.Metric {
	var flips []model.Event
	for _, e := range events {
		if e.Type == model.EventMemoryCards {
			flips = append(flips, e)
		}
	}
	if len(flips) == 0 {
		return nil
	}

	game := model.GameMemoryCards
	accuracy := positiveFloatFields(flips, "memory_accuracy")
	reaction := positiveFloatFields(flips, "reaction_time")
	matches := positiveFloatFields(flips, "matches_found")

	return []model.Metric{
		record(model.MetricMemoryAccuracy, game, mean(accuracy)),
		record(model.MetricMemoryAvgReaction, game, mean(reaction)),
		record(model.MetricMemoryMatchesFound, game, maxOf(matches)),
	}
}

func (x *Extractor) reactionMetrics(events []model.Event, record recordFunc) []model.Metric {
	var trials []model.Event
	for _, e := range events {
		if e.Type == model.EventReactionTimer {
			trials = append(trials, e)
		}
	}
	if len(trials) == 0 {
		return nil
	}

	game := model.GameReactionTimer
	times := positiveFloatFields(trials, "response_time")

	correct, answered := 0, 0
	for _, e := range trials {
		v, ok := e.Payload["is_correct"].(bool)
		if !ok {
			continue
		}
		answered++
		if v {
			correct++
		}
	}
	accuracy := 0.0
	if answered > 0 {
		accuracy = float64(correct) / float64(answered)
	}

	return []model.Metric{
		record(model.MetricReactionAvgTime, game, mean(times)),
		record(model.MetricReactionTimeStd, game, std(times)),
		record(model.MetricReactionAccuracy, game, accuracy),
		record(model.MetricAttentionConsistency, game, clamp(1-cv(times), 0, 1)),
	}
}

func (x *Extractor) sessionMetrics(session model.Session, all, valid []model.Event, record recordFunc) []model.Metric {
	durationMS := float64(session.DurationMS)
	if durationMS == 0 && session.EndTime != nil {
		durationMS = float64(session.EndTime.Sub(session.StartTime).Milliseconds())
	}

	perMinute := 0.0
	if durationMS > 0 {
		perMinute = float64(len(valid)) / (durationMS / 60000)
	}
	completion := 0.0
	if session.Completed() {
		completion = 1.0
	}
	quality := 0.0
	if len(all) > 0 {
		quality = float64(len(valid)) / float64(len(all))
	}

	game := session.GameType
	return []model.Metric{
		record(model.MetricTotalEvents, game, float64(len(valid))),
		record(model.MetricSessionDuration, game, durationMS),
		record(model.MetricEventsPerMinute, game, perMinute),
		record(model.MetricCompletionRate, game, completion),
		record(model.MetricDataQualityScore, game, quality),
	}
}

// riskEscalation compares the late half of the pump sequence to the
// early half, relative to the early mean.
func riskEscalation(pumps []float64) float64 {
	if len(pumps) < 2 {
		return 0
	}
	mid := len(pumps) / 2
	early, late := pumps[:mid], pumps[mid:]
	earlyMean := mean(early)
	denom := earlyMean
	if denom < 1 {
		denom = 1
	}
	return (mean(late) - earlyMean) / denom
}

// behavioralConsistency scores low variation in both pump counts and
// inter-pump intervals.
func behavioralConsistency(pumps, intervals []float64) float64 {
	if len(pumps) < 2 {
		return 0
	}
	return clamp(1-(cv(pumps)+cv(intervals))/2, 0, 1)
}

// adaptationRate splits the pump sequence into thirds and measures the
// relative change from the first to the last, clamped to [-1, 1].
func adaptationRate(pumps []float64) float64 {
	if len(pumps) < learningMinPumps {
		return 0
	}
	third := len(pumps) / 3
	if third == 0 {
		return 0
	}
	early := pumps[:third]
	late := pumps[2*third:]
	earlyMean := mean(early)
	if earlyMean == 0 {
		return 0
	}
	return clamp((mean(late)-earlyMean)/earlyMean, -1, 1)
}

// feedbackResponse compares pumping inside the window after each pop
// against the overall mean. Positive values mean a conservative shift
// after negative feedback.
func (x *Extractor) feedbackResponse(pumps, pops []model.Event) float64 {
	if len(pops) == 0 {
		return 0
	}
	var postPop []float64
	for _, p := range pumps {
		for _, pop := range pops {
			if p.TimestampMS > pop.TimestampMS && p.TimestampMS < pop.TimestampMS+x.postPopWindowMS {
				if v, ok := floatField(p, "pump_number"); ok {
					postPop = append(postPop, v)
				}
				break
			}
		}
	}
	if len(postPop) == 0 {
		return 0
	}
	avgAll := mean(floatFields(pumps, "pump_number"))
	if avgAll == 0 {
		return 0
	}
	return clamp((avgAll-mean(postPop))/avgAll, -1, 1)
}

func hasField(e model.Event, key string) bool {
	_, ok := e.Payload[key]
	return ok
}

func floatField(e model.Event, key string) (float64, bool) {
	switch v := e.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// floatFields collects the named field from every event, defaulting to
// zero when absent.
func floatFields(events []model.Event, key string) []float64 {
	out := make([]float64, 0, len(events))
	for _, e := range events {
		v, _ := floatField(e, key)
		out = append(out, v)
	}
	return out
}

// positiveFloatFields collects only present, positive values.
func positiveFloatFields(events []model.Event, key string) []float64 {
	var out []float64
	for _, e := range events {
		if v, ok := floatField(e, key); ok && v > 0 {
			out = append(out, v)
		}
	}
	return out
}
