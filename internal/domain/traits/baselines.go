package traits

import (
	"fmt"
	"math"
	"sort"

	"github.com/okian/psymetric/internal/domain/model"
)

// Stat holds population statistics for one metric.
type Stat struct {
	Mean   float64
	Std    float64
	Median float64
	MAD    float64
}

// Baselines is a versioned snapshot of population statistics used for
// normalization. Instances are immutable: Refit derives a new snapshot
// and never mutates the receiver, so predictions running against an
// old snapshot stay self-consistent.
type Baselines struct {
	version string
	stats   map[string]Stat
}

// Minimum samples before a refit replaces a metric's statistics.
const refitMinSamples = 10

// NewBaselines builds the default population baselines. The numbers
// come from published normative data for the balloon task and are the
// starting point until enough sessions accumulate to refit.
func NewBaselines() *Baselines {
	return &Baselines{
		version: "1.0",
		stats: map[string]Stat{
			model.MetricAvgPumps:         {Mean: 30.5, Std: 12.8, Median: 29.0, MAD: 10.1},
			model.MetricRiskEscalation:   {Mean: 0.15, Std: 0.08, Median: 0.14, MAD: 0.06},
			model.MetricConsistencyScore: {Mean: 0.72, Std: 0.18, Median: 0.75, MAD: 0.14},
			model.MetricAdaptationRate:   {Mean: 0.45, Std: 0.22, Median: 0.44, MAD: 0.18},
		},
	}
}

// Version identifies the snapshot; it changes on every refit.
func (b *Baselines) Version() string { return b.version }

// Stat returns the population statistics for a metric.
func (b *Baselines) Stat(name string) (Stat, bool) {
	s, ok := b.stats[name]
	return s, ok
}

// Refit derives a new snapshot with statistics recomputed from the
// given samples. Metrics with fewer than ten samples keep their prior
// statistics.
func (b *Baselines) Refit(version string, samples map[string][]float64) *Baselines {
	next := &Baselines{
		version: version,
		stats:   make(map[string]Stat, len(b.stats)),
	}
	if version == "" {
		next.version = fmt.Sprintf("%s+refit", b.version)
	}
	for name, s := range b.stats {
		next.stats[name] = s
	}
	for name, values := range samples {
		if len(values) < refitMinSamples {
			continue
		}
		next.stats[name] = fitStat(values)
	}
	return next
}

func fitStat(values []float64) Stat {
	m := statMean(values)
	med := statMedian(values)

	var sq float64
	deviations := make([]float64, len(values))
	for i, v := range values {
		d := v - m
		sq += d * d
		if dm := v - med; dm >= 0 {
			deviations[i] = dm
		} else {
			deviations[i] = -dm
		}
	}
	var std float64
	if len(values) > 0 {
		std = math.Sqrt(sq / float64(len(values)))
	}
	return Stat{
		Mean:   m,
		Std:    std,
		Median: med,
		MAD:    statMedian(deviations),
	}
}

func statMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func statMedian(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
