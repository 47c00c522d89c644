// Package inference assembles trait profiles from extracted metrics
// by running every registered trait model and keeping the scores that
// meet their model's confidence floor.
package inference

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/psymetric/internal/adapters/repository"
	"github.com/okian/psymetric/internal/domain/model"
	"github.com/okian/psymetric/internal/domain/traits"
	"github.com/okian/psymetric/pkg/metrics"
)

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithRegistry replaces the default trait model registry.
func WithRegistry(r *traits.Registry) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator runs trait inference for a session and persists the
// resulting profile.
type Orchestrator struct {
	store    repository.Store
	registry *traits.Registry
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator backed by the given store.
func NewOrchestrator(store repository.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		registry: traits.NewDefaultRegistry(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Infer scores every registered trait model against the session's
// metrics and upserts the assembled profile. A trait is omitted when
// its model has no observable evidence or its confidence falls below
// the model's minimum. Re-running inference replaces the profile.
func (o *Orchestrator) Infer(ctx context.Context, sessionID string) (model.Profile, error) {
	start := time.Now()
	defer func() {
		metrics.RecordInferenceLatency(float64(time.Since(start).Milliseconds()))
	}()

	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		metrics.RecordInferenceRun("failure")
		return model.Profile{}, fmt.Errorf("inference for session %s: %w", sessionID, err)
	}

	rows, err := o.store.MetricsBySession(ctx, sessionID)
	if err != nil {
		metrics.RecordInferenceRun("failure")
		return model.Profile{}, fmt.Errorf("inference for session %s: %w", sessionID, err)
	}
	if len(rows) == 0 {
		metrics.RecordInferenceRun("no_metrics")
		return model.Profile{}, fmt.Errorf("inference for session %s: %w", sessionID, ErrNoMetrics)
	}

	values := make(map[string]float64, len(rows))
	for _, m := range rows {
		values[m.Name] = m.Value
	}

	base := o.registry.Baselines()
	scored := make(map[string]model.TraitScore)
	var confidenceSum float64
	for _, tm := range o.registry.Models() {
		score, perr := tm.Predict(values, base)
		if errors.Is(perr, traits.ErrNoEvidence) {
			continue
		}
		if perr != nil {
			metrics.RecordInferenceRun("failure")
			return model.Profile{}, fmt.Errorf("inference for session %s: trait %s: %w", sessionID, tm.Trait(), perr)
		}
		if score.Confidence < tm.MinConfidence() {
			continue
		}
		scored[score.Trait] = score
		confidenceSum += score.Confidence
	}

	profile := model.Profile{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		UserID:    session.UserID,
		Traits:    scored,
		CreatedAt: o.now().UTC(),
	}
	if len(scored) > 0 {
		profile.OverallConfidence = confidenceSum / float64(len(scored))
	}

	if err := o.store.UpsertProfile(ctx, profile); err != nil {
		metrics.RecordInferenceRun("failure")
		return model.Profile{}, fmt.Errorf("inference for session %s: %w", sessionID, err)
	}

	metrics.RecordInferenceRun("success")
	metrics.ObserveProfileConfidence(profile.OverallConfidence)
	return profile, nil
}
