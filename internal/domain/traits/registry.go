package traits

// Registry holds the trait models consulted during inference together
// with the population baselines they normalize against. The set of
// models is fixed at construction.
type Registry struct {
	models    []Model
	baselines *Baselines
}

// Option configures the registry.
type Option func(*Registry)

// WithBaselines replaces the default population baselines.
func WithBaselines(b *Baselines) Option {
	return func(r *Registry) {
		if b != nil {
			r.baselines = b
		}
	}
}

// WithModel appends an additional trait model.
func WithModel(m Model) Option {
	return func(r *Registry) {
		if m != nil {
			r.models = append(r.models, m)
		}
	}
}

// NewRegistry builds an empty registry; models are added via options.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{baselines: NewBaselines()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefaultRegistry builds a registry with the full standard model set.
func NewDefaultRegistry(opts ...Option) *Registry {
	base := []Option{
		WithModel(RiskToleranceModel{}),
		WithModel(LearningAbilityModel{}),
		WithModel(EmotionRegulationModel{}),
		WithModel(ConsistencyModel{}),
		WithModel(DecisionSpeedModel{}),
	}
	return NewRegistry(append(base, opts...)...)
}

// Models returns the registered models in registration order.
func (r *Registry) Models() []Model {
	out := make([]Model, len(r.models))
	copy(out, r.models)
	return out
}

// Baselines returns the population baselines in effect.
func (r *Registry) Baselines() *Baselines {
	return r.baselines
}

// SetBaselines swaps in a new baseline set, typically after a refit.
// The registry does not mutate baselines in place.
func (r *Registry) SetBaselines(b *Baselines) {
	if b != nil {
		r.baselines = b
	}
}
