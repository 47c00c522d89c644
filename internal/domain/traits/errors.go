package traits

import "errors"

// Sentinel kinds for trait model errors.
var (
	// ErrNoEvidence means none of the model's required metrics were
	// observed. The orchestrator omits the trait entirely rather than
	// defaulting it to a neutral score.
	ErrNoEvidence = errors.New("no required metrics observed")
)
