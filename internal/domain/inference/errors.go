package inference

import "errors"

// ErrNoMetrics indicates the session has no extracted metrics yet.
// Inference cannot run; the session stays pending until extraction
// produces something to score.
var ErrNoMetrics = errors.New("no metrics available for inference")
