package queue

import "errors"

// Sentinel kinds for dispatch errors.
var (
	ErrStopped = errors.New("dispatch stopped")
)
