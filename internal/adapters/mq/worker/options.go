package worker

import (
	"time"

	"github.com/okian/psymetric/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMaxAttempts bounds how many times a transiently failing job is
// tried before the failure is surfaced.
func WithMaxAttempts(n int) Option {
	return func(w *InMemoryWorker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithBackoff sets the base delay and cap for retry backoff.
func WithBackoff(base, cap time.Duration) Option {
	return func(w *InMemoryWorker) {
		if base > 0 && cap >= base {
			w.backoffBase = base
			w.backoffCap = cap
		}
	}
}
