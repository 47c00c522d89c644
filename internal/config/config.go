// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(...) initializer to build a Config with defaults.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"runtime"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreBackend selects persistence: memory or sqlite.
	StoreBackend string `koanf:"store_backend"`

	// SQLitePath locates the database file for the sqlite backend.
	SQLitePath string `koanf:"sqlite_path"`

	// QueueSize bounds the in-memory stage-job queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of pipeline workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets the size of the event deduplication cache.
	DedupeSize int `koanf:"dedupe_size"`

	// MinEvents is the valid-event minimum below which metric
	// extraction reports insufficient data.
	MinEvents int `koanf:"min_events"`

	// SweepIntervalSec sets how often lagging sessions are
	// re-enqueued for their next pipeline stage.
	SweepIntervalSec int `koanf:"sweep_interval_sec"`
}

// New creates a Config with defaults.
func New() *Config {
	c := &Config{
		LogLevel:         "info",
		Addr:             ":9080",
		StoreBackend:     "memory",
		SQLitePath:       "psymetric.db",
		QueueSize:        10_000,
		WorkerCount:      runtime.NumCPU() * 2,
		DedupeSize:       50_000,
		MinEvents:        10,
		SweepIntervalSec: 30,
	}
	return c
}
