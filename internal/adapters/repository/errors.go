package repository

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrProfileNotFound = errors.New("profile not found")

	// ErrTransient marks failures worth retrying, such as a busy or
	// unreachable backing store. Callers should match with errors.Is.
	ErrTransient = errors.New("transient storage failure")
)
