package api

import (
	"errors"
	"fmt"

	repository "github.com/okian/psymetric/internal/adapters/repository"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("backpressure")
)

// NewKind tags a sentinel with the failing operation.
func NewKind(op string, kind error) error {
	return fmt.Errorf("%s: %w", op, kind)
}

// WrapKind tags a sentinel with the operation and the underlying cause.
func WrapKind(op string, kind, err error) error {
	return fmt.Errorf("%s: %w: %v", op, kind, err)
}

// isNotFound translates upstream not-found errors to 404 responses.
func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrSessionNotFound) ||
		errors.Is(err, repository.ErrProfileNotFound)
}
