package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel kinds for schema errors.
var (
	ErrUnknownEventType = errors.New("unknown event type")
)

// FieldError describes a single violated constraint.
type FieldError struct {
	Field  string
	Reason string
}

func (f FieldError) String() string {
	return f.Field + ": " + f.Reason
}

// Error aggregates every violated field for one payload, not just the
// first. It is returned by Validate whenever a required field is
// missing or a type/range constraint fails.
type Error struct {
	EventType string
	Fields    []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("invalid %s payload: %s", e.EventType, strings.Join(parts, "; "))
}

// AsError returns the aggregated schema error from err, if any.
func AsError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// violations accumulates field errors while a payload is checked.
type violations struct {
	eventType string
	fields    []FieldError
}

func (v *violations) add(field, reason string) {
	v.fields = append(v.fields, FieldError{Field: field, Reason: reason})
}

func (v *violations) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return &Error{EventType: v.eventType, Fields: v.fields}
}
