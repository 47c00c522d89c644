package extract

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is the sentinel kind for sessions with too few
// valid events. Match with errors.Is; the concrete error carries the
// counts.
var ErrInsufficientData = errors.New("insufficient data")

// InsufficientDataError reports how far short of the minimum a session
// fell. It is a recoverable condition, not a fault: callers re-invoke
// extraction once more events arrive.
type InsufficientDataError struct {
	Have int
	Want int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("Insufficient events: %d < %d", e.Have, e.Want)
}

func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}
