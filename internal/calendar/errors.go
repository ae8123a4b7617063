package calendar

import "errors"

var (
	// ErrInvalidInterval reports an event with a missing bound or with
	// start not strictly before end.
	ErrInvalidInterval = errors.New("invalid interval")

	// ErrOverlapConflict reports an event whose interval intersects a
	// stored one.
	ErrOverlapConflict = errors.New("event overlaps with existing event")

	// ErrInvalidDuration reports a slot length that is not positive or
	// too large to represent.
	ErrInvalidDuration = errors.New("invalid duration")
)

// IsValidation reports whether err is a caller-correctable store error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrOverlapConflict) ||
		errors.Is(err, ErrInvalidDuration)
}
