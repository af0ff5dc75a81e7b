package memory

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an item does not exist or belongs to a
// different user.
var ErrNotFound = errors.New("memory item not found")

// ErrSupersedeConflict is returned when a conditional supersession write loses
// a race with a concurrent writer.
var ErrSupersedeConflict = errors.New("concurrent supersession write")

// ValidationError reports bad input shape or range. It is surfaced to the
// caller before any subsystem work starts and is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
