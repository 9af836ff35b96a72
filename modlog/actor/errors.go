package actor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound means the target (or their membership in the community) is unknown to the platform.
var ErrNotFound = errors.New("unknown member")

type PermissionError struct {
	Required []string
}

func (e *PermissionError) Error() string {
	if len(e.Required) == 0 {
		return "missing permissions"
	}
	return fmt.Sprintf("missing permissions, requires: %s", strings.Join(e.Required, ", "))
}

type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Detail
}

// TransientError wraps an error which may succeed if retried later.
type TransientError struct {
	Wrapped error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s", e.Wrapped)
}

func (e *TransientError) Unwrap() error {
	return e.Wrapped
}

type Category int

const (
	// the call succeeded
	None Category = iota
	// permission or validation failure; the effect never happened
	Rejected
	// target is already gone
	NotFound
	// anything else; may be retried by background jobs
	Transient
)

func (c Category) String() string {
	switch c {
	case None:
		return "none"
	case Rejected:
		return "rejected"
	case NotFound:
		return "not_found"
	case Transient:
		return "transient"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Classify maps an error returned by an Actor call onto the error taxonomy. Unrecognized errors are Transient.
func Classify(err error) Category {
	if err == nil {
		return None
	}
	var permErr *PermissionError
	var valErr *ValidationError
	switch {
	case errors.As(err, &permErr), errors.As(err, &valErr):
		return Rejected
	case errors.Is(err, ErrNotFound):
		return NotFound
	default:
		return Transient
	}
}
