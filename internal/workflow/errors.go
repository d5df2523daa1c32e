package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Top-level failure classes. Every error returned by the Controller matches
// exactly one of them with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrRemoteFailure = errors.New("remote failure")
	ErrEmptyResult   = errors.New("empty result")
	ErrAbandoned     = errors.New("session abandoned")
)

// Finer validation markers.
var (
	ErrPrecondition = fmt.Errorf("%w: precondition not met", ErrValidation)
	ErrBusy         = fmt.Errorf("%w: operation already in progress", ErrValidation)
	ErrUnknownScene = fmt.Errorf("%w: unknown scene", ErrValidation)
	ErrInvalidInput = fmt.Errorf("%w: invalid input", ErrValidation)
)

type Error struct {
	Op      string
	Stage   Stage
	Message string

	marker error
	cause  error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" && e.marker != nil {
		msg = e.marker.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.marker != nil {
		out = append(out, e.marker)
	}
	if e.cause != nil {
		out = append(out, e.cause)
	}
	return out
}

func newError(marker error, op string, stage Stage, message string, cause error) *Error {
	return &Error{Op: op, Stage: stage, Message: message, marker: marker, cause: cause}
}

// Kind names the failure class of err for logs and UI copy.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrEmptyResult):
		return "empty_result"
	case errors.Is(err, ErrRemoteFailure):
		return "remote_failure"
	case errors.Is(err, ErrAbandoned):
		return "abandoned"
	default:
		return "unknown"
	}
}

// Message returns the text meant for the user: the service's own words for
// remote failures, the validation explanation otherwise.
func Message(err error) string {
	var we *Error
	if errors.As(err, &we) {
		if msg := strings.TrimSpace(we.Message); msg != "" {
			return msg
		}
		if we.cause != nil {
			return we.cause.Error()
		}
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
