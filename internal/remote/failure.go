package remote

import (
	"errors"
	"fmt"
	"strings"
)

// Failure is returned by every operation that did not produce a usable
// success payload: the service said no, the transport broke, or the body
// could not be understood.
type Failure struct {
	Op        string
	Message   string
	Status    int
	Transport bool
	Err       error
}

func (f *Failure) Error() string {
	msg := strings.TrimSpace(f.Message)
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	}
	if msg == "" {
		msg = "operation failed"
	}
	if f.Op == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", f.Op, msg)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func Failed(op, message string) *Failure {
	return &Failure{Op: op, Message: message}
}

func transportFailure(op string, err error) *Failure {
	return &Failure{Op: op, Message: err.Error(), Transport: true, Err: err}
}

// AsFailure extracts a *Failure from err, wrapping foreign errors so callers
// always get a human-readable message.
func AsFailure(op string, err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Op: op, Message: err.Error(), Err: err}
}
