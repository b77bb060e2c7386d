package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error classifies Firestore failures for the service layer.
type Error struct {
	op          string
	err         error
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return e != nil && e.unavailable }

// WrapError maps gRPC status codes onto repository semantics. Cancellation and deadline errors
// come back as the plain context errors.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}

	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}

	wrapped := &Error{op: op, err: err}
	switch code {
	case codes.NotFound:
		wrapped.notFound = true
	case codes.AlreadyExists, codes.Aborted, codes.FailedPrecondition:
		wrapped.conflict = true
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.Unknown:
		wrapped.unavailable = true
	}
	if errors.Is(err, ErrProviderClosed) {
		wrapped.unavailable = true
	}
	return wrapped
}
