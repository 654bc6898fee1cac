package errutil

import (
	"context"
	"errors"
)

// Normalize coerces an arbitrary error into a BaseError so the transport
// layer can render a structured failure. Deadline and cancellation errors
// from bounded persistence calls become retryable unavailability.
func Normalize(err error) BaseError {
	if errors.Is(err, context.DeadlineExceeded) {
		return BaseError{Code: StatusTimeout, Message: "operation timed out", Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return BaseError{Code: StatusServiceUnavailable, Message: "request canceled", Err: err}
	}

	var base BaseError
	if errors.As(err, &base) {
		return base
	}

	var coder interface{ Status() CoreStatus }
	if errors.As(err, &coder) {
		return BaseError{Code: coder.Status(), Message: err.Error()}
	}

	return BaseError{Code: StatusInternal, Message: "internal error", Err: err}
}
