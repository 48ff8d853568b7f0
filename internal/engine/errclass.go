package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"notifgate/internal/repository"
)

// malformedError tags an error as bad input regardless of its cause, so
// the classifier never mistakes it for a transient failure.
type malformedError struct{ err error }

func malformed(err error) error { return &malformedError{err: err} }

func (e *malformedError) Error() string { return e.err.Error() }
func (e *malformedError) Unwrap() error { return e.err }

// Classify splits an error into the two halves of the consumer contract:
// transient errors are returned to the consumer so the broker redelivers
// the message; everything else is malformed input, acknowledged and
// counted. The kind string feeds logs.
func Classify(err error) (transient bool, kind string) {
	if err == nil {
		return false, ""
	}

	var me *malformedError
	if errors.As(err, &me) {
		return false, "malformed_input"
	}

	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return false, "json_decode_error"
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	if errors.Is(err, repository.ErrUnknownEventType) {
		return false, "unknown_event_type"
	}
	if errors.Is(err, repository.ErrEndpointNotFound) {
		return false, "unknown_endpoint"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return true, "context_canceled"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	// Unknown errors come from the store or the broker; treat them as
	// transient so the log redelivers rather than silently dropping.
	return true, "infrastructure_error"
}
