package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/jonathan/mp-harvester/internal/types"
)

// ErrAuthExpired is returned when the platform rejects the session mid-use,
// either by redirecting to login or by an auth error code in base_resp.
var ErrAuthExpired = errors.New("session expired")

// Platform base_resp.ret codes.
const (
	retOK             = 0
	retInvalidSession = -6
	retLoginRequired  = 200003
	retSessionExpired = 200040
	retFreqControl    = 200013
)

// TransientError is a failure worth retrying: timeouts, resets, 5xx and
// platform throttling.
type TransientError struct {
	URL     string
	Status  int // zero for network errors
	Message string
	Cause   error
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transient error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("transient error for %s: %s", e.URL, e.Message)
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// ClientError is a non-retryable rejection of the request itself.
type ClientError struct {
	URL     string
	Status  int
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error for %s: %s", e.URL, e.Message)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Classify maps err to a failure kind recorded on a result set.
func Classify(err error) string {
	var (
		te *TransientError
		ce *ClientError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthExpired):
		return types.FailureAuth
	case errors.Is(err, context.Canceled):
		return types.FailureCanceled
	case errors.As(err, &te), errors.Is(err, context.DeadlineExceeded):
		return types.FailureTransient
	case errors.As(err, &ce):
		return types.FailureClient
	default:
		return types.FailureInternal
	}
}

// transportError wraps a failure from the HTTP round-trip.
func transportError(url string, err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return &TransientError{URL: url, Message: "request timed out", Cause: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &TransientError{URL: url, Message: "request timed out", Cause: err}
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED):
		return &TransientError{URL: url, Message: "connection failed", Cause: err}
	}
	// Unexpected EOF and other mid-body failures are retried too.
	return &TransientError{URL: url, Message: "request failed", Cause: err}
}
