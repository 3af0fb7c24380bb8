// Package resilience provides the retry, circuit-breaker, and error
// classification primitives wrapped around every outbound call.
package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrCircuitOpen is returned when a circuit breaker rejects a call without
// attempting it. Callers fail fast; the retry loop does not retry it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// transientError marks an error as retryable.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// permanentError marks an error as non-retryable.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// MarkTransient tags an error as retryable. Nil stays nil.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// MarkPermanent tags an error as non-retryable. Nil stays nil.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsTransient reports whether the error should be retried. Explicit marks
// win; otherwise network-level failures are treated as transient and
// everything else as permanent (unknown errors are not safe to retry).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}

	// Context errors and an open breaker are never retried here: the
	// caller's deadline or the breaker cooldown governs instead.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return isConnectionError(err)
}

// RetryableStatus reports whether an HTTP status code counts as transient.
// 401/403/404 are permanent; 408, 429, and the 5xx class are transient.
func RetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

// isConnectionError detects connection-level transport failures.
func isConnectionError(err error) bool {
	msg := strings.ToLower(err.Error())
	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
		"i/o timeout",
		"eof",
	}
	for _, e := range connectionErrors {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}
