package transcribe

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies a provider failure for the retry policy.
type ErrorKind int

const (
	// KindRetryable marks rate limits, server-side errors, and transport
	// failures — conditions a later attempt can plausibly clear.
	KindRetryable ErrorKind = iota

	// KindNonRetryable marks auth and malformed-request failures, where
	// retrying cannot succeed.
	KindNonRetryable
)

// Error is a classified provider failure.
type Error struct {
	Kind   ErrorKind
	Status int // HTTP status, 0 for transport errors

	// RetryAfter is the server-suggested wait before retrying, when the
	// rate-limit response carried one. Zero means no hint.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("provider error: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether a later attempt can plausibly succeed.
func (e *Error) Retryable() bool { return e.Kind == KindRetryable }

// IsRetryable reports whether err is a retryable provider failure.
// Unclassified errors are treated as retryable so transient transport
// problems outside the *Error taxonomy still get their attempts.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return !errors.Is(err, ErrCanceled)
}

// RetryAfterHint extracts the server-suggested retry delay, if any.
func RetryAfterHint(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// ErrCanceled marks chunks abandoned because the run was cancelled before
// they reached a terminal state.
var ErrCanceled = errors.New("transcription cancelled")

// classifyStatus builds an *Error from an HTTP response status.
// 429 and 5xx are retryable; other 4xx are not.
func classifyStatus(status int, retryAfter time.Duration, err error) *Error {
	kind := KindNonRetryable
	if status == http.StatusTooManyRequests || status >= 500 {
		kind = KindRetryable
	}
	return &Error{Kind: kind, Status: status, RetryAfter: retryAfter, Err: err}
}

// transportError wraps a request-level failure (connection reset, timeout)
// as retryable.
func transportError(err error) *Error {
	return &Error{Kind: KindRetryable, Err: err}
}

// parseRetryAfter reads a Retry-After header value in seconds. HTTP-date
// values are ignored; the computed backoff covers that case.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
