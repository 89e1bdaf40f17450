package connector

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// AuthError means credentials were refused. Never retryable; retrying a
// bad key just burns the rate budget.
type AuthError struct {
	Venue  string
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Venue, e.Detail)
}

// RateLimitedError means the venue throttled us. Retryable after the
// advertised delay.
type RateLimitedError struct {
	Venue      string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: rate limited, retry after %s", e.Venue, e.RetryAfter)
}

// NetworkError wraps transport failures where the order's fate is unknown.
// Retryable only with an idempotent client order ID.
type NetworkError struct {
	Venue string
	Err   error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Venue, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RejectedError means the venue understood and refused the order
// (insufficient margin, bad size, closed market). Never retryable: the
// same order will be refused again.
type RejectedError struct {
	Venue  string
	Code   string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: order rejected [%s]: %s", e.Venue, e.Code, e.Reason)
}

// Retryable reports whether resubmitting the same request can succeed.
func Retryable(err error) bool {
	var rl *RateLimitedError
	var ne *NetworkError
	return errors.As(err, &rl) || errors.As(err, &ne)
}

// RetryAfter returns the venue-advertised backoff, if the error carries one.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}
