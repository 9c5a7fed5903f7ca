package provider

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by provider clients.
var (
	// ErrRateLimited indicates the provider rejected the call for rate.
	ErrRateLimited = errors.New("rate limited")

	// ErrNotFound indicates no record (or no usable record) was found.
	ErrNotFound = errors.New("not found")

	// ErrTransient indicates a timeout, network error or 5xx response.
	ErrTransient = errors.New("transient provider failure")

	// ErrUnsupported indicates the provider cannot perform this lookup.
	ErrUnsupported = errors.New("unsupported lookup")

	// ErrInvalidResponse indicates an unexpected response body.
	ErrInvalidResponse = errors.New("invalid provider response")
)

// DefaultRetryAfter is the cooldown used when a 429 carries no usable
// Retry-After header.
const DefaultRetryAfter = 60 * time.Second

// RateLimitError is returned on HTTP 429.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// APIError is a non-retryable HTTP error other than 404 and 429.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsRateLimited returns true if the error indicates rate limiting.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsNotFound returns true if the error indicates no record was found.
// Exhausted transient failures also report true.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return false
}

// IsTransient returns true if the error was caused by a transient failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// RetryAfter returns how long to wait before calling a rate-limited
// provider again.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
