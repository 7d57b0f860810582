package evegateway

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidURL indicates a request could not be constructed from its parts.
	ErrInvalidURL = errors.New("invalid request URL")

	// ErrInvalidResponse indicates a malformed transport-level response.
	ErrInvalidResponse = errors.New("invalid response from ESI")

	// ErrTokenExpired indicates the bearer token was rejected by ESI.
	ErrTokenExpired = errors.New("access token expired")
)

// HTTPError is a non-2xx ESI response, carrying status and body for callers
// that need to inspect the failure.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("ESI returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("ESI returned status %d: %s", e.StatusCode, truncate(e.Body, 256))
}

// Is maps 401 responses onto ErrTokenExpired so callers can use errors.Is.
func (e *HTTPError) Is(target error) bool {
	return target == ErrTokenExpired && e.StatusCode == 401
}

// DecodingError wraps a JSON decode failure of an otherwise valid response.
type DecodingError struct {
	Err error
}

func (e *DecodingError) Error() string {
	return fmt.Sprintf("failed to decode ESI response: %v", e.Err)
}

func (e *DecodingError) Unwrap() error {
	return e.Err
}

// MaxRetriesError is the terminal failure after every retry attempt was
// exhausted. LastErr holds the error from the final attempt.
type MaxRetriesError struct {
	Attempts int
	LastErr  error
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf("request failed after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *MaxRetriesError) Unwrap() error {
	return e.LastErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
