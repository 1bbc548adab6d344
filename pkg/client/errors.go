package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrRateLimited is wrapped by APIErrors for HTTP 429 responses.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-2xx response or a transport failure.
type APIError struct {
	StatusCode int
	ErrorClass ErrorClass
	Path       string
	Message    string
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sunwave %s error (status %d) for path %s: %s: %v",
			e.ErrorClass, e.StatusCode, e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("sunwave %s error (status %d) for path %s: %s",
		e.ErrorClass, e.StatusCode, e.Path, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retriable reports whether the error class is worth another attempt.
func (e *APIError) Retriable() bool {
	return shouldRetry(e.ErrorClass)
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassClient:
		// 4xx other than 429 will not change on resend
		return false
	case ErrorClassServer:
		return true
	case ErrorClassRateLimit:
		return true
	case ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// classOf extracts the ErrorClass of err, or "" when err is not an APIError.
func classOf(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorClass
	}
	return ""
}
