package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for embedding failures.
var (
	ErrUnavailable   = errors.New("embedding service unavailable")
	ErrInvalidVector = errors.New("invalid embedding vector")
	ErrEmptyInput    = errors.New("empty embedding input")
)

// APIError is a non-2xx response from an embedding service.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s embedding error (status %d): %s: %v", e.Provider, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%s embedding error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the status code indicates a transient failure.
func (e *APIError) Retryable() bool {
	switch e.StatusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// BatchError marks every item of one batch as failed.
type BatchError struct {
	Batch    int
	Size     int
	Attempts int
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding batch %d (%d items) failed after %d attempts: %v", e.Batch, e.Size, e.Attempts, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is likely transient and worth retrying.
// Network errors and service-unavailable conditions are retryable; invalid
// vectors and client errors are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	if errors.Is(err, ErrInvalidVector) || errors.Is(err, ErrEmptyInput) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
