// Package protocol holds the wire-level error vocabulary shared by the HTTP
// API and the MCP tool server.
package protocol

import "net/http"

// Error codes.
const (
	ErrInvalidRequest     = "INVALID_REQUEST"
	ErrUnavailable        = "UNAVAILABLE"
	ErrUnauthorized       = "UNAUTHORIZED"
	ErrNotFound           = "NOT_FOUND"
	ErrResourceExhausted  = "RESOURCE_EXHAUSTED"
	ErrFailedPrecondition = "FAILED_PRECONDITION"
	ErrInternal           = "INTERNAL"
)

// ErrorShape is the error body of every failed response.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// NewError builds an ErrorShape. UNAVAILABLE and RESOURCE_EXHAUSTED are
// marked retryable.
func NewError(code, message string) *ErrorShape {
	return &ErrorShape{
		Code:      code,
		Message:   message,
		Retryable: code == ErrUnavailable || code == ErrResourceExhausted,
	}
}

func (e *ErrorShape) Error() string { return e.Code + ": " + e.Message }

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(code string) int {
	switch code {
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrFailedPrecondition:
		return http.StatusConflict
	case ErrResourceExhausted:
		return http.StatusTooManyRequests
	case ErrUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
