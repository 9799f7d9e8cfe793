package protocol

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[string]int{
		ErrInvalidRequest:     http.StatusBadRequest,
		ErrUnauthorized:       http.StatusUnauthorized,
		ErrNotFound:           http.StatusNotFound,
		ErrFailedPrecondition: http.StatusConflict,
		ErrResourceExhausted:  http.StatusTooManyRequests,
		ErrUnavailable:        http.StatusServiceUnavailable,
		ErrInternal:           http.StatusInternalServerError,
		"SOMETHING_ELSE":      http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), code)
	}
}

func TestNewError_Retryable(t *testing.T) {
	assert.True(t, NewError(ErrUnavailable, "down").Retryable)
	assert.True(t, NewError(ErrResourceExhausted, "slow down").Retryable)
	assert.False(t, NewError(ErrInvalidRequest, "bad").Retryable)
	assert.Equal(t, "NOT_FOUND: missing", NewError(ErrNotFound, "missing").Error())
}
