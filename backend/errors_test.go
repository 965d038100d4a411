package backend

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/luminetic/ensemble/types"
)

func TestErrorFromStatus_Taxonomy(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  types.ErrorCode
		retryable bool
	}{
		{"bad request", http.StatusBadRequest, types.ErrMalformedRequest, false},
		{"unauthorized", http.StatusUnauthorized, types.ErrAuthentication, false},
		{"forbidden", http.StatusForbidden, types.ErrAuthentication, false},
		{"unknown model", http.StatusNotFound, types.ErrUnsupportedTarget, false},
		{"request timeout", http.StatusRequestTimeout, types.ErrTimeout, true},
		{"gateway timeout", http.StatusGatewayTimeout, types.ErrTimeout, true},
		{"rate limited", http.StatusTooManyRequests, types.ErrRateLimited, true},
		{"overloaded", 529, types.ErrOverloaded, true},
		{"bad gateway", http.StatusBadGateway, types.ErrUnavailable, true},
		{"unavailable", http.StatusServiceUnavailable, types.ErrUnavailable, true},
		{"generic 500", http.StatusInternalServerError, types.ErrBackend, true},
		{"teapot", http.StatusTeapot, types.ErrBackend, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ErrorFromStatus("atlas", tt.status, "boom")

			assert.Equal(t, tt.wantCode, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.status, err.HTTPStatus)
			assert.Equal(t, "atlas", err.Op, "backend name travels on the error")
		})
	}
}

func TestErrorFromStatus_ClassifiesForRetryPolicy(t *testing.T) {
	// The retry layer consults types.IsRetryable; the mapping must agree
	// with the taxonomy defaults end to end.
	assert.True(t, types.IsRetryable(ErrorFromStatus("b", http.StatusServiceUnavailable, "down")))
	assert.False(t, types.IsRetryable(ErrorFromStatus("b", http.StatusBadRequest, "bad prompt")))
	assert.False(t, types.IsRetryable(ErrorFromStatus("b", http.StatusUnauthorized, "bad key")))
	assert.False(t, types.IsRetryable(ErrorFromStatus("b", http.StatusNotFound, "no such model")))
}

func TestErrorFromMessage_QuotaReadsAsRateLimit(t *testing.T) {
	err := ErrorFromMessage("atlas", "monthly Quota exceeded for key")
	assert.Equal(t, types.ErrRateLimited, err.Code)
	assert.True(t, err.Retryable)

	err = ErrorFromMessage("atlas", "insufficient credit balance")
	assert.Equal(t, types.ErrRateLimited, err.Code)

	err = ErrorFromMessage("atlas", "connection reset")
	assert.Equal(t, types.ErrBackend, err.Code)
}
