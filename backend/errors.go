package backend

import (
	"net/http"
	"strings"

	"github.com/luminetic/ensemble/types"
)

// ErrorFromStatus maps an HTTP-style status from an upstream onto the error
// taxonomy. Adapters use it so that retry and breaker policies classify every
// backend's failures identically: 4xx request faults are terminal, capacity
// and upstream faults are retryable.
func ErrorFromStatus(backendName string, status int, msg string) *types.Error {
	var e *types.Error
	switch status {
	case http.StatusBadRequest:
		e = types.NewError(types.ErrMalformedRequest, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		e = types.NewError(types.ErrAuthentication, msg)
	case http.StatusNotFound:
		// Unknown model or route.
		e = types.NewError(types.ErrUnsupportedTarget, msg)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		e = types.NewError(types.ErrTimeout, msg)
	case http.StatusTooManyRequests:
		e = types.NewError(types.ErrRateLimited, msg)
	case 529: // model overloaded
		e = types.NewError(types.ErrOverloaded, msg)
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		e = types.NewError(types.ErrUnavailable, msg)
	default:
		e = types.NewError(types.ErrBackend, msg).WithRetryable(status >= 500)
	}
	return e.WithOp(backendName).WithHTTPStatus(status)
}

// ErrorFromMessage classifies a plain error string from an upstream that
// reports failures without status codes. Quota and credit exhaustion read as
// rate limiting; everything else is a generic backend failure.
func ErrorFromMessage(backendName, msg string) *types.Error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
		return types.NewError(types.ErrRateLimited, msg).WithOp(backendName)
	}
	return types.NewError(types.ErrBackend, msg).WithOp(backendName)
}
