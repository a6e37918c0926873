package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// APIError is a non-2xx reply from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway: http %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway: http %d: %s", e.StatusCode, e.Message)
}

// IsGone reports whether the gateway says the instance no longer exists or is
// no longer ours (404/403). Local state must be fully reset in that case.
func IsGone(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404 || apiErr.StatusCode == 403
	}
	return false
}

// IsTransient reports whether the failure is worth surfacing without
// destroying local state: a gateway 5xx or a request timeout.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
