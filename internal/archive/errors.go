package archive

import (
	"errors"
	"fmt"
	"net/http"
)

// Error taxonomy shared by every stage. Concrete errors wrap one of these.
var (
	ErrConfig     = errors.New("invalid configuration")
	ErrAuth       = errors.New("authentication failed")
	ErrNetwork    = errors.New("network request failed")
	ErrIntegrity  = errors.New("checksum mismatch")
	ErrData       = errors.New("unusable record")
	ErrIncomplete = errors.New("collection incomplete")
)

// StatusError reports a non-success HTTP status from the platform.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// Unwrap classifies the status: 401 and 403 are auth failures, everything else is a network failure.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrAuth
	}
	return ErrNetwork
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}
