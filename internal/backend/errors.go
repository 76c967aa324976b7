package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("backend closed")

// HTTPError is a non-200 answer from an HTTP backend.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsPermanent reports whether err should not be retried: a client-side HTTP
// error or a closed backend.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrClosed) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return !httpErr.Temporary()
	}
	return false
}
