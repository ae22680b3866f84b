package registry

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrConflictingLabels is returned when both include and exclude label
// selectors are set. The server accepts only one of them.
var ErrConflictingLabels = errors.New("only one of labels_include_any or labels_exclude_any may be specified")

// TransportError reports a failure to reach the server: DNS, TLS, refused
// connections, and timeouts.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func newAPIError(op string, status int, body []byte) *APIError {
	b := body
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody]
	}
	return &APIError{Op: op, StatusCode: status, Body: strings.TrimSpace(string(b))}
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("registry %s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("registry %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsConflict reports whether the server answered 409.
func (e *APIError) IsConflict() bool { return e.StatusCode == http.StatusConflict }

// IsNotFound reports whether the server answered 404.
func (e *APIError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// PublishError is a rejected package upload. It carries the upstream status
// and body verbatim.
type PublishError struct {
	Title string
	Err   *APIError
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing %s: HTTP %d: %s", e.Title, e.Err.StatusCode, e.Err.Body)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// UnsupportedVersionError is returned when the server reports a version
// strictly below the configured minimum.
type UnsupportedVersionError struct {
	Reported string
	Minimum  string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("server version %s is older than the minimum supported %s", e.Reported, e.Minimum)
}
