package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuthorizationDenied matches a *StatusError carrying HTTP 401.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrSessionExpired is returned when renewing the credential pair failed.
	// The stored credentials have been cleared by the time callers see it.
	ErrSessionExpired = errors.New("session expired")
)

// StatusError is a non-2xx response from the API.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// Is lets errors.Is(err, ErrAuthorizationDenied) identify 401 responses.
func (e *StatusError) Is(target error) bool {
	return target == ErrAuthorizationDenied && e.StatusCode == http.StatusUnauthorized
}

// NetworkError is a transport-level failure: no HTTP response was received.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// sessionExpired reports the renewal failure. The cause is kept in the message
// only: a rejected refresh is a 401 too, and must not read as ErrAuthorizationDenied.
func sessionExpired(cause error) error {
	return fmt.Errorf("%w: %v", ErrSessionExpired, cause)
}
