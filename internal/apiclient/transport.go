package apiclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/florianilch/kokomemo/internal/credstore"
)

// bearerTransport attaches the stored access token to outgoing requests.
// The store is read on every round trip so a renewed token is picked up
// without rebuilding the client.
type bearerTransport struct {
	store credstore.Store
	base  http.RoundTripper
}

// Compile-time check that bearerTransport implements http.RoundTripper.
var _ http.RoundTripper = (*bearerTransport)(nil)

// RoundTrip implements http.RoundTripper interface.
// Requests go out unauthenticated when no credentials are stored.
func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	pair, err := t.store.Load(req.Context())
	switch {
	case errors.Is(err, credstore.ErrNotFound):
		return t.base.RoundTrip(req)
	case err != nil:
		closeBody(req)
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	// RoundTrippers must not modify the original request
	newReq := req.Clone(req.Context())
	pair.Token().SetAuthHeader(newReq)

	return t.base.RoundTrip(newReq)
}

// requestIDTransport stamps each attempt with a fresh X-Request-Id so replays
// after renewal can be told apart in server logs.
type requestIDTransport struct {
	base http.RoundTripper
}

// Compile-time check that requestIDTransport implements http.RoundTripper.
var _ http.RoundTripper = (*requestIDTransport)(nil)

func (t *requestIDTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	newReq := req.Clone(req.Context())
	newReq.Header.Set("X-Request-Id", uuid.NewString())
	return t.base.RoundTrip(newReq)
}

// closeBody honours the RoundTripper contract of closing the body on error.
func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}
