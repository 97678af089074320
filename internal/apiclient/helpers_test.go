package apiclient_test

import (
	"net/http"
	"time"
)

const (
	waitFor = 5 * time.Second
	tick    = 5 * time.Millisecond
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
