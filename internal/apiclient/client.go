package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/florianilch/kokomemo/internal/credstore"
)

// Default client settings.
const (
	DefaultBaseURL        = "http://localhost:8000/api/v1"
	DefaultTimeout        = 30 * time.Second
	DefaultRenewalTimeout = 30 * time.Second
)

// Option configures a Client.
type Option func(*clientConfig)

// clientConfig holds configuration for New.
type clientConfig struct {
	baseURL        string
	baseTransport  http.RoundTripper
	timeout        time.Duration
	renewalTimeout time.Duration
	renewAhead     bool
	metrics        *Metrics
	hooks          Hooks
}

// WithBaseURL sets the API base URL all paths are resolved against.
func WithBaseURL(baseURL string) Option {
	return func(c *clientConfig) {
		c.baseURL = baseURL
	}
}

// WithTransport sets a custom base transport for API requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *clientConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds each individual HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithRenewalTimeout bounds how long a renewal may run, and with it how long
// queued callers wait for its outcome.
func WithRenewalTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.renewalTimeout = d
	}
}

// WithRenewAhead renews before sending when the stored access token is known
// to have expired, instead of waiting for the server to answer 401.
func WithRenewAhead(enabled bool) Option {
	return func(c *clientConfig) {
		c.renewAhead = enabled
	}
}

// WithMetrics reports request and renewal metrics to m.
func WithMetrics(m *Metrics) Option {
	return func(c *clientConfig) {
		c.metrics = m
	}
}

// WithHooks routes renewal outcomes through the session owner.
func WithHooks(h Hooks) Option {
	return func(c *clientConfig) {
		c.hooks = h
	}
}

// Client issues API calls with the stored bearer credential and renews it on demand.
// Safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	authed     *http.Client
	anonymous  *http.Client
	store      credstore.Store
	renewAhead bool
	metrics    *Metrics
	renewer    *renewer
}

// New creates a Client backed by store.
func New(store credstore.Store, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("missing credential store")
	}

	cfg := &clientConfig{
		baseURL:        DefaultBaseURL,
		baseTransport:  http.DefaultTransport,
		timeout:        DefaultTimeout,
		renewalTimeout: DefaultRenewalTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	baseURL, err := url.Parse(cfg.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", cfg.baseURL)
	}
	if cfg.metrics == nil {
		cfg.metrics = NewMetrics(nil)
	}

	hooks := cfg.hooks
	if hooks.Renewed == nil {
		hooks.Renewed = store.Save
	}
	if hooks.Expired == nil {
		hooks.Expired = func(ctx context.Context, _ error) {
			if err := store.Clear(ctx); err != nil {
				slog.ErrorContext(ctx, "failed to clear credentials", "error", err)
			}
		}
	}

	// Wraps provided or default transport for connection pooling
	anonTransport := &requestIDTransport{base: cfg.baseTransport}

	c := &Client{
		baseURL: baseURL,
		authed: &http.Client{
			Timeout:   cfg.timeout,
			Transport: &bearerTransport{store: store, base: anonTransport},
		},
		anonymous: &http.Client{
			Timeout:   cfg.timeout,
			Transport: anonTransport,
		},
		store:      store,
		renewAhead: cfg.renewAhead,
		metrics:    cfg.metrics,
	}
	c.renewer = &renewer{
		store:   store,
		hooks:   hooks,
		timeout: cfg.renewalTimeout,
		metrics: cfg.metrics,
		refresh: c.refresh,
		group:   &singleflight.Group{},
	}

	return c, nil
}

// Send issues an authenticated call. body may be nil, raw JSON ([]byte or
// json.RawMessage) or any value that marshals to JSON.
//
// A 401 triggers one shared renewal followed by exactly one replay of the call.
// A second 401 is returned to the caller as a *StatusError.
func (c *Client) Send(ctx context.Context, method, path string, body any) (*Response, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	if c.renewAhead {
		if err := c.renewIfExpired(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := c.do(ctx, c.authed, method, path, payload)
	if err == nil || !errors.Is(err, ErrAuthorizationDenied) {
		return resp, err
	}

	slog.DebugContext(ctx, "access token rejected, renewing", "method", method, "path", path)
	if _, err := c.renewer.Renew(ctx); err != nil {
		return nil, err
	}

	c.metrics.Retries.Inc()
	return c.do(ctx, c.authed, method, path, payload)
}

// SendUnauthenticated issues a call without credentials and without renewal.
func (c *Client) SendUnauthenticated(ctx context.Context, method, path string, body any) (*Response, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	return c.do(ctx, c.anonymous, method, path, payload)
}

// Renew obtains a fresh credential pair, joining a renewal already in flight.
func (c *Client) Renew(ctx context.Context) (credstore.Pair, error) {
	return c.renewer.Renew(ctx)
}

// renewIfExpired renews when the stored access token carries an expiry that has passed.
// Opaque tokens and missing credentials are left for the server to judge.
func (c *Client) renewIfExpired(ctx context.Context) error {
	pair, err := c.store.Load(ctx)
	if err != nil {
		return nil
	}
	tok := pair.Token()
	if tok.Expiry.IsZero() || tok.Valid() {
		return nil
	}

	slog.DebugContext(ctx, "access token expired, renewing ahead of call")
	_, err = c.renewer.Renew(ctx)
	return err
}

// do performs one attempt. The payload is re-read from the start on every call.
func (c *Client) do(ctx context.Context, httpClient *http.Client, method, path string, payload []byte) (*Response, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := httpClient.Do(req)
	if err != nil {
		c.metrics.Requests.WithLabelValues(method, "error").Inc()
		return nil, &NetworkError{Method: method, Path: path, Err: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	c.metrics.Requests.WithLabelValues(method, strconv.Itoa(httpResp.StatusCode)).Inc()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &NetworkError{Method: method, Path: path, Err: fmt.Errorf("reading response body: %w", err)}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: httpResp.StatusCode,
			Body:       respBody,
		}
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}

// resolve joins path (which may carry a query) onto the base URL.
func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	if ref.IsAbs() || ref.Host != "" {
		return "", fmt.Errorf("invalid path %q: must be relative to the base URL", path)
	}

	u := *c.baseURL
	u.Path = strings.TrimSuffix(c.baseURL.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
	u.RawPath = strings.TrimSuffix(c.baseURL.EscapedPath(), "/") + "/" + strings.TrimPrefix(ref.EscapedPath(), "/")
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

// encodeBody marshals body once so a replay sends identical bytes.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		return data, nil
	}
}
