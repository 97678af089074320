// Package gateway exposes the signed-in session to local tools over HTTP.
//
// Requests under /api/ are forwarded to the KokoMemo API through the session's
// request dispatcher, so local tools get bearer injection and transparent
// credential renewal without ever seeing a token. The session state is
// available as JSON and as a Server-Sent Events stream.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/florianilch/kokomemo/internal/apiclient"
	"github.com/florianilch/kokomemo/internal/session"
)

// DefaultHeartbeatInterval is how often idle event streams receive a keep-alive comment.
const DefaultHeartbeatInterval = 15 * time.Second

// Dispatcher sends API calls on behalf of gateway clients.
type Dispatcher interface {
	Send(ctx context.Context, method, path string, body any) (*apiclient.Response, error)
}

// Sessions exposes the observable session state.
type Sessions interface {
	State() session.State
	Subscribe() (<-chan session.State, func())
}

// Option configures a Gateway.
type Option func(*config)

type config struct {
	gatherer  prometheus.Gatherer
	heartbeat time.Duration
	logger    *slog.Logger
}

// WithMetrics serves the collectors of g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(c *config) {
		c.gatherer = g
	}
}

// WithHeartbeat sets the keep-alive interval of event streams.
func WithHeartbeat(d time.Duration) Option {
	return func(c *config) {
		c.heartbeat = d
	}
}

// WithLogger sets the access logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// Gateway is the loopback HTTP server.
type Gateway struct {
	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Gateway implements http.Handler
var _ http.Handler = (*Gateway)(nil)

// New creates a Gateway forwarding through d and reporting the state of s.
func New(d Dispatcher, s Sessions, opts ...Option) (*Gateway, error) {
	if d == nil {
		return nil, fmt.Errorf("missing dispatcher")
	}
	if s == nil {
		return nil, fmt.Errorf("missing session")
	}

	cfg := &config{
		heartbeat: DefaultHeartbeatInterval,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	middlewares := []func(http.Handler) http.Handler{
		accessLog(cfg.logger, s),
		recoverer,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /session", chain(&sessionHandler{sessions: s}, middlewares...))
	mux.Handle("GET /session/events", chain(&eventsHandler{sessions: s, heartbeat: cfg.heartbeat}, middlewares...))
	mux.Handle("/api/", chain(http.StripPrefix("/api", &forwardHandler{dispatcher: d}), middlewares...))
	if cfg.gatherer != nil {
		mux.Handle("GET /metrics", chain(promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}), middlewares...))
	}

	return &Gateway{mux: mux}, nil
}

// ServeHTTP implements http.Handler interface
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (g *Gateway) Start(ctx context.Context, address string) (<-chan error, error) {
	// Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	g.server = &http.Server{
		Handler:     g,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: event streams stay open for the life of the session
		IdleTimeout: 90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := g.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	if err := g.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = g.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
