package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/florianilch/kokomemo/internal/apiclient"
	"github.com/florianilch/kokomemo/internal/credstore"
	"github.com/florianilch/kokomemo/internal/gateway"
	"github.com/florianilch/kokomemo/internal/session"
)

// App wires the credential store, session manager and gateway together.
type App struct {
	cfg      *Config
	store    credstore.Store
	registry *prometheus.Registry
	sessions *session.Manager
}

// New creates a new App instance.
// No network I/O happens until the session is bootstrapped, except for
// redis storage which pings its server on construction.
func New(cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := cfg.Credentials.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create credential store: %w", err)
	}

	return newWithStore(cfg, store)
}

func newWithStore(cfg *Config, store credstore.Store) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	opts := append(cfg.ClientOptions(), apiclient.WithMetrics(apiclient.NewMetrics(registry)))
	sessions, err := session.NewManager(store, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create session manager: %w", err)
	}

	return &App{
		cfg:      cfg,
		store:    store,
		registry: registry,
		sessions: sessions,
	}, nil
}

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager {
	return a.sessions
}

// Close releases the credential store's connections, if it holds any.
func (a *App) Close() error {
	if closer, ok := a.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Start bootstraps the session, serves the gateway and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	var shutdownFuncs []func(context.Context) error

	state := a.sessions.Bootstrap(gCtx)
	slog.InfoContext(gCtx, "session bootstrapped", "state", state.String())

	gw, err := gateway.New(a.sessions.Client(), a.sessions, gateway.WithMetrics(a.registry))
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting gateway", "address", address)
	gatewayErrCh, err := gw.Start(gCtx, address)
	if err != nil {
		return fmt.Errorf("gateway startup failed: %w", err)
	}
	shutdownFuncs = append(shutdownFuncs, gw.Shutdown)

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-gatewayErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "gateway runtime error", "error", err)
				return fmt.Errorf("gateway: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
