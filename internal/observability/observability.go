// Package observability installs the process-wide slog logger.
//
// Plain text and JSON output go straight to stderr. The otel and otlp formats
// route records through the OpenTelemetry log SDK, either to stdout or to an
// OTLP collector, filtered at the configured level.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// instrumentationName identifies log records emitted through the OTel bridge.
const instrumentationName = "github.com/florianilch/kokomemo"

// Supported log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatOTel = "otel"
	FormatOTLP = "otlp"
)

// Supported OTLP protocols.
const (
	ProtocolHTTP = "http"
	ProtocolGRPC = "grpc"
)

// Options configures Instrument.
type Options struct {
	Level  slog.Level
	Format string

	// Endpoint is the OTLP collector URL; empty uses the exporter's default
	// (and its OTEL_EXPORTER_OTLP_* environment variables).
	Endpoint string
	Protocol string
}

// ShutdownFunc flushes and releases logging resources.
type ShutdownFunc func(context.Context) error

// Instrument installs the default slog logger for the given options.
// The returned shutdown must be called before exit to flush buffered records.
func Instrument(ctx context.Context, opts Options) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }

	switch opts.Format {
	case FormatText, "":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: opts.Level})))
		return noop, nil
	case FormatJSON:
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: opts.Level})))
		return noop, nil
	case FormatOTel:
		exporter, err := stdoutlog.New(stdoutlog.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("creating stdout log exporter: %w", err)
		}
		return installProvider(opts.Level, sdklog.NewSimpleProcessor(exporter)), nil
	case FormatOTLP:
		exporter, err := newOTLPExporter(ctx, opts)
		if err != nil {
			return nil, err
		}
		return installProvider(opts.Level, sdklog.NewBatchProcessor(exporter)), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", opts.Format)
	}
}

func newOTLPExporter(ctx context.Context, opts Options) (sdklog.Exporter, error) {
	switch opts.Protocol {
	case ProtocolHTTP, "":
		var exporterOpts []otlploghttp.Option
		if opts.Endpoint != "" {
			exporterOpts = append(exporterOpts, otlploghttp.WithEndpointURL(opts.Endpoint))
		}
		exporter, err := otlploghttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP/HTTP log exporter: %w", err)
		}
		return exporter, nil
	case ProtocolGRPC:
		var exporterOpts []otlploggrpc.Option
		if opts.Endpoint != "" {
			exporterOpts = append(exporterOpts, otlploggrpc.WithEndpointURL(opts.Endpoint))
		}
		exporter, err := otlploggrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OTLP/gRPC log exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol: %s", opts.Protocol)
	}
}

// installProvider bridges slog into an OTel logger provider filtered at level.
func installProvider(level slog.Level, processor sdklog.Processor) ShutdownFunc {
	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(level))),
	)
	slog.SetDefault(slog.New(otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))))
	return provider.Shutdown
}

// severity maps a slog level onto the OTel severity scale.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
