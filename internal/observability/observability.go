// Package observability wires structured logging for the gateway. The
// teacher repo's own internal/observability source wasn't present in the
// retrieved reference material — only its call sites
// (cmd/claudine/commands/root.go's observability.Instrument(...) and
// internal/proxy/proxy.go's use of the resulting slog.Logger) were. This
// package is built from the teacher's already-declared OTel dependency set
// to match that call shape: otelslog feeds log/slog, minsev applies a
// severity floor, and the exporter is chosen between OTLP (when an
// endpoint is configured) and a local console renderer.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

const serviceName = "claudegate"

// Instrument configures the process-wide slog default logger. level sets
// the minimum severity actually emitted; format selects "text"/"json" for
// the local console fallback used when no OTLP endpoint is configured.
func Instrument(level slog.Level, format string) error {
	exporter, err := newExporter(format)
	if err != nil {
		return fmt.Errorf("failed to build log exporter: %w", err)
	}

	processor := sdklog.NewBatchProcessor(exporter)
	severity := minsev.NewLogProcessor(processor, severityVar(level))

	provider := sdklog.NewLoggerProvider(sdklog.WithProcessor(severity))

	handler := otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider))
	slog.SetDefault(slog.New(handler))

	return nil
}

// newExporter picks OTLP (gRPC preferred, HTTP as fallback) when
// OTEL_EXPORTER_OTLP_ENDPOINT is set, otherwise a stdout renderer matching
// the requested console format.
func newExporter(format string) (sdklog.Exporter, error) {
	ctx := context.Background()

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		if os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL") == "http/protobuf" {
			return otlploghttp.New(ctx)
		}
		return otlploggrpc.New(ctx)
	}

	opts := []stdoutlog.Option{}
	if format != "json" {
		opts = append(opts, stdoutlog.WithPrettyPrint())
	}
	return stdoutlog.New(opts...)
}

// severityVar maps a slog.Level into the otel log severity minsev filters
// on, as a minsev.SeverityVarier holding a fixed value (the level is set
// once at startup, not adjusted at runtime).
func severityVar(level slog.Level) minsev.SeverityVarier {
	var v minsev.SeverityVar
	v.Set(toOtelSeverity(level))
	return &v
}

func toOtelSeverity(level slog.Level) otellog.Severity {
	switch {
	case level <= slog.LevelDebug:
		return otellog.SeverityDebug
	case level <= slog.LevelInfo:
		return otellog.SeverityInfo
	case level <= slog.LevelWarn:
		return otellog.SeverityWarn
	default:
		return otellog.SeverityError
	}
}
