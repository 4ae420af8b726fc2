package telemetry

import (
	"context"
	"fmt"
	"io"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter kinds accepted by NewSpanExporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterGCP    = "gcp"
)

// ExporterConfig selects where finished spans are sent.
type ExporterConfig struct {
	Kind string
	// ProjectID is the Cloud Trace project for ExporterGCP.
	ProjectID string
	// Writer receives ExporterStdout output. Nil means os.Stdout.
	Writer io.Writer
}

// NewSpanExporter builds the configured exporter. It returns a nil exporter for ExporterNone.
func NewSpanExporter(ctx context.Context, cfg ExporterConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Kind {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		var opts []stdouttrace.Option
		if cfg.Writer != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
		}
		exp, err := stdouttrace.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		return exp, nil
	case ExporterGCP:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("gcp trace exporter requires a project id")
		}
		exp, err := texporter.New(texporter.WithProjectID(cfg.ProjectID), texporter.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("failed to create google trace exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Kind)
	}
}

// WithExporter batches spans to exp. A nil exporter adds nothing.
func WithExporter(exp sdktrace.SpanExporter) []sdktrace.TracerProviderOption {
	if exp == nil {
		return nil
	}
	return []sdktrace.TracerProviderOption{sdktrace.WithBatcher(exp)}
}
