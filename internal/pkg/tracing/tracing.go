package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang-wifiprov/internal/pkg/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "golang-wifiprov/provisioning"

// Config governs how tracing is initialised.
type Config struct {
	Enabled     bool
	ServiceName string
	Output      io.Writer // stdout when nil
}

// Init installs a global tracer provider. When tracing is disabled a noop
// provider is installed. The returned function flushes pending spans.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	logger := logging.WithComponent("tracing")

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		logger.Debug("Tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	exp, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.WithField("service_name", cfg.ServiceName).Info("Tracing enabled")
	return tp.Shutdown, nil
}

// Tracer returns the tracer used by the provisioning lifecycle.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
