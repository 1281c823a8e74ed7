// Package observability wires logging and tracing for the service.
package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName    = "sales-backend"
	ServiceVersion = "1.0.0"

	tracesPath    = "/otlp/v1/traces"
	logsPath      = "/otlp/v1/logs"
	exportTimeout = 10 * time.Second
	maxQueueSize  = 2048
)

// Options configures the OTLP exporters. An empty Endpoint disables export.
type Options struct {
	Endpoint   string
	AuthHeader string
}

// Telemetry bundles the providers created by Setup.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	// Exporting reports whether logs and traces leave the process.
	Exporting bool
	shutdown  []func(context.Context) error
}

// Shutdown flushes and stops every provider created by Setup.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	for _, fn := range t.shutdown {
		err = errors.Join(err, fn(ctx))
	}
	t.shutdown = nil
	return err
}

// Setup initializes the OpenTelemetry log and trace providers. Errors from
// individual exporters are joined and returned alongside whatever could be set up.
func Setup(ctx context.Context, opts Options) (*Telemetry, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Telemetry{TracerProvider: otel.GetTracerProvider()}
	if opts.Endpoint == "" {
		return t, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return t, fmt.Errorf("failed to create resource: %w", err)
	}

	headers := map[string]string{}
	if opts.AuthHeader != "" {
		headers["Authorization"] = opts.AuthHeader
	}

	var setupErr error
	logExporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(opts.Endpoint),
		otlploghttp.WithURLPath(logsPath),
		otlploghttp.WithHeaders(headers),
	)
	if err != nil {
		setupErr = errors.Join(setupErr, fmt.Errorf("OTLP Log Exporter: %w", err))
	} else {
		loggerProvider := sdklog.NewLoggerProvider(
			sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter,
				sdklog.WithExportTimeout(exportTimeout),
				sdklog.WithMaxQueueSize(maxQueueSize),
			)),
			sdklog.WithResource(res),
		)
		global.SetLoggerProvider(loggerProvider)
		t.shutdown = append(t.shutdown, loggerProvider.Shutdown)
		t.Exporting = true
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(opts.Endpoint),
		otlptracehttp.WithURLPath(tracesPath),
		otlptracehttp.WithHeaders(headers),
	)
	if err != nil {
		setupErr = errors.Join(setupErr, fmt.Errorf("OTLP Trace Exporter: %w", err))
	} else {
		tracerProvider := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
			sdktrace.WithResource(res),
			sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter,
				sdktrace.WithExportTimeout(exportTimeout),
				sdktrace.WithMaxQueueSize(maxQueueSize),
			)),
		)
		otel.SetTracerProvider(tracerProvider)
		t.TracerProvider = tracerProvider
		t.shutdown = append(t.shutdown, tracerProvider.Shutdown)
	}

	return t, setupErr
}
