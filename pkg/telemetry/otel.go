// Package telemetry wires OpenTelemetry tracing and Prometheus metrics.
//
// Both are observed from the outside of discovery: the CLI and the server
// open spans and record metrics around calls into the core packages.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// instrumentation is the tracer name used for every dfgflow span.
const instrumentation = "github.com/logflow/dfgflow"

// OTLPConfig configures the OpenTelemetry OTLP gRPC exporter.
type OTLPConfig struct {
	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// Empty disables tracing.
	Endpoint string

	// ServiceName identifies this service in traces
	ServiceName string

	// ServiceVersion is the version of this service
	ServiceVersion string

	// InsecureTLS disables TLS for the gRPC connection (use for local dev)
	InsecureTLS bool

	// BatchTimeout is how long to wait before sending a batch of spans
	BatchTimeout time.Duration

	// ExportTimeout is the timeout for exporting a batch
	ExportTimeout time.Duration

	// SamplingRatio is the fraction of traces to sample (0.0 to 1.0)
	SamplingRatio float64
}

// DefaultOTLPConfig returns sensible defaults for OTLP configuration.
func DefaultOTLPConfig(serviceName string) OTLPConfig {
	return OTLPConfig{
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		InsecureTLS:    true,
		BatchTimeout:   5 * time.Second,
		ExportTimeout:  30 * time.Second,
		SamplingRatio:  1.0,
	}
}

// OTLPExporter manages the tracer provider lifecycle.
type OTLPExporter struct {
	mu sync.Mutex

	cfg            OTLPConfig
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	initialized    bool
}

// NewOTLPExporter creates an exporter; nothing is dialed until Init.
func NewOTLPExporter(cfg OTLPConfig) *OTLPExporter {
	return &OTLPExporter{cfg: cfg}
}

// Init installs the global tracer provider and returns a shutdown function
// that flushes pending spans. With no endpoint a no-op tracer is used and
// shutdown does nothing.
func (e *OTLPExporter) Init(ctx context.Context) (func(context.Context) error, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return e.shutdown, nil
	}
	if e.cfg.Endpoint == "" {
		e.tracer = noop.NewTracerProvider().Tracer(instrumentation)
		e.initialized = true
		return e.shutdown, nil
	}

	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(e.cfg.Endpoint),
		otlptracegrpc.WithTimeout(e.cfg.ExportTimeout),
	}
	if e.cfg.InsecureTLS {
		exporterOpts = append(exporterOpts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(e.cfg.ServiceName),
			semconv.ServiceVersion(e.cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	e.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(e.cfg.BatchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(e.cfg.SamplingRatio)),
	)

	otel.SetTracerProvider(e.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	e.tracer = e.tracerProvider.Tracer(instrumentation)
	e.initialized = true
	return e.shutdown, nil
}

func (e *OTLPExporter) shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return nil
	}
	e.initialized = false
	if e.tracerProvider == nil {
		return nil
	}
	return e.tracerProvider.Shutdown(ctx)
}

// Tracer returns the tracer installed by Init, or a no-op tracer before it.
func (e *OTLPExporter) Tracer() trace.Tracer {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentation)
	}
	return e.tracer
}

// IsInitialized returns whether the exporter has been initialized.
func (e *OTLPExporter) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1.0:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// StartSpan starts a span on the global tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err, if any, and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
