// Package telemetry sets up OpenTelemetry tracing for scans.
//
// With no OTLP endpoint configured the provider is a no-op and spans cost
// nothing. A nil *Provider behaves the same way.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/argusscan/argus/pkg/defaults"
	"github.com/argusscan/argus/pkg/duration"
)

const instrumentation = "github.com/argusscan/argus"

// Span names.
const (
	SpanScan  = "argus.scan"
	SpanCheck = "argus.check"
)

// Config selects the exporter.
type Config struct {
	// Endpoint is the OTLP/gRPC collector address. Empty disables tracing.
	Endpoint string

	// Insecure disables TLS to the collector.
	Insecure bool

	// ServiceName defaults to "argus".
	ServiceName string

	// Headers are sent with every export, e.g. an API key.
	Headers map[string]string

	// ConnectTimeout bounds exporter setup (default: duration.TelemetryConnect).
	ConnectTimeout time.Duration

	// ShutdownTimeout bounds the final flush (default: duration.TelemetryShutdown).
	ShutdownTimeout time.Duration
}

// Provider hands out the scan tracer.
type Provider struct {
	sdk             *sdktrace.TracerProvider
	tracer          trace.Tracer
	shutdownTimeout time.Duration
}

// Noop returns a provider that records nothing.
func Noop() *Provider {
	return &Provider{tracer: noop.NewTracerProvider().Tracer(instrumentation)}
}

// New builds a provider for cfg. An empty endpoint returns Noop.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		return Noop(), nil
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = duration.TelemetryConnect
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	exp, err := otlptracegrpc.New(cctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
	}
	return NewWithExporter(exp, cfg, sdktrace.WithBatcher(exp)), nil
}

// NewWithExporter builds an SDK provider around exp. Extra options are
// applied after the defaults; with none, spans are exported synchronously.
func NewWithExporter(exp sdktrace.SpanExporter, cfg Config, extra ...sdktrace.TracerProviderOption) *Provider {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaults.ToolName
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = duration.TelemetryShutdown
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(defaults.Version),
	)
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if len(extra) == 0 {
		opts = append(opts, sdktrace.WithSyncer(exp))
	}
	opts = append(opts, extra...)

	tp := sdktrace.NewTracerProvider(opts...)
	return &Provider{
		sdk:             tp,
		tracer:          tp.Tracer(instrumentation),
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool { return p != nil && p.sdk != nil }

func (p *Provider) t() trace.Tracer {
	if p == nil || p.tracer == nil {
		return noop.NewTracerProvider().Tracer(instrumentation)
	}
	return p.tracer
}

// StartScan opens the root span of a scan.
func (p *Provider) StartScan(ctx context.Context, scanID, domain, mode string) (context.Context, trace.Span) {
	return p.t().Start(ctx, SpanScan,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("scan_id", scanID),
			attribute.String("domain", domain),
			attribute.String("mode", mode),
		))
}

// StartCheck opens a child span for one check.
func (p *Provider) StartCheck(ctx context.Context, check string) (context.Context, trace.Span) {
	return p.t().Start(ctx, SpanCheck, trace.WithAttributes(attribute.String("check", check)))
}

// End closes span, marking it failed when err is non-nil.
func End(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.shutdownTimeout)
	defer cancel()
	if err := p.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: shutdown: %w", err)
	}
	return nil
}
