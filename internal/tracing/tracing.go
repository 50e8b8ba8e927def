// Package tracing wires the OTLP gRPC exporter and carries W3C trace
// context across the async verification hop: the span context active at
// submission time is stored with the verification request and restored as
// a remote parent when the verdict arrives.
package tracing

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc/credentials"
)

type Config struct {
	Enabled     bool
	ServiceName string
	Environment string

	OTLPEndpoint string
	OTLPInsecure bool

	SampleRatio float64
}

// Setup installs a tracer provider and returns its shutdown func. Exporter
// failures log a warning and leave tracing off; the service must not refuse
// to start because a collector is unreachable.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Propagator is installed even when disabled so inbound traceparent
	// headers still flow through to stored verification requests.
	otel.SetTextMapPropagator(propagation.TraceContext{})

	if !cfg.Enabled {
		return noopShutdown, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		logger.Warn("otel exporter init failed; tracing disabled", "err", err)
		return noopShutdown, nil
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(newResource(cfg, logger)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

func noopShutdown(context.Context) error { return nil }

func newExporter(ctx context.Context, cfg Config) (*otlptrace.Exporter, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(hostPort(endpoint)),
	}
	if cfg.OTLPInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func newResource(cfg Config, logger *slog.Logger) *resource.Resource {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME"))
	}
	if name == "" {
		name = "homare"
	}

	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(name))}
	if env := strings.TrimSpace(cfg.Environment); env != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.DeploymentEnvironment(env)))
	}

	res, err := resource.New(context.Background(), attrs...)
	if err != nil {
		logger.Warn("otel resource init failed; using default", "err", err)
		return resource.Default()
	}
	merged, err := resource.Merge(resource.Default(), res)
	if err != nil {
		return resource.Default()
	}
	return merged
}

// hostPort strips a URL scheme if present. The gRPC exporter wants
// host:port, but OTEL_EXPORTER_OTLP_ENDPOINT is often set as a URL.
func hostPort(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}

// TraceContextStrings captures the W3C trace context of the current span
// so it can be persisted alongside a verification request.
func TraceContextStrings(ctx context.Context) (traceParent string, traceState string) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.Get("traceparent"), carrier.Get("tracestate")
}

// ContextWithRemoteParent restores persisted trace context strings as a
// remote parent, linking the verdict span to the submission span.
func ContextWithRemoteParent(ctx context.Context, traceParent string, traceState string) context.Context {
	traceParent = strings.TrimSpace(traceParent)
	traceState = strings.TrimSpace(traceState)
	if traceParent == "" && traceState == "" {
		return ctx
	}
	carrier := propagation.MapCarrier{}
	if traceParent != "" {
		carrier.Set("traceparent", traceParent)
	}
	if traceState != "" {
		carrier.Set("tracestate", traceState)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
