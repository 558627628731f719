package tracing

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	convergelog "github.com/gxo-labs/converge/pkg/converge/v1/log"
	convergetracing "github.com/gxo-labs/converge/pkg/converge/v1/tracing"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding/gzip"
)

const (
	defaultGRPCEndpoint = "localhost:4317"
	defaultHTTPEndpoint = "localhost:4318"
)

// OtelTracerProvider implements the public TracerProvider with the
// OpenTelemetry SDK, or with the no-op provider when tracing is not
// configured.
type OtelTracerProvider struct {
	provider    trace.TracerProvider
	sdkProvider *sdktrace.TracerProvider
}

// NewNoOpProvider returns a provider that records nothing.
func NewNoOpProvider() *OtelTracerProvider {
	return &OtelTracerProvider{provider: noop.NewTracerProvider()}
}

// NewProviderFromEnv builds a provider from the standard OTEL_* variables.
// Tracing is only enabled when OTEL_EXPORTER_OTLP_ENDPOINT or
// OTEL_EXPORTER_OTLP_PROTOCOL is set, or OTEL_TRACES_EXPORTER=console, and
// OTEL_SDK_DISABLED is not "true".
// Exporter failures degrade to the no-op provider with a warning.
func NewProviderFromEnv(ctx context.Context, log convergelog.Logger) *OtelTracerProvider {
	if strings.EqualFold(os.Getenv("OTEL_SDK_DISABLED"), "true") {
		return NewNoOpProvider()
	}
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" && os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL") == "" && !consoleExporter() {
		return NewNoOpProvider()
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName())),
		resource.WithProcess(), resource.WithOS(), resource.WithHost(),
	)
	if err != nil {
		log.Warnf("Failed to build OpenTelemetry resource, using default: %v", err)
		res = resource.Default()
	}

	exporter, err := createExporter(ctx, log)
	if err != nil {
		log.Warnf("Failed to create OTLP exporter, tracing disabled: %v", err)
		return NewNoOpProvider()
	}

	sdkTP := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	return &OtelTracerProvider{provider: sdkTP, sdkProvider: sdkTP}
}

// consoleExporter reports whether spans should be printed to stderr
// (OTEL_TRACES_EXPORTER=console), which is handy when debugging a playbook.
func consoleExporter() bool {
	switch strings.ToLower(os.Getenv("OTEL_TRACES_EXPORTER")) {
	case "console", "stdout":
		return true
	}
	return false
}

func createExporter(ctx context.Context, log convergelog.Logger) (sdktrace.SpanExporter, error) {
	if consoleExporter() {
		log.Debugf("Configuring console span exporter")
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr), stdouttrace.WithPrettyPrint())
	}
	protocol := strings.ToLower(os.Getenv("OTEL_EXPORTER_OTLP_PROTOCOL"))
	if protocol == "" {
		protocol = "grpc"
	}
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	headers := parseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	timeout := parseTimeout(os.Getenv("OTEL_EXPORTER_OTLP_TIMEOUT"), 10*time.Second)
	gzipped := strings.EqualFold(os.Getenv("OTEL_EXPORTER_OTLP_COMPRESSION"), "gzip")
	insecure := isInsecure(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"), os.Getenv("OTEL_EXPORTER_OTLP_TRACES_INSECURE"))

	switch protocol {
	case "grpc":
		if endpoint == "" {
			endpoint = defaultGRPCEndpoint
		}
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithHeaders(headers),
			otlptracegrpc.WithTimeout(timeout),
		}
		if insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		} else {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
		}
		if gzipped {
			opts = append(opts, otlptracegrpc.WithCompressor(gzip.Name))
		}
		log.Debugf("Configuring OTLP gRPC exporter (endpoint: %s, insecure: %t)", endpoint, insecure)
		return otlptracegrpc.New(ctx, opts...)

	case "http", "http/protobuf":
		if endpoint == "" {
			endpoint = defaultHTTPEndpoint
		}
		path := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")
		if path == "" {
			path = "/v1/traces"
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithURLPath(path),
			otlptracehttp.WithHeaders(headers),
			otlptracehttp.WithTimeout(timeout),
		}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if gzipped {
			opts = append(opts, otlptracehttp.WithCompression(otlptracehttp.GzipCompression))
		}
		log.Debugf("Configuring OTLP HTTP exporter (endpoint: %s%s, insecure: %t)", endpoint, path, insecure)
		return otlptracehttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unsupported OTLP protocol: %s", protocol)
	}
}

// GetTracer returns a named tracer.
func (p *OtelTracerProvider) GetTracer(name string, opts ...trace.TracerOption) trace.Tracer {
	if p == nil || p.provider == nil {
		return noop.NewTracerProvider().Tracer(name, opts...)
	}
	return p.provider.Tracer(name, opts...)
}

// Shutdown flushes buffered spans. It is a no-op for the no-op provider.
func (p *OtelTracerProvider) Shutdown(ctx context.Context) error {
	if p == nil || p.sdkProvider == nil {
		return nil
	}
	return p.sdkProvider.Shutdown(ctx)
}

// IsEffectivelyNoOp reports whether spans are discarded.
func (p *OtelTracerProvider) IsEffectivelyNoOp() bool {
	return p == nil || p.sdkProvider == nil
}

func serviceName() string {
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		return name
	}
	return "converge"
}

// parseHeaders converts "k1=v1,k2=v2" into a map.
func parseHeaders(headerStr string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(headerStr, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		if key := strings.TrimSpace(kv[0]); key != "" {
			headers[key] = strings.TrimSpace(kv[1])
		}
	}
	return headers
}

// parseTimeout accepts integer milliseconds or a Go duration.
func parseTimeout(timeoutStr string, def time.Duration) time.Duration {
	if timeoutStr == "" {
		return def
	}
	if ms, err := strconv.ParseInt(timeoutStr, 10, 64); err == nil && ms >= 0 {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(timeoutStr); err == nil && d >= 0 {
		return d
	}
	return def
}

func isInsecure(flags ...string) bool {
	for _, flag := range flags {
		if strings.EqualFold(strings.TrimSpace(flag), "true") {
			return true
		}
	}
	return false
}

var _ convergetracing.TracerProvider = (*OtelTracerProvider)(nil)
