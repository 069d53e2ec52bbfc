package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Mininet-Optical/mininet-optical-sub000/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrUnknownExporter is returned for an exporter name with no registered
// constructor.
var ErrUnknownExporter = errors.New("unknown tracing exporter")

const (
	defaultServiceName  = "optical-twin"
	defaultOTLPEndpoint = "localhost:4317"
)

// TracingConfig governs tracing of control RPCs and propagation passes.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // otlp collector address
	SampleRatio float64

	// Topology names the network being served; it becomes the
	// twin.topology resource attribute.
	Topology string
	// Output receives stdout exporter spans; nil means os.Stdout.
	Output   io.Writer
}

// TracingConfigFromEnv reads TWIN_TRACING_ENABLED, TWIN_TRACING_EXPORTER,
// TWIN_TRACING_SERVICE_NAME, TWIN_TRACING_SAMPLE_RATIO and
// TWIN_OTLP_ENDPOINT. A ratio outside [0,1] is ignored.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv("TWIN_TRACING_ENABLED"), "true"),
		ServiceName: os.Getenv("TWIN_TRACING_SERVICE_NAME"),
		Exporter:    strings.ToLower(os.Getenv("TWIN_TRACING_EXPORTER")),
		Endpoint:    os.Getenv("TWIN_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if raw := os.Getenv("TWIN_TRACING_SAMPLE_RATIO"); raw != "" {
		if r, err := strconv.ParseFloat(raw, 64); err == nil && r >= 0 && r <= 1 {
			cfg.SampleRatio = r
		}
	}
	return cfg.withDefaults()
}

func (c TracingConfig) withDefaults() TracingConfig {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.Exporter == "" {
		c.Exporter = "stdout"
	}
	if c.Endpoint == "" {
		c.Endpoint = defaultOTLPEndpoint
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	return c
}

type exporterFactory func(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error)

var exporters = map[string]exporterFactory{
	"stdout": func(_ context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(
			stdouttrace.WithWriter(cfg.Output),
			stdouttrace.WithPrettyPrint(),
			stdouttrace.WithoutTimestamps(),
		)
	},
	"otlp": func(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	},
}

func init() {
	exporters["otlpgrpc"] = exporters["otlp"]
}

// ExporterNames lists the accepted exporter names.
func ExporterNames() []string {
	names := make([]string, 0, len(exporters))
	for name := range exporters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitTracing installs the global tracer provider and propagators. When
// tracing is disabled a noop provider is installed. The returned function
// flushes and stops the provider.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	cfg = cfg.withDefaults()

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	factory, ok := exporters[strings.ToLower(cfg.Exporter)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownExporter, cfg.Exporter, strings.Join(ExporterNames(), ", "))
	}
	exp, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}

	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", defaultServiceName),
	}
	if cfg.Topology != "" {
		attrs = append(attrs, attribute.String("twin.topology", cfg.Topology))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.String("topology", cfg.Topology),
		logging.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

// ShutdownWithTimeout calls shutdown with a bounded deadline and logs, but
// does not return, its error.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
