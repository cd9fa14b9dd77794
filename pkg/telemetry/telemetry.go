package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownFunc flushes pending spans and metrics.
type ShutdownFunc func(context.Context) error

// Config selects where run telemetry goes.
type Config struct {
	// Exporter is "none", "stdout" or "otlp".
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	// MetricInterval is the export period of the metric reader. Zero uses
	// one minute for stdout and 30s for OTLP.
	MetricInterval time.Duration
	// Writer receives stdout exporter output. Defaults to os.Stderr so
	// spans do not mix with command output.
	Writer io.Writer
}

type exporters struct {
	spans    trace.SpanExporter
	metrics  metric.Exporter
	interval time.Duration
}

// InitWithConfig installs global trace and metric providers for a run.
// With exporter "none" the global no-op providers stay in place and the
// instruments created by NewEvalMetrics record nothing.
func InitWithConfig(serviceName, version string, cfg Config) (ShutdownFunc, error) {
	if cfg.Exporter == "none" {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporters(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.MetricInterval > 0 {
		exp.interval = cfg.MetricInterval
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
		resource.WithProcessPID(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp.spans, trace.WithBatchTimeout(time.Second)),
		trace.WithResource(res),
	)
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exp.metrics, metric.WithInterval(exp.interval))),
		metric.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func newExporters(cfg Config) (*exporters, error) {
	switch cfg.Exporter {
	case "", "stdout":
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		spans, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("stdout span exporter: %w", err)
		}
		metrics, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("stdout metric exporter: %w", err)
		}
		return &exporters{spans: spans, metrics: metrics, interval: time.Minute}, nil

	case "otlp":
		if cfg.OTLPEndpoint == "" {
			return nil, fmt.Errorf("telemetry.otlp_endpoint is required for the otlp exporter")
		}
		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
			metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		}
		ctx := context.Background()
		spans, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return nil, fmt.Errorf("otlp span exporter: %w", err)
		}
		metrics, err := otlpmetricgrpc.New(ctx, metricOpts...)
		if err != nil {
			_ = spans.Shutdown(ctx)
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		return &exporters{spans: spans, metrics: metrics, interval: 30 * time.Second}, nil

	default:
		return nil, fmt.Errorf("unknown telemetry exporter %q", cfg.Exporter)
	}
}
