// Package observability bootstraps tracing and metrics for the
// engine, grounded on the teacher's internal/observability/otel.go
// (tracing) and the pack's netbuddy-agents-admin metrics.go
// (Prometheus gauges/counters).
package observability

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/stackrun/internal/platform/envutil"
	"github.com/yungbote/stackrun/internal/platform/logger"
)

type OtelConfig struct {
	Enabled     bool
	ServiceName string
}

var (
	otelOnce     sync.Once
	otelShutdown func(context.Context) error = func(context.Context) error { return nil }
)

// InitOTel sets up a trace provider once per process. Every dispatch
// step is expected to open a span parented by the task run's root
// span, per SPEC_FULL.md §6.2.
func InitOTel(ctx context.Context, log *logger.Logger, cfg OtelConfig) func(context.Context) error {
	otelOnce.Do(func() {
		if !cfg.Enabled {
			log.Info("otel tracing disabled")
			return
		}
		serviceName := strings.TrimSpace(cfg.ServiceName)
		if serviceName == "" {
			serviceName = "stackrund"
		}

		res, err := resource.New(ctx, resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("service.component", "stackrun-engine"),
		))
		if err != nil {
			log.Warn("otel resource init failed, continuing without attributes", "error", err)
		}

		exporter, expErr := buildTraceExporter(ctx, log)
		if expErr != nil {
			log.Warn("otel exporter init failed, continuing without tracing", "error", expErr)
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(otelSampleRatio()))),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{}, propagation.Baggage{},
		))
		otelShutdown = tp.Shutdown
		log.Info("otel tracing initialized", "service", serviceName)
	})
	return otelShutdown
}

// Tracer returns a named tracer off whatever provider InitOTel set up
// (or the global no-op provider if tracing is disabled or InitOTel was
// never called) — callers never need to branch on cfg.Enabled.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

func otelSampleRatio() float64 {
	v := envutil.GetEnv("OTEL_SAMPLER_RATIO", "0.1", nil)
	ratio := 0.1
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		ratio = f
	}
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

func buildTraceExporter(ctx context.Context, log *logger.Logger) (sdktrace.SpanExporter, error) {
	endpoint := envutil.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "", log)
	if endpoint != "" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
		if envutil.GetEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", false, log) {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	log.Warn("otel using stdout exporter (no OTLP endpoint configured)")
	return stdouttrace.New(stdouttrace.WithPrettyPrint())
}
