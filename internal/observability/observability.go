// Package observability wires OpenTelemetry tracing and metrics into the
// core. It defaults to no-op providers so the system runs standalone; set
// OTEL_EXPORTER_OTLP_ENDPOINT (or OTEL_EXPORTER_OTLP_TRACES_ENDPOINT) to
// export to a collector.
package observability

import (
	"context"
	"errors"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/logqs/atlas2/internal/observability"

// Metrics holds every instrument the core emits. A Metrics from NewNoop is
// always safe to use; its counters and histograms simply record into the
// process-wide no-op meter.
type Metrics struct {
	Tracer trace.Tracer

	LLMRequests      metric.Int64Counter
	LLMDuration      metric.Float64Histogram
	ToolExecutions   metric.Int64Counter
	ToolDuration     metric.Float64Histogram
	RateLimitWaits   metric.Int64Counter
	RateLimitDenied  metric.Int64Counter
	WorkerSpawns     metric.Int64Counter
	WorkerSpawnTime  metric.Float64Histogram
	TokensConsumed   metric.Int64Counter
}

// Shutdown flushes and releases any exporter resources created by Init. It
// is a no-op when the default (unconfigured) providers are in use.
type Shutdown func(context.Context) error

// NewNoop builds Metrics against whatever global tracer/meter providers are
// currently registered (the OTEL no-op providers unless Init has been
// called). Callers that never call Init still get working, inert
// instruments.
func NewNoop() (*Metrics, error) {
	return newMetrics(otel.Tracer(scopeName), otel.Meter(scopeName))
}

// Init installs OTLP HTTP exporters for traces and metrics and registers
// them as the global providers. It does not check whether an endpoint is
// configured; the exporters use their own defaults when none is set.
// InitFromEnv is the variant that falls back to NewNoop.
func Init(ctx context.Context, serviceName string) (*Metrics, Shutdown, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(serviceName)),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(otel.Tracer(scopeName), otel.Meter(scopeName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}
	return m, shutdown, nil
}

// InitFromEnv calls Init only when an OTLP endpoint is configured in the
// environment (OTEL_EXPORTER_OTLP_ENDPOINT or the trace-specific override);
// otherwise it returns NewNoop's instruments and a no-op shutdown so a
// deployment with no collector never pays for a dial attempt.
func InitFromEnv(ctx context.Context, serviceName string) (*Metrics, Shutdown, error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" && os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") == "" {
		m, err := NewNoop()
		if err != nil {
			return nil, nil, err
		}
		return m, func(context.Context) error { return nil }, nil
	}
	return Init(ctx, serviceName)
}

func newMetrics(tracer trace.Tracer, meter metric.Meter) (*Metrics, error) {
	llmRequests, err := meter.Int64Counter("atlas.llm.requests",
		metric.WithDescription("LLM streaming calls started"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	llmDuration, err := meter.Float64Histogram("atlas.llm.duration",
		metric.WithDescription("LLM call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	toolExecutions, err := meter.Int64Counter("atlas.tool.executions",
		metric.WithDescription("coder tool calls executed"),
		metric.WithUnit("{execution}"))
	if err != nil {
		return nil, err
	}
	toolDuration, err := meter.Float64Histogram("atlas.tool.duration",
		metric.WithDescription("tool execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	rateLimitWaits, err := meter.Int64Counter("atlas.ratelimit.waits",
		metric.WithDescription("reservations that had to wait for a window to free up"),
		metric.WithUnit("{wait}"))
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("atlas.ratelimit.denied",
		metric.WithDescription("reservations denied after the configured timeout"),
		metric.WithUnit("{denial}"))
	if err != nil {
		return nil, err
	}
	workerSpawns, err := meter.Int64Counter("atlas.workerpool.spawns",
		metric.WithDescription("worker subprocess spawn attempts"),
		metric.WithUnit("{spawn}"))
	if err != nil {
		return nil, err
	}
	workerSpawnTime, err := meter.Float64Histogram("atlas.workerpool.spawn_duration",
		metric.WithDescription("time from spawn attempt to a worker reporting ready"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	tokensConsumed, err := meter.Int64Counter("atlas.tokens.consumed",
		metric.WithDescription("tokens finalized against the rate limiter"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Tracer:          tracer,
		LLMRequests:     llmRequests,
		LLMDuration:     llmDuration,
		ToolExecutions:  toolExecutions,
		ToolDuration:    toolDuration,
		RateLimitWaits:  rateLimitWaits,
		RateLimitDenied: rateLimitDenied,
		WorkerSpawns:    workerSpawns,
		WorkerSpawnTime: workerSpawnTime,
		TokensConsumed:  tokensConsumed,
	}, nil
}
