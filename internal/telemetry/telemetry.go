// Package telemetry bootstraps OpenTelemetry tracing for the recording
// pipeline. Tracing is opt-in: without OTEL_EXPORTER_OTLP_ENDPOINT set the
// returned shutdown is a no-op and nothing is exported. The pipeline's
// operating mode (live capture vs. offline transcode, pre-roll window) is
// stamped on the trace resource so deployments are distinguishable in the
// backend without inspecting individual spans.
package telemetry

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config describes the traced deployment.
type Config struct {
	ServiceName string

	// LiveVideo selects the sampling default: a live capture box trades
	// trace completeness for overhead (5%), an offline transcode run keeps
	// every trace. OTEL_TRACE_SAMPLE_RATE overrides either.
	LiveVideo bool

	// CacheSeconds is the configured pre-roll window, recorded as a
	// resource attribute.
	CacheSeconds float64
}

func noopShutdown(context.Context) error { return nil }

// Init installs the global tracer provider and propagators. The returned
// shutdown flushes pending spans; call it before process exit.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return noopShutdown, nil
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exporter, err := otlptracehttp.New(initCtx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithTimeout(3*time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	)
	if err != nil {
		// Non-fatal: the pipeline runs untraced rather than not at all.
		return noopShutdown, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		attribute.Bool("movie.live_video", cfg.LiveVideo),
		attribute.Float64("movie.cache_seconds", cfg.CacheSeconds),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate(cfg.LiveVideo)))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// sampleRate resolves the trace sampling ratio: OTEL_TRACE_SAMPLE_RATE if
// set and within [0,1], else 0.05 for live capture and 1.0 for transcode
// runs.
func sampleRate(liveVideo bool) float64 {
	fallback := 1.0
	if liveVideo {
		fallback = 0.05
	}
	raw := strings.TrimSpace(os.Getenv("OTEL_TRACE_SAMPLE_RATE"))
	if raw == "" {
		return fallback
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil || rate < 0 || rate > 1 {
		return fallback
	}
	return rate
}
