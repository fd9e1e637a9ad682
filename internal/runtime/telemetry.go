package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
)

const instrumentationName = "github.com/loqalabs/loqa-scribe/runtime"

type telemetry struct {
	meter    metric.Meter
	handler  http.Handler
	shutdown func(context.Context) error
}

// setupTelemetry builds a meter provider backed by a private Prometheus
// registry and, when traces are enabled, a tracer provider exporting to OTLP
// or stderr.
func setupTelemetry(ctx context.Context, cfg config.Config, logger *slog.Logger) (*telemetry, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	var shutdowns []func(context.Context) error
	if cfg.Telemetry.Traces {
		tp, err := initTracer(ctx, cfg, res, logger)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		shutdowns = append(shutdowns, tp.Shutdown)
	}

	mp, handler := initMetrics(res, logger)
	shutdowns = append(shutdowns, mp.Shutdown)

	return &telemetry{
		meter:   mp.Meter(instrumentationName),
		handler: handler,
		shutdown: func(ctx context.Context) error {
			var errs []error
			for _, fn := range shutdowns {
				if err := fn(ctx); err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
	}, nil
}

func initTracer(ctx context.Context, cfg config.Config, res *resource.Resource, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	var exporter sdktrace.SpanExporter
	if endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Telemetry.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		exporter = exp
		logger.Info("tracing initialized", slog.String("exporter", "otlp"), slog.String("endpoint", endpoint))
	} else {
		// stdout carries the diagnostic console, so spans go to stderr.
		exp, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, err
		}
		exporter = exp
		logger.Info("tracing initialized", slog.String("exporter", "stderr"))
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func initMetrics(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	reg := prom.NewRegistry()
	promExporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	return mp, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// instruments are the pipeline counters. A nil *instruments records nothing.
type instruments struct {
	events       metric.Int64Counter
	malformedCnt metric.Int64Counter
	registration metric.Registration
}

func newInstruments(meter metric.Meter, q *audio.ChunkQueue) (*instruments, error) {
	events, err := meter.Int64Counter("loqa_scribe.stt.events",
		metric.WithDescription("Decode events emitted, by kind"))
	if err != nil {
		return nil, err
	}
	malformed, err := meter.Int64Counter("loqa_scribe.stt.malformed",
		metric.WithDescription("Decoder payloads that could not be parsed"))
	if err != nil {
		return nil, err
	}
	enqueued, err := meter.Int64ObservableCounter("loqa_scribe.audio.chunks_enqueued",
		metric.WithDescription("Audio chunks accepted by the queue"))
	if err != nil {
		return nil, err
	}
	dropped, err := meter.Int64ObservableCounter("loqa_scribe.audio.chunks_dropped",
		metric.WithDescription("Audio chunks dropped because the queue was full"))
	if err != nil {
		return nil, err
	}
	depth, err := meter.Int64ObservableGauge("loqa_scribe.audio.queue_depth",
		metric.WithDescription("Chunks waiting for the recognizer"))
	if err != nil {
		return nil, err
	}

	reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(enqueued, int64(q.Enqueued()))
		o.ObserveInt64(dropped, int64(q.Dropped()))
		o.ObserveInt64(depth, int64(q.Len()))
		return nil
	}, enqueued, dropped, depth)
	if err != nil {
		return nil, err
	}
	return &instruments{events: events, malformedCnt: malformed, registration: reg}, nil
}

func (m *instruments) decoded(ctx context.Context, kind stt.EventKind) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

func (m *instruments) malformed(ctx context.Context) {
	if m == nil {
		return
	}
	m.malformedCnt.Add(ctx, 1)
}

func (m *instruments) close() {
	if m == nil || m.registration == nil {
		return
	}
	_ = m.registration.Unregister()
}
