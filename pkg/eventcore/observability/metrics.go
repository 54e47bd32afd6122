// Package observability provides structured logging, metrics, and tracing
// for the event notification core.
//
// Nothing here is global application state: the Publisher and Dispatcher take
// a MetricsRecorder and SpanManager by injection, and every feature has a
// no-op implementation for when it is disabled.
package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records event-core metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records a publish call per event type.
	RecordPublish(ctx context.Context, eventType string, err error)

	// RecordAttempt records a delivery attempt with its outcome and latency.
	RecordAttempt(ctx context.Context, eventType, outcome string, attempt int, duration time.Duration)

	// RecordDeadLetter records an event reaching the dead-letter sink.
	RecordDeadLetter(ctx context.Context, eventType, reason string)

	// RecordDuplicate records a suppressed duplicate delivery.
	RecordDuplicate(ctx context.Context, eventType string)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	publishes      metric.Int64Counter
	publishErrors  metric.Int64Counter
	attempts       metric.Int64Counter
	attemptLatency metric.Float64Histogram
	deadLetters    metric.Int64Counter
	duplicates     metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("eventcore")

	publishes, err := meter.Int64Counter("eventcore.publish.count",
		metric.WithDescription("Number of publish calls"),
	)
	if err != nil {
		return nil, err
	}

	publishErrors, err := meter.Int64Counter("eventcore.publish.errors",
		metric.WithDescription("Number of failed publish calls"),
	)
	if err != nil {
		return nil, err
	}

	attempts, err := meter.Int64Counter("eventcore.delivery.attempts",
		metric.WithDescription("Number of delivery attempts"),
	)
	if err != nil {
		return nil, err
	}

	attemptLatency, err := meter.Float64Histogram("eventcore.delivery.latency_ms",
		metric.WithDescription("Handler invocation latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	deadLetters, err := meter.Int64Counter("eventcore.deadletter.count",
		metric.WithDescription("Number of dead-lettered events"),
	)
	if err != nil {
		return nil, err
	}

	duplicates, err := meter.Int64Counter("eventcore.duplicates.suppressed",
		metric.WithDescription("Number of duplicate deliveries suppressed"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		publishes:      publishes,
		publishErrors:  publishErrors,
		attempts:       attempts,
		attemptLatency: attemptLatency,
		deadLetters:    deadLetters,
		duplicates:     duplicates,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records a publish call.
func (m *otelMetrics) RecordPublish(ctx context.Context, eventType string, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
	}
	m.publishes.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err != nil {
		m.publishErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordAttempt records a delivery attempt.
func (m *otelMetrics) RecordAttempt(ctx context.Context, eventType, outcome string, attempt int, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
		attribute.Int("attempt", attempt),
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.attemptLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordDeadLetter records a dead-lettered event.
func (m *otelMetrics) RecordDeadLetter(ctx context.Context, eventType, reason string) {
	m.deadLetters.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("reason", reason),
	))
}

// RecordDuplicate records a suppressed duplicate.
func (m *otelMetrics) RecordDuplicate(ctx context.Context, eventType string) {
	m.duplicates.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}
