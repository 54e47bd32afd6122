package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpanManagerEndsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())

	m := &otelSpanManager{}
	tr := provider.Tracer("eventcore")

	_, span := tr.Start(context.Background(), "eventcore.publish")
	m.EndSpanWithError(span, nil)

	_, span = tr.Start(context.Background(), "eventcore.dispatch")
	m.EndSpanWithError(span, errors.New("handler failed"))

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "handler failed", ended[1].Status().Description)
	require.Len(t, ended[1].Events(), 1, "expected the error to be recorded as a span event")
}

func TestSpanManagerNilSpan(t *testing.T) {
	m := NewSpanManager()
	assert.NotPanics(t, func() {
		m.EndSpanWithError(nil, errors.New("x"))
		m.AddSpanEvent(context.Background(), "orphan event")
	})
}
