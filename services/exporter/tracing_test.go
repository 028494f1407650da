package exporter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ramiqadoumi/celery-exporter/internal/celery"
	"github.com/ramiqadoumi/celery-exporter/pkg/telemetry"
)

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func TestQueueSampler_Spans(t *testing.T) {
	rec := recordSpans(t)
	m := telemetry.NewMetrics("")
	q := &fakeQueues{}
	q.set(map[string][]celery.QueueInfo{"celery@w1": consumes("q1", "q2")}, map[string][]string{})
	s := NewQueueSampler(q, m, 0, 0, nil)

	require.NoError(t, s.Sample(context.Background()))
	q.mu.Lock()
	q.err = errors.New("timeout")
	q.mu.Unlock()
	require.Error(t, s.Sample(context.Background()))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "exporter.sample_queues", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
