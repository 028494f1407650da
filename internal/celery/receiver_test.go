package celery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/celery-exporter/internal/celery"
	"github.com/ramiqadoumi/celery-exporter/internal/domain"
)

func eventPayload(t *testing.T, body any) string {
	t.Helper()
	env, err := celery.NewEnvelope(body, celery.EventExchange, "task.received", nil)
	require.NoError(t, err)
	b, err := env.Marshal()
	require.NoError(t, err)
	return string(b)
}

func TestSubscribeEvents_ReceivesTaskEvents(t *testing.T) {
	client, _, mr := newTestClient(t, celery.DefaultTransportOptions())
	ctx := context.Background()

	stream, err := client.SubscribeEvents(ctx, 0)
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, "/0.celeryev/*", stream.Pattern())

	mr.Publish("/0.celeryev/task.received", eventPayload(t, map[string]any{
		"type": "task-received", "uuid": "task-1", "name": "app.add",
	}))

	evts, err := stream.Next(ctx)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "task-received", evts[0]["type"])
	assert.Contains(t, evts[0], "local_received")
}

func TestSubscribeEvents_MalformedMessageKeepsStream(t *testing.T) {
	client, _, mr := newTestClient(t, celery.DefaultTransportOptions())
	ctx := context.Background()

	stream, err := client.SubscribeEvents(ctx, 0)
	require.NoError(t, err)
	defer stream.Close()

	mr.Publish("/0.celeryev/task.received", "not-json")
	_, err = stream.Next(ctx)
	var malformed *domain.MalformedMessageError
	require.True(t, errors.As(err, &malformed), "expected MalformedMessageError, got %v", err)

	mr.Publish("/0.celeryev/task.started", eventPayload(t, map[string]any{"type": "task-started", "uuid": "task-1"}))
	evts, err := stream.Next(ctx)
	require.NoError(t, err)
	require.Len(t, evts, 1)
}

func TestSubscribeEvents_ConnectionLoss(t *testing.T) {
	client, _, mr := newTestClient(t, celery.DefaultTransportOptions())
	ctx := context.Background()

	stream, err := client.SubscribeEvents(ctx, 0)
	require.NoError(t, err)
	defer stream.Close()

	mr.Close()
	_, err = stream.Next(ctx)
	require.Error(t, err)
	var malformed *domain.MalformedMessageError
	assert.False(t, errors.As(err, &malformed), "connection loss is not a decode failure")
}

func TestSubscribeEvents_BrokerDown(t *testing.T) {
	client, _, mr := newTestClient(t, celery.DefaultTransportOptions())
	mr.Close()

	_, err := client.SubscribeEvents(context.Background(), 0)
	require.Error(t, err)
}

func TestSubscribeEvents_CancelledContext(t *testing.T) {
	for _, heartbeat := range []time.Duration{0, 30 * time.Second} {
		t.Run(heartbeat.String(), func(t *testing.T) {
			client, _, _ := newTestClient(t, celery.DefaultTransportOptions())

			stream, err := client.SubscribeEvents(context.Background(), heartbeat)
			require.NoError(t, err)
			defer stream.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				_, err := stream.Next(ctx)
				done <- err
			}()

			select {
			case err := <-done:
				require.Error(t, err)
				assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
			case <-time.After(2 * time.Second):
				t.Fatal("Next did not return after the context ended")
			}
		})
	}
}

func TestSubscribeEvents_NextAfterDeliveryKeepsStream(t *testing.T) {
	client, _, mr := newTestClient(t, celery.DefaultTransportOptions())

	stream, err := client.SubscribeEvents(context.Background(), 0)
	require.NoError(t, err)
	defer stream.Close()

	payload := eventPayload(t, map[string]any{"type": "task-started", "uuid": "a"})
	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		go func() {
			time.Sleep(20 * time.Millisecond)
			mr.Publish("/0.celeryev/task.started", payload)
		}()
		evts, err := stream.Next(ctx)
		cancel()
		require.NoError(t, err, "delivery %d", i)
		require.Len(t, evts, 1)
	}
}

func TestSubscribeEvents_WithoutFanoutPatterns(t *testing.T) {
	opts := celery.DefaultTransportOptions()
	opts.FanoutPatterns = false
	client, _, _ := newTestClient(t, opts)

	stream, err := client.SubscribeEvents(context.Background(), 0)
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, "/0.celeryev", stream.Pattern())
}

func TestDecodeEvents_BufferedList(t *testing.T) {
	payload := eventPayload(t, []map[string]any{
		{"type": "task-received", "uuid": "a"},
		{"type": "task-started", "uuid": "a"},
	})
	at := time.Unix(1700000000, 500000000)

	evts, err := celery.DecodeEvents([]byte(payload), at)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	for _, e := range evts {
		assert.InDelta(t, 1700000000.5, e["local_received"], 1e-6)
	}
}

func TestDecodeEvents_ScalarBody(t *testing.T) {
	_, err := celery.DecodeEvents([]byte(eventPayload(t, 42)), time.Now())
	var malformed *domain.MalformedMessageError
	require.True(t, errors.As(err, &malformed))
}
