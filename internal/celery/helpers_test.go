package celery_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/celery-exporter/internal/celery"
)

// newTestClient returns a broker client on a fresh miniredis, plus a raw
// client for seeding and inspecting keys.
func newTestClient(t *testing.T, opts celery.TransportOptions) (*celery.Client, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := celery.NewClient("redis://"+mr.Addr()+"/0", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	raw := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	return client, raw, mr
}

// fakeWorker answers pidbox control commands the way a Celery worker does.
type fakeWorker struct {
	hostname string
	answers  map[string]any
	ticket   string // overrides the reply ticket when set

	mu       sync.Mutex
	requests []celery.ControlRequest
}

func (w *fakeWorker) received() []celery.ControlRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]celery.ControlRequest, len(w.requests))
	copy(out, w.requests)
	return out
}

// start subscribes the worker to the pidbox channel of db 0 under prefix and
// serves requests until the test ends.
func (w *fakeWorker) start(t *testing.T, addr, prefix string) {
	t.Helper()
	ctx := context.Background()
	channel := prefix + "/0.celery.pidbox"
	bindingKey := prefix + "_kombu.binding.reply.celery.pidbox"
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ps := rdb.Subscribe(ctx, channel)
	_, err := ps.Receive(ctx)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = ps.Close()
		_ = rdb.Close()
	})

	go func() {
		for msg := range ps.Channel() {
			w.handle(ctx, rdb, prefix, bindingKey, msg.Payload)
		}
	}()
}

func (w *fakeWorker) handle(ctx context.Context, rdb *redis.Client, prefix, bindingKey, payload string) {
	env, err := celery.ParseEnvelope([]byte(payload))
	if err != nil {
		return
	}
	var req celery.ControlRequest
	if err := env.DecodeBody(&req); err != nil {
		return
	}
	w.mu.Lock()
	w.requests = append(w.requests, req)
	w.mu.Unlock()

	answer, ok := w.answers[req.Method]
	if req.ReplyTo == nil || !ok {
		return
	}

	members, err := rdb.SMembers(ctx, bindingKey).Result()
	if err != nil {
		return
	}
	ticket := req.Ticket
	if w.ticket != "" {
		ticket = w.ticket
	}
	for _, m := range members {
		parts := strings.Split(m, "\x06\x16")
		if len(parts) != 3 || parts[0] != req.ReplyTo.RoutingKey {
			continue
		}
		reply, err := celery.NewEnvelope(map[string]any{w.hostname: answer},
			req.ReplyTo.Exchange, req.ReplyTo.RoutingKey, map[string]any{"ticket": ticket})
		if err != nil {
			return
		}
		b, err := reply.Marshal()
		if err != nil {
			return
		}
		rdb.LPush(ctx, prefix+parts[2], b)
	}
}
