package celery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/celery-exporter/internal/domain"
)

// EventExchange is the fanout exchange Celery publishes events on.
const EventExchange = "celeryev"

// EventStream is a live subscription to the broker's event channel.
type EventStream struct {
	ps        *redis.PubSub
	pattern   string
	heartbeat time.Duration
	now       func() time.Time
}

// SubscribeEvents subscribes to every event routing key. It returns once the
// broker has confirmed the subscription. When heartbeat is positive, Next
// pings the connection after that long without a message so a dead
// connection is noticed.
func (c *Client) SubscribeEvents(ctx context.Context, heartbeat time.Duration) (*EventStream, error) {
	pattern := c.topic(EventExchange, "*")
	ps := c.rdb.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}
	return &EventStream{ps: ps, pattern: pattern, heartbeat: heartbeat, now: time.Now}, nil
}

// Pattern returns the channel pattern the stream is subscribed to.
func (s *EventStream) Pattern() string { return s.pattern }

// Next blocks until a message arrives and returns the events it carries, each
// stamped with local_received. A message that cannot be decoded yields a
// *domain.MalformedMessageError and leaves the stream usable; any other error
// means the connection is gone.
//
// go-redis does not watch ctx while reading a subscription, so cancelling ctx
// closes the stream to unblock the read. The stream is unusable afterwards.
func (s *EventStream) Next(ctx context.Context) ([]map[string]any, error) {
	stop := context.AfterFunc(ctx, func() { _ = s.ps.Close() })
	defer stop()

	for {
		var (
			msg any
			err error
		)
		if s.heartbeat > 0 {
			msg, err = s.ps.ReceiveTimeout(ctx, s.heartbeat)
		} else {
			msg, err = s.ps.Receive(ctx)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if isTimeout(err) {
				if err := s.ps.Ping(ctx); err != nil {
					return nil, fmt.Errorf("event stream heartbeat: %w", err)
				}
				continue
			}
			return nil, fmt.Errorf("receive event: %w", err)
		}

		switch m := msg.(type) {
		case *redis.Message:
			return DecodeEvents([]byte(m.Payload), s.now())
		case *redis.Subscription:
			if m.Count == 0 {
				return nil, fmt.Errorf("event subscription %s dropped", s.pattern)
			}
		case *redis.Pong:
		}
	}
}

// Close ends the subscription.
func (s *EventStream) Close() error { return s.ps.Close() }

// DecodeEvents decodes an event message. The body is a single event object or
// a list of them when the producer buffers events.
func DecodeEvents(payload []byte, receivedAt time.Time) ([]map[string]any, error) {
	env, err := ParseEnvelope(payload)
	if err != nil {
		return nil, err
	}

	var body any
	if err := env.DecodeBody(&body); err != nil {
		return nil, err
	}

	stamp := float64(receivedAt.UnixNano()) / 1e9
	switch b := body.(type) {
	case map[string]any:
		b["local_received"] = stamp
		return []map[string]any{b}, nil
	case []any:
		out := make([]map[string]any, 0, len(b))
		for _, item := range b {
			evt, ok := item.(map[string]any)
			if !ok {
				continue
			}
			evt["local_received"] = stamp
			out = append(out, evt)
		}
		return out, nil
	}
	return nil, &domain.MalformedMessageError{Reason: fmt.Sprintf("unexpected event body %T", body)}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
