package celery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/celery-exporter/pkg/telemetry"
)

const (
	// PidboxExchange is the fanout exchange workers read control commands from.
	PidboxExchange = "celery.pidbox"
	// ReplyExchange is the direct exchange workers publish replies to.
	ReplyExchange = "reply.celery.pidbox"

	bindingPrefix = "_kombu.binding."
	bindingSep    = "\x06\x16"
)

// ReplyTo addresses the reply of a control command.
type ReplyTo struct {
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
}

// ControlRequest is the body of a broadcast control command.
type ControlRequest struct {
	Method      string         `json:"method"`
	Arguments   map[string]any `json:"arguments"`
	Destination []string       `json:"destination"`
	Pattern     *string        `json:"pattern"`
	Matcher     *string        `json:"matcher"`
	Ticket      string         `json:"ticket,omitempty"`
	ReplyTo     *ReplyTo       `json:"reply_to,omitempty"`
}

// QueueInfo describes a queue a worker consumes from.
type QueueInfo struct {
	Name       string `json:"name"`
	RoutingKey string `json:"routing_key"`
	Durable    bool   `json:"durable"`
}

// Ping asks every worker to answer and returns the hostnames that replied
// within timeout.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) ([]string, error) {
	replies, err := c.broadcast(ctx, "ping", nil, true, timeout)
	if err != nil {
		return nil, err
	}
	hosts := make([]string, 0, len(replies))
	for _, r := range replies {
		for host := range r {
			hosts = append(hosts, host)
		}
	}
	return hosts, nil
}

// RegisteredTasks returns the task names each worker has registered.
func (c *Client) RegisteredTasks(ctx context.Context, timeout time.Duration) (map[string][]string, error) {
	replies, err := c.broadcast(ctx, "registered", map[string]any{"taskinfoitems": []string{}}, true, timeout)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(replies))
	for _, r := range replies {
		for host, raw := range r {
			var names []string
			if err := json.Unmarshal(raw, &names); err != nil {
				continue
			}
			out[host] = names
		}
	}
	return out, nil
}

// ActiveQueues returns the queues each worker consumes from.
func (c *Client) ActiveQueues(ctx context.Context, timeout time.Duration) (map[string][]QueueInfo, error) {
	replies, err := c.broadcast(ctx, "active_queues", nil, true, timeout)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]QueueInfo, len(replies))
	for _, r := range replies {
		for host, raw := range r {
			var queues []QueueInfo
			if err := json.Unmarshal(raw, &queues); err != nil {
				continue
			}
			out[host] = queues
		}
	}
	return out, nil
}

// EnableEvents asks every worker to start sending task events. Workers do
// not reply.
func (c *Client) EnableEvents(ctx context.Context) error {
	_, err := c.broadcast(ctx, "enable_events", nil, false, 0)
	return err
}

// broadcast publishes a control command to all workers and, when reply is
// set, collects replies until timeout. Each reply maps a hostname to its
// answer.
func (c *Client) broadcast(ctx context.Context, method string, args map[string]any, reply bool, timeout time.Duration) (replies []map[string]json.RawMessage, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "celery.control."+method)
	defer func() {
		span.SetAttributes(attribute.Int("celery.replies", len(replies)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "control command failed")
		}
		span.End()
	}()

	if args == nil {
		args = map[string]any{}
	}
	req := ControlRequest{Method: method, Arguments: args}
	headers := map[string]any{"clock": 1, "expires": 0}

	var oid, queue, binding string
	if reply {
		oid = uuid.NewString()
		req.Ticket = uuid.NewString()
		req.ReplyTo = &ReplyTo{Exchange: ReplyExchange, RoutingKey: oid}
		headers["expires"] = float64(time.Now().Add(timeout).UnixNano()) / 1e9

		queue = c.key(oid + "." + ReplyExchange)
		binding = oid + bindingSep + bindingSep + oid + "." + ReplyExchange
		if err := c.rdb.SAdd(ctx, c.key(bindingPrefix+ReplyExchange), binding).Err(); err != nil {
			return nil, fmt.Errorf("bind reply queue for %s: %w", method, err)
		}
		defer func() {
			cleanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			pipe := c.rdb.Pipeline()
			pipe.SRem(cleanCtx, c.key(bindingPrefix+ReplyExchange), binding)
			pipe.Del(cleanCtx, queue)
			_, _ = pipe.Exec(cleanCtx)
		}()
	}

	env, err := NewEnvelope(req, PidboxExchange, "", headers)
	if err != nil {
		return nil, err
	}
	payload, err := env.Marshal()
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Publish(ctx, c.topic(PidboxExchange, ""), payload).Err(); err != nil {
		return nil, fmt.Errorf("publish %s: %w", method, err)
	}
	if !reply {
		return nil, nil
	}
	return c.collect(ctx, queue, req.Ticket, timeout)
}

// collect pops replies from queue until timeout elapses. Replies carrying a
// different ticket belong to another request and are dropped.
func (c *Client) collect(ctx context.Context, queue, ticket string, timeout time.Duration) ([]map[string]json.RawMessage, error) {
	deadline := time.Now().Add(timeout)
	var replies []map[string]json.RawMessage
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return replies, nil
		}
		res, err := c.rdb.BRPop(ctx, remaining, queue).Result()
		if errors.Is(err, redis.Nil) {
			return replies, nil
		}
		if err != nil {
			return replies, fmt.Errorf("collect replies: %w", err)
		}
		if len(res) != 2 {
			continue
		}

		env, err := ParseEnvelope([]byte(res[1]))
		if err != nil {
			continue
		}
		if t := env.Header("ticket"); t != "" && t != ticket {
			continue
		}
		var body map[string]json.RawMessage
		if err := env.DecodeBody(&body); err != nil {
			continue
		}
		replies = append(replies, body)
	}
}
