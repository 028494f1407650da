package celery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/celery-exporter/internal/domain"
)

// QueueContents is the length and the raw messages of one queue.
type QueueContents struct {
	Name     string
	Length   int64
	Messages []string
}

// QueueContents reads the length and every pending message of each queue in a
// single pipelined round trip.
func (c *Client) QueueContents(ctx context.Context, names []string) ([]QueueContents, error) {
	if len(names) == 0 {
		return nil, nil
	}

	lengths := make([]*redis.IntCmd, len(names))
	ranges := make([]*redis.StringSliceCmd, len(names))
	pipe := c.rdb.Pipeline()
	for i, name := range names {
		lengths[i] = pipe.LLen(ctx, c.key(name))
		ranges[i] = pipe.LRange(ctx, c.key(name), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read queues: %w", err)
	}

	out := make([]QueueContents, len(names))
	for i, name := range names {
		out[i] = QueueContents{
			Name:     name,
			Length:   lengths[i].Val(),
			Messages: ranges[i].Val(),
		}
	}
	return out, nil
}

// TaskName extracts the task type of a queued task message: headers.task for
// message protocol 2, or the body's task field for protocol 1.
func TaskName(payload []byte) (string, error) {
	env, err := ParseEnvelope(payload)
	if err != nil {
		return "", err
	}
	if name := env.Header("task"); name != "" {
		return name, nil
	}

	var body struct {
		Task string `json:"task"`
	}
	raw, err := env.BodyBytes()
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Task == "" {
		return "", &domain.MalformedMessageError{Reason: "no task name in message"}
	}
	return body.Task, nil
}
