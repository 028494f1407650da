package exporter

import (
	"context"
	"time"

	"github.com/ramiqadoumi/celery-exporter/internal/celery"
)

// EventStream yields decoded event bodies until the connection fails.
type EventStream interface {
	Next(ctx context.Context) ([]map[string]any, error)
	Close() error
}

// EventSource opens a fresh event subscription.
type EventSource interface {
	Subscribe(ctx context.Context) (EventStream, error)
}

// TaskInspector enumerates the task names workers have registered.
type TaskInspector interface {
	RegisteredTasks(ctx context.Context, timeout time.Duration) (map[string][]string, error)
}

// Pinger probes worker liveness.
type Pinger interface {
	Ping(ctx context.Context, timeout time.Duration) ([]string, error)
}

// QueueInspector lists active queues and reads their contents.
type QueueInspector interface {
	ActiveQueues(ctx context.Context, timeout time.Duration) (map[string][]celery.QueueInfo, error)
	QueueContents(ctx context.Context, names []string) ([]celery.QueueContents, error)
}

// EventsSwitch asks workers to emit task events.
type EventsSwitch interface {
	EnableEvents(ctx context.Context) error
}

// Ensure *celery.Client satisfies every introspection interface at compile time.
var (
	_ TaskInspector  = (*celery.Client)(nil)
	_ Pinger         = (*celery.Client)(nil)
	_ QueueInspector = (*celery.Client)(nil)
	_ EventsSwitch   = (*celery.Client)(nil)
)

// CeleryEvents subscribes to the event exchange of a Celery broker.
type CeleryEvents struct {
	Client    *celery.Client
	Heartbeat time.Duration
}

// Subscribe implements EventSource.
func (e CeleryEvents) Subscribe(ctx context.Context) (EventStream, error) {
	stream, err := e.Client.SubscribeEvents(ctx, e.Heartbeat)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
