// Package exporter turns the event stream and the introspection API of a
// Celery deployment into Prometheus metrics.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ramiqadoumi/celery-exporter/internal/domain"
	"github.com/ramiqadoumi/celery-exporter/internal/events"
	"github.com/ramiqadoumi/celery-exporter/internal/tasks"
	"github.com/ramiqadoumi/celery-exporter/pkg/retry"
)

// DefaultReconnectDelay is the wait between event stream reconnect attempts.
const DefaultReconnectDelay = 5 * time.Second

// Monitor consumes task events, tracks unresolved tasks in a registry and
// keeps the task metrics in sync with it. It reconnects forever.
type Monitor struct {
	source    EventSource
	registry  *tasks.Registry
	projector *Projector
	baseline  *Baseline
	backoff   retry.Backoff
	logger    *slog.Logger

	connected atomic.Bool
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

func WithMonitorLogger(l *slog.Logger) MonitorOption     { return func(m *Monitor) { m.logger = l } }
func WithReconnectBackoff(b retry.Backoff) MonitorOption { return func(m *Monitor) { m.backoff = b } }

// NewMonitor wires a Monitor. baseline is applied on every (re)connect.
func NewMonitor(
	source EventSource,
	registry *tasks.Registry,
	projector *Projector,
	baseline *Baseline,
	opts ...MonitorOption,
) *Monitor {
	m := &Monitor{
		source:    source,
		registry:  registry,
		projector: projector,
		baseline:  baseline,
		backoff:   retry.Constant(DefaultReconnectDelay),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connected reports whether the event stream is currently subscribed.
func (m *Monitor) Connected() bool { return m.connected.Load() }

// Run captures events until ctx is cancelled. Transport failures reset the
// metrics to the baseline and are retried after the reconnect backoff.
func (m *Monitor) Run(ctx context.Context) {
	retry.Forever(ctx, m.backoff, func(attempt int, err error) {
		m.logger.Error("event stream connection failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		m.baseline.Apply(ctx)
	}, m.capture)
}

// capture subscribes once and processes events until the stream fails.
// It returns nil only when ctx is cancelled.
func (m *Monitor) capture(ctx context.Context) error {
	stream, err := m.source.Subscribe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe to events: %w", err)
	}
	defer func() { _ = stream.Close() }()

	m.baseline.Apply(ctx)
	m.connected.Store(true)
	defer m.connected.Store(false)
	m.logger.Info("connected to broker")

	for {
		batch, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var malformed *domain.MalformedMessageError
			if errors.As(err, &malformed) {
				m.logger.Debug("dropping undecodable event message", slog.String("error", err.Error()))
				continue
			}
			return fmt.Errorf("receive events: %w", err)
		}
		for _, raw := range batch {
			m.Process(raw)
		}
	}
}

// Process classifies one decoded event and applies it. Events outside the
// task group are ignored; malformed ones are dropped. The metrics are written
// while the registry is locked, so concurrent callers never publish an older
// snapshot over a newer one.
func (m *Monitor) Process(raw map[string]any) {
	evt, ok, err := events.Classify(raw)
	if err != nil {
		m.logger.Debug("dropping malformed event", slog.String("error", err.Error()))
		return
	}
	if !ok {
		return
	}

	u := m.registry.ApplyThen(evt, func(upd tasks.Update) { m.projector.Project(evt, upd) })
	if u.Evicted > 0 {
		m.logger.Debug("task registry full, evicted oldest task",
			slog.Int("capacity", m.registry.Cap()),
			slog.String("task_id", evt.UUID),
		)
	}
}
