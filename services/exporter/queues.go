package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ramiqadoumi/celery-exporter/internal/celery"
	"github.com/ramiqadoumi/celery-exporter/pkg/telemetry"
)

// DefaultQueueInterval is the wait between queue sampling passes.
const DefaultQueueInterval = 15 * time.Second

type queueTask struct {
	Queue string
	Task  string
}

// QueueSampler publishes the length of every active queue and the number of
// pending messages per task type. Series missing from a pass are zeroed, and
// removed if they are still missing on the following pass.
type QueueSampler struct {
	inspector QueueInspector
	metrics   *telemetry.Metrics
	interval  time.Duration
	timeout   time.Duration
	logger    *slog.Logger

	sizes *telemetry.PassTracker[string]
	tasks *telemetry.PassTracker[queueTask]
}

// NewQueueSampler returns a sampler. timeout bounds the active_queues
// broadcast; non-positive durations fall back to the defaults.
func NewQueueSampler(inspector QueueInspector, m *telemetry.Metrics, interval, timeout time.Duration, logger *slog.Logger) *QueueSampler {
	if interval <= 0 {
		interval = DefaultQueueInterval
	}
	if timeout <= 0 {
		timeout = DefaultInspectTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueSampler{
		inspector: inspector,
		metrics:   m,
		interval:  interval,
		timeout:   timeout,
		logger:    logger,
		sizes:     telemetry.NewPassTracker[string](),
		tasks:     telemetry.NewPassTracker[queueTask](),
	}
}

// Run samples until ctx is cancelled. A failed pass is logged and retried on
// the next interval.
func (s *QueueSampler) Run(ctx context.Context) {
	runEvery(ctx, s.interval, func(ctx context.Context) {
		if err := s.Sample(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("error while trying to update queues size", slog.String("error", err.Error()))
		}
	})
}

// Sample runs one pass. On error no metric is touched.
func (s *QueueSampler) Sample(ctx context.Context) (err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "exporter.sample_queues")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "queue sampling failed")
		}
		span.End()
	}()

	active, err := s.inspector.ActiveQueues(ctx, s.timeout)
	if err != nil {
		return fmt.Errorf("list active queues: %w", err)
	}
	names := queueNames(active)
	span.SetAttributes(attribute.Int("celery.queues", len(names)))

	contents, err := s.inspector.QueueContents(ctx, names)
	if err != nil {
		return err
	}

	queues := telemetry.NewLabelSet[string]()
	pairs := telemetry.NewLabelSet[queueTask]()
	for _, q := range contents {
		s.metrics.QueueSize.WithLabelValues(q.Name).Set(float64(q.Length))
		queues.Add(q.Name)

		for task, n := range s.tally(q) {
			s.metrics.QueueTasks.WithLabelValues(q.Name, task).Set(float64(n))
			pairs.Add(queueTask{Queue: q.Name, Task: task})
		}
	}

	zero, forget := s.sizes.Advance(queues)
	for _, q := range zero {
		s.metrics.QueueSize.WithLabelValues(q).Set(0)
	}
	for _, q := range forget {
		s.metrics.QueueSize.DeleteLabelValues(q)
	}

	zeroTasks, forgetTasks := s.tasks.Advance(pairs)
	for _, p := range zeroTasks {
		s.metrics.QueueTasks.WithLabelValues(p.Queue, p.Task).Set(0)
	}
	for _, p := range forgetTasks {
		s.metrics.QueueTasks.DeleteLabelValues(p.Queue, p.Task)
	}
	return nil
}

// tally counts the pending messages of q per task type. Messages without a
// readable task name are skipped.
func (s *QueueSampler) tally(q celery.QueueContents) map[string]int {
	counts := make(map[string]int)
	for _, msg := range q.Messages {
		name, err := celery.TaskName([]byte(msg))
		if err != nil {
			s.logger.Debug("skipping undecodable queued message",
				slog.String("queue", q.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		counts[name]++
	}
	return counts
}

// queueNames returns the unique queue names consumed by any worker, visiting
// workers in hostname order.
func queueNames(byWorker map[string][]celery.QueueInfo) []string {
	hosts := make([]string, 0, len(byWorker))
	for h := range byWorker {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)

	seen := make(map[string]struct{})
	var names []string
	for _, h := range hosts {
		for _, q := range byWorker[h] {
			if q.Name == "" {
				continue
			}
			if _, ok := seen[q.Name]; ok {
				continue
			}
			seen[q.Name] = struct{}{}
			names = append(names, q.Name)
		}
	}
	return names
}
