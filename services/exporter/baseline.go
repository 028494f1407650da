package exporter

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/ramiqadoumi/celery-exporter/pkg/telemetry"
)

// DefaultInspectTimeout bounds introspection broadcasts.
const DefaultInspectTimeout = time.Second

// Baseline resets the task and worker gauges to a known zero state, so
// dashboards show defined series before the first event arrives.
type Baseline struct {
	inspector TaskInspector
	projector *Projector
	metrics   *telemetry.Metrics
	timeout   time.Duration
	logger    *slog.Logger
}

// NewBaseline returns a Baseline enumerating task names through inspector.
func NewBaseline(inspector TaskInspector, projector *Projector, m *telemetry.Metrics, timeout time.Duration, logger *slog.Logger) *Baseline {
	if timeout <= 0 {
		timeout = DefaultInspectTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Baseline{inspector: inspector, projector: projector, metrics: m, timeout: timeout, logger: logger}
}

// Apply zeroes the worker gauge and every task series: each well-known state
// crossed with every registered task name when workers can be inspected,
// only the series published so far when they cannot.
func (b *Baseline) Apply(ctx context.Context) {
	b.metrics.Workers.Set(0)

	registered, err := b.inspector.RegisteredTasks(ctx, b.timeout)
	if err != nil {
		b.logger.Warn("listing registered tasks failed, zeroing known series only",
			slog.String("error", err.Error()),
		)
		b.projector.ZeroKnown()
		return
	}
	b.projector.Zero(registeredNames(registered))
}

// registeredNames flattens the per-worker task lists into sorted unique names.
func registeredNames(byWorker map[string][]string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, list := range byWorker {
		for _, name := range list {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
