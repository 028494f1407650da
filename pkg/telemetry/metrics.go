package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every exported metric.
const DefaultNamespace = "celery"

// Metrics holds every exported surface, registered on its own registry.
// Build it once per process and share it.
type Metrics struct {
	Registry *prometheus.Registry

	// ─── Task events ─────────────────────────────────────────────────────────

	Tasks       *prometheus.GaugeVec
	TasksByName *prometheus.GaugeVec
	TaskRuntime *prometheus.HistogramVec
	TaskLatency prometheus.Histogram

	// ─── Broker introspection ────────────────────────────────────────────────

	Workers    prometheus.Gauge
	QueueSize  *prometheus.GaugeVec
	QueueTasks *prometheus.GaugeVec
}

// NewMetrics creates the metric surfaces under namespace (DefaultNamespace
// when empty) along with Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		Tasks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Number of tasks per state.",
		}, []string{"state"}),

		TasksByName: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_by_name",
			Help:      "Number of tasks per state and name.",
		}, []string{"state", "name"}),

		TaskRuntime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_runtime_seconds",
			Help:      "Task runtime in seconds, reported by successful tasks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"name"}),

		TaskLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_latency_seconds",
			Help:      "Seconds between a task is received and started.",
			Buckets:   prometheus.DefBuckets,
		}),

		Workers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers",
			Help:      "Number of alive workers.",
		}),

		QueueSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Number of messages waiting in a queue.",
		}, []string{"queue"}),

		QueueTasks: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_tasks",
			Help:      "Number of messages of a task type waiting in a queue.",
		}, []string{"queue", "task"}),
	}
}
