package exporter

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ramiqadoumi/celery-exporter/internal/domain"
	"github.com/ramiqadoumi/celery-exporter/internal/tasks"
	"github.com/ramiqadoumi/celery-exporter/pkg/telemetry"
)

// ── helpers ───────────────────────────────────────────────────────────────────

var t0 = time.Unix(1700000000, 0)

func event(id string, state domain.State, at time.Duration) domain.Event {
	return domain.Event{
		Type:          "task-" + string(state),
		State:         state,
		UUID:          id,
		LocalReceived: t0.Add(at),
	}
}

func named(evt domain.Event, name string) domain.Event {
	evt.Name = name
	return evt
}

type projection struct {
	metrics   *telemetry.Metrics
	registry  *tasks.Registry
	projector *Projector
}

func newProjection(capacity int) *projection {
	m := telemetry.NewMetrics("")
	return &projection{metrics: m, registry: tasks.NewRegistry(capacity), projector: NewProjector(m)}
}

func (p *projection) apply(evts ...domain.Event) {
	for _, evt := range evts {
		p.projector.Project(evt, p.registry.Apply(evt))
	}
}

func (p *projection) tasks(state domain.State) float64 {
	return testutil.ToFloat64(p.metrics.Tasks.WithLabelValues(string(state)))
}

func (p *projection) byName(state domain.State, name string) float64 {
	return testutil.ToFloat64(p.metrics.TasksByName.WithLabelValues(string(state), name))
}

func (p *projection) latencyCount(t *testing.T) uint64 {
	t.Helper()
	mfs, err := p.metrics.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "celery_task_latency_seconds" {
			return mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	return 0
}

func (p *projection) latencySum(t *testing.T) float64 {
	t.Helper()
	mfs, err := p.metrics.Registry.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "celery_task_latency_seconds" {
			return mf.GetMetric()[0].GetHistogram().GetSampleSum()
		}
	}
	return 0
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestProject_InFlightGauges(t *testing.T) {
	p := newProjection(0)
	p.apply(
		named(event("a", domain.StateReceived, 0), "app.add"),
		named(event("b", domain.StateReceived, 0), "app.add"),
		event("a", domain.StateStarted, time.Second),
	)

	assert.Equal(t, float64(1), p.tasks(domain.StateReceived))
	assert.Equal(t, float64(1), p.tasks(domain.StateStarted))
	assert.Equal(t, float64(1), p.byName(domain.StateReceived, "app.add"))
	assert.Equal(t, float64(1), p.byName(domain.StateStarted, "app.add"))
}

func TestProject_ReadyEventCountsOnceAndRemoves(t *testing.T) {
	p := newProjection(0)
	p.apply(
		named(event("a", domain.StateReceived, 0), "app.add"),
		event("a", domain.StateStarted, time.Second),
	)

	success := event("a", domain.StateSuccess, 2*time.Second)
	success.Runtime, success.HasRuntime = 0.75, true
	p.apply(success)

	assert.Equal(t, float64(1), p.tasks(domain.StateSuccess))
	assert.Equal(t, float64(1), p.byName(domain.StateSuccess, "app.add"))
	assert.Equal(t, float64(0), p.tasks(domain.StateStarted), "no longer in flight")
	assert.Equal(t, float64(0), p.byName(domain.StateStarted, "app.add"))
	assert.Equal(t, 0, p.registry.Len())
	assert.Equal(t, 1, testutil.CollectAndCount(p.metrics.TaskRuntime))
}

func TestProject_ReadyCountersSurviveLaterEvents(t *testing.T) {
	p := newProjection(0)
	p.apply(
		named(event("a", domain.StateReceived, 0), "app.add"),
		event("a", domain.StateFailure, time.Second),
		named(event("b", domain.StateReceived, 2*time.Second), "app.add"),
	)

	assert.Equal(t, float64(1), p.tasks(domain.StateFailure))
	assert.Equal(t, float64(1), p.byName(domain.StateFailure, "app.add"))
}

func TestProject_ReadyWithoutKnownName(t *testing.T) {
	p := newProjection(0)
	success := event("ghost", domain.StateSuccess, 0)
	success.Runtime, success.HasRuntime = 1, true
	p.apply(success)

	assert.Equal(t, float64(1), p.tasks(domain.StateSuccess))
	assert.Equal(t, 0, testutil.CollectAndCount(p.metrics.TasksByName))
	assert.Equal(t, 0, testutil.CollectAndCount(p.metrics.TaskRuntime), "runtime needs a task name")
	assert.Equal(t, 0, p.registry.Len(), "ready events never create records")
}

func TestProject_LatencyAfterReceived(t *testing.T) {
	p := newProjection(0)
	p.apply(
		event("a", domain.StateReceived, 0),
		event("a", domain.StateStarted, 1500*time.Millisecond),
	)

	assert.Equal(t, uint64(1), p.latencyCount(t))
	assert.InDelta(t, 1.5, p.latencySum(t), 1e-9)
}

func TestProject_NoLatencyAfterRetry(t *testing.T) {
	p := newProjection(0)
	p.apply(
		event("a", domain.StateReceived, 0),
		event("a", domain.StateRetry, 500*time.Millisecond),
		event("a", domain.StateStarted, time.Second),
	)

	assert.Equal(t, uint64(0), p.latencyCount(t))
}

func TestProject_NoLatencyForUnknownTask(t *testing.T) {
	p := newProjection(0)
	p.apply(event("a", domain.StateStarted, time.Second))

	assert.Equal(t, uint64(0), p.latencyCount(t))
}

func TestProject_EvictionIsNotCompensated(t *testing.T) {
	p := newProjection(2)
	p.apply(
		event("a", domain.StateReceived, 0),
		event("b", domain.StateReceived, 0),
		event("c", domain.StateReceived, 0),
	)

	assert.Equal(t, 2, p.registry.Len())
	assert.Equal(t, float64(2), p.tasks(domain.StateReceived))

	_, found := p.registry.Get("a")
	assert.False(t, found, "oldest insertion is evicted")
}

func TestZero_RegisteredNamesAndPublished(t *testing.T) {
	p := newProjection(0)
	p.apply(
		named(event("a", domain.StateReceived, 0), "app.legacy"),
		event("b", domain.StateRejected, 0),
	)

	p.projector.Zero([]string{"app.add"})

	for _, s := range domain.AllStates {
		assert.Equal(t, float64(0), p.tasks(s), "state %s", s)
		assert.Equal(t, float64(0), p.byName(s, "app.add"), "state %s", s)
	}
	assert.Equal(t, float64(0), p.tasks(domain.StateRejected))
	assert.Equal(t, float64(0), p.byName(domain.StateReceived, "app.legacy"))
	assert.Equal(t, len(domain.AllStates)+1, testutil.CollectAndCount(p.metrics.Tasks))
}

func TestZeroKnown_OnlyTouchesPublished(t *testing.T) {
	p := newProjection(0)
	p.apply(named(event("a", domain.StateReceived, 0), "app.add"))

	p.projector.ZeroKnown()

	assert.Equal(t, 1, testutil.CollectAndCount(p.metrics.Tasks))
	assert.Equal(t, float64(0), p.tasks(domain.StateReceived))
	assert.Equal(t, float64(0), p.byName(domain.StateReceived, "app.add"))
}
