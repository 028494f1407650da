package exporter

import (
	"sync"

	"github.com/ramiqadoumi/celery-exporter/internal/domain"
	"github.com/ramiqadoumi/celery-exporter/internal/tasks"
	"github.com/ramiqadoumi/celery-exporter/pkg/telemetry"
)

// Projector turns registry updates into metric mutations.
//
// Ready events increment tasks{state} and tasks_by_name{state,name} once.
// After every event the in-flight gauges are overwritten from the registry
// snapshot for every state and (state, name) ever seen in flight, so
// combinations that are no longer present read zero instead of going stale.
type Projector struct {
	metrics *telemetry.Metrics

	mu             sync.Mutex
	inFlight       *telemetry.LabelSet[domain.State]
	inFlightByName *telemetry.LabelSet[domain.StateName]
	// every label published on the task gauges, ready counters included
	published       *telemetry.LabelSet[domain.State]
	publishedByName *telemetry.LabelSet[domain.StateName]
}

// NewProjector returns a Projector writing to m.
func NewProjector(m *telemetry.Metrics) *Projector {
	return &Projector{
		metrics:         m,
		inFlight:        telemetry.NewLabelSet[domain.State](),
		inFlightByName:  telemetry.NewLabelSet[domain.StateName](),
		published:       telemetry.NewLabelSet[domain.State](),
		publishedByName: telemetry.NewLabelSet[domain.StateName](),
	}
}

// Project records the effect of evt, whose registry outcome is u.
func (p *Projector) Project(evt domain.Event, u tasks.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Retries re-enter STARTED from RETRY and are not queueing latency.
	if evt.State == domain.StateStarted && u.Found && u.Previous.State == domain.StateReceived {
		p.metrics.TaskLatency.Observe(evt.LocalReceived.Sub(u.Previous.LocalReceived).Seconds())
	}

	if evt.State.IsReady() {
		p.projectReady(evt, u)
	}
	p.projectInFlight(u)
}

func (p *Projector) projectReady(evt domain.Event, u tasks.Update) {
	p.metrics.Tasks.WithLabelValues(string(evt.State)).Inc()
	p.published.Add(evt.State)

	name := u.Previous.Name
	if name == "" {
		name = evt.Name
	}
	if name == "" {
		return
	}
	p.metrics.TasksByName.WithLabelValues(string(evt.State), name).Inc()
	p.publishedByName.Add(domain.StateName{State: evt.State, Name: name})

	if evt.HasRuntime {
		p.metrics.TaskRuntime.WithLabelValues(name).Observe(evt.Runtime)
	}
}

func (p *Projector) projectInFlight(u tasks.Update) {
	for s := range u.ByState {
		p.inFlight.Add(s)
	}
	for _, s := range p.inFlight.Keys() {
		p.setState(s, float64(u.ByState[s]))
	}

	for sn := range u.ByStateAndName {
		p.inFlightByName.Add(sn)
	}
	for _, sn := range p.inFlightByName.Keys() {
		p.setStateName(sn, float64(u.ByStateAndName[sn]))
	}
}

// Zero sets every well-known state, every (state, name) for the given task
// names, and every label published so far to zero.
func (p *Projector) Zero(names []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range domain.AllStates {
		p.setState(s, 0)
		for _, name := range names {
			p.setStateName(domain.StateName{State: s, Name: name}, 0)
		}
	}
	p.zeroPublished()
}

// ZeroKnown sets only the labels published so far to zero.
func (p *Projector) ZeroKnown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.zeroPublished()
}

func (p *Projector) zeroPublished() {
	for _, s := range p.published.Keys() {
		p.metrics.Tasks.WithLabelValues(string(s)).Set(0)
	}
	for _, sn := range p.publishedByName.Keys() {
		p.metrics.TasksByName.WithLabelValues(string(sn.State), sn.Name).Set(0)
	}
}

func (p *Projector) setState(s domain.State, v float64) {
	p.metrics.Tasks.WithLabelValues(string(s)).Set(v)
	p.published.Add(s)
}

func (p *Projector) setStateName(sn domain.StateName, v float64) {
	p.metrics.TasksByName.WithLabelValues(string(sn.State), sn.Name).Set(v)
	p.publishedByName.Add(sn)
}
