// Package tasks holds the bounded in-memory registry of tasks that have not
// reached a ready state.
package tasks

import (
	"container/list"
	"sync"

	"github.com/ramiqadoumi/celery-exporter/internal/domain"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 10000

// Update is the result of applying one event: the record as it was before the
// event, plus counts of every unready task after it.
type Update struct {
	Previous       domain.TaskRecord
	Found          bool
	Evicted        int
	ByState        map[domain.State]int
	ByStateAndName map[domain.StateName]int
}

// Registry maps task IDs to records. Records for ready tasks are removed as
// soon as their event is applied; when full, the oldest inserted record is
// evicted without any compensating accounting.
//
// State transitions are not validated: the last event applied wins.
type Registry struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // *domain.TaskRecord, front = oldest insertion
	index    map[string]*list.Element
}

// NewRegistry creates an empty Registry holding at most capacity records.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Upsert applies evt and returns a copy of the record as it was before.
func (r *Registry) Upsert(evt domain.Event) (prev domain.TaskRecord, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, found, _ = r.upsertLocked(evt)
	return prev, found
}

// Apply upserts evt and aggregates the remaining records in a single critical
// section, so the counts never observe a partially applied event.
func (r *Registry) Apply(evt domain.Event) Update {
	return r.ApplyThen(evt, nil)
}

// ApplyThen is Apply with fn called on the update before the lock is
// released. Concurrent callers therefore run fn in the order their events
// were applied. fn must not call back into the registry.
func (r *Registry) ApplyThen(evt domain.Event, fn func(Update)) Update {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, found, evicted := r.upsertLocked(evt)
	u := Update{
		Previous:       prev,
		Found:          found,
		Evicted:        evicted,
		ByState:        r.countByStateLocked(),
		ByStateAndName: r.countByStateAndNameLocked(),
	}
	if fn != nil {
		fn(u)
	}
	return u
}

func (r *Registry) upsertLocked(evt domain.Event) (prev domain.TaskRecord, found bool, evicted int) {
	el, found := r.index[evt.UUID]
	if found {
		prev = *el.Value.(*domain.TaskRecord)
	}

	if evt.State.IsReady() {
		if found {
			r.order.Remove(el)
			delete(r.index, evt.UUID)
		}
		return prev, found, 0
	}

	if !found {
		for r.order.Len() >= r.capacity {
			oldest := r.order.Front()
			r.order.Remove(oldest)
			delete(r.index, oldest.Value.(*domain.TaskRecord).ID)
			evicted++
		}
		el = r.order.PushBack(&domain.TaskRecord{ID: evt.UUID})
		r.index[evt.UUID] = el
	}

	rec := el.Value.(*domain.TaskRecord)
	rec.State = evt.State
	rec.LocalReceived = evt.LocalReceived
	if evt.Name != "" {
		rec.Name = evt.Name
	}
	if evt.Hostname != "" {
		rec.Hostname = evt.Hostname
	}
	switch evt.State {
	case domain.StateReceived:
		rec.ReceivedAt = evt.LocalReceived
	case domain.StateStarted:
		rec.StartedAt = evt.LocalReceived
	}
	if evt.HasRuntime {
		rec.Runtime = evt.Runtime
	}
	return prev, found, evicted
}

// CountByState counts tracked tasks per state.
func (r *Registry) CountByState() map[domain.State]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countByStateLocked()
}

// CountByStateAndName counts tracked tasks per (state, name); tasks whose
// name is still unknown are skipped.
func (r *Registry) CountByStateAndName() map[domain.StateName]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countByStateAndNameLocked()
}

func (r *Registry) countByStateLocked() map[domain.State]int {
	counts := make(map[domain.State]int)
	for el := r.order.Front(); el != nil; el = el.Next() {
		counts[el.Value.(*domain.TaskRecord).State]++
	}
	return counts
}

func (r *Registry) countByStateAndNameLocked() map[domain.StateName]int {
	counts := make(map[domain.StateName]int)
	for el := r.order.Front(); el != nil; el = el.Next() {
		rec := el.Value.(*domain.TaskRecord)
		if rec.Name == "" {
			continue
		}
		counts[domain.StateName{State: rec.State, Name: rec.Name}]++
	}
	return counts
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (domain.TaskRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.index[id]
	if !ok {
		return domain.TaskRecord{}, false
	}
	return *el.Value.(*domain.TaskRecord), true
}

// Len returns the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

// Cap returns the capacity bound.
func (r *Registry) Cap() int { return r.capacity }
