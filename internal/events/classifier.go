// Package events turns decoded broker event bodies into task lifecycle
// transitions.
package events

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/ramiqadoumi/celery-exporter/internal/domain"
)

// TaskGroup is the event group carrying task lifecycle events.
const TaskGroup = "task"

// Group returns the group of an event type: the part before the first '-'
// ("task-started" → "task", "worker-heartbeat" → "worker").
func Group(eventType string) string {
	group, _, _ := strings.Cut(eventType, "-")
	return group
}

// Classify maps a raw event to a task lifecycle event.
//
// ok is false with a nil error when the event belongs to another group and
// should simply be ignored. A *domain.MalformedEventError is returned when a
// task event lacks the fields needed to apply it.
func Classify(raw map[string]any) (evt domain.Event, ok bool, err error) {
	eventType, isString := raw["type"].(string)
	if !isString || eventType == "" {
		return domain.Event{}, false, &domain.MalformedEventError{Field: "type", Reason: "is missing or not a string"}
	}
	if Group(eventType) != TaskGroup {
		return domain.Event{}, false, nil
	}

	subType := strings.TrimPrefix(eventType, TaskGroup+"-")
	state, known := domain.StateForEvent(subType)
	if !known {
		return domain.Event{}, false, &domain.MalformedEventError{Field: "type", Reason: "has unknown task event " + eventType}
	}

	id, isString := raw["uuid"].(string)
	if !isString || id == "" {
		return domain.Event{}, false, &domain.MalformedEventError{Field: "uuid", Reason: "is missing or not a string"}
	}

	received, isNumber := number(raw["local_received"])
	if !isNumber {
		return domain.Event{}, false, &domain.MalformedEventError{Field: "local_received", Reason: "is missing or not a number"}
	}

	evt = domain.Event{
		Type:          eventType,
		State:         state,
		UUID:          id,
		LocalReceived: FromEpoch(received),
	}
	if name, isString := raw["name"].(string); isString {
		evt.Name = name
	}
	if host, isString := raw["hostname"].(string); isString {
		evt.Hostname = host
	}
	if v, present := raw["runtime"]; present && v != nil {
		runtime, isNumber := number(v)
		if !isNumber {
			return domain.Event{}, false, &domain.MalformedEventError{Field: "runtime", Reason: "is not a number"}
		}
		evt.Runtime = runtime
		evt.HasRuntime = true
	}
	return evt, true, nil
}

// FromEpoch converts fractional Unix seconds to a time.Time.
func FromEpoch(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*1e9))
}

// ToEpoch is the inverse of FromEpoch.
func ToEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
