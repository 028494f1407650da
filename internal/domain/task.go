package domain

import "time"

// State is a task lifecycle state, spelled the way the broker spells it so
// metric label values match what Celery itself reports.
type State string

const (
	StatePending  State = "PENDING"
	StateReceived State = "RECEIVED"
	StateStarted  State = "STARTED"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
	StateRetry    State = "RETRY"
	StateRevoked  State = "REVOKED"
	StateRejected State = "REJECTED"
)

// AllStates is the broker's set of well-known states, pre-seeded at zero on
// baseline initialization. REJECTED is not part of it, matching Celery.
var AllStates = []State{
	StatePending,
	StateReceived,
	StateStarted,
	StateSuccess,
	StateFailure,
	StateRetry,
	StateRevoked,
}

// IsReady returns true for terminal states: no further lifecycle events are
// expected once a task reaches one of them.
func (s State) IsReady() bool {
	switch s {
	case StateSuccess, StateFailure, StateRevoked, StateRejected:
		return true
	}
	return false
}

// eventToState maps the sub-type of a "task-*" event to the resulting state.
var eventToState = map[string]State{
	"sent":      StatePending,
	"received":  StateReceived,
	"started":   StateStarted,
	"succeeded": StateSuccess,
	"failed":    StateFailure,
	"retried":   StateRetry,
	"revoked":   StateRevoked,
	"rejected":  StateRejected,
}

// StateForEvent returns the state a task enters on the given event sub-type
// ("received", "started", ...).
func StateForEvent(subType string) (State, bool) {
	s, ok := eventToState[subType]
	return s, ok
}

// Event is a classified task event.
type Event struct {
	Type          string
	State         State
	UUID          string
	Name          string
	Hostname      string
	LocalReceived time.Time
	Runtime       float64
	HasRuntime    bool
}

// TaskRecord is the exporter's view of a task that has not reached a ready
// state yet.
type TaskRecord struct {
	ID            string
	Name          string
	State         State
	Hostname      string
	ReceivedAt    time.Time
	StartedAt     time.Time
	LocalReceived time.Time
	Runtime       float64
}

// StateName is the (state, name) label pair used by the per-name gauges.
type StateName struct {
	State State
	Name  string
}
