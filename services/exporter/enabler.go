package exporter

import (
	"context"
	"log/slog"
	"time"
)

// DefaultEnableEventsInterval is how often workers are told to emit events.
const DefaultEnableEventsInterval = 5 * time.Second

// EventsEnabler periodically asks every worker to emit task events, undoing
// a broker-wide disable_events issued elsewhere.
type EventsEnabler struct {
	target   EventsSwitch
	interval time.Duration
	logger   *slog.Logger
}

func NewEventsEnabler(target EventsSwitch, interval time.Duration, logger *slog.Logger) *EventsEnabler {
	if interval <= 0 {
		interval = DefaultEnableEventsInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsEnabler{target: target, interval: interval, logger: logger}
}

// Run issues enable_events until ctx is cancelled.
func (e *EventsEnabler) Run(ctx context.Context) {
	runEvery(ctx, e.interval, func(ctx context.Context) {
		if err := e.target.EnableEvents(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("error while trying to enable events", slog.String("error", err.Error()))
		}
	})
}
