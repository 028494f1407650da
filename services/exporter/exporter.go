package exporter

import (
	"context"
	"sync"
)

// Service runs every exporter loop side by side.
type Service struct {
	Monitor *Monitor
	Workers *WorkerSampler
	Queues  *QueueSampler
	// Enabler is optional.
	Enabler *EventsEnabler
}

// Run starts each loop in its own goroutine and blocks until ctx is
// cancelled and all of them have returned.
func (s *Service) Run(ctx context.Context) {
	loops := []func(context.Context){s.Monitor.Run, s.Workers.Run, s.Queues.Run}
	if s.Enabler != nil {
		loops = append(loops, s.Enabler.Run)
	}

	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(loop)
	}
	wg.Wait()
}

// Ready reports whether the event stream is connected.
func (s *Service) Ready() bool { return s.Monitor.Connected() }
