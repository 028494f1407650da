package exporter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultWorkerInterval = 5 * time.Second
	DefaultPingTimeout    = 5 * time.Second
)

// WorkerSampler publishes the number of workers answering a ping. A failed
// ping keeps the previous value.
type WorkerSampler struct {
	pinger   Pinger
	gauge    prometheus.Gauge
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// NewWorkerSampler returns a sampler writing to gauge. Non-positive durations
// fall back to the defaults.
func NewWorkerSampler(pinger Pinger, gauge prometheus.Gauge, interval, timeout time.Duration, logger *slog.Logger) *WorkerSampler {
	if interval <= 0 {
		interval = DefaultWorkerInterval
	}
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerSampler{pinger: pinger, gauge: gauge, interval: interval, timeout: timeout, logger: logger}
}

// Run samples until ctx is cancelled.
func (s *WorkerSampler) Run(ctx context.Context) {
	runEvery(ctx, s.interval, func(ctx context.Context) {
		if err := s.Sample(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("error while pinging workers", slog.String("error", err.Error()))
		}
	})
}

// Sample pings the workers once and publishes how many replied.
func (s *WorkerSampler) Sample(ctx context.Context) error {
	hosts, err := s.pinger.Ping(ctx, s.timeout)
	if err != nil {
		return fmt.Errorf("ping workers: %w", err)
	}
	s.gauge.Set(float64(len(hosts)))
	return nil
}
