package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ramiqadoumi/celery-exporter/internal/celery"
	"github.com/ramiqadoumi/celery-exporter/internal/domain"
	"github.com/ramiqadoumi/celery-exporter/pkg/retry"
)

const (
	BackoffFixed     = "fixed"
	BackoffQuadratic = "quadratic"
)

// Config holds typed configuration for the exporter.
type Config struct {
	LogLevel      string
	Verbose       bool
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int

	BrokerURL        string
	TransportOptions string
	Addr             string
	EnableEvents     bool
	TZ               string
	MaxTasksInMemory int
	Namespace        string

	WorkerInterval       time.Duration
	PingTimeout          time.Duration
	QueueInterval        time.Duration
	EnableEventsInterval time.Duration
	InspectTimeout       time.Duration
	Heartbeat            time.Duration

	ReconnectDelay    time.Duration
	ReconnectBackoff  string
	ReconnectMaxDelay time.Duration

	OTelEndpoint    string
	OTelSampleRatio float64
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:      v.GetString("log_level"),
		Verbose:       v.GetBool("verbose"),
		LogFile:       v.GetString("log_file"),
		LogMaxSizeMB:  v.GetInt("log_max_size_mb"),
		LogMaxBackups: v.GetInt("log_max_backups"),
		LogMaxAgeDays: v.GetInt("log_max_age_days"),

		BrokerURL:        v.GetString("broker_url"),
		TransportOptions: v.GetString("transport_options"),
		Addr:             v.GetString("addr"),
		EnableEvents:     v.GetBool("enable_events"),
		TZ:               v.GetString("tz"),
		MaxTasksInMemory: v.GetInt("max_tasks_in_memory"),
		Namespace:        v.GetString("namespace"),

		WorkerInterval:       v.GetDuration("worker_interval"),
		PingTimeout:          v.GetDuration("ping_timeout"),
		QueueInterval:        v.GetDuration("queue_interval"),
		EnableEventsInterval: v.GetDuration("enable_events_interval"),
		InspectTimeout:       v.GetDuration("inspect_timeout"),
		Heartbeat:            v.GetDuration("heartbeat"),

		ReconnectDelay:    v.GetDuration("reconnect_delay"),
		ReconnectBackoff:  v.GetString("reconnect_backoff"),
		ReconnectMaxDelay: v.GetDuration("reconnect_max_delay"),

		OTelEndpoint:    v.GetString("otel_endpoint"),
		OTelSampleRatio: v.GetFloat64("otel_sample_ratio"),
	}
}

// Level returns the log level; verbose forces debug.
func (c Config) Level() (slog.Level, error) {
	if c.Verbose {
		return slog.LevelDebug, nil
	}
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}

// Transport parses the broker transport options.
func (c Config) Transport() (celery.TransportOptions, error) {
	return celery.ParseTransportOptions(c.TransportOptions)
}

// Location resolves tz; nil means keep the process default.
func (c Config) Location() (*time.Location, error) {
	if c.TZ == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return nil, &domain.InvalidTimezoneError{Name: c.TZ, Err: err}
	}
	return loc, nil
}

// Backoff returns the event stream reconnect policy.
func (c Config) Backoff() (retry.Backoff, error) {
	switch strings.ToLower(c.ReconnectBackoff) {
	case "", BackoffFixed:
		return retry.Constant(c.ReconnectDelay), nil
	case BackoffQuadratic:
		return retry.Quadratic(c.ReconnectDelay, c.ReconnectMaxDelay), nil
	}
	return nil, fmt.Errorf("reconnect backoff %q: want %s or %s", c.ReconnectBackoff, BackoffFixed, BackoffQuadratic)
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Transport(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.Backoff(); err != nil {
		return err
	}
	if c.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %s", c.ReconnectDelay)
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return fmt.Errorf("otel sample ratio must be between 0 and 1, got %g", c.OTelSampleRatio)
	}
	return nil
}
