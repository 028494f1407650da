package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/celery-exporter/internal/celery"
	"github.com/ramiqadoumi/celery-exporter/internal/tasks"
	"github.com/ramiqadoumi/celery-exporter/internal/version"
	"github.com/ramiqadoumi/celery-exporter/pkg/retry"
	"github.com/ramiqadoumi/celery-exporter/pkg/telemetry"
	"github.com/ramiqadoumi/celery-exporter/services/exporter"
	"github.com/ramiqadoumi/celery-exporter/services/exporter/config"
	"github.com/ramiqadoumi/celery-exporter/services/exporter/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the exporter",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("broker-url", "redis://redis:6379/0", "URL of the Celery Redis broker")
	serveCmd.Flags().String("transport-options", "", "JSON object of broker transport options")
	serveCmd.Flags().String("addr", "0.0.0.0:8888", "address the metrics endpoint listens on")
	serveCmd.Flags().Bool("enable-events", false, "periodically ask workers to emit task events")
	serveCmd.Flags().String("tz", "", "timezone used by the Celery app (e.g. Europe/Berlin)")
	serveCmd.Flags().Int("max-tasks-in-memory", tasks.DefaultCapacity, "maximum number of unresolved tasks tracked")
	serveCmd.Flags().String("namespace", telemetry.DefaultNamespace, "metric name prefix")
	serveCmd.Flags().Duration("worker-interval", exporter.DefaultWorkerInterval, "interval between worker pings")
	serveCmd.Flags().Duration("ping-timeout", exporter.DefaultPingTimeout, "how long to wait for ping replies")
	serveCmd.Flags().Duration("queue-interval", exporter.DefaultQueueInterval, "interval between queue sampling passes")
	serveCmd.Flags().Duration("enable-events-interval", exporter.DefaultEnableEventsInterval, "interval between enable_events broadcasts")
	serveCmd.Flags().Duration("inspect-timeout", exporter.DefaultInspectTimeout, "how long to wait for inspect replies")
	serveCmd.Flags().Duration("heartbeat", 30*time.Second, "ping the event subscription after this long without messages; 0 disables")
	serveCmd.Flags().Duration("reconnect-delay", exporter.DefaultReconnectDelay, "wait before reconnecting the event stream")
	serveCmd.Flags().String("reconnect-backoff", config.BackoffFixed, "reconnect policy: fixed | quadratic")
	serveCmd.Flags().Duration("reconnect-max-delay", time.Minute, "upper bound for quadratic reconnect backoff")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	serveCmd.Flags().Float64("otel-sample-ratio", 1, "fraction of sampling passes traced, between 0 and 1")

	bindFlag("broker_url", serveCmd.Flags(), "broker-url")
	bindFlag("transport_options", serveCmd.Flags(), "transport-options")
	bindFlag("addr", serveCmd.Flags(), "addr")
	bindFlag("enable_events", serveCmd.Flags(), "enable-events")
	bindFlag("tz", serveCmd.Flags(), "tz")
	bindFlag("max_tasks_in_memory", serveCmd.Flags(), "max-tasks-in-memory")
	bindFlag("namespace", serveCmd.Flags(), "namespace")
	bindFlag("worker_interval", serveCmd.Flags(), "worker-interval")
	bindFlag("ping_timeout", serveCmd.Flags(), "ping-timeout")
	bindFlag("queue_interval", serveCmd.Flags(), "queue-interval")
	bindFlag("enable_events_interval", serveCmd.Flags(), "enable-events-interval")
	bindFlag("inspect_timeout", serveCmd.Flags(), "inspect-timeout")
	bindFlag("heartbeat", serveCmd.Flags(), "heartbeat")
	bindFlag("reconnect_delay", serveCmd.Flags(), "reconnect-delay")
	bindFlag("reconnect_backoff", serveCmd.Flags(), "reconnect-backoff")
	bindFlag("reconnect_max_delay", serveCmd.Flags(), "reconnect-max-delay")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	bindFlag("otel_sample_ratio", serveCmd.Flags(), "otel-sample-ratio")
	_ = viper.BindEnv("addr", "DEFAULT_ADDR")
	_ = viper.BindEnv("max_tasks_in_memory", "DEFAULT_MAX_TASKS_IN_MEMORY")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, _ := cfg.Level()
	opts, _ := cfg.Transport()
	backoff, _ := cfg.Backoff()
	if loc, _ := cfg.Location(); loc != nil {
		time.Local = loc
	}

	out := logOutput(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays)
	defer func() { _ = out.Close() }()
	logger := buildLogger(out, level, serviceName)
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.Version,
		Namespace:      cfg.Namespace,
		Endpoint:       cfg.OTelEndpoint,
		SampleRatio:    cfg.OTelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	client, err := celery.NewClient(cfg.BrokerURL, opts)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	metrics := telemetry.NewMetrics(cfg.Namespace)
	projector := exporter.NewProjector(metrics)
	baseline := exporter.NewBaseline(client, projector, metrics, cfg.InspectTimeout,
		logger.With(slog.String("component", "baseline")))

	svc := &exporter.Service{
		Monitor: exporter.NewMonitor(
			exporter.CeleryEvents{Client: client, Heartbeat: cfg.Heartbeat},
			tasks.NewRegistry(cfg.MaxTasksInMemory),
			projector,
			baseline,
			exporter.WithMonitorLogger(logger.With(slog.String("component", "monitor"))),
			exporter.WithReconnectBackoff(backoff),
		),
		Workers: exporter.NewWorkerSampler(client, metrics.Workers, cfg.WorkerInterval, cfg.PingTimeout,
			logger.With(slog.String("component", "workers-monitor"))),
		Queues: exporter.NewQueueSampler(client, metrics, cfg.QueueInterval, cfg.InspectTimeout,
			logger.With(slog.String("component", "queue-size"))),
	}
	if cfg.EnableEvents {
		svc.Enabler = exporter.NewEventsEnabler(client, cfg.EnableEventsInterval,
			logger.With(slog.String("component", "enable-events")))
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-quit
		logger.Info("shutting down")
		runCancel()
	}()

	// Not fatal: the monitor reconnects on its own.
	err = retry.Do(runCtx, retry.Config{
		MaxAttempts: 3,
		Backoff:     retry.Constant(time.Second),
		OnRetry: func(attempt int, err error) {
			logger.Warn("broker not reachable, retrying", slog.Int("attempt", attempt), slog.String("error", err.Error()))
		},
	}, func() error { return client.Check(runCtx) })
	if err != nil {
		logger.Error("broker not reachable, continuing", slog.String("error", err.Error()))
	}

	baseline.Apply(runCtx)
	serverDone := telemetry.StartMetricsServer(runCtx, telemetry.ServerConfig{
		Addr:       cfg.Addr,
		Gatherer:   metrics.Registry,
		Logger:     logger,
		Ready:      svc.Ready,
		Middleware: []func(http.Handler) http.Handler{middleware.RequestLogger(logger)},
	})

	logger.Info("exporter starting",
		slog.String("broker", redactURL(cfg.BrokerURL)),
		slog.String("addr", cfg.Addr),
		slog.Bool("enable_events", cfg.EnableEvents),
		slog.Int("max_tasks_in_memory", cfg.MaxTasksInMemory),
	)

	svc.Run(runCtx)
	<-serverDone
	logger.Info("stopped cleanly")
	return nil
}
