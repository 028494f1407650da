package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultExporterYAML = `# celery-exporter config
# Priority: CLI flag > environment > this file > default.

broker_url: "redis://redis:6379/0"     # env BROKER_URL
# transport_options: '{"global_keyprefix": "app:"}'
addr: "0.0.0.0:8888"                   # env DEFAULT_ADDR
log_level: "info"
# verbose: true
# log_file: "/var/log/celery-exporter.log"

enable_events: false                   # periodically send enable_events to workers
# tz: "Europe/Berlin"
max_tasks_in_memory: 10000             # env DEFAULT_MAX_TASKS_IN_MEMORY
namespace: "celery"

worker_interval: "5s"
ping_timeout: "5s"
queue_interval: "15s"
enable_events_interval: "5s"
inspect_timeout: "1s"
heartbeat: "30s"                       # ping the event subscription after this much silence

reconnect_delay: "5s"
reconnect_backoff: "fixed"             # fixed | quadratic
# reconnect_max_delay: "1m"

# otel_endpoint: "localhost:4318"      # uncomment to enable OpenTelemetry tracing
# otel_sample_ratio: 1.0
`

func newInitCmd(serviceName, defaultYAML string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: fmt.Sprintf(`Write default configuration for %s.

If --config is given the file is written to that path.
Otherwise it is written to ~/.celery-exporter/%s.yaml.
Fails if the file already exists unless --force is passed.`, serviceName, serviceName),
		RunE: func(cmd *cobra.Command, _ []string) error {
			dest := cfgFile
			if dest == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("home dir: %w", err)
				}
				dest = filepath.Join(home, ".celery-exporter", serviceName+".yaml")
			}

			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("mkdir: %w", err)
			}

			if !force {
				if _, err := os.Stat(dest); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat %s: %w", dest, err)
				}
			}

			if err := os.WriteFile(dest, []byte(defaultYAML), 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", dest)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config file")
	return cmd
}
