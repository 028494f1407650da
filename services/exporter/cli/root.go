package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

const serviceName = "celery-exporter"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          serviceName,
	Short:        "Prometheus exporter for Celery task events, workers and queues",
	SilenceUsage: true,
}

// Execute is the entry point called from cmd/celery-exporter/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./"+serviceName+".yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug | info | warn | error")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose (debug) logging")
	rootCmd.PersistentFlags().String("log-file", "", "write logs to this file with rotation instead of stdout")
	rootCmd.PersistentFlags().Int("log-max-size-mb", 100, "rotate the log file after this many megabytes")
	rootCmd.PersistentFlags().Int("log-max-backups", 5, "rotated log files to keep")
	rootCmd.PersistentFlags().Int("log-max-age-days", 28, "days to keep rotated log files")
	bindFlag("log_level", rootCmd.PersistentFlags(), "log-level")
	bindFlag("verbose", rootCmd.PersistentFlags(), "verbose")
	bindFlag("log_file", rootCmd.PersistentFlags(), "log-file")
	bindFlag("log_max_size_mb", rootCmd.PersistentFlags(), "log-max-size-mb")
	bindFlag("log_max_backups", rootCmd.PersistentFlags(), "log-max-backups")
	bindFlag("log_max_age_days", rootCmd.PersistentFlags(), "log-max-age-days")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newInitCmd(serviceName, defaultExporterYAML))
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.SetConfigName(serviceName)
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(home + "/.celery-exporter")
		viper.AddConfigPath("/etc/celery-exporter")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if !notFound && !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "error reading config file:", err)
			os.Exit(1)
		}
	} else {
		fmt.Fprintln(os.Stderr, "config:", viper.ConfigFileUsed())
	}
}

// logOutput is stdout, or a rotating file when path is set.
func logOutput(path string, maxSizeMB, maxBackups, maxAgeDays int) io.WriteCloser {
	if path == "" {
		return nopCloser{os.Stdout}
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func buildLogger(w io.Writer, level slog.Level, service string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})).
		With(slog.String("service", service))
}

func bindFlag(viperKey string, fs *pflag.FlagSet, flagName string) {
	if err := viper.BindPFlag(viperKey, fs.Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("bindFlag %q → %q: %v", flagName, viperKey, err))
	}
}
