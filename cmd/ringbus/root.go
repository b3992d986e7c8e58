package main

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ringbus/ringbus/internal/config"
	"github.com/ringbus/ringbus/internal/logging"
	"github.com/ringbus/ringbus/internal/metrics"
)

var (
	logLevel  string
	logFormat string

	metricsAddr     string
	metricsInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "ringbus",
	Short: "Zero-copy shared-memory pub-sub bus and replication bridges",
	// PersistentPreRunE layers environment/.env configuration under the
	// CLI flags: a flag the operator actually passed always wins, but an
	// unset flag falls back to RINGBUS_* env vars instead of the bare
	// cobra default, the same ENV-over-default precedence config.Load
	// documents.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("log-level") {
			logLevel = cfg.LogLevel
		}
		if !cmd.Flags().Changed("log-format") {
			logFormat = cfg.LogFormat
		}
		if !cmd.Flags().Changed("metrics-addr") {
			metricsAddr = cfg.MetricsAddr
		}
		if !cmd.Flags().Changed("metrics-interval") {
			metricsInterval = cfg.MetricsInterval
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "json, console")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on, e.g. :9090 (empty disables)")
	rootCmd.PersistentFlags().DurationVar(&metricsInterval, "metrics-interval", 15*time.Second, "process RSS/CPU sample interval")

	rootCmd.AddCommand(replicationCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(inspectCmd)
}

func newLogger() zerolog.Logger {
	return logging.New(logging.Config{Level: logLevel, Format: logFormat})
}

// startMetrics brings up the Prometheus endpoint and the process RSS/CPU
// collector for a long-running subcommand (a replication bridge or the
// synthetic producer), returning a stop func the caller defers. It is a
// no-op if the resolved metrics address is empty.
func startMetrics(log zerolog.Logger) func() {
	if metricsAddr == "" {
		return func() {}
	}

	collector := metrics.NewCollector(metricsInterval)
	go collector.Run()

	go func() {
		if err := metrics.Serve(metricsAddr); err != nil {
			log.Warn().Err(err).Str("addr", metricsAddr).Msg("metrics server stopped")
		}
	}()

	return collector.Stop
}
