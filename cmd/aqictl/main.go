// Command aqictl runs the batch side of the forecast service: building the
// canonical and feature tables, training the model, one-off forecasts and
// publishing forecasts to Kafka. It reads the same environment as the server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqi-forecast/internal/config"
	"github.com/couchcryptid/aqi-forecast/internal/observability"
)

//nolint:gochecknoglobals // Global vars needed for cobra CLI
var (
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	logLevel string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var rootCmd = &cobra.Command{
	Use:           "aqictl",
	Short:         "Air quality forecast batch tooling",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.LogLevel = logLevel
		}
		cfg = loaded
		// stdout carries command output.
		logger = observability.NewLoggerTo(os.Stderr, cfg)
		metrics = observability.NewMetrics()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
