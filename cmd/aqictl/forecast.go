package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqi-forecast/internal/adapter/kafka"
	"github.com/couchcryptid/aqi-forecast/internal/adapter/modelserver"
	"github.com/couchcryptid/aqi-forecast/internal/forecast"
	"github.com/couchcryptid/aqi-forecast/internal/pipeline"
	"github.com/couchcryptid/aqi-forecast/internal/risk"
	"github.com/couchcryptid/aqi-forecast/internal/store"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var predictCmd = &cobra.Command{
	Use:   "predict <city>",
	Short: "Forecast one city and print the result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		group, err := groupFlag(cmd)
		if err != nil {
			return err
		}
		return withService(cmd, func(svc *forecast.Service) error {
			res, err := svc.Predict(cmd.Context(), args[0], group)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		})
	},
}

//nolint:gochecknoglobals // Cobra commands are typically global
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Forecast every city and publish the batch to Kafka",
	RunE: func(cmd *cobra.Command, _ []string) error {
		group, err := groupFlag(cmd)
		if err != nil {
			return err
		}
		return withService(cmd, func(svc *forecast.Service) error {
			writer := kafka.NewWriter(cfg, logger)
			defer writer.Close()

			n, err := pipeline.NewPublisher(svc, writer, logger, metrics).Publish(cmd.Context(), group)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d forecasts to %s\n", n, cfg.KafkaForecastTopic)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(predictCmd, publishCmd)
	for _, c := range []*cobra.Command{predictCmd, publishCmd} {
		c.Flags().String("group", "", "risk group (default DEFAULT_RISK_GROUP)")
	}
}

func groupFlag(cmd *cobra.Command) (risk.Group, error) {
	name, _ := cmd.Flags().GetString("group")
	if name == "" {
		return cfg.DefaultRiskGroup, nil
	}
	return risk.ParseGroup(name)
}

// withService loads one snapshot and hands a Service bound to it to run.
func withService(cmd *cobra.Command, run func(*forecast.Service) error) error {
	features, closeFeatures, err := store.OpenFeatureStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeFeatures() //nolint:errcheck // read-only here

	loader := forecast.NewArtifactLoader(cfg.ModelPath, features,
		modelserver.Factory(cfg.ModelTimeout, logger, metrics), logger)
	holder := forecast.NewHolder(loader, logger, metrics)
	if err := holder.Reload(cmd.Context()); err != nil {
		return err
	}
	return run(forecast.NewService(holder, logger, metrics))
}
