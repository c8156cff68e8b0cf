package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqi-forecast/internal/model"
	"github.com/couchcryptid/aqi-forecast/internal/store"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit the linear model on the feature table and write the artifact",
	RunE:  runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
	trainCmd.Flags().String("config", "", "training config YAML (defaults apply when empty)")
	trainCmd.Flags().String("out", "", "artifact path (default MODEL_PATH)")
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")
	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = cfg.ModelPath
	}

	tc, err := model.LoadTrainConfig(cfgPath)
	if err != nil {
		return err
	}

	features, closeFeatures, err := store.OpenFeatureStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeFeatures() //nolint:errcheck // read-only here

	rows, err := features.LoadFeatures(cmd.Context())
	if err != nil {
		return fmt.Errorf("load features: %w", err)
	}

	artifact, err := model.Train(cmd.Context(), rows, *tc)
	if err != nil {
		return err
	}
	if err := model.SaveArtifact(out, artifact); err != nil {
		return err
	}

	m := artifact.Metrics
	logger.Info("model trained", "path", out, "fingerprint", artifact.Schema.Fingerprint,
		"train_rows", m.TrainRows, "test_rows", m.TestRows)
	fmt.Fprintf(cmd.OutOrStdout(), "mae=%.3f rmse=%.3f r2=%.4f split=%s train=%d test=%d\n",
		m.MAE, m.RMSE, m.R2, m.SplitDate, m.TrainRows, m.TestRows)
	return nil
}
