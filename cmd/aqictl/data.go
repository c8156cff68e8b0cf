package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/aqi-forecast/internal/config"
	"github.com/couchcryptid/aqi-forecast/internal/pipeline"
	"github.com/couchcryptid/aqi-forecast/internal/store"
)

//nolint:gochecknoglobals // Cobra commands are typically global
var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Merge raw CSV exports into the canonical table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPipeline(cmd, func(p *pipeline.Pipeline) error {
			stats, err := p.Normalize(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tables=%d read=%d kept=%d dropped=%v\n", stats.Tables, stats.Read, stats.Kept, stats.Dropped)
			return nil
		})
	},
}

//nolint:gochecknoglobals // Cobra commands are typically global
var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Build the feature table from the canonical table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPipeline(cmd, func(p *pipeline.Pipeline) error {
			stats, err := p.BuildFeatures(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "input=%d output=%d incomplete=%v\n", stats.Input, stats.Output, stats.Incomplete)
			return nil
		})
	},
}

//nolint:gochecknoglobals // Cobra commands are typically global
var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run normalize then features",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withPipeline(cmd, func(p *pipeline.Pipeline) error {
			report, err := p.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "canonical=%d features=%d\n", report.Normalize.Kept, report.Features.Output)
			return nil
		})
	},
}

//nolint:gochecknoglobals // Cobra commands are typically global
var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old SQLite feature snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.FeatureStore != config.StoreSQLite {
			return errors.New("prune needs FEATURE_STORE=sqlite")
		}
		keep, err := cmd.Flags().GetInt("keep")
		if err != nil {
			return err
		}
		db, err := store.OpenSQLite(cmd.Context(), cfg.SQLitePath, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.Prune(cmd.Context(), keep)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d snapshots\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(normalizeCmd, featuresCmd, pipelineCmd, pruneCmd)
	pruneCmd.Flags().Int("keep", 3, "number of snapshots to keep, current included")
}

func withPipeline(cmd *cobra.Command, run func(*pipeline.Pipeline) error) error {
	features, closeFeatures, err := store.OpenFeatureStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closeFeatures() //nolint:errcheck // read-mostly handle

	p := pipeline.New(
		store.NewRawDir(cfg.RawDir, logger),
		store.NewCSVTable(cfg.CanonicalTablePath),
		features, logger, metrics)
	return run(p)
}
