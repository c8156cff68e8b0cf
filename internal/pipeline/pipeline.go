// Package pipeline runs the batch stages that turn raw source files into the
// persisted feature table, and publishes forecasts for every known city.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/features"
	"github.com/couchcryptid/aqi-forecast/internal/observability"
)

// Pipeline stages.
const (
	StageNormalize = "normalize"
	StageFeatures  = "features"
)

// RawSource reads the heterogeneous source tables.
type RawSource interface {
	ReadRaw(ctx context.Context) ([]domain.RawTable, error)
}

// CanonicalStore persists the canonical table between stages.
type CanonicalStore interface {
	SaveCanonical(ctx context.Context, records []domain.CanonicalRecord) error
	LoadCanonical(ctx context.Context) ([]domain.CanonicalRecord, error)
}

// FeatureSink persists the feature table.
type FeatureSink interface {
	SaveFeatures(ctx context.Context, rows []domain.FeatureRow) error
}

// Report summarizes a full run.
type Report struct {
	Normalize domain.NormalizeStats
	Features  features.BuildStats
}

// Pipeline orchestrates normalize then build-features.
type Pipeline struct {
	raw       RawSource
	canonical CanonicalStore
	features  FeatureSink
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// New creates a Pipeline with the given stores and observability.
func New(raw RawSource, canonical CanonicalStore, features FeatureSink, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		raw:       raw,
		canonical: canonical,
		features:  features,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run executes both stages in order.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	var r Report
	var err error
	if r.Normalize, err = p.Normalize(ctx); err != nil {
		return r, err
	}
	if r.Features, err = p.BuildFeatures(ctx); err != nil {
		return r, err
	}
	return r, nil
}

// Normalize folds the raw source tables into the canonical table.
func (p *Pipeline) Normalize(ctx context.Context) (domain.NormalizeStats, error) {
	start := time.Now()

	tables, err := p.raw.ReadRaw(ctx)
	if err != nil {
		return domain.NormalizeStats{}, fmt.Errorf("read raw tables: %w", err)
	}

	records, stats, err := domain.Normalize(tables)
	if err != nil {
		return stats, err
	}
	if err := p.canonical.SaveCanonical(ctx, records); err != nil {
		return stats, fmt.Errorf("save canonical table: %w", err)
	}

	for reason, n := range stats.Dropped {
		p.metrics.RowsDropped.WithLabelValues(reason).Add(float64(n))
	}
	p.metrics.PipelineRows.WithLabelValues(StageNormalize).Add(float64(stats.Kept))
	p.metrics.PipelineDuration.WithLabelValues(StageNormalize).Observe(time.Since(start).Seconds())

	p.logger.Info("canonical table written",
		"tables", stats.Tables,
		"read", stats.Read,
		"kept", stats.Kept,
		"dropped", stats.Dropped,
		"duration", time.Since(start),
	)
	return stats, nil
}

// BuildFeatures derives the feature table from the canonical table.
func (p *Pipeline) BuildFeatures(ctx context.Context) (features.BuildStats, error) {
	start := time.Now()

	records, err := p.canonical.LoadCanonical(ctx)
	if err != nil {
		return features.BuildStats{}, fmt.Errorf("load canonical table: %w", err)
	}

	rows, stats := features.Build(records)
	if len(stats.Incomplete) > 0 {
		p.logger.Warn("cities without a complete lag window", "cities", stats.Incomplete)
	}
	if err := p.features.SaveFeatures(ctx, rows); err != nil {
		return stats, fmt.Errorf("save feature table: %w", err)
	}

	p.metrics.RowsDropped.WithLabelValues("incomplete_window").Add(float64(stats.Input - stats.Output))
	p.metrics.PipelineRows.WithLabelValues(StageFeatures).Add(float64(stats.Output))
	p.metrics.PipelineDuration.WithLabelValues(StageFeatures).Observe(time.Since(start).Seconds())

	p.logger.Info("feature table written",
		"input", stats.Input,
		"output", stats.Output,
		"duration", time.Since(start),
	)
	return stats, nil
}
