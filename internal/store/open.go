package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/couchcryptid/aqi-forecast/internal/config"
	"github.com/couchcryptid/aqi-forecast/internal/domain"
)

// FeatureStore persists the feature table.
type FeatureStore interface {
	SaveFeatures(ctx context.Context, rows []domain.FeatureRow) error
	LoadFeatures(ctx context.Context) ([]domain.FeatureRow, error)
}

// OpenFeatureStore returns the backend selected by cfg.FeatureStore and a
// function releasing it.
func OpenFeatureStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (FeatureStore, func() error, error) {
	switch cfg.FeatureStore {
	case config.StoreSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		db, err := OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	case config.StoreCSV:
		return NewCSVTable(cfg.FeatureTablePath), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown feature store %q", cfg.FeatureStore)
	}
}
