package store

import (
	"context"
	"fmt"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Feature snapshots",
		SQL: `
CREATE TABLE IF NOT EXISTS feature_snapshots (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    built_at DATETIME NOT NULL,
    row_count INTEGER NOT NULL,
    current BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS feature_rows (
    snapshot_id TEXT NOT NULL REFERENCES feature_snapshots(id),
    city TEXT NOT NULL,
    date TEXT NOT NULL,
    aqi REAL NOT NULL,
    pm25 REAL,
    pm10 REAL,
    no2 REAL,
    so2 REAL,
    co REAL,
    o3 REAL,
    month INTEGER NOT NULL,
    day_of_week INTEGER NOT NULL,
    day_of_year INTEGER NOT NULL,
    aqi_lag_1 REAL NOT NULL,
    pm25_lag_1 REAL NOT NULL,
    aqi_lag_3 REAL NOT NULL,
    pm25_lag_3 REAL NOT NULL,
    aqi_lag_7 REAL NOT NULL,
    pm25_lag_7 REAL NOT NULL,
    aqi_roll_7 REAL NOT NULL,
    PRIMARY KEY (snapshot_id, city, date)
);
`,
	},
	{
		Version:     2,
		Description: "Current snapshot index",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_feature_snapshots_current ON feature_snapshots(current);
`,
	},
}

// Migrate applies every pending migration, each in its own transaction.
func (s *SQLite) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback() //nolint:errcheck // already failing
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, domain.Now(),
		); err != nil {
			tx.Rollback() //nolint:errcheck // already failing
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

func (s *SQLite) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *SQLite) appliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // read-only

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}
