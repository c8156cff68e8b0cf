package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/couchcryptid/aqi-forecast/internal/domain"
)

// ErrNoSnapshot is returned when the store holds no current feature snapshot.
var ErrNoSnapshot = errors.New("no current feature snapshot")

// SnapshotInfo describes one stored feature snapshot.
type SnapshotInfo struct {
	ID       string
	BuiltAt  time.Time
	RowCount int
	Current  bool
}

// SQLite keeps every feature table build as a snapshot and marks exactly one
// of them current.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite wraps an open database. Call Migrate before use.
func NewSQLite(db *sql.DB, logger *slog.Logger) *SQLite {
	return &SQLite{db: db, logger: logger}
}

// OpenSQLite opens the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	s := NewSQLite(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// SaveFeatures stores rows as a new snapshot and makes it current.
func (s *SQLite) SaveFeatures(ctx context.Context, rows []domain.FeatureRow) error {
	_, err := s.SaveSnapshot(ctx, rows)
	return err
}

// SaveSnapshot stores rows as a new snapshot and makes it current in the same
// transaction. It returns the snapshot id.
func (s *SQLite) SaveSnapshot(ctx context.Context, rows []domain.FeatureRow) (string, error) {
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO feature_snapshots (id, built_at, row_count, current) VALUES (?, ?, ?, FALSE)",
		id, domain.Now(), len(rows),
	); err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}

	cols := domain.FeatureTableColumns()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)+1), ", ")
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO feature_rows (snapshot_id, "+featureRowColumns()+") VALUES ("+placeholders+")")
	if err != nil {
		return "", fmt.Errorf("prepare feature insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // closed with the tx

	for i := range rows {
		if _, err := stmt.ExecContext(ctx, featureArgs(id, &rows[i])...); err != nil {
			return "", fmt.Errorf("insert feature row %s %s: %w", rows[i].City, rows[i].Date.Format(domain.DateLayout), err)
		}
	}

	if _, err := tx.ExecContext(ctx, "UPDATE feature_snapshots SET current = (id = ?)", id); err != nil {
		return "", fmt.Errorf("mark snapshot current: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit snapshot: %w", err)
	}

	s.logger.Info("feature snapshot saved", "snapshot", id, "rows", len(rows))
	return id, nil
}

// LoadFeatures returns the rows of the current snapshot ordered by city, then date.
func (s *SQLite) LoadFeatures(ctx context.Context) ([]domain.FeatureRow, error) {
	var id string
	err := s.db.QueryRowContext(ctx, "SELECT id FROM feature_snapshots WHERE current = TRUE").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("find current snapshot: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+featureRowColumns()+" FROM feature_rows WHERE snapshot_id = ? ORDER BY city, date", id)
	if err != nil {
		return nil, fmt.Errorf("query feature rows: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var out []domain.FeatureRow
	for rows.Next() {
		r, err := scanFeatureRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Snapshots lists stored snapshots, newest first.
func (s *SQLite) Snapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, built_at, row_count, current FROM feature_snapshots ORDER BY seq DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // read-only

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.ID, &info.BuiltAt, &info.RowCount, &info.Current); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Prune deletes all but the keep most recent snapshots. The current snapshot
// is never deleted. It returns the number of snapshots removed.
func (s *SQLite) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	const stale = `
		SELECT id FROM feature_snapshots
		WHERE current = FALSE
		AND seq NOT IN (SELECT seq FROM feature_snapshots ORDER BY seq DESC LIMIT ?)`

	if _, err := tx.ExecContext(ctx, "DELETE FROM feature_rows WHERE snapshot_id IN ("+stale+")", keep); err != nil {
		return 0, fmt.Errorf("prune feature rows: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM feature_snapshots WHERE id IN ("+stale+")", keep)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("pruned feature snapshots", "removed", n, "kept", keep)
	}
	return n, nil
}

func featureArgs(snapshotID string, r *domain.FeatureRow) []any {
	args := []any{snapshotID, r.City, r.Date.Format(domain.DateLayout), r.AQI}
	for _, p := range r.Pollutants() {
		args = append(args, *p)
	}
	for _, c := range domain.FeatureColumns {
		args = append(args, c.Value(*r))
	}
	return args
}

func scanFeatureRow(rows *sql.Rows) (domain.FeatureRow, error) {
	var (
		r    domain.FeatureRow
		date string
	)
	features := make([]float64, len(domain.FeatureColumns))

	dest := []any{&r.City, &date, &r.AQI}
	for _, p := range r.Pollutants() {
		dest = append(dest, p)
	}
	for i := range features {
		dest = append(dest, &features[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return r, fmt.Errorf("scan feature row: %w", err)
	}

	d, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return r, fmt.Errorf("feature row %s date %q: %w", r.City, date, err)
	}
	r.Date = d
	for i, c := range domain.FeatureColumns {
		c.Set(&r, features[i])
	}
	return r, nil
}

// featureRowColumns lists the feature_rows data columns in feature table order.
func featureRowColumns() string {
	return strings.Join(domain.FeatureTableColumns(), ", ")
}
