// Package forecast serves city forecasts from an immutable snapshot of the
// model, its encoder schema and the encoded feature table.
package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/encoder"
	"github.com/couchcryptid/aqi-forecast/internal/model"
	"github.com/couchcryptid/aqi-forecast/internal/observability"
)

// ErrNoSnapshot is returned until the first snapshot has been loaded.
var ErrNoSnapshot = errors.New("no snapshot loaded")

// Snapshot is everything one forecast needs. It is never mutated after
// construction and may be shared between goroutines.
type Snapshot struct {
	ID       string
	Schema   *encoder.Schema
	Table    *encoder.Table
	Model    model.Model
	LoadedAt time.Time
	// Cities lists the cities that have at least one row, sorted.
	Cities []string
}

// NewSnapshot binds a model to a table encoded under the same schema.
func NewSnapshot(schema *encoder.Schema, table *encoder.Table, m model.Model) (*Snapshot, error) {
	if table.Schema != schema {
		return nil, &domain.SchemaMismatchError{Reason: "table was encoded with a different schema"}
	}
	if err := domain.CompareColumns(schema.Columns, m.Columns()); err != nil {
		return nil, fmt.Errorf("model columns: %w", err)
	}
	return &Snapshot{
		ID:       uuid.NewString(),
		Schema:   schema,
		Table:    table,
		Model:    m,
		LoadedAt: domain.Now(),
		Cities:   table.Cities(),
	}, nil
}

// SnapshotSource yields the snapshot requests are served from.
type SnapshotSource interface {
	Current() (*Snapshot, error)
}

// SnapshotLoader builds a fresh snapshot.
type SnapshotLoader interface {
	Load(ctx context.Context) (*Snapshot, error)
}

// Holder publishes the current snapshot. Readers never lock; reloads are
// serialized and a failed reload leaves the previous snapshot in place.
type Holder struct {
	loader  SnapshotLoader
	logger  *slog.Logger
	metrics *observability.Metrics

	current atomic.Pointer[Snapshot]
	mu      sync.Mutex
}

// NewHolder returns an empty holder. Call Reload to load the first snapshot.
func NewHolder(loader SnapshotLoader, logger *slog.Logger, metrics *observability.Metrics) *Holder {
	return &Holder{loader: loader, logger: logger, metrics: metrics}
}

// Current returns the published snapshot, or ErrNoSnapshot.
func (h *Holder) Current() (*Snapshot, error) {
	if s := h.current.Load(); s != nil {
		return s, nil
	}
	return nil, ErrNoSnapshot
}

// Reload builds a new snapshot and publishes it on success.
func (h *Holder) Reload(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	s, err := h.loader.Load(ctx)
	if err != nil {
		h.metrics.SnapshotReloads.WithLabelValues("error").Inc()
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrSchemaMismatch) {
			level = slog.LevelError
		}
		h.logger.Log(ctx, level, "snapshot reload failed, keeping previous snapshot", "error", err)
		return fmt.Errorf("reload snapshot: %w", err)
	}

	prev := h.current.Swap(s)
	h.metrics.SnapshotReloads.WithLabelValues("success").Inc()
	h.metrics.SnapshotRows.Set(float64(s.Table.Len()))
	h.metrics.SnapshotLoaded.Set(float64(s.LoadedAt.Unix()))

	attrs := []any{
		"snapshot", s.ID,
		"rows", s.Table.Len(),
		"cities", len(s.Cities),
		"fingerprint", s.Schema.Fingerprint,
		"duration", time.Since(start),
	}
	if prev != nil {
		attrs = append(attrs, "previous", prev.ID)
	}
	h.logger.Info("snapshot loaded", attrs...)
	return nil
}

// CheckReadiness returns nil once a snapshot has been published.
func (h *Holder) CheckReadiness(_ context.Context) error {
	if h.current.Load() == nil {
		return ErrNoSnapshot
	}
	return nil
}

// Schedule reloads the snapshot on a cron schedule ("@every 1h", "0 3 * * *")
// until ctx ends. Reload failures are logged and retried at the next tick.
func (h *Holder) Schedule(ctx context.Context, spec string) error {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		_ = h.Reload(ctx) //nolint:errcheck // logged by Reload
	}); err != nil {
		return fmt.Errorf("invalid reload schedule %q: %w", spec, err)
	}

	c.Start()
	h.logger.Info("snapshot reload scheduled", "schedule", spec)
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
