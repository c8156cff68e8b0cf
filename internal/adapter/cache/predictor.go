// Package cache memoizes forecasts per snapshot. Keys embed the snapshot id,
// so a reload invalidates every entry without an explicit flush.
package cache

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/forecast"
	"github.com/couchcryptid/aqi-forecast/internal/observability"
	"github.com/couchcryptid/aqi-forecast/internal/risk"
)

// Backend stores forecasts by key.
type Backend interface {
	Get(ctx context.Context, key string) (domain.ForecastResult, bool, error)
	Set(ctx context.Context, key string, value domain.ForecastResult) error
}

// Inner is the forecaster being cached.
type Inner interface {
	Current() (*forecast.Snapshot, error)
	Cities() ([]string, error)
	PredictOn(ctx context.Context, snap *forecast.Snapshot, city string, group risk.Group) (domain.ForecastResult, error)
}

// CachedPredictor wraps a forecaster with a Backend. Only successful
// forecasts are stored.
type CachedPredictor struct {
	inner   Inner
	backend Backend
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCachedPredictor creates a cache decorator around inner.
func NewCachedPredictor(inner Inner, backend Backend, logger *slog.Logger, metrics *observability.Metrics) *CachedPredictor {
	return &CachedPredictor{inner: inner, backend: backend, logger: logger, metrics: metrics}
}

// Predict returns the cached forecast for the current snapshot, computing and
// storing it on a miss. Backend failures degrade to an uncached forecast.
func (c *CachedPredictor) Predict(ctx context.Context, city string, group risk.Group) (domain.ForecastResult, error) {
	snap, err := c.inner.Current()
	if err != nil {
		return domain.ForecastResult{}, err
	}
	key := Key(snap.ID, city, group)

	cached, ok, err := c.backend.Get(ctx, key)
	switch {
	case err != nil:
		c.metrics.CacheLookups.WithLabelValues("error").Inc()
		c.logger.Warn("forecast cache read failed", "key", key, "error", err)
	case ok:
		c.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return cached, nil
	default:
		c.metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	res, err := c.inner.PredictOn(ctx, snap, city, group)
	if err != nil {
		return res, err
	}
	if err := c.backend.Set(ctx, key, res); err != nil {
		c.logger.Warn("forecast cache write failed", "key", key, "error", err)
	}
	return res, nil
}

func (c *CachedPredictor) Current() (*forecast.Snapshot, error) { return c.inner.Current() }

func (c *CachedPredictor) Cities() ([]string, error) { return c.inner.Cities() }

// Key builds the cache key for one forecast.
func Key(snapshotID, city string, group risk.Group) string {
	return snapshotID + "|" + city + "|" + group.String()
}
