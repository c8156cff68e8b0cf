package forecast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/inference"
	"github.com/couchcryptid/aqi-forecast/internal/observability"
	"github.com/couchcryptid/aqi-forecast/internal/risk"
)

// Forecast outcomes recorded in metrics.
const (
	OutcomeOK             = "ok"
	OutcomeCityNotFound   = "city_not_found"
	OutcomeSchemaMismatch = "schema_mismatch"
	OutcomeError          = "error"
)

// Service answers forecast requests. It holds no mutable state of its own.
type Service struct {
	source  SnapshotSource
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService returns a service reading snapshots from source.
func NewService(source SnapshotSource, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{source: source, logger: logger, metrics: metrics}
}

// Current returns the snapshot requests are currently served from.
func (s *Service) Current() (*Snapshot, error) {
	return s.source.Current()
}

// Cities returns the sorted cities of the current snapshot.
func (s *Service) Cities() ([]string, error) {
	snap, err := s.source.Current()
	if err != nil {
		return nil, err
	}
	return snap.Cities, nil
}

// Predict forecasts city on the current snapshot.
func (s *Service) Predict(ctx context.Context, city string, group risk.Group) (domain.ForecastResult, error) {
	snap, err := s.source.Current()
	if err != nil {
		return domain.ForecastResult{}, err
	}
	return s.PredictOn(ctx, snap, city, group)
}

// PredictOn forecasts city on snap: the latest row of the city is scored by
// the snapshot model and the prediction is turned into a risk assessment for
// group. Floats in the result are rounded to two decimals.
func (s *Service) PredictOn(ctx context.Context, snap *Snapshot, city string, group risk.Group) (domain.ForecastResult, error) {
	start := time.Now()
	result, err := s.predict(ctx, snap, city, group)
	s.metrics.PredictDuration.Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		s.metrics.Forecasts.WithLabelValues(OutcomeOK).Inc()
	case errors.Is(err, domain.ErrCityNotFound):
		s.metrics.Forecasts.WithLabelValues(OutcomeCityNotFound).Inc()
		s.logger.Debug("forecast for unknown city", "city", city)
	case errors.Is(err, domain.ErrSchemaMismatch):
		s.metrics.Forecasts.WithLabelValues(OutcomeSchemaMismatch).Inc()
		s.logger.Error("feature schema does not match model", "city", city, "snapshot", snap.ID, "error", err)
	default:
		s.metrics.Forecasts.WithLabelValues(OutcomeError).Inc()
		s.logger.Warn("forecast failed", "city", city, "snapshot", snap.ID, "error", err)
	}
	return result, err
}

func (s *Service) predict(ctx context.Context, snap *Snapshot, city string, group risk.Group) (domain.ForecastResult, error) {
	sel, err := inference.Select(snap.Table, city)
	if err != nil {
		return domain.ForecastResult{}, err
	}
	if err := snap.Schema.Conform(sel.Vector); err != nil {
		return domain.ForecastResult{}, err
	}

	aqi, err := snap.Model.Predict(ctx, sel.Vector)
	if err != nil {
		return domain.ForecastResult{}, fmt.Errorf("predict %s: %w", city, err)
	}
	if math.IsNaN(aqi) || math.IsInf(aqi, 0) {
		return domain.ForecastResult{}, fmt.Errorf("predict %s: model returned %v", city, aqi)
	}

	a := risk.Assess(aqi, group)
	return domain.ForecastResult{
		City:              city,
		Group:             group,
		AsOf:              sel.AsOf.Format(domain.DateLayout),
		PredictedAQI:      round2(aqi),
		Category:          a.Category,
		RiskScore:         round2(a.Score),
		GroupAdjustedRisk: round2(a.Adjusted),
		Advisory:          a.Advisory,
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
