package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/observability"
	"github.com/couchcryptid/aqi-forecast/internal/risk"
)

// Predictor forecasts a single city.
type Predictor interface {
	Predict(ctx context.Context, city string, group risk.Group) (domain.ForecastResult, error)
	Cities() ([]string, error)
}

// BatchLoader writes forecasts to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, results []domain.ForecastResult) error
}

// Publisher forecasts every known city and hands the results to a loader in
// one batch.
type Publisher struct {
	predictor Predictor
	loader    BatchLoader
	logger    *slog.Logger
	metrics   *observability.Metrics

	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsed      time.Duration
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithRetry sets the load retry schedule: exponential from initial, capped at
// maxInterval, giving up after maxElapsed.
func WithRetry(initial, maxInterval, maxElapsed time.Duration) PublisherOption {
	return func(p *Publisher) {
		p.initialInterval = initial
		p.maxInterval = maxInterval
		p.maxElapsed = maxElapsed
	}
}

// NewPublisher creates a Publisher. Load retries start at 200ms, double up to
// 5s and stop after one minute unless WithRetry says otherwise.
func NewPublisher(predictor Predictor, loader BatchLoader, logger *slog.Logger, metrics *observability.Metrics, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		predictor:       predictor,
		loader:          loader,
		logger:          logger,
		metrics:         metrics,
		initialInterval: 200 * time.Millisecond,
		maxInterval:     5 * time.Second,
		maxElapsed:      time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish forecasts every city for group and loads the batch. Cities that
// cannot be forecast are logged and skipped. It returns the number of
// forecasts loaded.
func (p *Publisher) Publish(ctx context.Context, group risk.Group) (int, error) {
	cities, err := p.predictor.Cities()
	if err != nil {
		return 0, err
	}

	batch := make([]domain.ForecastResult, 0, len(cities))
	for _, city := range cities {
		res, err := p.predictor.Predict(ctx, city, group)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			p.logger.Warn("forecast failed, skipping city", "city", city, "error", err)
			continue
		}
		batch = append(batch, res)
	}
	if len(batch) == 0 {
		return 0, errors.New("no forecasts to publish")
	}

	if err := p.load(ctx, batch); err != nil {
		p.metrics.PublishedBatches.WithLabelValues("error").Inc()
		return 0, err
	}

	p.metrics.PublishedBatches.WithLabelValues("success").Inc()
	p.metrics.PublishedForecast.Add(float64(len(batch)))
	p.logger.Info("forecasts published", "group", group.String(), "count", len(batch), "skipped", len(cities)-len(batch))
	return len(batch), nil
}

func (p *Publisher) load(ctx context.Context, batch []domain.ForecastResult) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialInterval
	b.MaxInterval = p.maxInterval
	b.MaxElapsedTime = p.maxElapsed

	op := func() error {
		return p.loader.LoadBatch(ctx, batch)
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Error("load batch failed, retrying", "error", err, "batch_size", len(batch), "wait", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("load forecast batch: %w", err)
	}
	return nil
}
