// Package modelserver scores feature vectors against a model served over HTTP.
package modelserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/encoder"
	"github.com/couchcryptid/aqi-forecast/internal/forecast"
	"github.com/couchcryptid/aqi-forecast/internal/model"
	"github.com/couchcryptid/aqi-forecast/internal/observability"
)

// Client implements model.Model by POSTing vectors to a prediction endpoint.
type Client struct {
	url        string
	columns    []string
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
	maxElapsed time.Duration
	initial    time.Duration
}

// NewClient creates a client for the model at url trained on columns. Each
// HTTP attempt is bounded by timeout.
func NewClient(url string, columns []string, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Client{
		url:        url,
		columns:    cols,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		metrics:    metrics,
		maxElapsed: 4 * timeout,
		initial:    100 * time.Millisecond,
	}
}

// Factory returns a forecast.RemoteModelFunc building clients that share
// timeout, logger and metrics.
func Factory(timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) forecast.RemoteModelFunc {
	return func(url string, columns []string) model.Model {
		return NewClient(url, columns, timeout, logger, metrics)
	}
}

// Columns returns the training column layout.
func (c *Client) Columns() []string { return c.columns }

// Predict sends the vector and returns the served prediction. The layout is
// checked locally first; the server answering 422 is also reported as a
// *domain.SchemaMismatchError.
func (c *Client) Predict(ctx context.Context, v encoder.Vector) (float64, error) {
	if err := domain.CompareColumns(c.columns, v.Columns); err != nil {
		return 0, err
	}
	body, err := json.Marshal(request{Columns: v.Columns, Values: v.Values})
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	start := time.Now()
	var prediction float64
	op := func() error {
		p, err := c.doRequest(ctx, body)
		if err != nil {
			return err
		}
		prediction = p
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxElapsedTime = c.maxElapsed
	notify := func(err error, wait time.Duration) {
		c.metrics.ModelRequests.WithLabelValues("retry").Inc()
		c.logger.Warn("model request failed, retrying", "url", c.url, "error", err, "wait", wait)
	}
	err = backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	c.metrics.ModelAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.ModelRequests.WithLabelValues("error").Inc()
		return 0, err
	}
	c.metrics.ModelRequests.WithLabelValues("success").Inc()
	return prediction, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, backoff.Permanent(ctx.Err())
		}
		return 0, fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		msg, _ := io.ReadAll(resp.Body)
		return 0, backoff.Permanent(&domain.SchemaMismatchError{
			Reason: fmt.Sprintf("model server rejected layout: %s", bytes.TrimSpace(msg)),
		})
	case resp.StatusCode >= http.StatusInternalServerError:
		msg, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("model server error: status %d: %s", resp.StatusCode, msg)
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(resp.Body)
		return 0, backoff.Permanent(fmt.Errorf("model server: status %d: %s", resp.StatusCode, msg))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if out.Prediction == nil {
		return 0, backoff.Permanent(fmt.Errorf("model server response has no prediction"))
	}
	if math.IsNaN(*out.Prediction) || math.IsInf(*out.Prediction, 0) {
		return 0, backoff.Permanent(fmt.Errorf("model server returned non-finite prediction"))
	}
	return *out.Prediction, nil
}

// Model server wire types.

type request struct {
	Columns []string  `json:"columns"`
	Values  []float64 `json:"values"`
}

type response struct {
	Prediction *float64 `json:"prediction"`
}
