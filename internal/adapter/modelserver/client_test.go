package modelserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/encoder"
	"github.com/couchcryptid/aqi-forecast/internal/observability"
)

const (
	contentTypeJSON   = "application/json"
	headerContentType = "Content-Type"
)

var testColumns = []string{"month", "aqi_lag_1", "city_Mumbai"}

func testClient(url string) *Client {
	return &Client{
		url:        url,
		columns:    testColumns,
		httpClient: &http.Client{Timeout: 2 * time.Second},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:    observability.NewMetricsForTesting(),
		maxElapsed: time.Second,
		initial:    time.Millisecond,
	}
}

func testVector() encoder.Vector {
	return encoder.Vector{Columns: testColumns, Values: []float64{6, 172, 0}}
}

func TestClient_Predict_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, contentTypeJSON, r.Header.Get(headerContentType))

		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, testColumns, req.Columns)
		assert.Equal(t, []float64{6, 172, 0}, req.Values)

		w.Header().Set(headerContentType, contentTypeJSON)
		_, _ = w.Write([]byte(`{"prediction": 180.25}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	got, err := c.Predict(context.Background(), testVector())
	require.NoError(t, err)
	assert.InDelta(t, 180.25, got, 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(c.metrics.ModelRequests.WithLabelValues("success")), 0)
}

func TestClient_Predict_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"prediction": 42}`))
	}))
	defer srv.Close()

	got, err := testClient(srv.URL).Predict(context.Background(), testVector())
	require.NoError(t, err)
	assert.InDelta(t, 42.0, got, 0)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Predict_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	_, err := c.Predict(context.Background(), testVector())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
	assert.InDelta(t, 1.0, testutil.ToFloat64(c.metrics.ModelRequests.WithLabelValues("error")), 0)
}

func TestClient_Predict_UnprocessableIsSchemaMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown column city_Mumbai", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Predict(context.Background(), testVector())
	require.ErrorIs(t, err, domain.ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "unknown column city_Mumbai")
}

func TestClient_Predict_LocalLayoutCheck(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	v := encoder.Vector{Columns: []string{"month", "city_Mumbai", "aqi_lag_1"}, Values: []float64{6, 0, 172}}
	_, err := testClient(srv.URL).Predict(context.Background(), v)
	require.ErrorIs(t, err, domain.ErrSchemaMismatch)
	assert.Zero(t, calls.Load(), "mismatched layout must not reach the server")
}

func TestClient_Predict_MissingPrediction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := testClient(srv.URL).Predict(context.Background(), testVector())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no prediction")
}

func TestClient_Predict_GivesUpAfterMaxElapsed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	c.maxElapsed = 50 * time.Millisecond
	_, err := c.Predict(context.Background(), testVector())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestFactory(t *testing.T) {
	m := Factory(time.Second, slog.Default(), observability.NewMetricsForTesting())("http://models.local/predict", testColumns)
	assert.Equal(t, testColumns, m.Columns())
}
