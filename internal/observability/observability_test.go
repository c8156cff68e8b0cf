package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqi-forecast/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewLoggerTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, &config.Config{LogLevel: "warn", LogFormat: "json"})

	logger.Info("dropped")
	logger.Warn("snapshot reload failed", "city", "Delhi")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "snapshot reload failed", line["msg"])
	assert.Equal(t, "Delhi", line["city"])
}

func TestNewLoggerTo_Text(t *testing.T) {
	var buf bytes.Buffer
	NewLoggerTo(&buf, &config.Config{LogLevel: "info", LogFormat: "TEXT"}).Info("ready", "rows", 3)
	assert.Contains(t, buf.String(), "msg=ready rows=3")
}

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()
	a.Forecasts.WithLabelValues("ok").Inc()

	assert.InDelta(t, 1.0, testutil.ToFloat64(a.Forecasts.WithLabelValues("ok")), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(b.Forecasts.WithLabelValues("ok")), 0)
}
