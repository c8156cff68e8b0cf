package model

import (
	"context"
	"database/sql"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/encoder"
)

// syntheticRows builds dense feature rows whose label is an exact linear
// function of the features.
func syntheticRows(days int) []domain.FeatureRow {
	rng := rand.New(rand.NewPCG(7, 11))
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	var rows []domain.FeatureRow
	for _, city := range []string{"Delhi", "Mumbai"} {
		for d := 0; d < days; d++ {
			date := start.AddDate(0, 0, d)
			r := domain.FeatureRow{
				CanonicalRecord: domain.CanonicalRecord{
					City: city,
					Date: date,
					PM25: sql.NullFloat64{Float64: 50, Valid: true},
				},
				Month:     int(date.Month()),
				DayOfWeek: (int(date.Weekday()) + 6) % 7,
				DayOfYear: date.YearDay(),
				AQILag1:   50 + 300*rng.Float64(),
				AQILag3:   50 + 300*rng.Float64(),
				AQILag7:   50 + 300*rng.Float64(),
				PM25Lag1:  10 + 150*rng.Float64(),
				PM25Lag3:  10 + 150*rng.Float64(),
				PM25Lag7:  10 + 150*rng.Float64(),
				AQIRoll7:  50 + 300*rng.Float64(),
			}
			r.AQI = 12 + 0.6*r.AQILag1 + 0.25*r.AQIRoll7 - 0.1*r.PM25Lag3
			if city == "Mumbai" {
				r.AQI -= 30
			}
			rows = append(rows, r)
		}
	}
	return rows
}

func TestTrain_RecoversNoiselessModel(t *testing.T) {
	a, err := Train(context.Background(), syntheticRows(120), TrainConfig{SplitQuantile: 0.8, Ridge: 1e-9})
	require.NoError(t, err)
	require.NoError(t, a.Validate())

	assert.Equal(t, []string{"Delhi", "Mumbai"}, a.Schema.Cities)
	assert.Equal(t, KindLinear, a.Kind)
	assert.InDelta(t, 12, a.Intercept, 1e-3)
	assert.InDelta(t, 0.6, a.Coefficients["aqi_lag_1"], 1e-5)
	assert.InDelta(t, 0.25, a.Coefficients["aqi_roll_7"], 1e-5)
	assert.InDelta(t, -0.1, a.Coefficients["pm25_lag_3"], 1e-5)
	assert.InDelta(t, -30, a.Coefficients["city_Mumbai"], 1e-3)
	assert.InDelta(t, 0, a.Coefficients["aqi_lag_7"], 1e-5)

	assert.Equal(t, 192, a.Metrics.TrainRows)
	assert.Equal(t, 48, a.Metrics.TestRows)
	assert.Less(t, a.Metrics.MAE, 1e-3)
	assert.Less(t, a.Metrics.RMSE, 1e-3)
	assert.InDelta(t, 1, a.Metrics.R2, 1e-6)
}

func TestTrain_SplitIsByDate(t *testing.T) {
	rows := syntheticRows(10)
	a, err := Train(context.Background(), rows, TrainConfig{SplitQuantile: 0.5, Ridge: 1e-3})
	require.NoError(t, err)

	split, err := time.Parse(time.RFC3339, a.Metrics.SplitDate)
	require.NoError(t, err)

	var train int
	for _, r := range rows {
		if r.Date.Before(split) {
			train++
		}
	}
	assert.Equal(t, train, a.Metrics.TrainRows)
	assert.Equal(t, len(rows)-train, a.Metrics.TestRows)
}

func TestTrain_SingleDateHasNoTrainingRows(t *testing.T) {
	rows := syntheticRows(1)
	_, err := Train(context.Background(), rows, TrainConfig{SplitQuantile: 0.8, Ridge: 1e-3})
	require.Error(t, err)
}

func TestTrain_Empty(t *testing.T) {
	_, err := Train(context.Background(), nil, TrainConfig{SplitQuantile: 0.8, Ridge: 1e-3})
	require.Error(t, err)
}

func TestSplitDate_Interpolates(t *testing.T) {
	s, err := encoder.NewSchema([]string{"Delhi"})
	require.NoError(t, err)
	day := func(d int) time.Time { return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC) }
	table := &encoder.Table{Schema: s, Rows: []encoder.Row{{Date: day(1)}, {Date: day(2)}, {Date: day(3)}}}

	assert.Equal(t, day(2), SplitDate(table, 0.5))
	assert.Equal(t, day(2).Add(12*time.Hour), SplitDate(table, 0.75))
	assert.True(t, SplitDate(&encoder.Table{Schema: s}, 0.8).IsZero())
}

func TestSolve_Singular(t *testing.T) {
	_, err := solve([][]float64{{1, 2, 3}, {2, 4, 6}})
	require.Error(t, err)
}

func TestLoadTrainConfig(t *testing.T) {
	cfg, err := LoadTrainConfig("")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, cfg.SplitQuantile, 1e-12)
	assert.InDelta(t, 0.001, cfg.Ridge, 1e-12)

	path := filepath.Join(t.TempDir(), "train.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ridge: 0.5\n"), 0o600))
	cfg, err = LoadTrainConfig(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, cfg.SplitQuantile, 1e-12)
	assert.InDelta(t, 0.5, cfg.Ridge, 1e-12)

	require.NoError(t, os.WriteFile(path, []byte("split_quantile: 1.5\n"), 0o600))
	_, err = LoadTrainConfig(path)
	require.Error(t, err)
}
