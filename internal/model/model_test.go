package model

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/encoder"
)

var frozen = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	domain.SetClock(clockwork.NewFakeClockAt(frozen))
	defer domain.SetClock(nil)
	m.Run()
}

func testSchema(t *testing.T) *encoder.Schema {
	t.Helper()
	s, err := encoder.NewSchema([]string{"Delhi", "Mumbai"})
	require.NoError(t, err)
	return s
}

func testLinear(t *testing.T, s *encoder.Schema) *Linear {
	t.Helper()
	coef := make([]float64, len(s.Columns))
	coef[s.ColumnIndex("aqi_lag_1")] = 0.5
	coef[s.ColumnIndex("city_Mumbai")] = 10
	m, err := NewLinear(s.Columns, 20, coef)
	require.NoError(t, err)
	return m
}

func TestLinearPredict(t *testing.T) {
	s := testSchema(t)
	m := testLinear(t, s)

	values := make([]float64, len(s.Columns))
	values[s.ColumnIndex("aqi_lag_1")] = 100
	got, err := m.Predict(context.Background(), encoder.Vector{Columns: s.Columns, Values: values})
	require.NoError(t, err)
	assert.InDelta(t, 70.0, got, 1e-9)

	values[s.ColumnIndex("city_Mumbai")] = 1
	got, err = m.Predict(context.Background(), encoder.Vector{Columns: s.Columns, Values: values})
	require.NoError(t, err)
	assert.InDelta(t, 80.0, got, 1e-9)
}

func TestLinearPredict_RejectsOtherLayout(t *testing.T) {
	s := testSchema(t)
	m := testLinear(t, s)

	reordered := append([]string(nil), s.Columns...)
	reordered[0], reordered[1] = reordered[1], reordered[0]

	_, err := m.Predict(context.Background(), encoder.Vector{Columns: reordered, Values: make([]float64, len(reordered))})
	require.ErrorIs(t, err, domain.ErrSchemaMismatch)

	_, err = m.Predict(context.Background(), encoder.Vector{Columns: s.Columns[:5], Values: make([]float64, 5)})
	require.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestNewLinear_LengthMismatch(t *testing.T) {
	_, err := NewLinear([]string{"a", "b"}, 0, []float64{1})
	require.Error(t, err)
}

func TestArtifactRoundTrip(t *testing.T) {
	s := testSchema(t)
	m := testLinear(t, s)

	a, err := NewLinearArtifact(s, m, Metrics{MAE: 1.5, RMSE: 2, R2: 0.9, TrainRows: 80, TestRows: 20})
	require.NoError(t, err)
	assert.Equal(t, frozen, a.TrainedAt)

	path := filepath.Join(t.TempDir(), "nested", "model.yaml")
	require.NoError(t, SaveArtifact(path, a))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, s.Fingerprint, loaded.Schema.Fingerprint)
	assert.Equal(t, s.Columns, loaded.Schema.Columns)
	assert.Equal(t, "Delhi", loaded.Schema.Reference)
	assert.Equal(t, a.Metrics, loaded.Metrics)

	lin, err := loaded.Linear()
	require.NoError(t, err)
	assert.Equal(t, m.Columns(), lin.Columns())
	assert.InDeltaSlice(t, m.Coefficients(), lin.Coefficients(), 1e-12)
	assert.InDelta(t, m.Intercept(), lin.Intercept(), 1e-12)
}

func TestArtifactValidate(t *testing.T) {
	s := testSchema(t)
	a, err := NewLinearArtifact(s, testLinear(t, s), Metrics{})
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(a *Artifact)
		schema bool
	}{
		{"missing coefficient", func(a *Artifact) { delete(a.Coefficients, "city_Mumbai") }, true},
		{"extra coefficient", func(a *Artifact) { a.Coefficients["city_Pune"] = 1 }, true},
		{"tampered schema", func(a *Artifact) { a.Schema.Columns[0] = "hour" }, true},
		{"no schema", func(a *Artifact) { a.Schema = nil }, true},
		{"unknown kind", func(a *Artifact) { a.Kind = "forest" }, false},
		{"remote without url", func(a *Artifact) { a.Kind = KindRemote }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := cloneArtifact(a)
			tt.mutate(cp)
			err := cp.Validate()
			require.Error(t, err)
			if tt.schema {
				assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
			}
		})
	}
}

func TestNewLinearArtifact_ColumnMismatch(t *testing.T) {
	s := testSchema(t)
	other, err := encoder.NewSchema([]string{"Delhi", "Mumbai", "Pune"})
	require.NoError(t, err)

	_, err = NewLinearArtifact(other, testLinear(t, s), Metrics{})
	require.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestLoadArtifact_Missing(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func cloneArtifact(a *Artifact) *Artifact {
	cp := *a
	schema := *a.Schema
	schema.Columns = append([]string(nil), a.Schema.Columns...)
	schema.Cities = append([]string(nil), a.Schema.Cities...)
	cp.Schema = &schema
	cp.Coefficients = make(map[string]float64, len(a.Coefficients))
	for k, v := range a.Coefficients {
		cp.Coefficients[k] = v
	}
	return &cp
}
