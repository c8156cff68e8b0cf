package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqi-forecast/internal/domain"
	"github.com/couchcryptid/aqi-forecast/internal/observability"
	"github.com/couchcryptid/aqi-forecast/internal/pipeline"
	"github.com/couchcryptid/aqi-forecast/internal/risk"
	"github.com/couchcryptid/aqi-forecast/internal/store"
)

// --- mocks ---

type mockRaw struct {
	tables []domain.RawTable
	err    error
}

func (m *mockRaw) ReadRaw(context.Context) ([]domain.RawTable, error) { return m.tables, m.err }

type memCanonical struct {
	records []domain.CanonicalRecord
}

func (m *memCanonical) SaveCanonical(_ context.Context, records []domain.CanonicalRecord) error {
	m.records = records
	return nil
}

func (m *memCanonical) LoadCanonical(context.Context) ([]domain.CanonicalRecord, error) {
	return m.records, nil
}

type memFeatures struct {
	rows []domain.FeatureRow
	err  error
}

func (m *memFeatures) SaveFeatures(_ context.Context, rows []domain.FeatureRow) error {
	if m.err != nil {
		return m.err
	}
	m.rows = rows
	return nil
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func rawTables() []domain.RawTable {
	delhi := domain.RawTable{Source: "city_day.csv", Header: []string{"City", "Date", "AQI", "PM2.5"}}
	for d := 1; d <= 10; d++ {
		delhi.Rows = append(delhi.Rows, []string{"Delhi", fmt.Sprintf("%02d/01/24", d), fmt.Sprint(100 + 10*d), fmt.Sprint(50 + d)})
	}
	mumbai := domain.RawTable{Source: "mumbai.csv", Header: []string{"city", "date", "aqi", "pm25"}}
	for d := 1; d <= 3; d++ {
		mumbai.Rows = append(mumbai.Rows, []string{"Mumbai", fmt.Sprintf("2024-01-%02d", d), "90", "40"})
	}
	mumbai.Rows = append(mumbai.Rows, []string{"Mumbai", "not a date", "90", "40"})
	return []domain.RawTable{mumbai, delhi}
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	canonical := &memCanonical{}
	feats := &memFeatures{}
	metrics := newTestMetrics()
	p := pipeline.New(&mockRaw{tables: rawTables()}, canonical, feats, slog.Default(), metrics)

	report, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Normalize.Tables)
	assert.Equal(t, 14, report.Normalize.Read)
	assert.Equal(t, 13, report.Normalize.Kept)
	assert.Equal(t, 1, report.Normalize.Dropped[domain.DropBadDate])
	require.Len(t, canonical.records, 13)
	assert.Equal(t, "Delhi", canonical.records[0].City)

	assert.Equal(t, 13, report.Features.Input)
	assert.Equal(t, 3, report.Features.Output)
	assert.Equal(t, []string{"Mumbai"}, report.Features.Incomplete)
	require.Len(t, feats.rows, 3)
	last := feats.rows[2]
	assert.Equal(t, time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC), last.Date)
	assert.InDelta(t, 190, last.AQILag1, 1e-9)
	assert.InDelta(t, 130, last.AQILag7, 1e-9)
	assert.InDelta(t, 59, last.PM25Lag1, 1e-9)
	assert.InDelta(t, 170, last.AQIRoll7, 1e-9)

	assert.InDelta(t, 13, testutil.ToFloat64(metrics.PipelineRows.WithLabelValues(pipeline.StageNormalize)), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.PipelineRows.WithLabelValues(pipeline.StageFeatures)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.RowsDropped.WithLabelValues(domain.DropBadDate)), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(metrics.RowsDropped.WithLabelValues("incomplete_window")), 0)
}

func TestPipeline_Run_StopsOnStageError(t *testing.T) {
	canonical := &memCanonical{}
	p := pipeline.New(&mockRaw{err: errors.New("disk gone")}, canonical, &memFeatures{}, slog.Default(), newTestMetrics())
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, canonical.records)

	missing := &mockRaw{tables: []domain.RawTable{{
		Source: "bad.csv",
		Header: []string{"city", "aqi"},
		Rows:   [][]string{{"Delhi", "100"}},
	}}}
	p = pipeline.New(missing, canonical, &memFeatures{}, slog.Default(), newTestMetrics())
	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"date"`)

	p = pipeline.New(&mockRaw{tables: rawTables()}, canonical, &memFeatures{err: errors.New("read-only")}, slog.Default(), newTestMetrics())
	_, err = p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save feature table")
}

func TestPipeline_Run_OnDiskIsDeterministic(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rawDir := filepath.Join(dir, "raw")
	require.NoError(t, os.MkdirAll(rawDir, 0o755))
	for _, tbl := range rawTables() {
		var content string
		content += strings.Join(tbl.Header, ",") + "\n"
		for _, row := range tbl.Rows {
			content += strings.Join(row, ",") + "\n"
		}
		require.NoError(t, os.WriteFile(filepath.Join(rawDir, tbl.Source), []byte(content), 0o600))
	}

	run := func(name string) ([]byte, []domain.FeatureRow) {
		featurePath := filepath.Join(dir, name)
		p := pipeline.New(
			store.NewRawDir(rawDir, slog.Default()),
			store.NewCSVTable(filepath.Join(dir, "canonical-"+name)),
			store.NewCSVTable(featurePath),
			slog.Default(), newTestMetrics())
		_, err := p.Run(ctx)
		require.NoError(t, err)

		data, err := os.ReadFile(featurePath)
		require.NoError(t, err)
		rows, err := store.NewCSVTable(featurePath).LoadFeatures(ctx)
		require.NoError(t, err)
		return data, rows
	}

	first, firstRows := run("a.csv")
	second, secondRows := run("b.csv")
	assert.Equal(t, string(first), string(second))
	if diff := cmp.Diff(firstRows, secondRows); diff != "" {
		t.Errorf("feature tables differ (-first +second):\n%s", diff)
	}
	assert.Len(t, firstRows, 3)
}

// --- publisher ---

type mockPredictor struct {
	cities []string
	fail   map[string]error
}

func (m *mockPredictor) Cities() ([]string, error) { return m.cities, nil }

func (m *mockPredictor) Predict(_ context.Context, city string, group risk.Group) (domain.ForecastResult, error) {
	if err := m.fail[city]; err != nil {
		return domain.ForecastResult{}, err
	}
	return domain.ForecastResult{City: city, Group: group, PredictedAQI: 100}, nil
}

type flakyLoader struct {
	mu       sync.Mutex
	failures int
	calls    int
	loaded   []domain.ForecastResult
}

func (l *flakyLoader) LoadBatch(_ context.Context, results []domain.ForecastResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls <= l.failures {
		return errors.New("broker unavailable")
	}
	l.loaded = append(l.loaded, results...)
	return nil
}

func TestPublisher_SkipsFailedCities(t *testing.T) {
	pred := &mockPredictor{
		cities: []string{"Delhi", "Mumbai", "Pune"},
		fail:   map[string]error{"Mumbai": &domain.SchemaMismatchError{Reason: "drift"}},
	}
	loader := &flakyLoader{}
	metrics := newTestMetrics()
	pub := pipeline.NewPublisher(pred, loader, slog.Default(), metrics)

	n, err := pub.Publish(context.Background(), risk.Children)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, loader.loaded, 2)
	assert.Equal(t, "Delhi", loader.loaded[0].City)
	assert.Equal(t, "Pune", loader.loaded[1].City)
	assert.Equal(t, risk.Children, loader.loaded[0].Group)
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.PublishedForecast), 0)
}

func TestPublisher_RetriesLoad(t *testing.T) {
	loader := &flakyLoader{failures: 2}
	metrics := newTestMetrics()
	pub := pipeline.NewPublisher(&mockPredictor{cities: []string{"Delhi"}}, loader, slog.Default(), metrics,
		pipeline.WithRetry(time.Millisecond, 5*time.Millisecond, time.Second))

	n, err := pub.Publish(context.Background(), risk.General)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, loader.calls)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PublishedBatches.WithLabelValues("success")), 0)
}

func TestPublisher_GivesUp(t *testing.T) {
	loader := &flakyLoader{failures: 1 << 30}
	metrics := newTestMetrics()
	pub := pipeline.NewPublisher(&mockPredictor{cities: []string{"Delhi"}}, loader, slog.Default(), metrics,
		pipeline.WithRetry(time.Millisecond, 2*time.Millisecond, 20*time.Millisecond))

	_, err := pub.Publish(context.Background(), risk.General)
	require.Error(t, err)
	assert.Greater(t, loader.calls, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PublishedBatches.WithLabelValues("error")), 0)
}

func TestPublisher_ContextCancelled(t *testing.T) {
	loader := &flakyLoader{failures: 1 << 30}
	pub := pipeline.NewPublisher(&mockPredictor{cities: []string{"Delhi"}}, loader, slog.Default(), newTestMetrics(),
		pipeline.WithRetry(10*time.Millisecond, 10*time.Millisecond, time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := pub.Publish(ctx, risk.General)
	require.Error(t, err)
}

func TestPublisher_NothingToPublish(t *testing.T) {
	pred := &mockPredictor{cities: []string{"Delhi"}, fail: map[string]error{"Delhi": errors.New("boom")}}
	loader := &flakyLoader{}
	_, err := pipeline.NewPublisher(pred, loader, slog.Default(), newTestMetrics()).Publish(context.Background(), risk.General)
	require.Error(t, err)
	assert.Zero(t, loader.calls)
}
