package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aqi"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// forecast service and the batch pipeline.
type Metrics struct {
	// Serving.
	Forecasts         *prometheus.CounterVec // labels: outcome={ok,city_not_found,schema_mismatch,error}
	PredictDuration   prometheus.Histogram
	CacheLookups      *prometheus.CounterVec // labels: result={hit,miss,error}
	SnapshotReloads   *prometheus.CounterVec // labels: outcome={success,error}
	SnapshotRows      prometheus.Gauge
	SnapshotLoaded    prometheus.Gauge
	ModelRequests     *prometheus.CounterVec // labels: outcome={success,retry,error}
	ModelAPIDuration  prometheus.Histogram
	PublishedBatches  *prometheus.CounterVec // labels: outcome={success,error}
	PublishedForecast prometheus.Counter

	// Batch pipeline.
	PipelineRows     *prometheus.CounterVec // labels: stage={normalize,features}
	RowsDropped      *prometheus.CounterVec // labels: reason
	PipelineDuration *prometheus.HistogramVec // labels: stage
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Forecasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecasts_total",
			Help:      "Forecast requests by outcome.",
		}, []string{"outcome"}),
		PredictDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "predict_duration_seconds",
			Help:      "Duration of a single city forecast, model call included.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_cache_total",
			Help:      "Forecast cache lookups by result.",
		}, []string{"result"}),
		SnapshotReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_reloads_total",
			Help:      "Snapshot reload attempts by outcome.",
		}, []string{"outcome"}),
		SnapshotRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_rows",
			Help:      "Encoded feature rows in the current snapshot.",
		}),
		SnapshotLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_loaded_timestamp_seconds",
			Help:      "Unix time the current snapshot was loaded.",
		}),
		ModelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_requests_total",
			Help:      "Remote model server requests by outcome.",
		}, []string{"outcome"}),
		ModelAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_api_duration_seconds",
			Help:      "Remote model server request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		PublishedBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_batches_total",
			Help:      "Forecast batches handed to the sink by outcome.",
		}, []string{"outcome"}),
		PublishedForecast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "published_forecasts_total",
			Help:      "Total forecasts written to the sink.",
		}),
		PipelineRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_rows_total",
			Help:      "Rows written by pipeline stage.",
		}, []string{"stage"}),
		RowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_rows_dropped_total",
			Help:      "Rows dropped by the pipeline by reason.",
		}, []string{"reason"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of a pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"stage"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Forecasts,
		m.PredictDuration,
		m.CacheLookups,
		m.SnapshotReloads,
		m.SnapshotRows,
		m.SnapshotLoaded,
		m.ModelRequests,
		m.ModelAPIDuration,
		m.PublishedBatches,
		m.PublishedForecast,
		m.PipelineRows,
		m.RowsDropped,
		m.PipelineDuration,
	}
}
