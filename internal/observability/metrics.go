package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "territory_sync"

// Metrics holds the Prometheus counters, histograms, and gauges for a sync run.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	RunDuration     prometheus.Histogram

	// Resolver metrics.
	Resolutions    *prometheus.CounterVec // labels: status={resolved,ambiguous,unresolved}, method={geometry,bbox,none}
	GeometryErrors prometheus.Counter

	// Geocoding metrics.
	GeocodeAttempts    *prometheus.CounterVec // labels: outcome={success,no_match,rate_limited,timeout,provider_error}
	GeocodeResults     *prometheus.CounterVec // labels: status={success,unresolved,failed}
	GeocodeCache       *prometheus.CounterVec // labels: layer={memory,redis}, result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge

	// Consistency metrics.
	PagesScanned   *prometheus.CounterVec // labels: kind={club,meet}
	RecordsScanned *prometheus.CounterVec // labels: kind={club,meet}
	Findings       *prometheus.CounterVec // labels: kind={invalid_label,disagreement}
	Repairs        *prometheus.CounterVec // labels: status={applied,skipped,conflict,failed}
	StoreRetries   prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.RunDuration,
		m.Resolutions,
		m.GeometryErrors,
		m.GeocodeAttempts,
		m.GeocodeResults,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.PagesScanned,
		m.RecordsScanned,
		m.Findings,
		m.Repairs,
		m.StoreRetries,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a sync run is in progress, 0 otherwise.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete geocode and consistency run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Point resolutions by terminal status and deciding method.",
		}, []string{"status", "method"}),
		GeometryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geometry_errors_total",
			Help:      "Territories skipped during containment because of malformed rings.",
		}),
		GeocodeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_attempts_total",
			Help:      "Individual geocoder calls by outcome.",
		}, []string{"outcome"}),
		GeocodeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_results_total",
			Help:      "Per-record geocode results by terminal status.",
		}, []string{"status"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocode cache lookups by layer and result.",
		}, []string{"layer", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when the geocode pass is enabled, 0 otherwise.",
		}),
		PagesScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_scanned_total",
			Help:      "Store pages read by the consistency scan.",
		}, []string{"kind"}),
		RecordsScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_scanned_total",
			Help:      "Canonical records validated by the consistency scan.",
		}, []string{"kind"}),
		Findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Consistency findings by kind.",
		}, []string{"kind"}),
		Repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repairs_total",
			Help:      "Repair outcomes by status.",
		}, []string{"status"}),
		StoreRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Store calls retried after a transient failure.",
		}),
	}
}
