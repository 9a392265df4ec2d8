package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wind_tiles"

// Metrics holds the Prometheus counters, histograms, and gauges for update
// cycles and tile serving.
type Metrics struct {
	CyclesTotal   *prometheus.CounterVec // labels: trigger={scheduled,manual,startup}, outcome={success,failed,skipped}
	CycleDuration prometheus.Histogram
	StageDuration *prometheus.HistogramVec // labels: stage={fetch,convert,build,publish}
	CycleRunning  prometheus.Gauge
	LastSuccess   prometheus.Gauge

	// Upstream and build volume.
	FilesDownloaded prometheus.Counter
	BytesDownloaded prometheus.Counter
	TilesWritten    prometheus.Counter

	// Serving.
	TileRequests *prometheus.CounterVec // labels: status={200,400,404,500}
	TileCache    *prometheus.CounterVec // labels: result={hit,miss}

	ReleaseNotifications *prometheus.CounterVec // labels: outcome={success,error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_cycles_total",
			Help:      "Update cycles by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_cycle_duration_seconds",
			Help:      "Duration of a complete update cycle.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "update_stage_duration_seconds",
			Help:      "Duration of each update cycle stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"stage"}),
		CycleRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "update_cycle_running",
			Help:      "1 while an update cycle is in progress.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful publish.",
		}),
		FilesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_downloaded_total",
			Help:      "Source files downloaded from upstream.",
		}),
		BytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_downloaded_total",
			Help:      "Bytes downloaded from upstream.",
		}),
		TilesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tiles_written_total",
			Help:      "Tiles written to staging trees.",
		}),
		TileRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_requests_total",
			Help:      "Tile requests by response status.",
		}, []string{"status"}),
		TileCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tile_cache_total",
			Help:      "Tile cache lookups by result.",
		}, []string{"result"}),
		ReleaseNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "release_notifications_total",
			Help:      "Release notifications sent by outcome.",
		}, []string{"outcome"}),
	}

	prometheus.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.StageDuration,
		m.CycleRunning,
		m.LastSuccess,
		m.FilesDownloaded,
		m.BytesDownloaded,
		m.TilesWritten,
		m.TileRequests,
		m.TileCache,
		m.ReleaseNotifications,
	)

	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		CyclesTotal:          prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "update_cycles_total"}, []string{"trigger", "outcome"}),
		CycleDuration:        prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "update_cycle_duration_seconds"}),
		StageDuration:        prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: "update_stage_duration_seconds"}, []string{"stage"}),
		CycleRunning:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "update_cycle_running"}),
		LastSuccess:          prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "last_success_timestamp_seconds"}),
		FilesDownloaded:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "files_downloaded_total"}),
		BytesDownloaded:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "bytes_downloaded_total"}),
		TilesWritten:         prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "tiles_written_total"}),
		TileRequests:         prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "tile_requests_total"}, []string{"status"}),
		TileCache:            prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "tile_cache_total"}, []string{"result"}),
		ReleaseNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "release_notifications_total"}, []string{"outcome"}),
	}
}
