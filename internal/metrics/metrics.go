package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// JobsStarted counts import jobs picked up by the worker, per kind.
var JobsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "panelsync_jobs_started_total",
	Help: "Import jobs started",
}, []string{"kind"})

// JobsFinished counts terminal jobs per kind and final status.
var JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "panelsync_jobs_finished_total",
	Help: "Import jobs finished",
}, []string{"kind", "status"})

// ItemsProcessed counts catalog items by kind and outcome
// (inserted, updated, ignored, error).
var ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "panelsync_items_processed_total",
	Help: "Catalog items processed",
}, []string{"kind", "action"})

// JobDuration observes wall-clock job duration in seconds per kind.
var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "panelsync_job_duration_seconds",
	Help:    "Import job duration",
	Buckets: prometheus.ExponentialBuckets(1, 2, 12),
}, []string{"kind"})

// UpstreamRequests counts Xtream API calls per action and result.
var UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "panelsync_upstream_requests_total",
	Help: "Xtream API requests",
}, []string{"action", "result"})

// UpstreamRetries counts retried Xtream API calls per action.
var UpstreamRetries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "panelsync_upstream_retries_total",
	Help: "Xtream API retries",
}, []string{"action"})

// PanelConnections tracks open remote panel database engines.
var UpstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "panelsync_upstream_request_duration_seconds",
	Help:    "Remote panel API request duration",
	Buckets: prometheus.DefBuckets,
}, []string{"action"})

var PanelConnectFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "panelsync_panel_connect_failures_total",
	Help: "Remote panel database connection failures by class",
}, []string{"class"})

var PanelConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "panelsync_panel_connections",
	Help: "Pooled remote panel database engines",
})

// CacheHits and CacheMisses track catalog cache effectiveness.
var CacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "panelsync_cache_hits_total",
	Help: "Catalog cache hits",
})

var CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "panelsync_cache_misses_total",
	Help: "Catalog cache misses",
})
