// CLAUDE:SUMMARY Prometheus counters and histograms for upstream calls, cache lookups, cascade stages and import sources, plus the /metrics handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UpstreamRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frenchcities_upstream_requests_total",
		Help: "Upstream HTTP attempts by service and outcome",
	}, []string{"service", "outcome"})
	UpstreamDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "frenchcities_upstream_duration_ms",
		Help:    "Upstream HTTP attempt duration in milliseconds",
		Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 30000},
	}, []string{"service"})
	UpstreamRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frenchcities_upstream_retries_total",
		Help: "Upstream HTTP retries by service",
	}, []string{"service"})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frenchcities_cache_hits_total",
		Help: "Cache hits by namespace",
	}, []string{"namespace"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frenchcities_cache_misses_total",
		Help: "Cache misses by namespace",
	}, []string{"namespace"})
	StageResolvedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frenchcities_stage_resolved_total",
		Help: "Records resolved by each cascade stage",
	}, []string{"stage"})
	UnresolvedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frenchcities_unresolved_total",
		Help: "Records left unresolved after the full cascade",
	})
	ProjectionMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "frenchcities_projection_misses_total",
		Help: "City codes without any projection onto the target vintage",
	})
	SourceStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "frenchcities_source_status",
		Help: "Last HTTP status of each import source (0 on network error)",
	}, []string{"adapter", "target"})
)

func init() {
	prometheus.MustRegister(UpstreamRequestsTotal)
	prometheus.MustRegister(UpstreamDurationMs)
	prometheus.MustRegister(UpstreamRetriesTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(StageResolvedTotal)
	prometheus.MustRegister(UnresolvedTotal)
	prometheus.MustRegister(ProjectionMissesTotal)
	prometheus.MustRegister(SourceStatus)
}

// Handler exposes the default registry.
func Handler() http.Handler { return promhttp.Handler() }
