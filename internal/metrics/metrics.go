// Package metrics defines the daemon's Prometheus gauges/counters and an HTTP
// handler for the default registry. The only command that serves them is
// `daemon metrics --prometheus` (§12.3), on metrics_addr; `daemon start`
// serves no metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups every metric the supervisor updates per poll cycle.
type Collectors struct {
	ActiveJobs       prometheus.Gauge
	QueuedJobs       prometheus.Gauge
	MaxParallel      prometheus.Gauge
	SpawnsTotal      prometheus.Counter
	ReapsTotal       *prometheus.CounterVec // labeled by result: success|failure
	RetriesTotal     *prometheus.CounterVec // labeled by class
	PipelineDuration prometheus.Histogram
	StageDuration    *prometheus.HistogramVec // labeled by stage
	SelfHealTotal    prometheus.Counter
	PatrolFindings   prometheus.Counter
	BreakerOpen      prometheus.Gauge
}

// New registers and returns the daemon's metric set against reg.
func New(reg prometheus.Registerer) *Collectors {
	factory := promauto.With(reg)
	return &Collectors{
		ActiveJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shipwright_active_jobs",
			Help: "Number of pipeline jobs currently running.",
		}),
		QueuedJobs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shipwright_queued_jobs",
			Help: "Number of candidates waiting for a free worker slot.",
		}),
		MaxParallel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shipwright_max_parallel",
			Help: "Current effective max_parallel (post auto-scale).",
		}),
		SpawnsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "shipwright_spawns_total",
			Help: "Total pipeline jobs spawned.",
		}),
		ReapsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shipwright_reaps_total",
			Help: "Total pipeline jobs reaped, by result.",
		}, []string{"result"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shipwright_retries_total",
			Help: "Total retry spawns, by failure class.",
		}, []string{"class"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "shipwright_pipeline_duration_seconds",
			Help:    "End-to-end pipeline duration.",
			Buckets: prometheus.ExponentialBuckets(30, 2, 12),
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shipwright_stage_duration_seconds",
			Help:    "Per-stage duration.",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}, []string{"stage"}),
		SelfHealTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "shipwright_self_heal_total",
			Help: "Total build<->test self-heal cycles across all jobs.",
		}),
		PatrolFindings: factory.NewCounter(prometheus.CounterOpts{
			Name: "shipwright_patrol_findings_total",
			Help: "Total patrol findings filed as issues.",
		}),
		BreakerOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shipwright_tracker_breaker_open",
			Help: "1 when the tracker circuit breaker is open, else 0.",
		}),
	}
}

// Handler returns the HTTP handler to serve at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
