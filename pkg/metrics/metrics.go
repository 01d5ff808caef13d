// Package metrics exposes the controller's Prometheus metrics: task
// duration histograms, router queue depth, CPU-sample gauges, and
// ambulance heal counters (SPEC_FULL.md DOMAIN STACK). Grounded on the
// teacher's own pkg/metrics.go (same var-block-of-collectors-plus-init-
// registration shape, the Timer helper unchanged), generalized from
// cluster/Raft/scheduler gauges to the project task pipeline and worker
// runtime this controller actually runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task pipeline metrics (spec.md §4.3, §5)
	TaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controller_task_duration_seconds",
			Help:    "Time from a task's first poll to a terminal result, by task kind",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	TasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controller_tasks_total",
			Help: "Total number of tasks completed by kind and terminal status",
		},
		[]string{"kind", "status"},
	)

	RouterQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "controller_router_queue_depth",
			Help: "Number of tasks submitted to the dispatcher that have not finished yet",
		},
	)

	RouterAcquireTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "controller_router_acquire_timeouts_total",
			Help: "Total number of router Acquire calls that hit the 9s timeout",
		},
	)

	// Project state metrics (spec.md §4.1, §4.2)
	ProjectsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controller_projects_by_state",
			Help: "Number of projects currently in each state variant",
		},
		[]string{"state"},
	)

	CPUPerMinute = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "controller_project_cpu_per_minute",
			Help: "Most recent cpu_per_minute sample used for idle-eviction decisions",
		},
		[]string{"project"},
	)

	IdleEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "controller_idle_evictions_total",
			Help: "Total number of Running projects stopped for being idle",
		},
	)

	// Ambulance metrics (spec.md §4.7)
	AmbulanceSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "controller_ambulance_sweeps_total",
			Help: "Total number of ambulance iterations over the project set",
		},
	)

	AmbulanceHealsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controller_ambulance_heals_total",
			Help: "Total number of healing tasks the ambulance submitted, by reason",
		},
		[]string{"reason"},
	)

	// Gateway/proxy metrics (spec.md §4.4)
	ProxyRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controller_proxy_requests_total",
			Help: "Total number of proxied requests by project and status",
		},
		[]string{"project", "status"},
	)

	ProxyRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controller_proxy_request_duration_seconds",
			Help:    "Proxied request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"project"},
	)

	// Deployment driver metrics (spec.md §4.5)
	DeploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controller_deployments_total",
			Help: "Total number of deployments attempted, by terminal status",
		},
		[]string{"status"},
	)

	DeploymentDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controller_deployment_duration_seconds",
			Help:    "Time from deployment start to the runtime reporting ready",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"status"},
	)

	// Control-plane API metrics (spec.md §6)
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controller_api_requests_total",
			Help: "Total number of control-plane API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "controller_api_request_duration_seconds",
			Help:    "Control-plane API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(
		TaskDuration,
		TasksTotal,
		RouterQueueDepth,
		RouterAcquireTimeoutsTotal,
		ProjectsByState,
		CPUPerMinute,
		IdleEvictionsTotal,
		AmbulanceSweepsTotal,
		AmbulanceHealsTotal,
		ProxyRequestsTotal,
		ProxyRequestDuration,
		DeploymentsTotal,
		DeploymentDuration,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
