package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Instance metrics
	InstancesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cradle_instances_running",
			Help: "Number of instances currently tracked by the registry",
		},
	)

	InstancesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cradle_instances_created_total",
			Help: "Total number of instances created",
		},
	)

	InstancesDestroyed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cradle_instances_destroyed_total",
			Help: "Total number of instances destroyed by cause",
		},
		[]string{"cause"},
	)

	CreationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cradle_creation_failures_total",
			Help: "Total number of failed creation attempts by failure kind",
		},
		[]string{"kind"},
	)

	CreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cradle_create_duration_seconds",
			Help:    "Time taken to create an instance in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	OrphansReclaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cradle_orphans_reclaimed_total",
			Help: "Total number of untracked engine containers reclaimed by the sweep",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cradle_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cradle_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(InstancesRunning)
	prometheus.MustRegister(InstancesCreated)
	prometheus.MustRegister(InstancesDestroyed)
	prometheus.MustRegister(CreationFailures)
	prometheus.MustRegister(CreateDuration)
	prometheus.MustRegister(OrphansReclaimed)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
