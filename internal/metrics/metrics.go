// Package metrics registers the process's Prometheus collectors: one
// promauto-backed var block per subsystem, served at GET /api/metrics
// through promhttp.Handler().
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghoststream_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ghoststream_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghoststream_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Admission metrics (§4.3)
var (
	AdmissionDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghoststream_admission_decisions_total",
			Help: "Total number of admission decisions by outcome and reason",
		},
		[]string{"allow", "reason"},
	)

	AdmissionQualityFactor = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghoststream_admission_quality_factor",
			Help: "Quality factor applied to the most recent admission decision",
		},
	)

	AdmissionEffectiveMaxJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghoststream_admission_effective_max_jobs",
			Help: "Effective concurrent job ceiling computed by the admission controller",
		},
	)
)

// Job lifecycle metrics (§3, §4.6)
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghoststream_jobs_total",
			Help: "Total number of jobs reaching a terminal state, by status and hw_accel",
		},
		[]string{"status", "hw_accel"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ghoststream_job_duration_seconds",
			Help:    "Wall-clock duration of a job from submission to terminal state",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghoststream_jobs_in_progress",
			Help: "Number of jobs currently in the processing state",
		},
	)

	JobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghoststream_jobs_queued",
			Help: "Number of jobs waiting for admission",
		},
	)

	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghoststream_hwaccel_fallbacks_total",
			Help: "Total number of hardware-to-software or encoder-chain fallbacks",
		},
		[]string{"from_accel", "to_accel"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghoststream_job_retries_total",
			Help: "Total number of transcode attempts retried after a classified error",
		},
		[]string{"category"},
	)
)

// Load monitor metrics (§4.2)
var (
	LoadFactor = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghoststream_load_factor",
			Help: "Most recent normalized system load factor sampled by the load monitor",
		},
	)

	GPUTempCelsius = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghoststream_gpu_temp_celsius",
			Help: "Most recent sampled GPU temperature in Celsius",
		},
	)

	OnBattery = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghoststream_on_battery",
			Help: "Whether the host is currently running on battery power (1 = yes, 0 = no)",
		},
	)
)

// Progress bus metrics (C6, §4.6)
var (
	ProgressBusClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghoststream_progressbus_clients",
			Help: "Number of currently connected WebSocket progress subscribers",
		},
	)

	ProgressBusDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghoststream_progressbus_dropped_total",
			Help: "Total number of buffered events dropped from a client's ring due to backpressure",
		},
		[]string{"channel"},
	)

	ProgressBusRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ghoststream_progressbus_rejected_total",
			Help: "Total number of WebSocket upgrade attempts rejected because the client cap was reached",
		},
	)
)

// AppInfo reports build metadata as a single gauge set to 1.
var AppInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "ghoststream_app_info",
		Help: "Application build information",
	},
	[]string{"version", "go_version"},
)

// SetAppInfo sets the application info metric.
func SetAppInfo(version, goVersion string) {
	AppInfo.WithLabelValues(version, goVersion).Set(1)
}
