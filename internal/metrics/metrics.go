package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for smso.
type Metrics struct {
	registry                *prometheus.Registry
	dispatchesTotal         *prometheus.CounterVec
	deploymentsTotal        *prometheus.CounterVec
	healthActionsTotal      *prometheus.CounterVec
	passDurationSeconds     prometheus.Histogram
	leaseWaitSeconds        prometheus.Histogram
	notificationErrorsTotal prometheus.Counter
	lastPassGauge           prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smso_command_dispatches_total",
			Help: "Remote command batches by final observed status.",
		}, []string{"status"}),
		deploymentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smso_deployments_total",
			Help: "Deploy attempts by service and result kind.",
		}, []string{"service", "kind"}),
		healthActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smso_health_actions_total",
			Help: "Health monitor actions by service.",
		}, []string{"service", "action"}),
		passDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smso_health_pass_duration_seconds",
			Help:    "Duration of health monitor passes in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		leaseWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "smso_lease_wait_seconds",
			Help:    "Time spent waiting for a per-service lease.",
			Buckets: prometheus.DefBuckets,
		}),
		notificationErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smso_notification_errors_total",
			Help: "Notifications that failed after retries.",
		}),
		lastPassGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smso_last_health_pass_timestamp",
			Help: "Unix timestamp of the last completed health pass.",
		}),
	}

	registry.MustRegister(
		m.dispatchesTotal,
		m.deploymentsTotal,
		m.healthActionsTotal,
		m.passDurationSeconds,
		m.leaseWaitSeconds,
		m.notificationErrorsTotal,
		m.lastPassGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncDispatch counts a finished dispatch by status.
func (m *Metrics) IncDispatch(status string) {
	if m == nil {
		return
	}
	m.dispatchesTotal.WithLabelValues(status).Inc()
}

// IncDeployment counts a deploy attempt outcome.
func (m *Metrics) IncDeployment(service, kind string) {
	if m == nil {
		return
	}
	m.deploymentsTotal.WithLabelValues(service, kind).Inc()
}

// IncHealthAction counts a monitor action for a service.
func (m *Metrics) IncHealthAction(service, action string) {
	if m == nil {
		return
	}
	m.healthActionsTotal.WithLabelValues(service, action).Inc()
}

// ObservePassDuration records the duration of a completed health pass.
func (m *Metrics) ObservePassDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.passDurationSeconds.Observe(duration.Seconds())
}

// ObserveLeaseWait records how long a workflow waited for its lease.
func (m *Metrics) ObserveLeaseWait(duration time.Duration) {
	if m == nil {
		return
	}
	m.leaseWaitSeconds.Observe(duration.Seconds())
}

// IncNotificationErrors counts a failed notification.
func (m *Metrics) IncNotificationErrors() {
	if m == nil {
		return
	}
	m.notificationErrorsTotal.Inc()
}

// SetLastPassTimestamp sets the last completed pass time.
func (m *Metrics) SetLastPassTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastPassGauge.Set(float64(t.Unix()))
}
