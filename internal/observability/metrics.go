package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "edgerelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerelay",
			Subsystem: "router",
			Name:      "dispatch_total",
			Help:      "Command dispatch attempts by result.",
		},
		[]string{"result"},
	)
	telemetryEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerelay",
			Subsystem: "telemetry",
			Name:      "events_total",
			Help:      "Ingested telemetry events by category and outcome.",
		},
		[]string{"category", "outcome"},
	)
	storeFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerelay",
			Subsystem: "logstore",
			Name:      "failures_total",
			Help:      "Log store disk failures absorbed by the pipeline.",
		},
		[]string{"op"},
	)
	connectedAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "edgerelay",
			Subsystem: "registry",
			Name:      "connected_agents",
			Help:      "Agents currently holding an open channel.",
		},
	)
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "edgerelay",
			Subsystem: "notify",
			Name:      "events_total",
			Help:      "Outbound notifications by result.",
		},
		[]string{"result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			dispatches,
			telemetryEvents,
			storeFailures,
			connectedAgents,
			notifications,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordDispatch(result string) {
	RegisterMetrics()
	dispatches.WithLabelValues(result).Inc()
}

func RecordTelemetry(category, outcome string) {
	RegisterMetrics()
	telemetryEvents.WithLabelValues(category, outcome).Inc()
}

func RecordStoreFailure(op string) {
	RegisterMetrics()
	storeFailures.WithLabelValues(op).Inc()
}

func SetConnectedAgents(n int) {
	RegisterMetrics()
	connectedAgents.Set(float64(n))
}

func RecordNotification(result string) {
	RegisterMetrics()
	notifications.WithLabelValues(result).Inc()
}
