package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerchat",
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Session connect attempts by result.",
		},
		[]string{"result"},
	)
	eventsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerchat",
			Subsystem: "events",
			Name:      "sent_total",
			Help:      "Events written to outbound streams.",
		},
		[]string{"kind", "success"},
	)
	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerchat",
			Subsystem: "events",
			Name:      "received_total",
			Help:      "Events decoded and dispatched from inbound streams.",
		},
		[]string{"kind"},
	)
	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerchat",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Inbound streams abandoned before a complete event arrived.",
		},
		[]string{"reason"},
	)
	receiverFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerchat",
			Subsystem: "receiver",
			Name:      "faults_total",
			Help:      "Receiver loop faults by kind.",
		},
		[]string{"kind"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerchat",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "peerchat",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(connectAttempts, eventsSent, eventsReceived, eventsDropped, receiverFaults, httpRequests, httpDuration)
	})
}

func RecordConnectAttempt(result string) {
	RegisterMetrics()
	connectAttempts.WithLabelValues(result).Inc()
}

func RecordEventSent(kind string, success bool) {
	RegisterMetrics()
	eventsSent.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

func RecordEventReceived(kind string) {
	RegisterMetrics()
	eventsReceived.WithLabelValues(kind).Inc()
}

func RecordEventDropped(reason string) {
	RegisterMetrics()
	eventsDropped.WithLabelValues(reason).Inc()
}

func RecordReceiverFault(kind string) {
	RegisterMetrics()
	receiverFaults.WithLabelValues(kind).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
