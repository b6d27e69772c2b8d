package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	connectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "linkd",
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Total accepted client connections.",
		},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkd",
			Subsystem: "server",
			Name:      "frames_received_total",
			Help:      "Frames received from peers, by packet kind.",
		},
		[]string{"kind"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkd",
			Subsystem: "server",
			Name:      "frames_sent_total",
			Help:      "Frames sent to peers, by packet kind.",
		},
		[]string{"kind"},
	)
	messagesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "linkd",
			Subsystem: "server",
			Name:      "messages_received_total",
			Help:      "Message frames carrying text payloads.",
		},
	)
	activeWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "linkd",
			Subsystem: "server",
			Name:      "active_workers",
			Help:      "Workers currently serving a connection.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "linkd",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "linkd",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsAccepted,
			framesReceived,
			framesSent,
			messagesReceived,
			activeWorkers,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordConnectionAccepted() {
	RegisterMetrics()
	connectionsAccepted.Inc()
}

func RecordFrameReceived(kind string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(kind).Inc()
}

func RecordFrameSent(kind string) {
	RegisterMetrics()
	framesSent.WithLabelValues(kind).Inc()
}

func RecordMessage() {
	RegisterMetrics()
	messagesReceived.Inc()
}

func WorkerStarted() {
	RegisterMetrics()
	activeWorkers.Inc()
}

func WorkerFinished() {
	RegisterMetrics()
	activeWorkers.Dec()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
