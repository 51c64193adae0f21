package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roverctl",
			Subsystem: "link",
			Name:      "frames_received_total",
			Help:      "Camera frames received from rovers.",
		},
		[]string{"conn"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roverctl",
			Subsystem: "link",
			Name:      "frames_dropped_total",
			Help:      "Frames discarded by the drop-oldest queue.",
		},
		[]string{"conn"},
	)
	commandsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roverctl",
			Subsystem: "link",
			Name:      "commands_sent_total",
			Help:      "Motor commands written to rovers.",
		},
		[]string{"conn", "success"},
	)
	watchdogStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roverctl",
			Subsystem: "motor",
			Name:      "watchdog_stops_total",
			Help:      "Emergency stops triggered by command staleness.",
		},
	)
	emergencyStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roverctl",
			Subsystem: "motor",
			Name:      "emergency_stops_total",
			Help:      "All emergency stop invocations.",
		},
	)
	rangingTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roverctl",
			Subsystem: "ranging",
			Name:      "timeouts_total",
			Help:      "Echo polls that timed out per sensor.",
		},
		[]string{"sensor"},
	)
	oracleLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "roverctl",
			Subsystem: "policy",
			Name:      "oracle_latency_seconds",
			Help:      "Policy oracle inference latency.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roverctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "roverctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			framesReceived, framesDropped, commandsSent,
			watchdogStops, emergencyStops, rangingTimeouts,
			oracleLatency, httpRequests, httpDuration,
		)
	})
}

func RecordFrameReceived(conn string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(conn).Inc()
}

func RecordFrameDropped(conn string) {
	RegisterMetrics()
	framesDropped.WithLabelValues(conn).Inc()
}

func RecordCommandSent(conn string, success bool) {
	RegisterMetrics()
	commandsSent.WithLabelValues(conn, strconv.FormatBool(success)).Inc()
}

func RecordWatchdogStop() {
	RegisterMetrics()
	watchdogStops.Inc()
}

func RecordEmergencyStop() {
	RegisterMetrics()
	emergencyStops.Inc()
}

func RecordRangingTimeout(sensor string) {
	RegisterMetrics()
	rangingTimeouts.WithLabelValues(sensor).Inc()
}

func RecordOracleLatency(d time.Duration) {
	RegisterMetrics()
	oracleLatency.Observe(d.Seconds())
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
