package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "igtlctl"

// Drop reasons recorded by the receive loop.
const (
	DropBadVersion = "bad_version"
	DropShortBody  = "short_body"
	DropCRC        = "crc_mismatch"
	DropTooLarge   = "body_too_large"
)

var (
	registerOnce sync.Once

	connectorMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "messages_total",
			Help:      "Messages stored into device buffers.",
		},
		[]string{"connector", "device_type"},
	)
	connectorBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "bytes_total",
			Help:      "Header and body bytes received.",
		},
		[]string{"connector"},
	)
	connectorDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "dropped_total",
			Help:      "Messages dropped by the receive loop.",
		},
		[]string{"connector", "reason"},
	)
	connectorCRCMismatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "crc_mismatch_total",
			Help:      "Bodies whose CRC64 did not match the header.",
		},
		[]string{"connector"},
	)
	connectorConnections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "connections_total",
			Help:      "Peer connections established.",
		},
		[]string{"connector", "role"},
	)
	connectorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connector",
			Name:      "state",
			Help:      "Connector state (0=off, 1=wait_connection, 2=connected).",
		},
		[]string{"connector"},
	)
	consumerUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "updates_total",
			Help:      "Decoded updates delivered to sinks.",
		},
		[]string{"source", "kind"},
	)
	consumerDecodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "decode_errors_total",
			Help:      "Payloads that failed to decode.",
		},
		[]string{"source", "device_type"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
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
			connectorMessages,
			connectorBytes,
			connectorDropped,
			connectorCRCMismatch,
			connectorConnections,
			connectorState,
			consumerUpdates,
			consumerDecodeErrors,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordMessage(connector, deviceType string, bytes int) {
	RegisterMetrics()
	connectorMessages.WithLabelValues(connector, deviceType).Inc()
	connectorBytes.WithLabelValues(connector).Add(float64(bytes))
}

func RecordDrop(connector, reason string) {
	RegisterMetrics()
	connectorDropped.WithLabelValues(connector, reason).Inc()
}

func RecordCRCMismatch(connector string) {
	RegisterMetrics()
	connectorCRCMismatch.WithLabelValues(connector).Inc()
}

func RecordConnection(connector, role string) {
	RegisterMetrics()
	connectorConnections.WithLabelValues(connector, role).Inc()
}

func SetConnectorState(connector string, state int) {
	RegisterMetrics()
	connectorState.WithLabelValues(connector).Set(float64(state))
}

func RecordUpdate(source, kind string) {
	RegisterMetrics()
	consumerUpdates.WithLabelValues(source, kind).Inc()
}

func RecordDecodeError(source, deviceType string) {
	RegisterMetrics()
	consumerDecodeErrors.WithLabelValues(source, deviceType).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
