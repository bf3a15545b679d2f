// Package prometheus implements the metrics interfaces on the Prometheus
// client library.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quartzfs/quartz/pkg/metrics"
)

// serverMetrics is the Prometheus implementation of metrics.ServerMetrics.
type serverMetrics struct {
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	requestsInFlight   *prometheus.GaugeVec
	bytesTransferred   *prometheus.CounterVec
	transfersCompleted *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	connsAccepted      prometheus.Counter
	connsRefused       prometheus.Counter
	connsClosed        prometheus.Counter
	connsForceClosed   prometheus.Counter
	logins             *prometheus.CounterVec
}

// NewServerMetrics creates a Prometheus-backed ServerMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewServerMetrics() metrics.ServerMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &serverMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "quartz_requests_total",
				Help: "Total number of commands processed by command name and outcome",
			},
			[]string{"command", "status"}, // status: "ok" or an error category
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "quartz_request_duration_milliseconds",
				Help: "Command processing duration in milliseconds",
				Buckets: []float64{
					0.5,  // metadata lookups
					1,    // 1ms
					5,    // 5ms
					10,   // 10ms
					50,   // 50ms
					100,  // 100ms - chunk writes
					500,  // 500ms
					1000, // 1s
					5000, // 5s - login KDF
				},
			},
			[]string{"command"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quartz_requests_in_flight",
				Help: "Commands currently being processed",
			},
			[]string{"command"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "quartz_transfer_bytes_total",
				Help: "Total payload bytes moved during chunked transfers",
			},
			[]string{"direction"}, // "upload", "download"
		),
		transfersCompleted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "quartz_transfers_completed_total",
				Help: "Total finished chunked transfers",
			},
			[]string{"direction"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "quartz_active_sessions",
				Help: "Current number of connected sessions",
			},
		),
		connsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "quartz_connections_accepted_total",
				Help: "Total accepted TCP connections",
			},
		),
		connsRefused: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "quartz_connections_refused_total",
				Help: "Total connections refused at the session cap",
			},
		),
		connsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "quartz_connections_closed_total",
				Help: "Total closed connections",
			},
		),
		connsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "quartz_connections_force_closed_total",
				Help: "Total connections forcibly closed after shutdown timeout",
			},
		),
		logins: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "quartz_logins_total",
				Help: "Total authentication attempts by outcome",
			},
			[]string{"status"}, // "success", "failure"
		),
	}
}

func (m *serverMetrics) RecordRequest(command string, duration time.Duration, errorCode string) {
	if m == nil {
		return
	}
	status := "ok"
	if errorCode != "" {
		status = errorCode
	}
	m.requestsTotal.WithLabelValues(command, status).Inc()
	m.requestDuration.WithLabelValues(command).Observe(duration.Seconds() * 1000)
}

func (m *serverMetrics) RecordRequestStart(command string) {
	if m == nil {
		return
	}
	m.requestsInFlight.WithLabelValues(command).Inc()
}

func (m *serverMetrics) RecordRequestEnd(command string) {
	if m == nil {
		return
	}
	m.requestsInFlight.WithLabelValues(command).Dec()
}

func (m *serverMetrics) RecordBytesTransferred(direction string, bytes uint64) {
	if m == nil {
		return
	}
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *serverMetrics) RecordTransferCompleted(direction string) {
	if m == nil {
		return
	}
	m.transfersCompleted.WithLabelValues(direction).Inc()
}

func (m *serverMetrics) SetActiveSessions(count int32) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(count))
}

func (m *serverMetrics) RecordConnectionAccepted() {
	if m == nil {
		return
	}
	m.connsAccepted.Inc()
}

func (m *serverMetrics) RecordConnectionRefused() {
	if m == nil {
		return
	}
	m.connsRefused.Inc()
}

func (m *serverMetrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connsClosed.Inc()
}

func (m *serverMetrics) RecordConnectionForceClosed() {
	if m == nil {
		return
	}
	m.connsForceClosed.Inc()
}

func (m *serverMetrics) RecordLogin(status string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(status).Inc()
}
