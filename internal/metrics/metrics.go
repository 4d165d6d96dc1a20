package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dispatchdesk"

// Metrics holds all application metrics
type Metrics struct {
	Registry *prometheus.Registry

	// Telephony events
	eventsReceived  *prometheus.CounterVec
	eventsProcessed prometheus.Counter
	eventErrors     prometheus.Counter

	// WebSocket
	wsConnections    prometheus.Counter
	wsDisconnections prometheus.Counter
	wsActive         prometheus.Gauge
	wsMessages       prometheus.Counter
	wsErrors         prometheus.Counter

	// Work queue
	queueRefreshes      *prometheus.CounterVec
	queueRefreshErrors  *prometheus.CounterVec
	queueRefreshSeconds prometheus.Histogram
	queueFeeds          prometheus.Gauge
	queueBroadcasts     prometheus.Counter

	// Dispatch workflow
	dispatches     *prometheus.CounterVec
	dispatchErrors *prometheus.CounterVec
	schedules      prometheus.Counter
	releases       prometheus.Counter

	// Presence
	agentsByStatus *prometheus.GaugeVec

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	startTime time.Time
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = New(prometheus.NewRegistry())
	})
	return instance
}

// New registers the application metrics on reg
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		Registry: reg,

		eventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Incoming-call events received, by source",
		}, []string{"source"}),
		eventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_processed_total",
			Help:      "Incoming-call events enqueued",
		}),
		eventErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_processing_errors_total",
			Help:      "Incoming-call events rejected as invalid",
		}),

		wsConnections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_connections_total",
			Help:      "Console sockets opened",
		}),
		wsDisconnections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_disconnections_total",
			Help:      "Console sockets closed",
		}),
		wsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_active_connections",
			Help:      "Console sockets currently open",
		}),
		wsMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_total",
			Help:      "Messages written to console sockets",
		}),
		wsErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_errors_total",
			Help:      "Console socket read or write errors",
		}),

		queueRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workqueue",
			Name:      "refreshes_total",
			Help:      "Table re-fetches performed by work queue feeds",
		}, []string{"table"}),
		queueRefreshErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workqueue",
			Name:      "refresh_errors_total",
			Help:      "Failed table re-fetches",
		}, []string{"table"}),
		queueRefreshSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workqueue",
			Name:      "refresh_duration_seconds",
			Help:      "Time taken to re-fetch and resolve one table",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}),
		queueFeeds: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workqueue",
			Name:      "active_feeds",
			Help:      "Admin ids with a running work queue feed",
		}),
		queueBroadcasts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workqueue",
			Name:      "broadcasts_total",
			Help:      "Work queue snapshots pushed to consoles",
		}),

		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "assigned_total",
			Help:      "Orders assigned to a serviceman, by workflow path",
		}, []string{"path"}),
		dispatchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "errors_total",
			Help:      "Dispatch workflow failures, by operation",
		}, []string{"operation"}),
		schedules: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "scheduled_total",
			Help:      "Orders scheduled for later assignment",
		}),
		releases: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "claims_released_total",
			Help:      "Claimed orders released after an abandoned session",
		}),

		agentsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_by_status",
			Help:      "Tracked agents per presence status",
		}, []string{"status"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"endpoint", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),

		startTime: time.Now(),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the process started",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordEventReceived increments the events received counter
func (m *Metrics) RecordEventReceived(source string) {
	m.eventsReceived.WithLabelValues(source).Inc()
}

// RecordEventProcessed increments the events processed counter
func (m *Metrics) RecordEventProcessed() {
	m.eventsProcessed.Inc()
}

// RecordEventError increments the event processing error counter
func (m *Metrics) RecordEventError() {
	m.eventErrors.Inc()
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	m.wsConnections.Inc()
	m.wsActive.Inc()
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	m.wsDisconnections.Inc()
	m.wsActive.Dec()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() {
	m.wsMessages.Inc()
}

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() {
	m.wsErrors.Inc()
}

// RecordQueueRefresh records one table re-fetch
func (m *Metrics) RecordQueueRefresh(table string, duration time.Duration, err error) {
	m.queueRefreshes.WithLabelValues(table).Inc()
	m.queueRefreshSeconds.Observe(duration.Seconds())
	if err != nil {
		m.queueRefreshErrors.WithLabelValues(table).Inc()
	}
}

// SetQueueFeeds sets the number of running work queue feeds
func (m *Metrics) SetQueueFeeds(n int) {
	m.queueFeeds.Set(float64(n))
}

// RecordQueueBroadcast counts one work queue snapshot push
func (m *Metrics) RecordQueueBroadcast() {
	m.queueBroadcasts.Inc()
}

// RecordDispatch counts an assignment on the given workflow path
func (m *Metrics) RecordDispatch(path string) {
	m.dispatches.WithLabelValues(path).Inc()
}

// RecordDispatchError counts a failed workflow operation
func (m *Metrics) RecordDispatchError(operation string) {
	m.dispatchErrors.WithLabelValues(operation).Inc()
}

// RecordSchedule counts a scheduled order
func (m *Metrics) RecordSchedule() {
	m.schedules.Inc()
}

// RecordRelease counts a released order claim
func (m *Metrics) RecordRelease() {
	m.releases.Inc()
}

// UpdatePresenceStats sets the per-status agent gauges
func (m *Metrics) UpdatePresenceStats(online, busy, offline int) {
	m.agentsByStatus.WithLabelValues("online").Set(float64(online))
	m.agentsByStatus.WithLabelValues("busy").Set(float64(busy))
	m.agentsByStatus.WithLabelValues("offline").Set(float64(offline))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int, duration time.Duration) {
	m.httpRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
