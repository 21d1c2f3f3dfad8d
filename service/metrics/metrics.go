package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the wallet daemon.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Node RPC Metrics
	nodeRPCCallsTotal    *prometheus.CounterVec
	nodeRPCCallDuration  *prometheus.HistogramVec
	nodeRPCRateLimitHits *prometheus.CounterVec
	nodeRPCRetries       *prometheus.CounterVec

	// Node connection Metrics
	nodeConnected          prometheus.Gauge
	nodeConnectionFailures prometheus.Counter
	chainHeight            prometheus.Gauge

	// Actor Metrics
	commandsExecutedTotal *prometheus.CounterVec
	commandsDroppedTotal  prometheus.Counter
	eventsEmittedTotal    *prometheus.CounterVec

	// Peer messaging Metrics
	peerMessagesTotal *prometheus.CounterVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	sseActiveConnections prometheus.Gauge
	sseEventsSent        *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Node RPC Metrics
		nodeRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_node_rpc_calls_total",
				Help: "Total number of node RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		nodeRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_node_rpc_call_duration_seconds",
				Help:    "Duration of node RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		nodeRPCRateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_node_rpc_rate_limit_hits_total",
				Help: "Total number of node RPC rate limit hits (429 errors)",
			},
			[]string{"endpoint"},
		),
		nodeRPCRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_node_rpc_retries_total",
				Help: "Total number of node RPC retries by method and reason",
			},
			[]string{"method", "reason"},
		),

		// Node connection Metrics
		nodeConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wallet_node_connected",
				Help: "1 when the wallet is connected to its node, 0 otherwise",
			},
		),
		nodeConnectionFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wallet_node_connection_failures_total",
				Help: "Total number of failed node connection attempts",
			},
		),
		chainHeight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wallet_chain_height",
				Help: "Latest chain height reported by the node",
			},
		),

		// Actor Metrics
		commandsExecutedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_commands_executed_total",
				Help: "Total number of actor commands executed by name and outcome",
			},
			[]string{"command", "outcome"},
		),
		commandsDroppedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "wallet_commands_dropped_total",
				Help: "Total number of queued commands dropped at shutdown",
			},
		),
		eventsEmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_events_emitted_total",
				Help: "Total number of events emitted by the actor by kind",
			},
			[]string{"kind"},
		),

		// Peer messaging Metrics
		peerMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_peer_messages_total",
				Help: "Total number of peer messages by direction and status",
			},
			[]string{"direction", "status"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_db_operations_total",
				Help: "Total number of database operations by type and status",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_http_requests_total",
				Help: "Total number of HTTP requests by handler, method, and status",
			},
			[]string{"handler", "method", "status"},
		),
		sseActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "wallet_sse_active_connections",
				Help: "Number of active SSE event stream connections",
			},
		),
		sseEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_sse_events_sent_total",
				Help: "Total number of SSE events sent by kind",
			},
			[]string{"kind"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_nats_messages_published_total",
				Help: "Total number of NATS messages published by subject and status",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
			},
			[]string{"subject"},
		),
	}
}

// Node RPC metric helpers

// RecordRPCCall records a node RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.nodeRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.nodeRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordRateLimitHit records a rate limit hit (429 error).
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.nodeRPCRateLimitHits.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry records a retry attempt.
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.nodeRPCRetries.WithLabelValues(method, reason).Inc()
}

// Node connection metric helpers

// RecordNodeConnection records the node connection state.
func (m *Metrics) RecordNodeConnection(connected bool) {
	if connected {
		m.nodeConnected.Set(1)
	} else {
		m.nodeConnected.Set(0)
	}
}

// RecordNodeConnectionFailure records a failed connection attempt.
func (m *Metrics) RecordNodeConnectionFailure() {
	m.nodeConnectionFailures.Inc()
	m.nodeConnected.Set(0)
}

// RecordChainHeight records the latest chain height.
func (m *Metrics) RecordChainHeight(height uint64) {
	m.chainHeight.Set(float64(height))
}

// Actor metric helpers

// RecordCommandExecuted records one executed command.
func (m *Metrics) RecordCommandExecuted(command string, panicked bool) {
	outcome := "ok"
	if panicked {
		outcome = "panic"
	}
	m.commandsExecutedTotal.WithLabelValues(command, outcome).Inc()
}

// RecordCommandsDropped records commands discarded at shutdown.
func (m *Metrics) RecordCommandsDropped(count int) {
	m.commandsDroppedTotal.Add(float64(count))
}

// RecordEventEmitted records an event produced by the actor.
func (m *Metrics) RecordEventEmitted(kind string) {
	m.eventsEmittedTotal.WithLabelValues(kind).Inc()
}

// RecordPeerMessage records a peer message; direction is "in" or "out".
func (m *Metrics) RecordPeerMessage(direction string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.peerMessagesTotal.WithLabelValues(direction, status).Inc()
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordSSEConnectionChange records a change in SSE connection count.
func (m *Metrics) RecordSSEConnectionChange(delta float64) {
	m.sseActiveConnections.Add(delta)
}

// RecordSSEEventSent records an SSE event being sent.
func (m *Metrics) RecordSSEEventSent(kind string) {
	m.sseEventsSent.WithLabelValues(kind).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
