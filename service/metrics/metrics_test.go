package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordCommandExecuted(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCommandExecuted("send_money", false)
	m.RecordCommandExecuted("send_money", false)
	m.RecordCommandExecuted("send_money", true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commandsExecutedTotal.WithLabelValues("send_money", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commandsExecutedTotal.WithLabelValues("send_money", "panic")))
}

func TestRecordNodeConnection(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordNodeConnection(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodeConnected))

	m.RecordNodeConnectionFailure()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.nodeConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodeConnectionFailures))

	m.RecordChainHeight(1234)
	assert.Equal(t, 1234.0, testutil.ToFloat64(m.chainHeight))
}

func TestRecordPeerMessageAndDrops(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordPeerMessage("out", nil)
	m.RecordPeerMessage("out", errors.New("boom"))
	m.RecordCommandsDropped(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.peerMessagesTotal.WithLabelValues("out", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.peerMessagesTotal.WithLabelValues("out", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.commandsDroppedTotal))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	h := HTTPMetricsMiddleware(m, "/api/v1/status")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("/api/v1/status", "GET", "4xx")))
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	h := HTTPMetricsMiddleware(nil, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusCodeToString(t *testing.T) {
	assert.Equal(t, "2xx", statusCodeToString(204))
	assert.Equal(t, "3xx", statusCodeToString(302))
	assert.Equal(t, "5xx", statusCodeToString(503))
	assert.Equal(t, "unknown", statusCodeToString(99))
}
