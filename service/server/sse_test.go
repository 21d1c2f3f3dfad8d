package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Aaronyf/beam/service/events"
	"github.com/Aaronyf/beam/service/metrics"
	"github.com/Aaronyf/beam/service/wallet"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readEvent reads one SSE frame, skipping comments.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if name != "" {
				return name, data
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openStream(t *testing.T, url string) *bufio.Reader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	name, _ := readEvent(t, r)
	require.Equal(t, "connected", name)
	return r
}

func TestBroker_StreamsEnvelopes(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	b := NewBroker(8, m, testLogger())
	ts := httptest.NewServer(metrics.HTTPMetricsMiddleware(m, "/api/v1/stream")(handleStreamEvents(b, testLogger())))
	t.Cleanup(ts.Close)

	r := openStream(t, ts.URL)
	require.Eventually(t, func() bool { return b.Clients() == 1 }, time.Second, 10*time.Millisecond)

	b.OnEvent(events.StatusChanged{Status: wallet.Status{Available: 12}})

	name, data := readEvent(t, r)
	assert.Equal(t, events.KindStatusChanged, name)

	var env events.Envelope
	require.NoError(t, json.Unmarshal([]byte(data), &env))
	ev, err := env.Decode()
	require.NoError(t, err)
	assert.Equal(t, wallet.Amount(12), ev.(*events.StatusChanged).Status.Available)
}

func TestBroker_KindsFilter(t *testing.T) {
	b := NewBroker(8, nil, testLogger())
	ts := httptest.NewServer(handleStreamEvents(b, testLogger()))
	t.Cleanup(ts.Close)

	r := openStream(t, ts.URL+"?kinds="+events.KindError+",%20"+events.KindSyncProgress)
	require.Eventually(t, func() bool { return b.Clients() == 1 }, time.Second, 10*time.Millisecond)

	b.OnEvent(events.StatusChanged{})
	b.OnEvent(events.SyncProgress{Done: 1, Total: 2})

	name, _ := readEvent(t, r)
	assert.Equal(t, events.KindSyncProgress, name)
}

func TestBroker_CloseDisconnects(t *testing.T) {
	b := NewBroker(8, nil, testLogger())
	ts := httptest.NewServer(handleStreamEvents(b, testLogger()))
	t.Cleanup(ts.Close)

	openStream(t, ts.URL)
	require.Eventually(t, func() bool { return b.Clients() == 1 }, time.Second, 10*time.Millisecond)

	b.Close()
	assert.Equal(t, 0, b.Clients())

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Events after close are ignored.
	b.OnEvent(events.StatusChanged{})
	b.Close()
}

func TestBroker_SlowClientDropsEvents(t *testing.T) {
	b := NewBroker(1, nil, testLogger())
	c, ok := b.subscribe(nil)
	require.True(t, ok)

	b.OnEvent(events.SyncProgress{Done: 1, Total: 3})
	b.OnEvent(events.SyncProgress{Done: 2, Total: 3})

	require.Len(t, c.ch, 1)
	env := <-c.ch
	ev, err := env.Decode()
	require.NoError(t, err)
	assert.Equal(t, 1, ev.(*events.SyncProgress).Done)

	b.unsubscribe(c)
	b.unsubscribe(c)
	_, open := <-c.ch
	assert.False(t, open)
}

func TestParseKinds(t *testing.T) {
	assert.Nil(t, parseKinds(""))
	assert.Nil(t, parseKinds(" , "))
	assert.Equal(t, map[string]bool{"a": true, "b": true}, parseKinds("a, b"))
}
