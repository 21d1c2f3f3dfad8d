package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Aaronyf/beam/service/events"
	"github.com/Aaronyf/beam/service/metrics"
)

const defaultKeepalive = 10 * time.Second

// Broker fans actor events out to Server-Sent Events connections. OnEvent
// runs on the actor goroutine and never blocks: each connection has a
// bounded queue and events for a full queue are dropped.
type Broker struct {
	mu      sync.Mutex
	clients map[*sseClient]struct{}
	closed  bool

	buffer    int
	keepalive time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

type sseClient struct {
	ch    chan events.Envelope
	kinds map[string]bool // nil streams every kind
}

// NewBroker creates a broker with a per-connection queue of buffer events.
func NewBroker(buffer int, m *metrics.Metrics, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{
		clients:   make(map[*sseClient]struct{}),
		buffer:    buffer,
		keepalive: defaultKeepalive,
		metrics:   m,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnEvent implements events.Observer.
func (b *Broker) OnEvent(ev events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(b.clients) == 0 {
		return
	}
	env, err := events.Wrap(ev, b.now())
	if err != nil {
		b.logger.Error("failed to wrap event for SSE", "kind", ev.Kind(), "error", err)
		return
	}
	for c := range b.clients {
		if c.kinds != nil && !c.kinds[env.Kind] {
			continue
		}
		select {
		case c.ch <- env:
		default:
			b.logger.Warn("SSE client too slow, dropping event", "kind", env.Kind)
		}
	}
}

func (b *Broker) subscribe(kinds map[string]bool) (*sseClient, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, false
	}
	c := &sseClient{ch: make(chan events.Envelope, b.buffer), kinds: kinds}
	b.clients[c] = struct{}{}
	if b.metrics != nil {
		b.metrics.RecordSSEConnectionChange(1)
	}
	return c, true
}

func (b *Broker) unsubscribe(c *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[c]; !ok {
		return
	}
	delete(b.clients, c)
	close(c.ch)
	if b.metrics != nil {
		b.metrics.RecordSSEConnectionChange(-1)
	}
}

// Clients returns the number of connected streams.
func (b *Broker) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every stream. Later connections are refused.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for c := range b.clients {
		delete(b.clients, c)
		close(c.ch)
		if b.metrics != nil {
			b.metrics.RecordSSEConnectionChange(-1)
		}
	}
	b.logger.Info("SSE broker closed")
}

// parseKinds reads the comma separated kinds filter; empty means all.
func parseKinds(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	kinds := make(map[string]bool)
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[k] = true
		}
	}
	if len(kinds) == 0 {
		return nil
	}
	return kinds
}

// handleStreamEvents streams wallet events.
// GET /api/v1/stream?kinds=status_changed,tx_list_changed
func handleStreamEvents(b *Broker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		client, ok := b.subscribe(parseKinds(r.URL.Query().Get("kinds")))
		if !ok {
			writeError(w, "event stream closed", http.StatusServiceUnavailable)
			return
		}
		defer b.unsubscribe(client)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		logger.DebugContext(r.Context(), "SSE client connected", "remote_addr", r.RemoteAddr)

		fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
		flusher.Flush()

		keepalive := time.NewTicker(b.keepalive)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()

			case env, ok := <-client.ch:
				if !ok {
					return
				}
				data, err := json.Marshal(env)
				if err != nil {
					logger.WarnContext(r.Context(), "failed to marshal event", "kind", env.Kind, "error", err)
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", env.Kind, data)
				flusher.Flush()
				if b.metrics != nil {
					b.metrics.RecordSSEEventSent(env.Kind)
				}

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected", "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}
