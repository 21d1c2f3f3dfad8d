package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Aaronyf/beam/service/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP API of the wallet daemon.
type Server struct {
	addr    string
	wallet  Wallet
	cache   *Cache
	broker  *Broker
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The broker is optional - if nil, the event stream is not available.
// The metrics is optional - if nil, the metrics endpoint is not available.
func New(addr string, wal Wallet, cache *Cache, broker *Broker, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:    addr,
		wallet:  wal,
		cache:   cache,
		broker:  broker,
		metrics: m,
		logger:  logger,
	}
}

// Handler builds the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Commands
	route("POST /api/v1/send", "/api/v1/send", handleSendMoney(s.wallet, s.logger))
	route("POST /api/v1/sync", "/api/v1/sync", handleSync(s.wallet, s.logger))
	route("POST /api/v1/change", "/api/v1/change", handleCalcChange(s.wallet, s.logger))
	route("POST /api/v1/status/refresh", "/api/v1/status/refresh", handleRefreshStatus(s.wallet, s.logger))
	route("POST /api/v1/utxos/refresh", "/api/v1/utxos/refresh", handleRefreshUTXOs(s.wallet, s.logger))
	route("POST /api/v1/transactions/{id}/cancel", "/api/v1/transactions/cancel", handleCancelTx(s.wallet, s.logger))
	route("DELETE /api/v1/transactions/{id}", "/api/v1/transactions/delete", handleDeleteTx(s.wallet, s.logger))
	route("POST /api/v1/addresses", "/api/v1/addresses", handleCreateAddress(s.wallet, s.logger))
	route("POST /api/v1/addresses/refresh", "/api/v1/addresses/refresh", handleRefreshAddresses(s.wallet, s.logger))
	route("POST /api/v1/addresses/generate", "/api/v1/addresses/generate", handleGenerateAddress(s.wallet, s.logger))
	route("DELETE /api/v1/addresses/{id}", "/api/v1/addresses/delete", handleDeleteAddress(s.wallet, s.logger))
	route("PUT /api/v1/current-ids", "/api/v1/current-ids", handleSetCurrentIDs(s.wallet, s.logger))
	route("PUT /api/v1/node", "/api/v1/node", handleSetNodeAddress(s.wallet, s.logger))
	route("PUT /api/v1/password", "/api/v1/password", handleChangePassword(s.wallet, s.logger))
	route("POST /api/v1/receiver-check", "/api/v1/receiver-check", handleCheckReceiver(s.wallet, s.logger))

	// Cached reads
	route("GET /api/v1/status", "/api/v1/status", handleGetStatus(s.cache))
	route("GET /api/v1/utxos", "/api/v1/utxos", handleListUTXOs(s.cache))
	route("GET /api/v1/transactions", "/api/v1/transactions", handleListTransactions(s.cache))
	route("GET /api/v1/peers", "/api/v1/peers", handleListPeers(s.cache))
	route("GET /api/v1/addresses", "/api/v1/addresses/list", handleListAddresses(s.cache))
	route("GET /api/v1/receiver-check", "/api/v1/receiver-check/get", handleGetReceiverCheck(s.cache))

	// SSE streaming endpoint (if the broker is configured)
	if s.broker != nil {
		route("GET /api/v1/stream", "/api/v1/stream", handleStreamEvents(s.broker, s.logger))
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: the event stream is long-lived.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr, "stream", s.broker != nil, "metrics", s.metrics != nil)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the broker first (disconnects all stream clients)
	if s.broker != nil {
		s.broker.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
