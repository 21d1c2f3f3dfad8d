package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aaronyf/beam/service/actor"
	"github.com/Aaronyf/beam/service/config"
	"github.com/Aaronyf/beam/service/db"
	"github.com/Aaronyf/beam/service/keystore"
	"github.com/Aaronyf/beam/service/metrics"
	natspkg "github.com/Aaronyf/beam/service/nats"
	"github.com/Aaronyf/beam/service/network"
	"github.com/Aaronyf/beam/service/server"
	"github.com/Aaronyf/beam/service/solana"
	"github.com/Aaronyf/beam/service/wallet"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	var sink io.Writer = os.Stdout
	var rotator actor.Rotator
	if cfg.LogFile != "" {
		lf, err := openLogFile(cfg.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
			os.Exit(1)
		}
		defer lf.Close()
		sink, rotator = lf, lf
	}

	logger := setupLogger(sink, cfg.LogLevel)
	logger.Info("starting wallet daemon",
		"addr", cfg.ServerAddr,
		"node", cfg.NodeAddr,
		"log_level", cfg.LogLevel,
	)

	if err := run(cfg, rotator, logger); err != nil {
		logger.Error("wallet daemon failed", "error", err)
		os.Exit(1)
	}
	logger.Info("wallet daemon shutdown complete")
}

func run(cfg *config.Config, rotator actor.Rotator, logger *slog.Logger) error {
	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)
	secret := []byte(cfg.WalletPassword)

	store, closeStore, err := openStore(ctx, cfg, m, secret, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Peer transport: NATS when configured, in-process otherwise.
	var messenger network.Messenger = network.NewLoopbackMessenger()
	var relay *natspkg.Relay
	if cfg.NATSURL != "" {
		nc, err := natspkg.Connect(cfg.NATSURL, "beam-walletd")
		if err != nil {
			return err
		}
		defer nc.Close()
		messenger = natspkg.NewMessenger(nc)

		relay, err = newRelay(cfg, m, logger)
		if err != nil {
			return err
		}
		logger.Info("connected to NATS", "url", nc.ConnectedUrl())
	}

	a := actor.New(actor.Options{
		DB:          store,
		KeyStore:    keystore.NewMemKeyStore(secret),
		NodeAddress: cfg.NodeAddr,
		Network: network.Options{
			Prober:    solana.NewProber(cfg.NodeRPCScheme, nil, m, logger),
			Messenger: messenger,
			Resolver:  network.NetResolver{},
			Logger:    logger,
		},
		PollInterval:   cfg.NodePollInterval,
		RotationPeriod: cfg.LogRotationPeriod,
		Rotator:        rotator,
		Metrics:        m,
		Logger:         logger,
	})

	cache := server.NewCache()
	broker := server.NewBroker(cfg.EventBufferSize, m, logger)
	a.Subscribe(cache)
	a.Subscribe(broker)
	if relay != nil {
		a.Subscribe(relay)
		go relay.Run(ctx)
		defer relay.Close()
	}

	actorErrors := make(chan error, 1)
	go func() {
		actorErrors <- a.Run(ctx)
	}()

	// Start HTTP server in background
	httpServer := server.New(cfg.ServerAddr, a.Async(), cache, broker, m, logger)
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or a component failure
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case err := <-serverErrors:
		runErr = err
	case err := <-actorErrors:
		if err == nil {
			err = errors.New("wallet actor stopped unexpectedly")
		}
		runErr = fmt.Errorf("wallet actor: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server gracefully", "error", err)
	}
	a.Stop()
	select {
	case <-a.Done():
	case <-shutdownCtx.Done():
		logger.Warn("wallet actor did not stop before the shutdown deadline")
	}
	return runErr
}

// openStore returns the Postgres store when DATABASE_URL is set and the
// in-memory store otherwise. A fresh Postgres wallet takes the configured
// password; an existing one must match it.
func openStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics, secret []byte, logger *slog.Logger) (wallet.DB, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, wallet state will not survive a restart")
		store := db.NewMemStore()
		if len(secret) > 0 {
			if err := store.ChangePassword(ctx, secret); err != nil {
				return nil, nil, err
			}
		}
		return store, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := db.NewStore(pool, m)
	if err := store.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("connected to database")

	if len(secret) > 0 {
		if err := unlock(ctx, store, secret); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return store, pool.Close, nil
}

func unlock(ctx context.Context, store *db.Store, secret []byte) error {
	set, err := store.HasPassword(ctx)
	if err != nil {
		return fmt.Errorf("failed to read wallet password: %w", err)
	}
	if !set {
		return store.ChangePassword(ctx, secret)
	}
	ok, err := store.CheckPassword(ctx, secret)
	if err != nil {
		return fmt.Errorf("failed to check wallet password: %w", err)
	}
	if !ok {
		return errors.New("WALLET_PASSWORD does not match the stored wallet password")
	}
	return nil
}

// newRelay opens a dedicated publisher connection for relaying wallet events.
// Closing the relay closes it.
func newRelay(cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*natspkg.Relay, error) {
	pub, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
	if err != nil {
		return nil, err
	}
	return natspkg.NewRelay(pub, cfg.WalletName, cfg.EventBufferSize, logger), nil
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(w io.Writer, levelStr string) *slog.Logger {
	level, err := config.ParseLogLevel(levelStr)
	if err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(w, opts))
}
