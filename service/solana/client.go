// Package solana implements the wallet's node transport over Solana
// JSON-RPC. A probe checks node health and reads the finalized slot and
// blockhash, which become the wallet's chain state.
package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Aaronyf/beam/service/metrics"
	"github.com/Aaronyf/beam/service/wallet"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetHealth(ctx context.Context) (string, error)
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

// ErrUnhealthy is returned when the node does not report itself healthy.
var ErrUnhealthy = errors.New("node is unhealthy")

const maxAttempts = 3

// Prober queries nodes for their chain state. It keeps one RPC client per
// target and is safe for concurrent use.
type Prober struct {
	scheme  string
	newRPC  func(url string) RPCClient
	logger  *slog.Logger
	metrics *metrics.Metrics
	backoff time.Duration

	mu      sync.Mutex
	clients map[string]RPCClient
}

// NewProber creates a prober that dials scheme://target. If newRPC is nil
// the solana-go client is used. If metrics is nil, no metrics will be recorded.
func NewProber(scheme string, newRPC func(url string) RPCClient, m *metrics.Metrics, logger *slog.Logger) *Prober {
	if scheme == "" {
		scheme = "http"
	}
	if newRPC == nil {
		newRPC = NewRPCClient
	}
	return &Prober{
		scheme:  scheme,
		newRPC:  newRPC,
		logger:  logger,
		metrics: m,
		backoff: time.Second,
		clients: make(map[string]RPCClient),
	}
}

// Probe checks the node at target and returns its finalized chain state.
func (p *Prober) Probe(ctx context.Context, target string) (wallet.StateID, error) {
	url := p.scheme + "://" + target
	client := p.client(url)

	health, err := call(ctx, p, "GetHealth", target, client.GetHealth)
	if err != nil {
		return wallet.StateID{}, fmt.Errorf("failed to check node health: %w", err)
	}
	if health != "ok" {
		return wallet.StateID{}, fmt.Errorf("%w: %s", ErrUnhealthy, health)
	}

	slot, err := call(ctx, p, "GetSlot", target, func(ctx context.Context) (uint64, error) {
		return client.GetSlot(ctx, rpc.CommitmentFinalized)
	})
	if err != nil {
		return wallet.StateID{}, fmt.Errorf("failed to get slot: %w", err)
	}

	bh, err := call(ctx, p, "GetLatestBlockhash", target, func(ctx context.Context) (*rpc.GetLatestBlockhashResult, error) {
		return client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	})
	if err != nil {
		return wallet.StateID{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	if bh == nil || bh.Value == nil {
		return wallet.StateID{}, fmt.Errorf("failed to get latest blockhash: empty result")
	}

	p.logger.DebugContext(ctx, "probed node",
		"target", target,
		"slot", slot,
		"blockhash", bh.Value.Blockhash.String(),
	)
	return wallet.StateID{Height: slot, Hash: bh.Value.Blockhash.String()}, nil
}

func (p *Prober) client(url string) RPCClient {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.clients[url]
	if !ok {
		c = p.newRPC(url)
		p.clients[url] = c
	}
	return c
}

// call runs fn with retries. Rate limited calls back off longer than other
// failures; every sleep is abandoned when ctx is done.
func call[T any](ctx context.Context, p *Prober, method, endpoint string, fn func(context.Context) (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for attempt := range maxAttempts {
		start := time.Now()
		out, err = fn(ctx)
		duration := time.Since(start).Seconds()

		status := "success"
		if err != nil {
			status = "error"
		}
		if p.metrics != nil {
			p.metrics.RecordRPCCall(method, status, endpoint, duration)
		}

		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil || attempt == maxAttempts-1 {
			break
		}

		reason := "timeout_or_error"
		backoff := time.Duration(1<<uint(attempt)) * p.backoff
		if strings.Contains(err.Error(), "429") {
			reason = "rate_limit"
			backoff *= 2
			if p.metrics != nil {
				p.metrics.RecordRateLimitHit(endpoint)
			}
		}
		if p.metrics != nil {
			p.metrics.RecordRPCRetry(method, reason)
		}
		p.logger.WarnContext(ctx, "node rpc call failed, retrying",
			"method", method,
			"endpoint", endpoint,
			"attempt", attempt+1,
			"backoff_seconds", backoff.Seconds(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
	return out, err
}
