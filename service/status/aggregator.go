// Package status derives the wallet status snapshot from the store.
package status

import (
	"context"
	"fmt"
	"time"

	"github.com/Aaronyf/beam/service/wallet"
)

// Source is the subset of the store the aggregator reads.
type Source interface {
	TxHistory(ctx context.Context) ([]wallet.TxDescription, error)
	VisitCoins(ctx context.Context, visit func(wallet.Coin) bool) error
	LastUpdateTime(ctx context.Context) (time.Time, error)
	SystemStateID(ctx context.Context) (wallet.StateID, error)
}

// Compute reads the full history and coin set and returns the current
// status. Completed transactions are summed into Sent or Received by role;
// incoming and change coins make up Unconfirmed. Nothing is memoized, so two
// calls without a store mutation in between return identical values.
func Compute(ctx context.Context, src Source) (wallet.Status, error) {
	var st wallet.Status

	err := src.VisitCoins(ctx, func(c wallet.Coin) bool {
		switch c.Status {
		case wallet.CoinAvailable:
			st.Available += c.Amount
		case wallet.CoinIncoming, wallet.CoinChange:
			st.Unconfirmed += c.Amount
		}
		return true
	})
	if err != nil {
		return wallet.Status{}, fmt.Errorf("failed to read coins: %w", err)
	}

	history, err := src.TxHistory(ctx)
	if err != nil {
		return wallet.Status{}, fmt.Errorf("failed to read transaction history: %w", err)
	}
	for _, tx := range history {
		if tx.Status != wallet.TxCompleted {
			continue
		}
		if tx.Sender {
			st.Sent += tx.Amount
		} else {
			st.Received += tx.Amount
		}
	}

	st.LastUpdate, err = src.LastUpdateTime(ctx)
	if err != nil {
		return wallet.Status{}, fmt.Errorf("failed to read last update time: %w", err)
	}

	st.StateID, err = src.SystemStateID(ctx)
	if err != nil {
		return wallet.Status{}, fmt.Errorf("failed to read system state: %w", err)
	}

	return st, nil
}
