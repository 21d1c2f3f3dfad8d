package db

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/Aaronyf/beam/service/coins"
	"github.com/Aaronyf/beam/service/wallet"
)

// MemStore is an in-memory wallet.DB. It is used when no database is
// configured and by tests.
type MemStore struct {
	mu sync.RWMutex

	txs     map[wallet.TxID]wallet.TxDescription
	txOrder []wallet.TxID

	coinSet    map[uint64]wallet.Coin
	nextCoinID uint64

	addresses map[wallet.WalletID]wallet.WalletAddress
	peers     map[wallet.WalletID]wallet.TxPeer
	peerOrder []wallet.WalletID

	state      wallet.StateID
	lastUpdate time.Time
	password   []byte

	now func() time.Time
}

var _ wallet.DB = (*MemStore)(nil)

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		txs:        make(map[wallet.TxID]wallet.TxDescription),
		coinSet:    make(map[uint64]wallet.Coin),
		nextCoinID: 1,
		addresses:  make(map[wallet.WalletID]wallet.WalletAddress),
		peers:      make(map[wallet.WalletID]wallet.TxPeer),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// TxHistory returns every transaction in insertion order.
func (s *MemStore) TxHistory(ctx context.Context) ([]wallet.TxDescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]wallet.TxDescription, 0, len(s.txOrder))
	for _, id := range s.txOrder {
		out = append(out, s.txs[id])
	}
	return out, nil
}

// GetTx returns the transaction with the given ID.
func (s *MemStore) GetTx(ctx context.Context, id wallet.TxID) (*wallet.TxDescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.txs[id]
	if !ok {
		return nil, fmt.Errorf("transaction %s: %w", id, wallet.ErrNotFound)
	}
	return &tx, nil
}

// SaveTx inserts or replaces a transaction.
func (s *MemStore) SaveTx(ctx context.Context, tx wallet.TxDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txs[tx.ID]; !exists {
		s.txOrder = append(s.txOrder, tx.ID)
	}
	s.txs[tx.ID] = tx
	return nil
}

// DeleteTx removes a transaction.
func (s *MemStore) DeleteTx(ctx context.Context, id wallet.TxID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txs[id]; !ok {
		return fmt.Errorf("transaction %s: %w", id, wallet.ErrNotFound)
	}
	delete(s.txs, id)
	s.txOrder = slices.DeleteFunc(s.txOrder, func(x wallet.TxID) bool { return x == id })
	return nil
}

// VisitCoins walks the coin set in ascending ID order. The store is not
// locked while visit runs.
func (s *MemStore) VisitCoins(ctx context.Context, visit func(wallet.Coin) bool) error {
	for _, c := range s.sortedCoins() {
		if !visit(c) {
			return nil
		}
	}
	return nil
}

// SelectCoins greedily selects available coins in ID order.
func (s *MemStore) SelectCoins(ctx context.Context, amount wallet.Amount, lock bool) ([]wallet.Coin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel := coins.Select(coins.Available(s.sortedCoinsLocked()), amount)
	if !sel.Sufficient {
		return []wallet.Coin{}, nil
	}

	if lock {
		for i := range sel.Coins {
			sel.Coins[i].Status = wallet.CoinLocked
			s.coinSet[sel.Coins[i].ID] = sel.Coins[i]
		}
	}
	return sel.Coins, nil
}

// SaveCoins inserts or replaces coins. Coins with a zero ID get the next
// free ID.
func (s *MemStore) SaveCoins(ctx context.Context, in ...wallet.Coin) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range in {
		if c.ID == 0 {
			c.ID = s.nextCoinID
		}
		if c.ID >= s.nextCoinID {
			s.nextCoinID = c.ID + 1
		}
		s.coinSet[c.ID] = c
	}
	return nil
}

// DeleteCoins removes coins by ID. Unknown IDs are ignored.
func (s *MemStore) DeleteCoins(ctx context.Context, ids ...uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.coinSet, id)
	}
	return nil
}

// SaveAddress inserts or replaces an address book entry.
func (s *MemStore) SaveAddress(ctx context.Context, addr wallet.WalletAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addresses[addr.WalletID] = addr
	return nil
}

// DeleteAddress removes an address book entry.
func (s *MemStore) DeleteAddress(ctx context.Context, id wallet.WalletID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.addresses[id]; !ok {
		return fmt.Errorf("address %s: %w", id, wallet.ErrNotFound)
	}
	delete(s.addresses, id)
	return nil
}

// Addresses returns own or foreign addresses ordered by creation time.
func (s *MemStore) Addresses(ctx context.Context, own bool) ([]wallet.WalletAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]wallet.WalletAddress, 0, len(s.addresses))
	for _, a := range s.addresses {
		if a.Own == own {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b wallet.WalletAddress) int {
		if c := a.CreateTime.Compare(b.CreateTime); c != 0 {
			return c
		}
		return slices.Compare(a.WalletID[:], b.WalletID[:])
	})
	return out, nil
}

// Peers returns known counterparties in the order they were first seen.
func (s *MemStore) Peers(ctx context.Context) ([]wallet.TxPeer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]wallet.TxPeer, 0, len(s.peerOrder))
	for _, id := range s.peerOrder {
		out = append(out, s.peers[id])
	}
	return out, nil
}

// SavePeer inserts or replaces a counterparty.
func (s *MemStore) SavePeer(ctx context.Context, peer wallet.TxPeer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.peers[peer.WalletID]; !exists {
		s.peerOrder = append(s.peerOrder, peer.WalletID)
	}
	s.peers[peer.WalletID] = peer
	return nil
}

// LastUpdateTime returns when the chain state was last recorded.
func (s *MemStore) LastUpdateTime(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate, nil
}

// SystemStateID returns the last recorded chain state.
func (s *MemStore) SystemStateID(ctx context.Context) (wallet.StateID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, nil
}

// SetSystemState records a new chain state and stamps the update time.
func (s *MemStore) SetSystemState(ctx context.Context, state wallet.StateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
	s.lastUpdate = s.now()
	return nil
}

// ChangePassword replaces the store secret.
func (s *MemStore) ChangePassword(ctx context.Context, secret []byte) error {
	if len(secret) == 0 {
		return fmt.Errorf("password must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.password = slices.Clone(secret)
	return nil
}

// CheckPassword reports whether secret matches the stored one.
func (s *MemStore) CheckPassword(secret []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Equal(s.password, secret)
}

func (s *MemStore) sortedCoins() []wallet.Coin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedCoinsLocked()
}

func (s *MemStore) sortedCoinsLocked() []wallet.Coin {
	out := make([]wallet.Coin, 0, len(s.coinSet))
	for _, c := range s.coinSet {
		out = append(out, c)
	}
	return coins.Sort(out)
}
