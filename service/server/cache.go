package server

import (
	"slices"
	"sync"
	"time"

	"github.com/Aaronyf/beam/service/events"
	"github.com/Aaronyf/beam/service/wallet"
)

// Snapshot is the latest wallet view assembled from actor events.
type Snapshot struct {
	Status          wallet.Status       `json:"status"`
	NodeConnected   bool                `json:"node_connected"`
	NodeError       string              `json:"node_error,omitempty"`
	Sync            events.SyncProgress `json:"sync"`
	Change          *wallet.Amount      `json:"change,omitempty"`
	CurrentSender   *wallet.WalletID    `json:"current_sender,omitempty"`
	CurrentReceiver *wallet.WalletID    `json:"current_receiver,omitempty"`
	LastGenerated   *wallet.WalletID    `json:"last_generated,omitempty"`
	LastError       *events.Error       `json:"last_error,omitempty"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Cache observes the actor and keeps the last reported state so HTTP reads
// never touch the actor goroutine. The actor recomputes status on every
// change; the cache only remembers what it was told.
type Cache struct {
	mu sync.RWMutex

	snap      Snapshot
	txs       []wallet.TxDescription
	coins     []wallet.Coin
	peers     []wallet.TxPeer
	own       []wallet.WalletAddress
	foreign   []wallet.WalletAddress
	receivers map[string]bool

	now func() time.Time
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		receivers: make(map[string]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnEvent implements events.Observer.
func (c *Cache) OnEvent(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case events.StatusChanged:
		c.snap.Status = e.Status
	case events.UTXOSetChanged:
		c.coins = slices.Clone(e.Coins)
	case events.TxListChanged:
		c.txs = applyTxChange(c.txs, e.Action, e.Txs)
	case events.PeerListChanged:
		c.peers = slices.Clone(e.Peers)
	case events.AddressListChanged:
		if e.Own {
			c.own = slices.Clone(e.Addresses)
		} else {
			c.foreign = slices.Clone(e.Addresses)
		}
	case events.SyncProgress:
		c.snap.Sync = e
	case events.NodeConnectionChanged:
		c.snap.NodeConnected = e.Connected
		if e.Connected {
			c.snap.NodeError = ""
		}
	case events.NodeConnectionFailed:
		c.snap.NodeError = e.Reason
	case events.ChangeComputed:
		change := e.Change
		c.snap.Change = &change
	case events.NewAddressGenerated:
		id := e.ID
		c.snap.LastGenerated = &id
	case events.CurrentIDsChanged:
		sender, receiver := e.Sender, e.Receiver
		c.snap.CurrentSender = &sender
		c.snap.CurrentReceiver = &receiver
	case events.ReceiverAddressChecked:
		c.receivers[e.Address] = e.Valid
	case events.Error:
		errEv := e
		c.snap.LastError = &errEv
	default:
		return
	}
	c.snap.UpdatedAt = c.now()
}

// applyTxChange applies one list change. Add and update replace an entry
// with the same ID in place and append otherwise.
func applyTxChange(list []wallet.TxDescription, action wallet.ChangeAction, items []wallet.TxDescription) []wallet.TxDescription {
	switch action {
	case wallet.ChangeReset:
		return slices.Clone(items)
	case wallet.ChangeAdd, wallet.ChangeUpdate:
		for _, tx := range items {
			i := slices.IndexFunc(list, func(x wallet.TxDescription) bool { return x.ID == tx.ID })
			if i >= 0 {
				list[i] = tx
			} else {
				list = append(list, tx)
			}
		}
	case wallet.ChangeRemove:
		for _, tx := range items {
			list = slices.DeleteFunc(list, func(x wallet.TxDescription) bool { return x.ID == tx.ID })
		}
	}
	return list
}

// Snapshot returns the current wallet view.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Transactions returns the transaction list.
func (c *Cache) Transactions() []wallet.TxDescription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return nonNil(slices.Clone(c.txs))
}

// Coins returns the last reported coin set.
func (c *Cache) Coins() []wallet.Coin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return nonNil(slices.Clone(c.coins))
}

// Peers returns the last reported counterparties.
func (c *Cache) Peers() []wallet.TxPeer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return nonNil(slices.Clone(c.peers))
}

// Addresses returns the last reported own or foreign addresses.
func (c *Cache) Addresses(own bool) []wallet.WalletAddress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if own {
		return nonNil(slices.Clone(c.own))
	}
	return nonNil(slices.Clone(c.foreign))
}

// ReceiverCheck returns the last check result for addr.
func (c *Cache) ReceiverCheck(addr string) (valid, checked bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	valid, checked = c.receivers[addr]
	return valid, checked
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
