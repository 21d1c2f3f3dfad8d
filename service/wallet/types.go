// Package wallet defines the domain model shared by the wallet actor and its
// collaborators: amounts, identities, coins, transactions and the status
// snapshot, together with the interfaces of the store, key store and
// transaction engine the actor drives.
package wallet

import (
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// Amount is a value in the smallest indivisible unit.
type Amount uint64

// WalletID identifies a spendable or receivable endpoint. It is the ed25519
// public key of the endpoint and renders as base58.
type WalletID = solana.PublicKey

// TxID identifies a transaction inside the wallet.
type TxID = uuid.UUID

// CoinStatus is the lifecycle state of an unspent output.
type CoinStatus string

const (
	CoinAvailable CoinStatus = "available"
	CoinIncoming  CoinStatus = "incoming"
	CoinChange    CoinStatus = "change"
	CoinOutgoing  CoinStatus = "outgoing"
	CoinLocked    CoinStatus = "locked"
	CoinSpent     CoinStatus = "spent"
	CoinMaturing  CoinStatus = "maturing"
)

// Coin is an unspent-output record owned by the store.
type Coin struct {
	ID         uint64     `json:"id"`
	Amount     Amount     `json:"amount"`
	Status     CoinStatus `json:"status"`
	CreateTxID *TxID      `json:"create_tx_id,omitempty"`
	SpentTxID  *TxID      `json:"spent_tx_id,omitempty"`
}

// IsAvailable reports whether the coin can be selected for spending.
func (c Coin) IsAvailable() bool {
	return c.Status == CoinAvailable
}

// TxStatus is the lifecycle state of a transaction.
type TxStatus string

const (
	TxPending    TxStatus = "pending"
	TxInProgress TxStatus = "in_progress"
	TxCancelled  TxStatus = "cancelled"
	TxCompleted  TxStatus = "completed"
	TxFailed     TxStatus = "failed"
)

// TxDescription is one entry of the transaction history.
type TxDescription struct {
	ID         TxID      `json:"id"`
	Amount     Amount    `json:"amount"`
	Fee        Amount    `json:"fee"`
	Sender     bool      `json:"sender"` // true when this wallet sends the funds
	Status     TxStatus  `json:"status"`
	PeerID     WalletID  `json:"peer_id"`
	MyID       WalletID  `json:"my_id"`
	Message    []byte    `json:"message,omitempty"`
	CreateTime time.Time `json:"create_time"`
	ModifyTime time.Time `json:"modify_time"`
}

// CanCancel reports whether the engine may still cancel the transaction.
func (t TxDescription) CanCancel() bool {
	return t.Status == TxPending || t.Status == TxInProgress
}

// CanDelete reports whether the transaction can be removed from history.
func (t TxDescription) CanDelete() bool {
	return t.Status != TxPending && t.Status != TxInProgress
}

// WalletAddress is an address book entry. Own addresses have key material in
// the key store; foreign addresses are passed through from callers.
type WalletAddress struct {
	WalletID   WalletID      `json:"wallet_id"`
	Label      string        `json:"label"`
	Own        bool          `json:"own"`
	CreateTime time.Time     `json:"create_time"`
	Duration   time.Duration `json:"duration"` // zero means the address never expires
}

// TxPeer is a counterparty the wallet has exchanged transactions with.
type TxPeer struct {
	WalletID WalletID `json:"wallet_id"`
	Label    string   `json:"label"`
}

// StateID identifies the latest chain state the wallet has seen.
type StateID struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// IsZero reports whether no chain state has been recorded yet.
func (s StateID) IsZero() bool {
	return s.Height == 0 && s.Hash == ""
}

// Status is a point-in-time wallet snapshot. It is derived on demand from
// the transaction history and the coin set and never cached.
type Status struct {
	Available   Amount    `json:"available"`
	Sent        Amount    `json:"sent"`
	Received    Amount    `json:"received"`
	Unconfirmed Amount    `json:"unconfirmed"`
	LastUpdate  time.Time `json:"last_update"`
	StateID     StateID   `json:"state_id"`
}

// ChangeAction tells observers how to apply a transaction list.
type ChangeAction string

const (
	ChangeReset  ChangeAction = "reset"
	ChangeAdd    ChangeAction = "add"
	ChangeUpdate ChangeAction = "update"
	ChangeRemove ChangeAction = "remove"
)
