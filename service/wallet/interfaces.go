package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/Aaronyf/beam/service/observer"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds is returned when the available coins cannot cover
	// the requested amount.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// DB is the persistent wallet store: address book, transaction history and
// the coin set. Implementations own read consistency and must be safe for
// concurrent use.
type DB interface {
	TxHistory(ctx context.Context) ([]TxDescription, error)
	GetTx(ctx context.Context, id TxID) (*TxDescription, error)
	SaveTx(ctx context.Context, tx TxDescription) error
	DeleteTx(ctx context.Context, id TxID) error

	// VisitCoins calls visit for every coin in ascending ID order until visit
	// returns false.
	VisitCoins(ctx context.Context, visit func(Coin) bool) error

	// SelectCoins returns available coins covering amount, or an empty slice
	// when the available total is short. With lock set the selected coins are
	// moved to CoinLocked.
	SelectCoins(ctx context.Context, amount Amount, lock bool) ([]Coin, error)
	SaveCoins(ctx context.Context, coins ...Coin) error
	DeleteCoins(ctx context.Context, ids ...uint64) error

	SaveAddress(ctx context.Context, addr WalletAddress) error
	DeleteAddress(ctx context.Context, id WalletID) error
	Addresses(ctx context.Context, own bool) ([]WalletAddress, error)

	Peers(ctx context.Context) ([]TxPeer, error)
	SavePeer(ctx context.Context, peer TxPeer) error

	LastUpdateTime(ctx context.Context) (time.Time, error)
	SystemStateID(ctx context.Context) (StateID, error)
	SetSystemState(ctx context.Context, state StateID) error

	ChangePassword(ctx context.Context, secret []byte) error
}

// KeyStore holds key material for own addresses.
type KeyStore interface {
	GenerateKeyPair(ctx context.Context) (WalletID, error)
	SaveKeyPair(ctx context.Context, id WalletID, own bool) error
	EraseKey(ctx context.Context, id WalletID) error
	ChangePassword(ctx context.Context, secret []byte) error

	// Encrypt seals payload for recipient. It fails when recipient is not a
	// valid public key.
	Encrypt(payload []byte, recipient WalletID) ([]byte, error)
}

// TransferParams describes an outgoing transfer.
type TransferParams struct {
	Sender   WalletID
	Receiver WalletID
	Amount   Amount
	Fee      Amount
	Message  []byte
}

// PeerMessage is a message received on an own address' peer channel.
type PeerMessage struct {
	To      WalletID
	Payload []byte
}

// PeerSender delivers a payload to another wallet's peer channel.
type PeerSender interface {
	SendToPeer(ctx context.Context, to WalletID, payload []byte) error
}

// Observer receives change notifications from the transaction engine.
type Observer interface {
	OnCoinsChanged()
	OnTransactionChanged(action ChangeAction, items []TxDescription)
	OnSystemStateChanged()
	OnTxPeerChanged()
	OnAddressChanged()
	OnSyncProgress(done, total int)
}

// Engine is the transaction engine ("wallet core"). It constructs and
// tracks transactions; the actor only forwards requests to it.
type Engine interface {
	Transfer(ctx context.Context, params TransferParams) (TxID, error)
	Cancel(ctx context.Context, id TxID) error
	Delete(ctx context.Context, id TxID) error
	HandlePeerMessage(ctx context.Context, msg PeerMessage) error

	// OnChainState records a new chain state reported by the node and
	// settles transactions that it confirms.
	OnChainState(ctx context.Context, state StateID) error
	Subscribe(o Observer) *observer.Subscription
}
