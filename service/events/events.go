// Package events defines the notifications the wallet actor produces for
// the presentation layer.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Aaronyf/beam/service/wallet"
)

// Event is a typed notification produced on the actor goroutine.
type Event interface {
	Kind() string
}

// Observer consumes events. OnEvent runs on the actor goroutine and should
// return quickly.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(ev).
func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

// Event kinds.
const (
	KindStatusChanged          = "status_changed"
	KindUTXOSetChanged         = "utxo_set_changed"
	KindTxListChanged          = "tx_list_changed"
	KindPeerListChanged        = "peer_list_changed"
	KindAddressListChanged     = "address_list_changed"
	KindSyncProgress           = "sync_progress"
	KindNodeConnectionChanged  = "node_connection_changed"
	KindNodeConnectionFailed   = "node_connection_failed"
	KindChangeComputed         = "change_computed"
	KindNewAddressGenerated    = "new_address_generated"
	KindCurrentIDsChanged      = "current_ids_changed"
	KindReceiverAddressChecked = "receiver_address_checked"
	KindError                  = "error"
)

type StatusChanged struct {
	Status wallet.Status `json:"status"`
}

type UTXOSetChanged struct {
	Coins []wallet.Coin `json:"coins"`
}

type TxListChanged struct {
	Action wallet.ChangeAction    `json:"action"`
	Txs    []wallet.TxDescription `json:"txs"`
}

type PeerListChanged struct {
	Peers []wallet.TxPeer `json:"peers"`
}

type AddressListChanged struct {
	Own       bool                   `json:"own"`
	Addresses []wallet.WalletAddress `json:"addresses"`
}

type SyncProgress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

type NodeConnectionChanged struct {
	Connected bool `json:"connected"`
}

type NodeConnectionFailed struct {
	Reason string `json:"reason"`
}

// ChangeComputed carries the surplus of a change estimate; zero when the
// available coins cannot cover the amount.
type ChangeComputed struct {
	Change wallet.Amount `json:"change"`
}

type NewAddressGenerated struct {
	ID wallet.WalletID `json:"id"`
}

type CurrentIDsChanged struct {
	Sender   wallet.WalletID `json:"sender"`
	Receiver wallet.WalletID `json:"receiver"`
}

type ReceiverAddressChecked struct {
	Address string `json:"address"`
	Valid   bool   `json:"valid"`
}

// Error kinds reported through Error events.
const (
	ErrorNodeAddress       = "node_address"
	ErrorInsufficientFunds = "insufficient_funds"
	ErrorNotFound          = "not_found"
	ErrorStore             = "store"
	ErrorKeyStore          = "key_store"
	ErrorTransaction       = "transaction"
)

// Error is a user-visible message for a recoverable failure. The actor keeps
// running after emitting it.
type Error struct {
	ErrorKind string `json:"kind"`
	Message   string `json:"message"`
}

func (StatusChanged) Kind() string          { return KindStatusChanged }
func (UTXOSetChanged) Kind() string         { return KindUTXOSetChanged }
func (TxListChanged) Kind() string          { return KindTxListChanged }
func (PeerListChanged) Kind() string        { return KindPeerListChanged }
func (AddressListChanged) Kind() string     { return KindAddressListChanged }
func (SyncProgress) Kind() string           { return KindSyncProgress }
func (NodeConnectionChanged) Kind() string  { return KindNodeConnectionChanged }
func (NodeConnectionFailed) Kind() string   { return KindNodeConnectionFailed }
func (ChangeComputed) Kind() string         { return KindChangeComputed }
func (NewAddressGenerated) Kind() string    { return KindNewAddressGenerated }
func (CurrentIDsChanged) Kind() string      { return KindCurrentIDsChanged }
func (ReceiverAddressChecked) Kind() string { return KindReceiverAddressChecked }
func (Error) Kind() string                  { return KindError }

// Envelope is the wire form of an event used by the SSE stream and the
// NATS relay.
type Envelope struct {
	Kind      string          `json:"kind"`
	EmittedAt time.Time       `json:"emitted_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Wrap marshals ev into an envelope stamped with at.
func Wrap(ev Event, at time.Time) (Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s event: %w", ev.Kind(), err)
	}
	return Envelope{Kind: ev.Kind(), EmittedAt: at, Payload: payload}, nil
}

// Decode turns an envelope back into its typed event.
func (e Envelope) Decode() (Event, error) {
	var ev Event
	switch e.Kind {
	case KindStatusChanged:
		ev = &StatusChanged{}
	case KindUTXOSetChanged:
		ev = &UTXOSetChanged{}
	case KindTxListChanged:
		ev = &TxListChanged{}
	case KindPeerListChanged:
		ev = &PeerListChanged{}
	case KindAddressListChanged:
		ev = &AddressListChanged{}
	case KindSyncProgress:
		ev = &SyncProgress{}
	case KindNodeConnectionChanged:
		ev = &NodeConnectionChanged{}
	case KindNodeConnectionFailed:
		ev = &NodeConnectionFailed{}
	case KindChangeComputed:
		ev = &ChangeComputed{}
	case KindNewAddressGenerated:
		ev = &NewAddressGenerated{}
	case KindCurrentIDsChanged:
		ev = &CurrentIDsChanged{}
	case KindReceiverAddressChecked:
		ev = &ReceiverAddressChecked{}
	case KindError:
		ev = &Error{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if err := json.Unmarshal(e.Payload, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", e.Kind, err)
	}
	return ev, nil
}
