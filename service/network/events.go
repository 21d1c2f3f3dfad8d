package network

import "github.com/Aaronyf/beam/service/wallet"

// Event is a network result delivered to the actor loop through
// Controller.Events. Node results carry the attempt number they belong to;
// NodeClient.Apply discards those that are stale.
type Event interface {
	networkEvent()
}

// NodeConnected reports a successful connection attempt.
type NodeConnected struct {
	Attempt uint64
	Target  string
	State   wallet.StateID
}

// NodeFailed reports a failed connection attempt or a failed refresh of an
// established connection.
type NodeFailed struct {
	Attempt uint64
	Target  string
	Err     error
}

// NodeSynced reports fresh chain state from an established connection.
type NodeSynced struct {
	Attempt uint64
	State   wallet.StateID
}

// PeerMessageReceived carries a message addressed to one of the wallet's
// own addresses.
type PeerMessageReceived struct {
	Message wallet.PeerMessage
}

func (NodeConnected) networkEvent()       {}
func (NodeFailed) networkEvent()          {}
func (NodeSynced) networkEvent()          {}
func (PeerMessageReceived) networkEvent() {}
