// Package network owns the wallet's node connection and peer-messaging
// sub-clients. The actor reaches them only through generation-checked
// handles, so a sub-client torn down mid-flight is never touched again.
package network

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Aaronyf/beam/service/wallet"
)

// ErrTornDown is returned once the controller has been torn down.
var ErrTornDown = errors.New("network controller torn down")

// ErrNoProber is what every connection attempt fails with when Options
// carries no Prober.
var ErrNoProber = errors.New("no node prober configured")

// Options configures a Controller.
type Options struct {
	Prober       Prober
	Messenger    Messenger
	Resolver     Resolver
	Logger       *slog.Logger
	EventBuffer  int
	ProbeTimeout time.Duration
	// ResolveTimeout bounds a single SetNodeAddress lookup.
	ResolveTimeout time.Duration
}

// Controller creates the network sub-clients and hands out handles to them.
// Results from probe goroutines and peer subscriptions arrive on Events.
type Controller struct {
	node   Slot[*NodeClient]
	peers  Slot[*PeerClient]
	events chan Event

	resolver       Resolver
	resolveTimeout time.Duration
	logger         *slog.Logger
	cancel         context.CancelFunc
}

// NewController builds both sub-clients under ctx. Cancelling ctx abandons
// every in-flight attempt.
func NewController(ctx context.Context, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 64
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = 10 * time.Second
	}
	if opts.Resolver == nil {
		opts.Resolver = NetResolver{}
	}
	if opts.Prober == nil {
		opts.Prober = ProberFunc(func(context.Context, string) (wallet.StateID, error) {
			return wallet.StateID{}, ErrNoProber
		})
	}
	if opts.Messenger == nil {
		opts.Messenger = NewLoopbackMessenger()
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		events:         make(chan Event, opts.EventBuffer),
		resolver:       opts.Resolver,
		resolveTimeout: opts.ResolveTimeout,
		logger:         logger,
		cancel:         cancel,
	}
	c.node.Set(newNodeClient(ctx, opts.Prober, c.events, opts.ProbeTimeout, logger.With("component", "node")))
	c.peers.Set(newPeerClient(ctx, opts.Messenger, c.events, logger.With("component", "peers")))
	return c
}

// Node returns a handle to the node client.
func (c *Controller) Node() Handle[*NodeClient] {
	return c.node.Handle()
}

// Peers returns a handle to the peer client.
func (c *Controller) Peers() Handle[*PeerClient] {
	return c.peers.Handle()
}

// Events delivers network results to the actor loop. The channel is never
// closed; stop reading it after Teardown.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// SetNodeAddress resolves addr and, on success, reconnects to exactly that
// target. On failure it returns a *ResolveError and leaves the targets and
// the connection as they were. wasConnected reports whether an established
// connection was dropped.
func (c *Controller) SetNodeAddress(ctx context.Context, addr string) (wasConnected bool, err error) {
	node, ok := c.node.Handle().Get()
	if !ok {
		return false, ErrTornDown
	}

	rctx, cancel := context.WithTimeout(ctx, c.resolveTimeout)
	defer cancel()
	target, err := c.resolver.Resolve(rctx, addr)
	if err != nil {
		return false, &ResolveError{Addr: addr, Err: err}
	}

	wasConnected = node.Disconnect()
	node.SetTargets([]string{target})
	node.Connect()
	c.logger.Info("node address set", "address", addr, "target", target)
	return wasConnected, nil
}

// Teardown cancels in-flight attempts, closes both sub-clients and empties
// the slots. Outstanding handles go dead. Safe to call more than once.
func (c *Controller) Teardown() {
	c.cancel()
	if node, ok := c.node.Clear(); ok {
		node.close()
	}
	if peers, ok := c.peers.Clear(); ok {
		peers.close()
	}
}

// Sender adapts a peer client handle to wallet.PeerSender. Sends through a
// dead handle fail with ErrPeerClientClosed.
type Sender struct {
	Peers Handle[*PeerClient]
}

// SendToPeer implements wallet.PeerSender.
func (s Sender) SendToPeer(ctx context.Context, to wallet.WalletID, payload []byte) error {
	err := ErrPeerClientClosed
	s.Peers.Do(func(p *PeerClient) {
		err = p.Send(ctx, to, payload)
	})
	return err
}
