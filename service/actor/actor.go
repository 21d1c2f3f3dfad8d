// Package actor runs the wallet on a single goroutine. Callers on any
// goroutine submit commands through Async; the actor executes them in
// submission order, drives the transaction engine and the network clients,
// and reports what happened as events.
package actor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aaronyf/beam/service/bridge"
	"github.com/Aaronyf/beam/service/events"
	"github.com/Aaronyf/beam/service/metrics"
	"github.com/Aaronyf/beam/service/network"
	"github.com/Aaronyf/beam/service/observer"
	"github.com/Aaronyf/beam/service/status"
	"github.com/Aaronyf/beam/service/txengine"
	"github.com/Aaronyf/beam/service/wallet"
)

// ErrAlreadyStarted is returned when Run is called twice.
var ErrAlreadyStarted = errors.New("actor already started")

const (
	defaultRotationPeriod = 3 * time.Hour
	defaultPollInterval   = 30 * time.Second
)

// Rotator reopens log sinks. It is called from the actor loop.
type Rotator interface {
	Rotate() error
}

// EngineFactory builds the transaction engine for one run of the actor.
type EngineFactory func(db wallet.DB, peers wallet.PeerSender, logger *slog.Logger) wallet.Engine

// Options configures an Actor.
type Options struct {
	DB          wallet.DB
	KeyStore    wallet.KeyStore
	NewEngine   EngineFactory
	Network     network.Options
	NodeAddress string

	PollInterval   time.Duration
	RotationPeriod time.Duration
	Rotator        Rotator

	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Actor owns the wallet state. Everything except Subscribe, Async and Stop
// runs on the goroutine that called Run.
type Actor struct {
	opts   Options
	logger *slog.Logger

	queue     *bridge.Queue[*Actor]
	observers *observer.Notifier[events.Observer]

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	cancelMu  sync.Mutex
	cancelRun context.CancelFunc

	// Loop state, touched only on the actor goroutine.
	ctx        context.Context
	engine     wallet.Engine
	net        *network.Controller
	node       network.Handle[*network.NodeClient]
	peers      network.Handle[*network.PeerClient]
	senderID   wallet.WalletID
	receiverID wallet.WalletID
}

// New creates an actor. Commands may be submitted before Run; they execute
// once the loop starts.
func New(opts Options) *Actor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.NewEngine == nil {
		opts.NewEngine = func(db wallet.DB, peers wallet.PeerSender, logger *slog.Logger) wallet.Engine {
			return txengine.New(db, peers, logger)
		}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.RotationPeriod <= 0 {
		opts.RotationPeriod = defaultRotationPeriod
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Network.Logger == nil {
		opts.Network.Logger = opts.Logger.With("component", "network")
	}

	a := &Actor{
		opts:      opts,
		logger:    opts.Logger.With("component", "actor"),
		observers: observer.New[events.Observer](opts.Logger),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	a.queue = bridge.NewQueue[*Actor](a.logger)
	if opts.Metrics != nil {
		a.queue.OnExecuted = opts.Metrics.RecordCommandExecuted
	}
	return a
}

// Async returns the thread-safe command API.
func (a *Actor) Async() *Async {
	return &Async{queue: a.queue}
}

// Subscribe registers o for events. Events are delivered on the actor
// goroutine in registration order. Close the subscription to stop
// delivery; do not close it from inside o.OnEvent.
func (a *Actor) Subscribe(o events.Observer) *observer.Subscription {
	return a.observers.Subscribe(o)
}

// Stop drops pending commands, cancels the run context and asks the loop to
// exit. A command blocked on the run context returns early and in-flight
// network attempts are abandoned. Safe to call from any goroutine, more
// than once.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() {
		dropped := a.queue.Close()
		if dropped > 0 {
			a.logger.Info("dropped pending commands", "count", dropped)
			if a.opts.Metrics != nil {
				a.opts.Metrics.RecordCommandsDropped(dropped)
			}
		}
		a.cancelMu.Lock()
		if a.cancelRun != nil {
			a.cancelRun()
		}
		a.cancelMu.Unlock()
		close(a.stop)
	})
}

// Done is closed once Run has returned and the network clients are torn
// down.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

// Run starts the actor and blocks until Stop is called or ctx is done. It
// returns an error only when startup fails; the loop is not entered then.
func (a *Actor) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	defer close(a.done)
	defer a.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.ctx = ctx
	a.cancelMu.Lock()
	a.cancelRun = cancel
	a.cancelMu.Unlock()

	a.net = network.NewController(ctx, a.opts.Network)
	defer a.net.Teardown()
	a.node = a.net.Node()
	a.peers = a.net.Peers()

	a.engine = a.opts.NewEngine(a.opts.DB, network.Sender{Peers: a.peers}, a.opts.Logger.With("component", "engine"))
	sub := a.engine.Subscribe(a)
	defer sub.Close()

	a.setNodeAddress(a.opts.NodeAddress)

	if err := a.startup(); err != nil {
		a.logger.Error("wallet startup failed", "error", err)
		return err
	}

	a.logger.Info("wallet actor started", "node_address", a.opts.NodeAddress)
	a.loop()
	a.logger.Info("wallet actor stopped")
	return nil
}

// startup listens on own addresses and emits the initial snapshot. Any
// store failure here is fatal.
func (a *Actor) startup() error {
	own, err := a.opts.DB.Addresses(a.ctx, true)
	if err != nil {
		return err
	}
	a.peers.Do(func(p *network.PeerClient) {
		for _, addr := range own {
			if err := p.Listen(addr.WalletID); err != nil {
				a.logger.Warn("failed to listen on own address", "wallet_id", addr.WalletID.String(), "error", err)
			}
		}
	})

	st, err := status.Compute(a.ctx, a.opts.DB)
	if err != nil {
		return err
	}
	history, err := a.opts.DB.TxHistory(a.ctx)
	if err != nil {
		return err
	}
	peers, err := a.opts.DB.Peers(a.ctx)
	if err != nil {
		return err
	}

	a.emit(events.StatusChanged{Status: st})
	a.emit(events.TxListChanged{Action: wallet.ChangeReset, Txs: history})
	a.emit(events.PeerListChanged{Peers: peers})
	return nil
}

func (a *Actor) loop() {
	poll := time.NewTicker(a.opts.PollInterval)
	defer poll.Stop()

	var rotate <-chan time.Time
	if a.opts.Rotator != nil {
		t := time.NewTicker(a.opts.RotationPeriod)
		defer t.Stop()
		rotate = t.C
	}

	for {
		select {
		case <-a.stop:
			return
		case <-a.ctx.Done():
			return
		case <-a.queue.Wake():
			a.queue.DrainAndExecute(a)
		case <-rotate:
			if err := a.opts.Rotator.Rotate(); err != nil {
				a.logger.Error("failed to rotate logs", "error", err)
			}
		case <-poll.C:
			a.pollNode()
		case ev := <-a.net.Events():
			a.handleNetworkEvent(ev)
		}
	}
}

func (a *Actor) pollNode() {
	a.node.Do(func(n *network.NodeClient) {
		if n.Connected() {
			n.Refresh()
		} else {
			n.Connect()
		}
	})
}

// handleNetworkEvent applies a network result. Results for a client that
// has been torn down are dropped without emitting anything.
func (a *Actor) handleNetworkEvent(ev network.Event) {
	switch e := ev.(type) {
	case network.NodeConnected:
		var accepted bool
		a.node.Do(func(n *network.NodeClient) { accepted = n.Apply(e) })
		if !accepted {
			return
		}
		if a.opts.Metrics != nil {
			a.opts.Metrics.RecordNodeConnection(true)
		}
		a.emit(events.NodeConnectionChanged{Connected: true})
		a.applyChainState(e.State)

	case network.NodeSynced:
		var accepted bool
		a.node.Do(func(n *network.NodeClient) { accepted = n.Apply(e) })
		if accepted {
			a.applyChainState(e.State)
		}

	case network.NodeFailed:
		var accepted, wasConnected bool
		a.node.Do(func(n *network.NodeClient) {
			wasConnected = n.Connected()
			accepted = n.Apply(e)
		})
		if !accepted {
			return
		}
		if a.opts.Metrics != nil {
			a.opts.Metrics.RecordNodeConnectionFailure()
		}
		if wasConnected {
			a.emit(events.NodeConnectionChanged{Connected: false})
		}
		a.emit(events.NodeConnectionFailed{Reason: e.Err.Error()})

	case network.PeerMessageReceived:
		if !a.peers.Alive() {
			return
		}
		err := a.engine.HandlePeerMessage(a.ctx, e.Message)
		if a.opts.Metrics != nil {
			a.opts.Metrics.RecordPeerMessage("in", err)
		}
		if err != nil {
			a.reportError(events.ErrorTransaction, "failed to handle peer message", err)
		}
	}
}

func (a *Actor) applyChainState(state wallet.StateID) {
	if a.opts.Metrics != nil {
		a.opts.Metrics.RecordChainHeight(state.Height)
	}
	if err := a.engine.OnChainState(a.ctx, state); err != nil {
		a.reportError(events.ErrorStore, "failed to apply chain state", err)
	}
}

func (a *Actor) emit(ev events.Event) {
	if a.opts.Metrics != nil {
		a.opts.Metrics.RecordEventEmitted(ev.Kind())
	}
	a.observers.Notify(func(o events.Observer) { o.OnEvent(ev) })
}

// reportError logs err and emits it as a user-visible Error event.
func (a *Actor) reportError(kind, msg string, err error) {
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		kind = events.ErrorInsufficientFunds
	case errors.Is(err, wallet.ErrNotFound):
		kind = events.ErrorNotFound
	}
	a.logger.Error(msg, "kind", kind, "error", err)
	a.emit(events.Error{ErrorKind: kind, Message: msg + ": " + err.Error()})
}

func (a *Actor) emitStatus() {
	st, err := status.Compute(a.ctx, a.opts.DB)
	if err != nil {
		a.reportError(events.ErrorStore, "failed to compute wallet status", err)
		return
	}
	a.emit(events.StatusChanged{Status: st})
}

func (a *Actor) emitCoins() {
	var coins []wallet.Coin
	err := a.opts.DB.VisitCoins(a.ctx, func(c wallet.Coin) bool {
		coins = append(coins, c)
		return true
	})
	if err != nil {
		a.reportError(events.ErrorStore, "failed to read coins", err)
		return
	}
	a.emit(events.UTXOSetChanged{Coins: coins})
}

func (a *Actor) emitTxHistory() {
	history, err := a.opts.DB.TxHistory(a.ctx)
	if err != nil {
		a.reportError(events.ErrorStore, "failed to read transaction history", err)
		return
	}
	a.emit(events.TxListChanged{Action: wallet.ChangeReset, Txs: history})
}

func (a *Actor) emitPeers() {
	peers, err := a.opts.DB.Peers(a.ctx)
	if err != nil {
		a.reportError(events.ErrorStore, "failed to read peers", err)
		return
	}
	a.emit(events.PeerListChanged{Peers: peers})
}

func (a *Actor) emitAddresses(own bool) {
	addrs, err := a.opts.DB.Addresses(a.ctx, own)
	if err != nil {
		a.reportError(events.ErrorStore, "failed to read addresses", err)
		return
	}
	a.emit(events.AddressListChanged{Own: own, Addresses: addrs})
}

// Engine observer callbacks. The engine runs on the actor goroutine, so
// these do too.

func (a *Actor) OnCoinsChanged() {
	a.emitCoins()
	a.emitStatus()
}

func (a *Actor) OnTransactionChanged(action wallet.ChangeAction, items []wallet.TxDescription) {
	a.emit(events.TxListChanged{Action: action, Txs: items})
	a.emitStatus()
}

func (a *Actor) OnSystemStateChanged() {
	a.emitStatus()
}

func (a *Actor) OnTxPeerChanged() {
	a.emitPeers()
}

func (a *Actor) OnAddressChanged() {
	a.emitAddresses(true)
	a.emitAddresses(false)
}

func (a *Actor) OnSyncProgress(done, total int) {
	a.emit(events.SyncProgress{Done: done, Total: total})
}
