package network

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/Aaronyf/beam/service/wallet"
)

// Prober queries a node for its current chain state.
type Prober interface {
	Probe(ctx context.Context, target string) (wallet.StateID, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, target string) (wallet.StateID, error)

// Probe calls f(ctx, target).
func (f ProberFunc) Probe(ctx context.Context, target string) (wallet.StateID, error) {
	return f(ctx, target)
}

// ConnState is the connection state of a NodeClient.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

var errNoTargets = errors.New("no node address configured")

// NodeClient tracks the connection to the node. It is owned by the actor
// goroutine and is not safe for concurrent use; probe goroutines only send
// results into the controller's event channel.
type NodeClient struct {
	prober  Prober
	out     chan<- Event
	parent  context.Context
	timeout time.Duration
	logger  *slog.Logger

	targets []string
	state   ConnState
	attempt uint64
	cancel  context.CancelFunc
	last    wallet.StateID
	closed  bool
}

func newNodeClient(parent context.Context, prober Prober, out chan<- Event, timeout time.Duration, logger *slog.Logger) *NodeClient {
	return &NodeClient{
		prober:  prober,
		out:     out,
		parent:  parent,
		timeout: timeout,
		logger:  logger,
	}
}

// Targets returns the configured node targets.
func (n *NodeClient) Targets() []string {
	return slices.Clone(n.targets)
}

// SetTargets replaces the node targets. It does not touch the connection.
func (n *NodeClient) SetTargets(targets []string) {
	n.targets = slices.Clone(targets)
}

// State returns the current connection state.
func (n *NodeClient) State() ConnState {
	return n.state
}

// Connected reports whether the last attempt succeeded and nothing has
// disconnected since.
func (n *NodeClient) Connected() bool {
	return n.state == StateConnected
}

// LastState returns the most recent chain state reported by the node.
func (n *NodeClient) LastState() wallet.StateID {
	return n.last
}

// Connect starts a connection attempt. It is a no-op while connecting or
// connected and reports whether an attempt was started.
func (n *NodeClient) Connect() bool {
	if n.closed || n.state != StateDisconnected {
		return false
	}
	if len(n.targets) == 0 {
		n.logger.Debug("connect skipped", "error", errNoTargets)
		return false
	}

	n.state = StateConnecting
	n.startProbe(func(attempt uint64, target string, st wallet.StateID, err error) Event {
		if err != nil {
			return NodeFailed{Attempt: attempt, Target: target, Err: err}
		}
		return NodeConnected{Attempt: attempt, Target: target, State: st}
	})
	return true
}

// Refresh asks the connected node for its chain state. It is a no-op unless
// connected.
func (n *NodeClient) Refresh() bool {
	if n.closed || n.state != StateConnected {
		return false
	}
	n.startProbe(func(attempt uint64, target string, st wallet.StateID, err error) Event {
		if err != nil {
			return NodeFailed{Attempt: attempt, Target: target, Err: err}
		}
		return NodeSynced{Attempt: attempt, State: st}
	})
	return true
}

// Disconnect abandons any in-flight attempt and drops the connection. It
// reports whether the client was connected.
func (n *NodeClient) Disconnect() bool {
	wasConnected := n.state == StateConnected
	n.stopAttempt()
	n.state = StateDisconnected
	return wasConnected
}

// Apply folds a node result into the client state. It reports false for
// results of superseded attempts, which the caller must ignore.
func (n *NodeClient) Apply(ev Event) bool {
	switch e := ev.(type) {
	case NodeConnected:
		if e.Attempt != n.attempt || n.state != StateConnecting {
			return false
		}
		n.state = StateConnected
		n.last = e.State
		n.logger.Info("connected to node", "target", e.Target, "height", e.State.Height)
		return true

	case NodeSynced:
		if e.Attempt != n.attempt || n.state != StateConnected {
			return false
		}
		n.last = e.State
		return true

	case NodeFailed:
		if e.Attempt != n.attempt || n.state == StateDisconnected {
			return false
		}
		n.stopAttempt()
		n.state = StateDisconnected
		n.logger.Warn("node connection failed", "target", e.Target, "error", e.Err)
		return true
	}
	return false
}

func (n *NodeClient) close() {
	n.Disconnect()
	n.closed = true
}

// startProbe supersedes any running attempt and probes the targets in
// order on a new goroutine.
func (n *NodeClient) startProbe(result func(attempt uint64, target string, st wallet.StateID, err error) Event) {
	n.stopAttempt()
	n.attempt++

	ctx, cancel := context.WithCancel(n.parent)
	n.cancel = cancel

	attempt := n.attempt
	targets := slices.Clone(n.targets)
	prober := n.prober
	timeout := n.timeout
	out := n.out

	go func() {
		defer cancel()

		var (
			target string
			st     wallet.StateID
			err    = errNoTargets
		)
		for _, target = range targets {
			probeCtx, probeCancel := context.WithTimeout(ctx, timeout)
			st, err = prober.Probe(probeCtx, target)
			probeCancel()
			if err == nil || ctx.Err() != nil {
				break
			}
		}
		if ctx.Err() != nil {
			return
		}

		select {
		case out <- result(attempt, target, st, err):
		case <-ctx.Done():
		}
	}()
}

func (n *NodeClient) stopAttempt() {
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
}
