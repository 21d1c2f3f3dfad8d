package network

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aaronyf/beam/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// blockingProber blocks until the probe context is done and counts calls.
type blockingProber struct {
	calls    atomic.Int32
	canceled chan struct{}
}

func newBlockingProber() *blockingProber {
	return &blockingProber{canceled: make(chan struct{}, 16)}
}

func (p *blockingProber) Probe(ctx context.Context, target string) (wallet.StateID, error) {
	p.calls.Add(1)
	<-ctx.Done()
	p.canceled <- struct{}{}
	return wallet.StateID{}, ctx.Err()
}

func okProber(state wallet.StateID) Prober {
	return ProberFunc(func(ctx context.Context, target string) (wallet.StateID, error) {
		return state, nil
	})
}

func newTestController(t *testing.T, prober Prober, m Messenger) *Controller {
	t.Helper()
	c := NewController(context.Background(), Options{
		Prober:       prober,
		Messenger:    m,
		Resolver:     StaticResolver{"node.local:8899": "10.0.0.1:8899", "other.local:8899": "10.0.0.2:8899"},
		Logger:       testLogger(),
		ProbeTimeout: 5 * time.Second,
	})
	t.Cleanup(c.Teardown)
	return c
}

func nextEvent(t *testing.T, c *Controller) Event {
	t.Helper()
	select {
	case ev := <-c.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for network event")
		return nil
	}
}

func TestHandle_GoesDeadWhenSlotChanges(t *testing.T) {
	var s Slot[*int]
	one, two := 1, 2

	var zero Handle[*int]
	assert.False(t, zero.Alive())
	assert.False(t, s.Handle().Alive())

	h1 := s.Set(&one)
	got, ok := h1.Get()
	require.True(t, ok)
	assert.Equal(t, 1, *got)

	h2 := s.Set(&two)
	assert.False(t, h1.Alive(), "handle to the replaced object must be dead")
	assert.True(t, h2.Alive())

	old, ok := s.Clear()
	require.True(t, ok)
	assert.Equal(t, 2, *old)
	assert.False(t, h2.Alive())

	ran := h2.Do(func(*int) { t.Fatal("dead handle must not run") })
	assert.False(t, ran)

	_, ok = s.Clear()
	assert.False(t, ok)
}

func TestSetNodeAddress_UnresolvableLeavesTargetsUntouched(t *testing.T) {
	c := newTestController(t, okProber(wallet.StateID{Height: 1}), nil)

	_, err := c.SetNodeAddress(context.Background(), "node.local:8899")
	require.NoError(t, err)
	nextEvent(t, c)

	_, err = c.SetNodeAddress(context.Background(), "nowhere.invalid:1")
	require.Error(t, err)
	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.Equal(t, "nowhere.invalid:1", resolveErr.Addr)

	node, ok := c.Node().Get()
	require.True(t, ok)
	assert.Equal(t, []string{"10.0.0.1:8899"}, node.Targets())
	assert.Equal(t, StateConnecting, node.State(), "connection state must not change")
}

func TestSetNodeAddress_ReplacesTargetsAndConnects(t *testing.T) {
	c := newTestController(t, okProber(wallet.StateID{Height: 7, Hash: "h7"}), nil)
	node, ok := c.Node().Get()
	require.True(t, ok)

	_, err := c.SetNodeAddress(context.Background(), "node.local:8899")
	require.NoError(t, err)

	ev := nextEvent(t, c)
	connected, ok := ev.(NodeConnected)
	require.True(t, ok, "expected NodeConnected, got %T", ev)
	require.True(t, node.Apply(ev))
	assert.True(t, node.Connected())
	assert.Equal(t, wallet.StateID{Height: 7, Hash: "h7"}, connected.State)

	wasConnected, err := c.SetNodeAddress(context.Background(), "other.local:8899")
	require.NoError(t, err)
	assert.True(t, wasConnected)
	assert.Equal(t, []string{"10.0.0.2:8899"}, node.Targets())
	assert.Equal(t, StateConnecting, node.State())
}

func TestSetNodeAddress_LookupIsBounded(t *testing.T) {
	c := NewController(context.Background(), Options{
		Prober: okProber(wallet.StateID{Height: 1}),
		Resolver: ResolverFunc(func(ctx context.Context, addr string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
		Logger:         testLogger(),
		ResolveTimeout: 20 * time.Millisecond,
	})
	t.Cleanup(c.Teardown)

	start := time.Now()
	_, err := c.SetNodeAddress(context.Background(), "slow.local:8899")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var resolveErr *ResolveError
	require.ErrorAs(t, err, &resolveErr)
	assert.Less(t, time.Since(start), time.Second)

	node, _ := c.Node().Get()
	assert.Empty(t, node.Targets())
}

func TestNewController_WithoutProberFailsAttempts(t *testing.T) {
	c := newTestController(t, nil, nil)
	node, _ := c.Node().Get()

	_, err := c.SetNodeAddress(context.Background(), "node.local:8899")
	require.NoError(t, err)

	ev := nextEvent(t, c)
	failed, ok := ev.(NodeFailed)
	require.True(t, ok, "expected NodeFailed, got %T", ev)
	assert.ErrorIs(t, failed.Err, ErrNoProber)
	require.True(t, node.Apply(ev))
	assert.Equal(t, StateDisconnected, node.State())
}

func TestNodeClient_ConnectIsIdempotent(t *testing.T) {
	prober := newBlockingProber()
	c := newTestController(t, prober, nil)
	node, _ := c.Node().Get()
	node.SetTargets([]string{"10.0.0.1:8899"})

	assert.True(t, node.Connect())
	assert.False(t, node.Connect())

	require.Eventually(t, func() bool { return prober.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), prober.calls.Load())

	assert.False(t, node.Disconnect(), "was only connecting")
	assert.False(t, node.Disconnect())
	assert.Equal(t, StateDisconnected, node.State())
}

func TestNodeClient_ConnectWithoutTargets(t *testing.T) {
	c := newTestController(t, newBlockingProber(), nil)
	node, _ := c.Node().Get()

	assert.False(t, node.Connect())
	assert.Equal(t, StateDisconnected, node.State())
}

func TestNodeClient_IgnoresStaleResults(t *testing.T) {
	c := newTestController(t, newBlockingProber(), nil)
	node, _ := c.Node().Get()
	node.SetTargets([]string{"10.0.0.1:8899"})

	require.True(t, node.Connect())
	node.Disconnect()
	require.True(t, node.Connect())

	assert.False(t, node.Apply(NodeConnected{Attempt: 1}))
	assert.False(t, node.Apply(NodeFailed{Attempt: 1, Err: errors.New("late")}))
	assert.Equal(t, StateConnecting, node.State())

	assert.True(t, node.Apply(NodeConnected{Attempt: 2, State: wallet.StateID{Height: 3}}))
	assert.True(t, node.Connected())
	assert.Equal(t, uint64(3), node.LastState().Height)
}

func TestNodeClient_FailureAndRefresh(t *testing.T) {
	var fail atomic.Bool
	prober := ProberFunc(func(ctx context.Context, target string) (wallet.StateID, error) {
		if fail.Load() {
			return wallet.StateID{}, errors.New("connection refused")
		}
		return wallet.StateID{Height: 10}, nil
	})
	c := newTestController(t, prober, nil)
	node, _ := c.Node().Get()

	_, err := c.SetNodeAddress(context.Background(), "node.local:8899")
	require.NoError(t, err)
	require.True(t, node.Apply(nextEvent(t, c)))

	require.True(t, node.Refresh())
	ev := nextEvent(t, c)
	_, ok := ev.(NodeSynced)
	require.True(t, ok, "expected NodeSynced, got %T", ev)
	require.True(t, node.Apply(ev))

	fail.Store(true)
	require.True(t, node.Refresh())
	ev = nextEvent(t, c)
	failed, ok := ev.(NodeFailed)
	require.True(t, ok, "expected NodeFailed, got %T", ev)
	assert.EqualError(t, failed.Err, "connection refused")
	require.True(t, node.Apply(ev))
	assert.Equal(t, StateDisconnected, node.State())
	assert.False(t, node.Refresh())
}

func TestTeardown_KillsHandlesAndAttempts(t *testing.T) {
	prober := newBlockingProber()
	c := NewController(context.Background(), Options{
		Prober:   prober,
		Resolver: StaticResolver{"node.local:8899": "10.0.0.1:8899"},
		Logger:   testLogger(),
	})

	nodeHandle, peersHandle := c.Node(), c.Peers()
	_, err := c.SetNodeAddress(context.Background(), "node.local:8899")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return prober.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	c.Teardown()
	c.Teardown()

	select {
	case <-prober.canceled:
	case <-time.After(time.Second):
		t.Fatal("in-flight attempt was not abandoned")
	}

	assert.False(t, nodeHandle.Alive())
	assert.False(t, peersHandle.Alive())

	_, err = c.SetNodeAddress(context.Background(), "node.local:8899")
	assert.ErrorIs(t, err, ErrTornDown)

	err = Sender{Peers: peersHandle}.SendToPeer(context.Background(), solana.NewWallet().PublicKey(), []byte("x"))
	assert.ErrorIs(t, err, ErrPeerClientClosed)
}

func TestPeerClient_ListenSendUnlisten(t *testing.T) {
	m := NewLoopbackMessenger()
	alice := newTestController(t, okProber(wallet.StateID{}), m)
	bob := newTestController(t, okProber(wallet.StateID{}), m)

	bobID := solana.NewWallet().PublicKey()
	bobPeers, _ := bob.Peers().Get()
	require.NoError(t, bobPeers.Listen(bobID))
	require.NoError(t, bobPeers.Listen(bobID))
	assert.Equal(t, 1, m.Subscribers(PeerSubject(bobID)))

	err := Sender{Peers: alice.Peers()}.SendToPeer(context.Background(), bobID, []byte("invite"))
	require.NoError(t, err)

	ev := nextEvent(t, bob)
	msg, ok := ev.(PeerMessageReceived)
	require.True(t, ok, "expected PeerMessageReceived, got %T", ev)
	assert.Equal(t, bobID, msg.Message.To)
	assert.Equal(t, []byte("invite"), msg.Message.Payload)

	require.NoError(t, bobPeers.Unlisten(bobID))
	assert.False(t, bobPeers.Listening(bobID))
	assert.Equal(t, 0, m.Subscribers(PeerSubject(bobID)))
}

func TestNetResolver(t *testing.T) {
	r := NetResolver{}
	ctx := context.Background()

	got, err := r.Resolve(ctx, "127.0.0.1:8899")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8899", got)

	for _, addr := range []string{"", "no-port", ":8899", "127.0.0.1:0", "127.0.0.1:99999", "127.0.0.1:abc"} {
		_, err := r.Resolve(ctx, addr)
		assert.Error(t, err, addr)
	}
}
