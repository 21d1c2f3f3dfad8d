package actor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aaronyf/beam/service/bridge"
	"github.com/Aaronyf/beam/service/db"
	"github.com/Aaronyf/beam/service/events"
	"github.com/Aaronyf/beam/service/keystore"
	"github.com/Aaronyf/beam/service/network"
	"github.com/Aaronyf/beam/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNodeAddr = "node.local:8899"

// recorder collects every event it sees.
type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) OnEvent(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.evs))
	copy(out, r.evs)
	return out
}

func ofType[T events.Event](r *recorder) []T {
	var out []T
	for _, ev := range r.all() {
		if e, ok := ev.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

// waitFor blocks until an event of type T matching match has been seen.
func waitFor[T events.Event](t *testing.T, r *recorder, match func(T) bool) T {
	t.Helper()
	var found T
	require.Eventually(t, func() bool {
		for _, e := range ofType[T](r) {
			if match == nil || match(e) {
				found = e
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "no matching %T event", found)
	return found
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	actor   *Actor
	store   *db.MemStore
	keys    *keystore.MemKeyStore
	rec     *recorder
	runErr  chan error
	probes  *atomic.Int32
	cancel  context.CancelFunc
	started bool
}

type harnessOption func(*Options)

func withMessenger(m network.Messenger) harnessOption {
	return func(o *Options) { o.Network.Messenger = m }
}

func withNodeAddress(addr string) harnessOption {
	return func(o *Options) { o.NodeAddress = addr }
}

func withProber(p network.Prober) harnessOption {
	return func(o *Options) { o.Network.Prober = p }
}

func withResolver(r network.Resolver) harnessOption {
	return func(o *Options) { o.Network.Resolver = r }
}

func withDB(d wallet.DB) harnessOption {
	return func(o *Options) { o.DB = d }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:  db.NewMemStore(),
		keys:   keystore.NewMemKeyStore([]byte("pw")),
		rec:    &recorder{},
		runErr: make(chan error, 1),
		probes: &atomic.Int32{},
	}
	o := Options{
		DB:          h.store,
		KeyStore:    h.keys,
		NodeAddress: testNodeAddr,
		Network: network.Options{
			Prober: network.ProberFunc(func(ctx context.Context, target string) (wallet.StateID, error) {
				h.probes.Add(1)
				return wallet.StateID{Height: 1, Hash: "genesis"}, nil
			}),
			Resolver: network.StaticResolver{testNodeAddr: "10.0.0.1:8899", "other.local:8899": "10.0.0.2:8899"},
		},
		PollInterval: time.Hour,
		Logger:       testLogger(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.actor = New(o)
	sub := h.actor.Subscribe(h.rec)
	t.Cleanup(func() {
		sub.Close()
		h.actor.Stop()
		if h.started {
			select {
			case <-h.actor.Done():
			case <-time.After(2 * time.Second):
				t.Error("actor did not stop")
			}
		}
		if h.cancel != nil {
			h.cancel()
		}
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.started = true
	go func() { h.runErr <- h.actor.Run(ctx) }()
}

func (h *harness) seedCoins(t *testing.T, amounts ...wallet.Amount) {
	t.Helper()
	for _, a := range amounts {
		require.NoError(t, h.store.SaveCoins(context.Background(), wallet.Coin{Amount: a, Status: wallet.CoinAvailable}))
	}
}

// sync submits a marker command and waits for it, so every command
// submitted earlier has run.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	marker := solana.NewWallet().PublicKey()
	require.NoError(t, h.actor.Async().ChangeCurrentWalletIDs(marker, marker))
	waitFor(t, h.rec, func(e events.CurrentIDsChanged) bool { return e.Sender == marker })
}

func TestRun_EmitsInitialSnapshotAndConnects(t *testing.T) {
	h := newHarness(t)
	h.seedCoins(t, 70)
	h.start(t)

	st := waitFor[events.StatusChanged](t, h.rec, nil)
	assert.Equal(t, wallet.Amount(70), st.Status.Available)
	waitFor(t, h.rec, func(e events.TxListChanged) bool { return e.Action == wallet.ChangeReset })
	waitFor[events.PeerListChanged](t, h.rec, nil)

	waitFor(t, h.rec, func(e events.NodeConnectionChanged) bool { return e.Connected })
	waitFor(t, h.rec, func(e events.SyncProgress) bool { return e.Done == 0 && e.Total == 0 })
	waitFor(t, h.rec, func(e events.StatusChanged) bool { return e.Status.StateID.Height == 1 })

	kinds := make([]string, 0, 3)
	for _, ev := range h.rec.all()[:3] {
		kinds = append(kinds, ev.Kind())
	}
	assert.Equal(t, []string{events.KindStatusChanged, events.KindTxListChanged, events.KindPeerListChanged}, kinds)
}

func TestCommands_RunInSubmissionOrder(t *testing.T) {
	h := newHarness(t)
	h.seedCoins(t, 100)
	async := h.actor.Async()

	// Queued before the loop starts.
	for i := 1; i <= 50; i++ {
		require.NoError(t, async.CalcChange(wallet.Amount(i)))
	}
	h.start(t)

	require.Eventually(t, func() bool { return len(ofType[events.ChangeComputed](h.rec)) == 50 }, 2*time.Second, 5*time.Millisecond)
	for i, e := range ofType[events.ChangeComputed](h.rec) {
		assert.Equal(t, wallet.Amount(100-(i+1)), e.Change)
	}
}

func TestCommands_ConcurrentSubmittersKeepPerCallerOrder(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	async := h.actor.Async()

	const callers, perCaller = 4, 25
	ids := make([][]wallet.WalletID, callers)
	for c := range ids {
		for range perCaller {
			ids[c] = append(ids[c], solana.NewWallet().PublicKey())
		}
	}

	var wg sync.WaitGroup
	for c := range callers {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for _, id := range ids[c] {
				assert.NoError(t, async.ChangeCurrentWalletIDs(id, ids[c][0]))
			}
		}(c)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return len(ofType[events.CurrentIDsChanged](h.rec)) == callers*perCaller
	}, 2*time.Second, 5*time.Millisecond)

	seen := make(map[wallet.WalletID][]wallet.WalletID)
	for _, e := range ofType[events.CurrentIDsChanged](h.rec) {
		seen[e.Receiver] = append(seen[e.Receiver], e.Sender)
	}
	for c := range callers {
		assert.Equal(t, ids[c], seen[ids[c][0]])
	}
}

func TestCalcChange_InsufficientIsZero(t *testing.T) {
	h := newHarness(t)
	h.seedCoins(t, 30, 50, 20)
	h.start(t)

	require.NoError(t, h.actor.Async().CalcChange(40))
	require.NoError(t, h.actor.Async().CalcChange(1000))

	require.Eventually(t, func() bool { return len(ofType[events.ChangeComputed](h.rec)) == 2 }, 2*time.Second, 5*time.Millisecond)
	got := ofType[events.ChangeComputed](h.rec)
	assert.Equal(t, wallet.Amount(40), got[0].Change)
	assert.Equal(t, wallet.Amount(0), got[1].Change)
}

func TestStop_DropsPendingCommands(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	waitFor[events.PeerListChanged](t, h.rec, nil)

	release := make(chan struct{})
	blocked := make(chan struct{})
	var ranAfter atomic.Int32

	require.NoError(t, h.actor.queue.Submit(bridge.Command[*Actor]{Name: "block", Fn: func(*Actor) {
		close(blocked)
		<-release
	}}))
	for range 5 {
		require.NoError(t, h.actor.queue.Submit(bridge.Command[*Actor]{Name: "after", Fn: func(*Actor) {
			ranAfter.Add(1)
		}}))
	}

	<-blocked
	h.actor.Stop()
	close(release)

	select {
	case <-h.actor.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("actor did not stop")
	}
	assert.NoError(t, <-h.runErr)
	assert.Zero(t, ranAfter.Load(), "commands queued before Stop must be dropped")

	assert.ErrorIs(t, h.actor.Async().SyncWithNode(), bridge.ErrClosed)
}

func TestStop_ContextCancelEndsLoop(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	waitFor[events.PeerListChanged](t, h.rec, nil)

	h.cancel()
	select {
	case <-h.actor.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("actor did not stop")
	}
	assert.NoError(t, <-h.runErr)
	assert.ErrorIs(t, h.actor.Async().GetWalletStatus(), bridge.ErrClosed)
}

func TestStop_AbandonsBlockedResolve(t *testing.T) {
	resolving := make(chan struct{})
	resolver := network.ResolverFunc(func(ctx context.Context, addr string) (string, error) {
		if addr != "slow.local:8899" {
			return "10.0.0.1:8899", nil
		}
		close(resolving)
		<-ctx.Done()
		return "", ctx.Err()
	})
	h := newHarness(t, withResolver(resolver))
	h.start(t)
	waitFor[events.PeerListChanged](t, h.rec, nil)

	require.NoError(t, h.actor.Async().SetNodeAddress("slow.local:8899"))
	select {
	case <-resolving:
	case <-time.After(2 * time.Second):
		t.Fatal("resolve never started")
	}

	h.actor.Stop()
	select {
	case <-h.actor.Done():
	case <-time.After(time.Second):
		t.Fatal("Stop did not interrupt the blocked resolve")
	}
	assert.NoError(t, <-h.runErr)
	assert.Empty(t, ofType[events.NodeConnectionFailed](h.rec))
}

func TestRun_Twice(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	waitFor[events.PeerListChanged](t, h.rec, nil)

	assert.ErrorIs(t, h.actor.Run(context.Background()), ErrAlreadyStarted)
}

// failingDB fails every address book read.
type failingDB struct {
	*db.MemStore
}

func (failingDB) Addresses(ctx context.Context, own bool) ([]wallet.WalletAddress, error) {
	return nil, errors.New("disk gone")
}

func TestRun_StoreFailureAtStartupIsFatal(t *testing.T) {
	h := newHarness(t, withDB(failingDB{MemStore: db.NewMemStore()}))
	require.NoError(t, h.actor.Async().SyncWithNode())

	h.start(t)

	select {
	case err := <-h.runErr:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk gone")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	<-h.actor.Done()

	assert.ErrorIs(t, h.actor.Async().SyncWithNode(), bridge.ErrClosed)
	assert.Empty(t, ofType[events.StatusChanged](h.rec))
}

func TestRun_UnresolvableNodeAddressStillRunsLoop(t *testing.T) {
	h := newHarness(t, withNodeAddress("nowhere.invalid:1"))
	h.start(t)

	errEv := waitFor(t, h.rec, func(e events.Error) bool { return e.ErrorKind == events.ErrorNodeAddress })
	assert.Contains(t, errEv.Message, "nowhere.invalid:1")
	waitFor[events.NodeConnectionFailed](t, h.rec, nil)

	h.sync(t)
	assert.Zero(t, h.probes.Load())
}

func TestSetNodeAddress_FailureKeepsConnection(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	waitFor(t, h.rec, func(e events.NodeConnectionChanged) bool { return e.Connected })

	require.NoError(t, h.actor.Async().SetNodeAddress("bogus"))
	waitFor(t, h.rec, func(e events.Error) bool { return e.ErrorKind == events.ErrorNodeAddress })
	waitFor[events.NodeConnectionFailed](t, h.rec, nil)
	h.sync(t)

	for _, e := range ofType[events.NodeConnectionChanged](h.rec) {
		assert.True(t, e.Connected, "an unresolvable address must not drop the connection")
	}
}

func TestSetNodeAddress_SwitchesNode(t *testing.T) {
	var targets sync.Map
	h := newHarness(t, withProber(network.ProberFunc(func(ctx context.Context, target string) (wallet.StateID, error) {
		targets.Store(target, true)
		return wallet.StateID{Height: 5}, nil
	})))
	h.start(t)
	waitFor(t, h.rec, func(e events.NodeConnectionChanged) bool { return e.Connected })

	require.NoError(t, h.actor.Async().SetNodeAddress("other.local:8899"))
	waitFor(t, h.rec, func(e events.NodeConnectionChanged) bool { return !e.Connected })

	require.Eventually(t, func() bool {
		_, ok := targets.Load("10.0.0.2:8899")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(ofType[events.NodeConnectionChanged](h.rec)) == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNodeFailure_EmitsConnectionFailed(t *testing.T) {
	h := newHarness(t, withProber(network.ProberFunc(func(ctx context.Context, target string) (wallet.StateID, error) {
		return wallet.StateID{}, errors.New("connection refused")
	})))
	h.start(t)

	failed := waitFor[events.NodeConnectionFailed](t, h.rec, nil)
	assert.Contains(t, failed.Reason, "connection refused")
	assert.Empty(t, ofType[events.NodeConnectionChanged](h.rec))
}

func TestExpiredHandle_IsNoOp(t *testing.T) {
	h := newHarness(t, withProber(network.ProberFunc(func(ctx context.Context, target string) (wallet.StateID, error) {
		<-ctx.Done()
		return wallet.StateID{}, ctx.Err()
	})))
	h.start(t)
	waitFor[events.PeerListChanged](t, h.rec, nil)

	done := make(chan struct{})
	require.NoError(t, h.actor.queue.Submit(bridge.Command[*Actor]{Name: "teardown", Fn: func(a *Actor) {
		defer close(done)
		a.net.Teardown()
		assert.False(t, a.node.Alive())

		a.handleNetworkEvent(network.NodeConnected{Attempt: 1, State: wallet.StateID{Height: 9}})
		a.handleNetworkEvent(network.NodeFailed{Attempt: 1, Err: errors.New("late")})
		a.handleNetworkEvent(network.PeerMessageReceived{})
		a.syncWithNode()
		a.pollNode()
	}}))
	<-done
	h.sync(t)

	assert.Empty(t, ofType[events.NodeConnectionChanged](h.rec))
	assert.Empty(t, ofType[events.NodeConnectionFailed](h.rec))
	assert.Empty(t, ofType[events.Error](h.rec))
}

func TestSendMoney(t *testing.T) {
	h := newHarness(t)
	h.seedCoins(t, 30, 50)
	h.start(t)

	receiver := solana.NewWallet().PublicKey()
	sender := solana.NewWallet().PublicKey()
	require.NoError(t, h.actor.Async().SendMoney(sender, receiver, 60, 5))

	added := waitFor(t, h.rec, func(e events.TxListChanged) bool { return e.Action == wallet.ChangeAdd })
	require.Len(t, added.Txs, 1)
	assert.Equal(t, wallet.Amount(60), added.Txs[0].Amount)
	assert.Equal(t, receiver, added.Txs[0].PeerID)

	waitFor(t, h.rec, func(e events.UTXOSetChanged) bool { return len(e.Coins) == 3 })
	waitFor(t, h.rec, func(e events.PeerListChanged) bool { return len(e.Peers) == 1 })
}

func TestSendMoney_InsufficientFunds(t *testing.T) {
	h := newHarness(t)
	h.seedCoins(t, 10)
	h.start(t)

	require.NoError(t, h.actor.Async().SendMoney(solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), 100, 1))

	e := waitFor(t, h.rec, func(e events.Error) bool { return e.ErrorKind == events.ErrorInsufficientFunds })
	assert.Contains(t, e.Message, "insufficient funds")
}

func TestCancelUnknownTx_ReportsNotFound(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	require.NoError(t, h.actor.Async().CancelTx(wallet.TxID{}))
	waitFor(t, h.rec, func(e events.Error) bool { return e.ErrorKind == events.ErrorNotFound })
}

func TestSendMoneyWithComment_UsesFreshOwnAddress(t *testing.T) {
	h := newHarness(t)
	h.seedCoins(t, 100)
	h.start(t)

	receiver := solana.NewWallet().PublicKey()
	require.NoError(t, h.actor.Async().SendMoneyWithComment(receiver, "rent", 10, 0))

	added := waitFor(t, h.rec, func(e events.TxListChanged) bool { return e.Action == wallet.ChangeAdd })
	require.Len(t, added.Txs, 1)
	tx := added.Txs[0]
	assert.Equal(t, []byte("rent"), tx.Message)
	assert.True(t, h.keys.Own(tx.MyID))

	own, err := h.store.Addresses(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, tx.MyID, own[0].WalletID)
}

func TestAddressLifecycle(t *testing.T) {
	m := network.NewLoopbackMessenger()
	h := newHarness(t, withMessenger(m))
	h.start(t)
	async := h.actor.Async()

	require.NoError(t, async.GenerateNewWalletID())
	gen := waitFor[events.NewAddressGenerated](t, h.rec, nil)

	require.NoError(t, async.CreateNewAddress(wallet.WalletAddress{WalletID: gen.ID, Label: "savings", Own: true}))
	list := waitFor(t, h.rec, func(e events.AddressListChanged) bool { return e.Own && len(e.Addresses) == 1 })
	assert.Equal(t, "savings", list.Addresses[0].Label)
	assert.Equal(t, 1, m.Subscribers(network.PeerSubject(gen.ID)))

	foreign := solana.NewWallet().PublicKey()
	require.NoError(t, async.CreateNewAddress(wallet.WalletAddress{WalletID: foreign, Label: "bob"}))
	waitFor(t, h.rec, func(e events.AddressListChanged) bool { return !e.Own && len(e.Addresses) == 1 })

	require.NoError(t, async.DeleteAddress(foreign))
	require.NoError(t, async.DeleteOwnAddress(gen.ID))
	waitFor(t, h.rec, func(e events.AddressListChanged) bool { return e.Own && len(e.Addresses) == 0 })
	waitFor(t, h.rec, func(e events.AddressListChanged) bool { return !e.Own && len(e.Addresses) == 0 })

	assert.False(t, h.keys.Own(gen.ID))
	assert.Equal(t, 0, m.Subscribers(network.PeerSubject(gen.ID)))

	require.NoError(t, async.DeleteAddress(foreign))
	waitFor(t, h.rec, func(e events.Error) bool { return e.ErrorKind == events.ErrorNotFound })
}

func TestGetWalletStatusAndUTXOs(t *testing.T) {
	h := newHarness(t)
	h.seedCoins(t, 5, 6)
	h.start(t)
	waitFor[events.PeerListChanged](t, h.rec, nil)

	require.NoError(t, h.actor.Async().GetUTXOsStatus())
	utxos := waitFor[events.UTXOSetChanged](t, h.rec, nil)
	assert.Len(t, utxos.Coins, 2)

	require.NoError(t, h.actor.Async().GetWalletStatus())
	waitFor(t, h.rec, func(e events.AddressListChanged) bool { return !e.Own })
	assert.GreaterOrEqual(t, len(ofType[events.TxListChanged](h.rec)), 2)

	require.NoError(t, h.actor.Async().GetAddresses(true))
	waitFor(t, h.rec, func(e events.AddressListChanged) bool { return e.Own })
}

func TestChangeWalletPassword(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	require.NoError(t, h.actor.Async().ChangeWalletPassword([]byte("s3cret")))
	h.sync(t)
	assert.True(t, h.store.CheckPassword([]byte("s3cret")))
	assert.True(t, h.keys.CheckPassword([]byte("s3cret")))

	require.NoError(t, h.actor.Async().ChangeWalletPassword(nil))
	waitFor(t, h.rec, func(e events.Error) bool { return e.ErrorKind == events.ErrorStore })
}

func TestCheckReceiverAddress(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	valid := solana.NewWallet().PublicKey().String()
	cases := map[string]bool{
		valid:             true,
		"":                false,
		"0OIl-not-base58": false,
		"8opHzTAnfzRpPEx21XtnrVTX28YQuCpAjcn1PczScKh": false, // decodes, but not on the curve
		strings.Repeat("1", 65): false,
	}
	for addr := range cases {
		require.NoError(t, h.actor.Async().CheckReceiverAddress(addr))
	}

	require.Eventually(t, func() bool {
		return len(ofType[events.ReceiverAddressChecked](h.rec)) == len(cases)
	}, 2*time.Second, 5*time.Millisecond)
	for _, e := range ofType[events.ReceiverAddressChecked](h.rec) {
		assert.Equal(t, cases[e.Address], e.Valid, e.Address)
	}
}

func TestPanickingCommandDoesNotStopLoop(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	require.NoError(t, h.actor.queue.Submit(bridge.Command[*Actor]{Name: "boom", Fn: func(*Actor) { panic("boom") }}))
	h.sync(t)
}

func TestSubscriptionClose_StopsDelivery(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	late := &recorder{}
	sub := h.actor.Subscribe(late)
	h.sync(t)
	require.NotEmpty(t, late.all())

	sub.Close()
	before := len(late.all())
	h.sync(t)
	assert.Len(t, late.all(), before)
}

func TestPeerTransferBetweenWallets(t *testing.T) {
	m := network.NewLoopbackMessenger()
	alice := newHarness(t, withMessenger(m))
	bob := newHarness(t, withMessenger(m))
	alice.seedCoins(t, 100)
	alice.start(t)
	bob.start(t)

	require.NoError(t, bob.actor.Async().GenerateNewWalletID())
	bobID := waitFor[events.NewAddressGenerated](t, bob.rec, nil).ID
	require.NoError(t, bob.actor.Async().CreateNewAddress(wallet.WalletAddress{WalletID: bobID, Own: true}))
	waitFor(t, bob.rec, func(e events.AddressListChanged) bool { return e.Own && len(e.Addresses) == 1 })

	require.NoError(t, alice.actor.Async().SendMoneyWithComment(bobID, "hi bob", 40, 1))

	incoming := waitFor(t, bob.rec, func(e events.TxListChanged) bool {
		return e.Action == wallet.ChangeAdd && len(e.Txs) == 1 && !e.Txs[0].Sender
	})
	assert.Equal(t, wallet.Amount(40), incoming.Txs[0].Amount)
	assert.Equal(t, []byte("hi bob"), incoming.Txs[0].Message)

	waitFor(t, bob.rec, func(e events.StatusChanged) bool { return e.Status.Unconfirmed == 40 })
}
