package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Aaronyf/beam/service/db"
	"github.com/Aaronyf/beam/service/wallet"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingSource returns err from the method named by failOn.
type failingSource struct {
	*db.MemStore
	failOn string
	err    error
}

func (f *failingSource) TxHistory(ctx context.Context) ([]wallet.TxDescription, error) {
	if f.failOn == "history" {
		return nil, f.err
	}
	return f.MemStore.TxHistory(ctx)
}

func (f *failingSource) VisitCoins(ctx context.Context, visit func(wallet.Coin) bool) error {
	if f.failOn == "coins" {
		return f.err
	}
	return f.MemStore.VisitCoins(ctx, visit)
}

func seededStore(t *testing.T) *db.MemStore {
	t.Helper()
	ctx := context.Background()
	store := db.NewMemStore()

	require.NoError(t, store.SaveCoins(ctx,
		wallet.Coin{Amount: 100, Status: wallet.CoinAvailable},
		wallet.Coin{Amount: 50, Status: wallet.CoinAvailable},
		wallet.Coin{Amount: 7, Status: wallet.CoinIncoming},
		wallet.Coin{Amount: 3, Status: wallet.CoinChange},
		wallet.Coin{Amount: 999, Status: wallet.CoinSpent},
		wallet.Coin{Amount: 11, Status: wallet.CoinLocked},
	))

	txs := []wallet.TxDescription{
		{ID: uuid.New(), Amount: 40, Sender: true, Status: wallet.TxCompleted},
		{ID: uuid.New(), Amount: 25, Sender: false, Status: wallet.TxCompleted},
		{ID: uuid.New(), Amount: 5, Sender: false, Status: wallet.TxCompleted},
		{ID: uuid.New(), Amount: 1000, Sender: true, Status: wallet.TxPending},
		{ID: uuid.New(), Amount: 2000, Sender: false, Status: wallet.TxCancelled},
	}
	for _, tx := range txs {
		require.NoError(t, store.SaveTx(ctx, tx))
	}

	require.NoError(t, store.SetSystemState(ctx, wallet.StateID{Height: 42, Hash: "abc"}))
	return store
}

func TestCompute(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)

	st, err := Compute(ctx, store)
	require.NoError(t, err)

	assert.Equal(t, wallet.Amount(150), st.Available)
	assert.Equal(t, wallet.Amount(40), st.Sent)
	assert.Equal(t, wallet.Amount(30), st.Received)
	assert.Equal(t, wallet.Amount(10), st.Unconfirmed)
	assert.Equal(t, wallet.StateID{Height: 42, Hash: "abc"}, st.StateID)
	assert.WithinDuration(t, time.Now(), st.LastUpdate, time.Minute)
}

func TestCompute_EmptyStore(t *testing.T) {
	st, err := Compute(context.Background(), db.NewMemStore())
	require.NoError(t, err)
	assert.Equal(t, wallet.Status{}, st)
}

func TestCompute_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)

	first, err := Compute(ctx, store)
	require.NoError(t, err)
	second, err := Compute(ctx, store)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCompute_ReflectsStoreMutations(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)

	before, err := Compute(ctx, store)
	require.NoError(t, err)

	require.NoError(t, store.SaveCoins(ctx, wallet.Coin{Amount: 8, Status: wallet.CoinAvailable}))

	after, err := Compute(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, before.Available+8, after.Available)
}

func TestCompute_PropagatesStoreErrors(t *testing.T) {
	boom := errors.New("disk on fire")

	for _, failOn := range []string{"history", "coins"} {
		t.Run(failOn, func(t *testing.T) {
			src := &failingSource{MemStore: seededStore(t), failOn: failOn, err: boom}

			st, err := Compute(context.Background(), src)
			require.Error(t, err)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, wallet.Status{}, st)
		})
	}
}
