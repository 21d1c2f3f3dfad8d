package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/Aaronyf/beam/service/coins"
	"github.com/Aaronyf/beam/service/metrics"
	"github.com/Aaronyf/beam/service/wallet"
	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

//go:embed sql/schema.sql
var schema string

// Store is the Postgres-backed wallet.DB.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
	now     func() time.Time
}

var _ wallet.DB = (*Store)(nil)

// NewStore creates a Store on pool. m may be nil.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the wallet tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// track times one query. Use as defer s.track(op, table)(&err).
func (s *Store) track(op, table string) func(*error) {
	start := time.Now()
	return func(errp *error) {
		if s.metrics != nil {
			s.metrics.RecordDBQuery(op, table, time.Since(start).Seconds(), *errp)
		}
	}
}

const txColumns = `id, amount, fee, sender, status, peer_id, my_id, message, create_time, modify_time`

// TxHistory returns every transaction in insertion order.
func (s *Store) TxHistory(ctx context.Context) (out []wallet.TxDescription, err error) {
	defer s.track("select", "wallet_transactions")(&err)

	rows, err := s.pool.Query(ctx, `SELECT `+txColumns+` FROM wallet_transactions ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	out, err = pgx.CollectRows(rows, scanTx)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetTx returns the transaction with the given ID.
func (s *Store) GetTx(ctx context.Context, id wallet.TxID) (_ *wallet.TxDescription, err error) {
	defer s.track("get", "wallet_transactions")(&err)

	rows, err := s.pool.Query(ctx, `SELECT `+txColumns+` FROM wallet_transactions WHERE id = $1`, pgUUID(id))
	if err != nil {
		return nil, err
	}
	tx, err := pgx.CollectExactlyOneRow(rows, scanTx)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, wallet.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// SaveTx inserts or replaces a transaction. A replaced transaction keeps its
// place in the history.
func (s *Store) SaveTx(ctx context.Context, tx wallet.TxDescription) (err error) {
	defer s.track("upsert", "wallet_transactions")(&err)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO wallet_transactions (`+txColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			amount = EXCLUDED.amount,
			fee = EXCLUDED.fee,
			sender = EXCLUDED.sender,
			status = EXCLUDED.status,
			peer_id = EXCLUDED.peer_id,
			my_id = EXCLUDED.my_id,
			message = EXCLUDED.message,
			create_time = EXCLUDED.create_time,
			modify_time = EXCLUDED.modify_time`,
		pgUUID(tx.ID), int64(tx.Amount), int64(tx.Fee), tx.Sender, string(tx.Status),
		tx.PeerID.String(), tx.MyID.String(), tx.Message,
		pgTimestamptz(tx.CreateTime), pgTimestamptz(tx.ModifyTime),
	)
	return err
}

// DeleteTx removes a transaction.
func (s *Store) DeleteTx(ctx context.Context, id wallet.TxID) (err error) {
	defer s.track("delete", "wallet_transactions")(&err)

	tag, err := s.pool.Exec(ctx, `DELETE FROM wallet_transactions WHERE id = $1`, pgUUID(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction %s: %w", id, wallet.ErrNotFound)
	}
	return nil
}

const coinColumns = `id, amount, status, create_tx_id, spent_tx_id`

// VisitCoins walks the coin set in ascending ID order. The rows are read in
// full before visit is called.
func (s *Store) VisitCoins(ctx context.Context, visit func(wallet.Coin) bool) (err error) {
	defer s.track("select", "wallet_coins")(&err)

	rows, err := s.pool.Query(ctx, `SELECT `+coinColumns+` FROM wallet_coins ORDER BY id`)
	if err != nil {
		return err
	}
	all, err := pgx.CollectRows(rows, scanCoin)
	if err != nil {
		return err
	}
	for _, c := range all {
		if !visit(c) {
			break
		}
	}
	return nil
}

// SelectCoins picks available coins in ID order inside one transaction. With
// lock set the picked rows are moved to the locked status before commit.
func (s *Store) SelectCoins(ctx context.Context, amount wallet.Amount, lock bool) (out []wallet.Coin, err error) {
	defer s.track("select_coins", "wallet_coins")(&err)

	out = []wallet.Coin{}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+coinColumns+` FROM wallet_coins WHERE status = $1 ORDER BY id FOR UPDATE`,
			string(wallet.CoinAvailable))
		if err != nil {
			return err
		}
		available, err := pgx.CollectRows(rows, scanCoin)
		if err != nil {
			return err
		}

		sel := coins.Select(available, amount)
		if !sel.Sufficient {
			return nil
		}
		if lock {
			for i := range sel.Coins {
				sel.Coins[i].Status = wallet.CoinLocked
				if _, err := tx.Exec(ctx, `UPDATE wallet_coins SET status = $2 WHERE id = $1`,
					int64(sel.Coins[i].ID), string(wallet.CoinLocked)); err != nil {
					return err
				}
			}
		}
		out = sel.Coins
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveCoins inserts or replaces coins. Coins with a zero ID get the next
// sequence value.
func (s *Store) SaveCoins(ctx context.Context, in ...wallet.Coin) (err error) {
	defer s.track("upsert", "wallet_coins")(&err)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		explicit := false
		for _, c := range in {
			var err error
			if c.ID == 0 {
				_, err = tx.Exec(ctx,
					`INSERT INTO wallet_coins (amount, status, create_tx_id, spent_tx_id) VALUES ($1, $2, $3, $4)`,
					int64(c.Amount), string(c.Status), pgUUIDPtr(c.CreateTxID), pgUUIDPtr(c.SpentTxID))
			} else {
				_, err = tx.Exec(ctx, `
					INSERT INTO wallet_coins (`+coinColumns+`) VALUES ($1, $2, $3, $4, $5)
					ON CONFLICT (id) DO UPDATE SET
						amount = EXCLUDED.amount,
						status = EXCLUDED.status,
						create_tx_id = EXCLUDED.create_tx_id,
						spent_tx_id = EXCLUDED.spent_tx_id`,
					int64(c.ID), int64(c.Amount), string(c.Status), pgUUIDPtr(c.CreateTxID), pgUUIDPtr(c.SpentTxID))
			}
			if err != nil {
				return fmt.Errorf("coin %d: %w", c.ID, err)
			}
			explicit = explicit || c.ID != 0
		}
		if !explicit {
			return nil
		}
		// Keep the sequence ahead of explicitly numbered coins.
		_, err := tx.Exec(ctx, `SELECT setval(pg_get_serial_sequence('wallet_coins', 'id'), (SELECT MAX(id) FROM wallet_coins))`)
		return err
	})
}

// DeleteCoins removes coins by ID. Unknown IDs are ignored.
func (s *Store) DeleteCoins(ctx context.Context, ids ...uint64) (err error) {
	defer s.track("delete", "wallet_coins")(&err)

	if len(ids) == 0 {
		return nil
	}
	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = int64(id)
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM wallet_coins WHERE id = ANY($1)`, keys)
	return err
}

// SaveAddress inserts or replaces an address book entry.
func (s *Store) SaveAddress(ctx context.Context, addr wallet.WalletAddress) (err error) {
	defer s.track("upsert", "wallet_addresses")(&err)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO wallet_addresses (wallet_id, label, own, create_time, duration_ns)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (wallet_id) DO UPDATE SET
			label = EXCLUDED.label,
			own = EXCLUDED.own,
			create_time = EXCLUDED.create_time,
			duration_ns = EXCLUDED.duration_ns`,
		addr.WalletID.String(), addr.Label, addr.Own, pgTimestamptz(addr.CreateTime), int64(addr.Duration))
	return err
}

// DeleteAddress removes an address book entry.
func (s *Store) DeleteAddress(ctx context.Context, id wallet.WalletID) (err error) {
	defer s.track("delete", "wallet_addresses")(&err)

	tag, err := s.pool.Exec(ctx, `DELETE FROM wallet_addresses WHERE wallet_id = $1`, id.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("address %s: %w", id, wallet.ErrNotFound)
	}
	return nil
}

// Addresses returns own or foreign addresses ordered by creation time.
func (s *Store) Addresses(ctx context.Context, own bool) (out []wallet.WalletAddress, err error) {
	defer s.track("select", "wallet_addresses")(&err)

	rows, err := s.pool.Query(ctx, `
		SELECT wallet_id, label, own, create_time, duration_ns
		FROM wallet_addresses WHERE own = $1
		ORDER BY create_time, wallet_id`, own)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (wallet.WalletAddress, error) {
		var (
			a        wallet.WalletAddress
			id       string
			created  pgtype.Timestamptz
			duration int64
		)
		if err := row.Scan(&id, &a.Label, &a.Own, &created, &duration); err != nil {
			return a, err
		}
		walletID, err := solana.PublicKeyFromBase58(id)
		if err != nil {
			return a, fmt.Errorf("address %q: %w", id, err)
		}
		a.WalletID = walletID
		a.CreateTime = timeFromPgTimestamptz(created)
		a.Duration = time.Duration(duration)
		return a, nil
	})
}

// Peers returns known counterparties in the order they were first seen.
func (s *Store) Peers(ctx context.Context) (out []wallet.TxPeer, err error) {
	defer s.track("select", "wallet_peers")(&err)

	rows, err := s.pool.Query(ctx, `SELECT wallet_id, label FROM wallet_peers ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (wallet.TxPeer, error) {
		var (
			p  wallet.TxPeer
			id string
		)
		if err := row.Scan(&id, &p.Label); err != nil {
			return p, err
		}
		walletID, err := solana.PublicKeyFromBase58(id)
		if err != nil {
			return p, fmt.Errorf("peer %q: %w", id, err)
		}
		p.WalletID = walletID
		return p, nil
	})
}

// SavePeer inserts or replaces a counterparty.
func (s *Store) SavePeer(ctx context.Context, peer wallet.TxPeer) (err error) {
	defer s.track("upsert", "wallet_peers")(&err)

	_, err = s.pool.Exec(ctx, `
		INSERT INTO wallet_peers (wallet_id, label) VALUES ($1, $2)
		ON CONFLICT (wallet_id) DO UPDATE SET label = EXCLUDED.label`,
		peer.WalletID.String(), peer.Label)
	return err
}

// LastUpdateTime returns when the chain state was last recorded.
func (s *Store) LastUpdateTime(ctx context.Context) (_ time.Time, err error) {
	defer s.track("get", "wallet_system_state")(&err)

	var ts pgtype.Timestamptz
	if err = s.pool.QueryRow(ctx, `SELECT last_update FROM wallet_system_state WHERE id = 1`).Scan(&ts); err != nil {
		return time.Time{}, err
	}
	return timeFromPgTimestamptz(ts), nil
}

// SystemStateID returns the last recorded chain state.
func (s *Store) SystemStateID(ctx context.Context) (_ wallet.StateID, err error) {
	defer s.track("get", "wallet_system_state")(&err)

	var (
		height int64
		state  wallet.StateID
	)
	if err = s.pool.QueryRow(ctx, `SELECT height, hash FROM wallet_system_state WHERE id = 1`).Scan(&height, &state.Hash); err != nil {
		return wallet.StateID{}, err
	}
	state.Height = uint64(height)
	return state, nil
}

// SetSystemState records a new chain state and stamps the update time.
func (s *Store) SetSystemState(ctx context.Context, state wallet.StateID) (err error) {
	defer s.track("update", "wallet_system_state")(&err)

	_, err = s.pool.Exec(ctx,
		`UPDATE wallet_system_state SET height = $1, hash = $2, last_update = $3 WHERE id = 1`,
		int64(state.Height), state.Hash, pgTimestamptz(s.now()))
	return err
}

// ChangePassword stores a bcrypt hash of secret.
func (s *Store) ChangePassword(ctx context.Context, secret []byte) (err error) {
	defer s.track("update", "wallet_system_state")(&err)

	if len(secret) == 0 {
		return fmt.Errorf("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword(secret, bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE wallet_system_state SET password_hash = $1 WHERE id = 1`, hash)
	return err
}

// CheckPassword reports whether secret matches the stored password.
func (s *Store) CheckPassword(ctx context.Context, secret []byte) (bool, error) {
	var hash []byte
	if err := s.pool.QueryRow(ctx, `SELECT password_hash FROM wallet_system_state WHERE id = 1`).Scan(&hash); err != nil {
		return false, err
	}
	if hash == nil {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword(hash, secret) == nil, nil
}

// HasPassword reports whether a password hash has been stored.
func (s *Store) HasPassword(ctx context.Context) (bool, error) {
	var set bool
	err := s.pool.QueryRow(ctx, `SELECT password_hash IS NOT NULL FROM wallet_system_state WHERE id = 1`).Scan(&set)
	return set, err
}

func scanTx(row pgx.CollectableRow) (wallet.TxDescription, error) {
	var (
		tx               wallet.TxDescription
		id               pgtype.UUID
		amount, fee      int64
		status           string
		peerID, myID     string
		created, updated pgtype.Timestamptz
	)
	if err := row.Scan(&id, &amount, &fee, &tx.Sender, &status, &peerID, &myID, &tx.Message, &created, &updated); err != nil {
		return tx, err
	}
	peer, err := solana.PublicKeyFromBase58(peerID)
	if err != nil {
		return tx, fmt.Errorf("peer id %q: %w", peerID, err)
	}
	me, err := solana.PublicKeyFromBase58(myID)
	if err != nil {
		return tx, fmt.Errorf("own id %q: %w", myID, err)
	}
	tx.ID = wallet.TxID(id.Bytes)
	tx.Amount = wallet.Amount(amount)
	tx.Fee = wallet.Amount(fee)
	tx.Status = wallet.TxStatus(status)
	tx.PeerID = peer
	tx.MyID = me
	tx.CreateTime = timeFromPgTimestamptz(created)
	tx.ModifyTime = timeFromPgTimestamptz(updated)
	return tx, nil
}

func scanCoin(row pgx.CollectableRow) (wallet.Coin, error) {
	var (
		c                 wallet.Coin
		id, amount        int64
		status            string
		createTx, spentTx pgtype.UUID
	)
	if err := row.Scan(&id, &amount, &status, &createTx, &spentTx); err != nil {
		return c, err
	}
	c.ID = uint64(id)
	c.Amount = wallet.Amount(amount)
	c.Status = wallet.CoinStatus(status)
	c.CreateTxID = txIDPtrFromPgUUID(createTx)
	c.SpentTxID = txIDPtrFromPgUUID(spentTx)
	return c, nil
}

func pgUUID(id wallet.TxID) pgtype.UUID {
	return pgtype.UUID{Bytes: [16]byte(id), Valid: true}
}

func pgUUIDPtr(id *wallet.TxID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{Valid: false}
	}
	return pgUUID(*id)
}

func txIDPtrFromPgUUID(u pgtype.UUID) *wallet.TxID {
	if !u.Valid {
		return nil
	}
	id := wallet.TxID(u.Bytes)
	return &id
}

func pgTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func timeFromPgTimestamptz(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}
