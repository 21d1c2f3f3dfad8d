// Package txengine is the reference transaction engine behind the wallet
// actor. It locks coins for outgoing transfers, exchanges invitations with
// peers and settles in-progress transactions when the node reports new
// chain state.
package txengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Aaronyf/beam/service/coins"
	"github.com/Aaronyf/beam/service/observer"
	"github.com/Aaronyf/beam/service/wallet"
	"github.com/google/uuid"
)

var (
	// ErrCannotCancel is returned for transactions that already finished.
	ErrCannotCancel = errors.New("transaction can no longer be cancelled")

	// ErrCannotDelete is returned for transactions still in flight.
	ErrCannotDelete = errors.New("transaction is still in progress")

	// ErrInvalidAmount is returned for zero-value transfers.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrAmountOverflow is returned when amount plus fee does not fit in an
	// Amount.
	ErrAmountOverflow = errors.New("amount plus fee overflows")
)

// Peer message types.
const (
	msgInvite = "invite"
	msgCancel = "cancel"
)

// peerMessage is the payload exchanged between wallets.
type peerMessage struct {
	Type    string          `json:"type"`
	TxID    wallet.TxID     `json:"tx_id"`
	From    wallet.WalletID `json:"from"`
	Amount  wallet.Amount   `json:"amount,omitempty"`
	Fee     wallet.Amount   `json:"fee,omitempty"`
	Message []byte          `json:"message,omitempty"`
}

// Engine implements wallet.Engine on top of a wallet.DB.
type Engine struct {
	db        wallet.DB
	peers     wallet.PeerSender
	observers *observer.Notifier[wallet.Observer]
	logger    *slog.Logger
	now       func() time.Time
}

var _ wallet.Engine = (*Engine)(nil)

// New creates an engine that stores through db and reaches peers through
// peers.
func New(db wallet.DB, peers wallet.PeerSender, logger *slog.Logger) *Engine {
	return &Engine{
		db:        db,
		peers:     peers,
		observers: observer.New[wallet.Observer](logger),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers o for change notifications.
func (e *Engine) Subscribe(o wallet.Observer) *observer.Subscription {
	return e.observers.Subscribe(o)
}

// Transfer locks coins covering amount plus fee, records an in-progress
// transaction with its change output and invites the receiver.
func (e *Engine) Transfer(ctx context.Context, p wallet.TransferParams) (wallet.TxID, error) {
	if p.Amount == 0 {
		return wallet.TxID{}, ErrInvalidAmount
	}
	if p.Fee > math.MaxUint64-p.Amount {
		return wallet.TxID{}, fmt.Errorf("amount %d plus fee %d: %w", p.Amount, p.Fee, ErrAmountOverflow)
	}
	total := p.Amount + p.Fee

	selected, err := e.db.SelectCoins(ctx, total, true)
	if err != nil {
		return wallet.TxID{}, fmt.Errorf("failed to select coins: %w", err)
	}
	if len(selected) == 0 {
		return wallet.TxID{}, fmt.Errorf("transfer of %d: %w", total, wallet.ErrInsufficientFunds)
	}

	id := uuid.New()
	now := e.now()
	txSaved := false
	abort := func(err error) (wallet.TxID, error) {
		if rbErr := e.rollback(ctx, id, selected, txSaved); rbErr != nil {
			return wallet.TxID{}, errors.Join(err, rbErr)
		}
		return wallet.TxID{}, err
	}

	toSave := make([]wallet.Coin, 0, len(selected)+1)
	for _, c := range selected {
		c.Status = wallet.CoinOutgoing
		c.SpentTxID = &id
		toSave = append(toSave, c)
	}
	if change := coins.Select(selected, total).Change; change > 0 {
		toSave = append(toSave, wallet.Coin{Amount: change, Status: wallet.CoinChange, CreateTxID: &id})
	}
	if err := e.db.SaveCoins(ctx, toSave...); err != nil {
		return abort(fmt.Errorf("failed to save coins: %w", err))
	}

	tx := wallet.TxDescription{
		ID:         id,
		Amount:     p.Amount,
		Fee:        p.Fee,
		Sender:     true,
		Status:     wallet.TxInProgress,
		PeerID:     p.Receiver,
		MyID:       p.Sender,
		Message:    p.Message,
		CreateTime: now,
		ModifyTime: now,
	}
	if err := e.db.SaveTx(ctx, tx); err != nil {
		return abort(fmt.Errorf("failed to save transaction: %w", err))
	}
	txSaved = true
	if err := e.db.SavePeer(ctx, wallet.TxPeer{WalletID: p.Receiver}); err != nil {
		return abort(fmt.Errorf("failed to save peer: %w", err))
	}

	sendErr := e.send(ctx, p.Receiver, peerMessage{
		Type:    msgInvite,
		TxID:    id,
		From:    p.Sender,
		Amount:  p.Amount,
		Fee:     p.Fee,
		Message: p.Message,
	})
	if sendErr != nil {
		if err := e.release(ctx, tx); err != nil {
			return wallet.TxID{}, errors.Join(sendErr, err)
		}
		tx.Status = wallet.TxFailed
		tx.ModifyTime = e.now()
		if err := e.db.SaveTx(ctx, tx); err != nil {
			return wallet.TxID{}, errors.Join(sendErr, err)
		}
	}

	e.observers.Notify(func(o wallet.Observer) { o.OnTxPeerChanged() })
	e.observers.Notify(func(o wallet.Observer) { o.OnTransactionChanged(wallet.ChangeAdd, []wallet.TxDescription{tx}) })
	e.observers.Notify(func(o wallet.Observer) { o.OnCoinsChanged() })

	if sendErr != nil {
		return id, sendErr
	}
	e.logger.Info("transfer started",
		"tx_id", id.String(),
		"amount", uint64(p.Amount),
		"fee", uint64(p.Fee),
		"coins", len(selected),
	)
	return id, nil
}

// Cancel aborts an in-flight transaction and returns its coins. The peer
// of an outgoing transaction is told about the cancellation.
func (e *Engine) Cancel(ctx context.Context, id wallet.TxID) error {
	tx, err := e.db.GetTx(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load transaction: %w", err)
	}
	if !tx.CanCancel() {
		return fmt.Errorf("transaction %s is %s: %w", id, tx.Status, ErrCannotCancel)
	}

	if err := e.cancel(ctx, *tx); err != nil {
		return err
	}

	if tx.Sender {
		if err := e.send(ctx, tx.PeerID, peerMessage{Type: msgCancel, TxID: id, From: tx.MyID}); err != nil {
			e.logger.Warn("failed to notify peer of cancellation", "tx_id", id.String(), "error", err)
		}
	}
	return nil
}

// Delete removes a finished transaction from history.
func (e *Engine) Delete(ctx context.Context, id wallet.TxID) error {
	tx, err := e.db.GetTx(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load transaction: %w", err)
	}
	if !tx.CanDelete() {
		return fmt.Errorf("transaction %s is %s: %w", id, tx.Status, ErrCannotDelete)
	}
	if err := e.db.DeleteTx(ctx, id); err != nil {
		return fmt.Errorf("failed to delete transaction: %w", err)
	}

	e.observers.Notify(func(o wallet.Observer) { o.OnTransactionChanged(wallet.ChangeRemove, []wallet.TxDescription{*tx}) })
	return nil
}

// HandlePeerMessage applies an invitation or cancellation received on one
// of the wallet's own addresses.
func (e *Engine) HandlePeerMessage(ctx context.Context, msg wallet.PeerMessage) error {
	var m peerMessage
	if err := json.Unmarshal(msg.Payload, &m); err != nil {
		return fmt.Errorf("failed to decode peer message: %w", err)
	}

	switch m.Type {
	case msgInvite:
		return e.acceptInvite(ctx, msg.To, m)
	case msgCancel:
		tx, err := e.db.GetTx(ctx, m.TxID)
		if errors.Is(err, wallet.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load transaction: %w", err)
		}
		if tx.Sender || tx.PeerID != m.From || !tx.CanCancel() {
			return nil
		}
		return e.cancel(ctx, *tx)
	default:
		return fmt.Errorf("unknown peer message type %q", m.Type)
	}
}

// OnChainState records state and completes every in-progress transaction.
func (e *Engine) OnChainState(ctx context.Context, state wallet.StateID) error {
	if err := e.db.SetSystemState(ctx, state); err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}
	e.observers.Notify(func(o wallet.Observer) { o.OnSystemStateChanged() })

	history, err := e.db.TxHistory(ctx)
	if err != nil {
		return fmt.Errorf("failed to read transaction history: %w", err)
	}
	var pending []wallet.TxDescription
	for _, tx := range history {
		if tx.Status == wallet.TxInProgress {
			pending = append(pending, tx)
		}
	}

	if len(pending) == 0 {
		e.observers.Notify(func(o wallet.Observer) { o.OnSyncProgress(0, 0) })
		return nil
	}

	settled := make([]wallet.TxDescription, 0, len(pending))
	for i, tx := range pending {
		if err := e.settle(ctx, tx); err != nil {
			return err
		}
		tx.Status = wallet.TxCompleted
		tx.ModifyTime = e.now()
		if err := e.db.SaveTx(ctx, tx); err != nil {
			return fmt.Errorf("failed to save transaction: %w", err)
		}
		settled = append(settled, tx)

		done := i + 1
		e.observers.Notify(func(o wallet.Observer) { o.OnSyncProgress(done, len(pending)) })
	}

	e.logger.Info("settled transactions", "count", len(settled), "height", state.Height)
	e.observers.Notify(func(o wallet.Observer) { o.OnTransactionChanged(wallet.ChangeUpdate, settled) })
	e.observers.Notify(func(o wallet.Observer) { o.OnCoinsChanged() })
	return nil
}

func (e *Engine) acceptInvite(ctx context.Context, to wallet.WalletID, m peerMessage) error {
	if m.Amount == 0 {
		return fmt.Errorf("invitation %s: %w", m.TxID, ErrInvalidAmount)
	}
	if _, err := e.db.GetTx(ctx, m.TxID); err == nil {
		return nil
	} else if !errors.Is(err, wallet.ErrNotFound) {
		return fmt.Errorf("failed to load transaction: %w", err)
	}

	now := e.now()
	id := m.TxID
	tx := wallet.TxDescription{
		ID:         id,
		Amount:     m.Amount,
		Fee:        m.Fee,
		Sender:     false,
		Status:     wallet.TxInProgress,
		PeerID:     m.From,
		MyID:       to,
		Message:    m.Message,
		CreateTime: now,
		ModifyTime: now,
	}
	if err := e.db.SavePeer(ctx, wallet.TxPeer{WalletID: m.From}); err != nil {
		return fmt.Errorf("failed to save peer: %w", err)
	}
	if err := e.db.SaveCoins(ctx, wallet.Coin{Amount: m.Amount, Status: wallet.CoinIncoming, CreateTxID: &id}); err != nil {
		return fmt.Errorf("failed to save coins: %w", err)
	}
	if err := e.db.SaveTx(ctx, tx); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	e.logger.Info("accepted invitation", "tx_id", id.String(), "amount", uint64(m.Amount))
	e.observers.Notify(func(o wallet.Observer) { o.OnTxPeerChanged() })
	e.observers.Notify(func(o wallet.Observer) { o.OnTransactionChanged(wallet.ChangeAdd, []wallet.TxDescription{tx}) })
	e.observers.Notify(func(o wallet.Observer) { o.OnCoinsChanged() })
	return nil
}

func (e *Engine) cancel(ctx context.Context, tx wallet.TxDescription) error {
	if err := e.release(ctx, tx); err != nil {
		return err
	}
	tx.Status = wallet.TxCancelled
	tx.ModifyTime = e.now()
	if err := e.db.SaveTx(ctx, tx); err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}

	e.logger.Info("transaction cancelled", "tx_id", tx.ID.String())
	e.observers.Notify(func(o wallet.Observer) { o.OnTransactionChanged(wallet.ChangeUpdate, []wallet.TxDescription{tx}) })
	e.observers.Notify(func(o wallet.Observer) { o.OnCoinsChanged() })
	return nil
}

// release returns coins spent by tx to the available set and drops the
// outputs it created.
func (e *Engine) release(ctx context.Context, tx wallet.TxDescription) error {
	spent, created, err := e.coinsOf(ctx, tx.ID)
	if err != nil {
		return err
	}
	for i := range spent {
		spent[i].Status = wallet.CoinAvailable
		spent[i].SpentTxID = nil
	}
	if err := e.db.SaveCoins(ctx, spent...); err != nil {
		return fmt.Errorf("failed to save coins: %w", err)
	}

	ids := make([]uint64, 0, len(created))
	for _, c := range created {
		ids = append(ids, c.ID)
	}
	if err := e.db.DeleteCoins(ctx, ids...); err != nil {
		return fmt.Errorf("failed to delete coins: %w", err)
	}
	return nil
}

// rollback undoes a transfer that failed before the receiver was invited.
// Locked coins become available again and nothing recorded under id is kept.
func (e *Engine) rollback(ctx context.Context, id wallet.TxID, locked []wallet.Coin, txSaved bool) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error

	unlocked := make([]wallet.Coin, len(locked))
	for i, c := range locked {
		c.Status = wallet.CoinAvailable
		c.SpentTxID = nil
		unlocked[i] = c
	}
	if err := e.db.SaveCoins(ctx, unlocked...); err != nil {
		errs = append(errs, fmt.Errorf("failed to unlock coins: %w", err))
	}

	_, created, err := e.coinsOf(ctx, id)
	if err != nil {
		errs = append(errs, err)
	} else if len(created) > 0 {
		ids := make([]uint64, 0, len(created))
		for _, c := range created {
			ids = append(ids, c.ID)
		}
		if err := e.db.DeleteCoins(ctx, ids...); err != nil {
			errs = append(errs, fmt.Errorf("failed to delete change coins: %w", err))
		}
	}

	if txSaved {
		if err := e.db.DeleteTx(ctx, id); err != nil && !errors.Is(err, wallet.ErrNotFound) {
			errs = append(errs, fmt.Errorf("failed to delete transaction: %w", err))
		}
	}
	if len(errs) == 0 {
		e.logger.Warn("transfer rolled back", "tx_id", id.String())
	}
	return errors.Join(errs...)
}

// settle spends the inputs of tx and makes its outputs available.
func (e *Engine) settle(ctx context.Context, tx wallet.TxDescription) error {
	spent, created, err := e.coinsOf(ctx, tx.ID)
	if err != nil {
		return err
	}
	for i := range spent {
		spent[i].Status = wallet.CoinSpent
	}
	for i := range created {
		created[i].Status = wallet.CoinAvailable
	}
	if err := e.db.SaveCoins(ctx, append(spent, created...)...); err != nil {
		return fmt.Errorf("failed to save coins: %w", err)
	}
	return nil
}

func (e *Engine) coinsOf(ctx context.Context, id wallet.TxID) (spent, created []wallet.Coin, err error) {
	err = e.db.VisitCoins(ctx, func(c wallet.Coin) bool {
		switch {
		case c.SpentTxID != nil && *c.SpentTxID == id:
			spent = append(spent, c)
		case c.CreateTxID != nil && *c.CreateTxID == id:
			created = append(created, c)
		}
		return true
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read coins: %w", err)
	}
	return spent, created, nil
}

func (e *Engine) send(ctx context.Context, to wallet.WalletID, m peerMessage) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode peer message: %w", err)
	}
	if err := e.peers.SendToPeer(ctx, to, data); err != nil {
		return fmt.Errorf("failed to send %s to %s: %w", m.Type, to, err)
	}
	return nil
}
