package actor

import (
	"slices"

	"github.com/Aaronyf/beam/service/bridge"
	"github.com/Aaronyf/beam/service/wallet"
)

// Async is the thread-safe face of the actor. Every method queues one
// command and returns immediately; results arrive as events. After Stop,
// every method returns bridge.ErrClosed.
type Async struct {
	queue *bridge.Queue[*Actor]
}

func (c *Async) submit(name string, fn func(*Actor)) error {
	return c.queue.Submit(bridge.Command[*Actor]{Name: name, Fn: fn})
}

// SendMoney transfers amount plus fee from sender to receiver.
func (c *Async) SendMoney(sender, receiver wallet.WalletID, amount, fee wallet.Amount) error {
	return c.submit("send_money", func(a *Actor) {
		a.sendMoney(sender, receiver, amount, fee, nil)
	})
}

// SendMoneyWithComment transfers from a newly generated own address.
func (c *Async) SendMoneyWithComment(receiver wallet.WalletID, comment string, amount, fee wallet.Amount) error {
	msg := []byte(comment)
	return c.submit("send_money_with_comment", func(a *Actor) {
		a.sendMoneyWithComment(receiver, msg, amount, fee)
	})
}

// SyncWithNode connects to the node, or refreshes chain state when
// already connected.
func (c *Async) SyncWithNode() error {
	return c.submit("sync_with_node", (*Actor).syncWithNode)
}

// CalcChange emits the change a transfer of amount would produce.
func (c *Async) CalcChange(amount wallet.Amount) error {
	return c.submit("calc_change", func(a *Actor) { a.calcChange(amount) })
}

// GetWalletStatus emits the status, the full transaction list, the peers
// and the foreign address book.
func (c *Async) GetWalletStatus() error {
	return c.submit("get_wallet_status", (*Actor).getWalletStatus)
}

// GetUTXOsStatus emits the status and the full coin set.
func (c *Async) GetUTXOsStatus() error {
	return c.submit("get_utxos_status", (*Actor).getUTXOsStatus)
}

// GetAddresses emits own or foreign addresses.
func (c *Async) GetAddresses(own bool) error {
	return c.submit("get_addresses", func(a *Actor) { a.getAddresses(own) })
}

func (c *Async) CancelTx(id wallet.TxID) error {
	return c.submit("cancel_tx", func(a *Actor) { a.cancelTx(id) })
}

func (c *Async) DeleteTx(id wallet.TxID) error {
	return c.submit("delete_tx", func(a *Actor) { a.deleteTx(id) })
}

// CreateNewAddress stores addr. Own addresses start receiving peer
// messages.
func (c *Async) CreateNewAddress(addr wallet.WalletAddress) error {
	return c.submit("create_new_address", func(a *Actor) { a.createNewAddress(addr) })
}

func (c *Async) ChangeCurrentWalletIDs(sender, receiver wallet.WalletID) error {
	return c.submit("change_current_wallet_ids", func(a *Actor) { a.changeCurrentWalletIDs(sender, receiver) })
}

// GenerateNewWalletID creates a key pair and emits its public key. The
// address is not stored until CreateNewAddress.
func (c *Async) GenerateNewWalletID() error {
	return c.submit("generate_new_wallet_id", (*Actor).generateNewWalletID)
}

func (c *Async) DeleteAddress(id wallet.WalletID) error {
	return c.submit("delete_address", func(a *Actor) { a.deleteAddress(id) })
}

func (c *Async) DeleteOwnAddress(id wallet.WalletID) error {
	return c.submit("delete_own_address", func(a *Actor) { a.deleteOwnAddress(id) })
}

// SetNodeAddress switches to the node at addr ("host:port").
func (c *Async) SetNodeAddress(addr string) error {
	return c.submit("set_node_address", func(a *Actor) { a.setNodeAddress(addr) })
}

func (c *Async) ChangeWalletPassword(secret []byte) error {
	pass := slices.Clone(secret)
	return c.submit("change_wallet_password", func(a *Actor) { a.changeWalletPassword(pass) })
}

// CheckReceiverAddress emits whether addr is a usable receiver.
func (c *Async) CheckReceiverAddress(addr string) error {
	return c.submit("check_receiver_address", func(a *Actor) { a.checkReceiverAddress(addr) })
}
