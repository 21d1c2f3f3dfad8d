package actor

import (
	"errors"

	"github.com/Aaronyf/beam/service/coins"
	"github.com/Aaronyf/beam/service/events"
	"github.com/Aaronyf/beam/service/keystore"
	"github.com/Aaronyf/beam/service/network"
	"github.com/Aaronyf/beam/service/wallet"
	"github.com/gagliardetto/solana-go"
)

// maxAddressLength bounds receiver addresses accepted by checkReceiverAddress.
const maxAddressLength = 64

// sendMoney transfers amount to receiver. A zero sender or receiver falls
// back to the current wallet IDs.
func (a *Actor) sendMoney(sender, receiver wallet.WalletID, amount, fee wallet.Amount, comment []byte) {
	if sender.IsZero() {
		sender = a.senderID
	}
	if receiver.IsZero() {
		receiver = a.receiverID
	}
	_, err := a.engine.Transfer(a.ctx, wallet.TransferParams{
		Sender:   sender,
		Receiver: receiver,
		Amount:   amount,
		Fee:      fee,
		Message:  comment,
	})
	if err != nil {
		a.reportError(events.ErrorTransaction, "failed to send money", err)
	}
}

// sendMoneyWithComment sends from a freshly generated own address.
func (a *Actor) sendMoneyWithComment(receiver wallet.WalletID, comment []byte, amount, fee wallet.Amount) {
	id, err := a.opts.KeyStore.GenerateKeyPair(a.ctx)
	if err != nil {
		a.reportError(events.ErrorKeyStore, "failed to generate sender address", err)
		return
	}
	addr := wallet.WalletAddress{WalletID: id, Own: true, CreateTime: a.opts.Now().UTC()}
	if !a.saveAddress(addr) {
		return
	}
	a.sendMoney(id, receiver, amount, fee, comment)
}

func (a *Actor) syncWithNode() {
	a.node.Do(func(n *network.NodeClient) {
		if n.Connected() {
			n.Refresh()
		} else {
			n.Connect()
		}
	})
}

// calcChange emits the surplus a transfer of amount would produce, or zero
// when the available coins are short.
func (a *Actor) calcChange(amount wallet.Amount) {
	selected, err := a.opts.DB.SelectCoins(a.ctx, amount, false)
	if err != nil {
		a.reportError(events.ErrorStore, "failed to select coins", err)
		return
	}
	var change wallet.Amount
	if len(selected) > 0 {
		change = coins.Select(selected, amount).Change
	}
	a.emit(events.ChangeComputed{Change: change})
}

func (a *Actor) getWalletStatus() {
	a.emitStatus()
	a.emitTxHistory()
	a.emitPeers()
	a.emitAddresses(false)
}

func (a *Actor) getUTXOsStatus() {
	a.emitStatus()
	a.emitCoins()
}

func (a *Actor) getAddresses(own bool) {
	a.emitAddresses(own)
}

func (a *Actor) cancelTx(id wallet.TxID) {
	if err := a.engine.Cancel(a.ctx, id); err != nil {
		a.reportError(events.ErrorTransaction, "failed to cancel transaction", err)
	}
}

func (a *Actor) deleteTx(id wallet.TxID) {
	if err := a.engine.Delete(a.ctx, id); err != nil {
		a.reportError(events.ErrorTransaction, "failed to delete transaction", err)
	}
}

func (a *Actor) createNewAddress(addr wallet.WalletAddress) {
	if addr.CreateTime.IsZero() {
		addr.CreateTime = a.opts.Now().UTC()
	}
	a.saveAddress(addr)
}

// saveAddress stores addr; own addresses get their key pair saved and the
// peer channel opened.
func (a *Actor) saveAddress(addr wallet.WalletAddress) bool {
	if addr.Own {
		if err := a.opts.KeyStore.SaveKeyPair(a.ctx, addr.WalletID, true); err != nil {
			a.reportError(events.ErrorKeyStore, "failed to save key pair", err)
			return false
		}
	}
	if err := a.opts.DB.SaveAddress(a.ctx, addr); err != nil {
		a.reportError(events.ErrorStore, "failed to save address", err)
		return false
	}
	if addr.Own {
		a.peers.Do(func(p *network.PeerClient) {
			if err := p.Listen(addr.WalletID); err != nil {
				a.logger.Warn("failed to listen on new address", "wallet_id", addr.WalletID.String(), "error", err)
			}
		})
	}
	a.emitAddresses(addr.Own)
	return true
}

func (a *Actor) changeCurrentWalletIDs(sender, receiver wallet.WalletID) {
	a.senderID = sender
	a.receiverID = receiver
	a.emit(events.CurrentIDsChanged{Sender: sender, Receiver: receiver})
}

func (a *Actor) generateNewWalletID() {
	id, err := a.opts.KeyStore.GenerateKeyPair(a.ctx)
	if err != nil {
		a.reportError(events.ErrorKeyStore, "failed to generate address", err)
		return
	}
	a.emit(events.NewAddressGenerated{ID: id})
}

func (a *Actor) deleteAddress(id wallet.WalletID) {
	if err := a.opts.DB.DeleteAddress(a.ctx, id); err != nil {
		a.reportError(events.ErrorStore, "failed to delete address", err)
		return
	}
	a.emitAddresses(false)
}

// deleteOwnAddress drops the address, erases its key and stops listening
// on its peer channel.
func (a *Actor) deleteOwnAddress(id wallet.WalletID) {
	if err := a.opts.DB.DeleteAddress(a.ctx, id); err != nil {
		a.reportError(events.ErrorStore, "failed to delete address", err)
		return
	}
	if err := a.opts.KeyStore.EraseKey(a.ctx, id); err != nil {
		a.reportError(events.ErrorKeyStore, "failed to erase key", err)
	}
	a.peers.Do(func(p *network.PeerClient) {
		if err := p.Unlisten(id); err != nil {
			a.logger.Warn("failed to unlisten", "wallet_id", id.String(), "error", err)
		}
	})
	a.emitAddresses(true)
}

// setNodeAddress resolves addr and reconnects. An unresolvable address
// leaves the current connection alone and is reported to observers.
func (a *Actor) setNodeAddress(addr string) {
	wasConnected, err := a.net.SetNodeAddress(a.ctx, addr)
	if err != nil && a.ctx.Err() != nil {
		a.logger.Info("node address change abandoned", "address", addr, "error", err)
		return
	}
	if err != nil {
		var resolveErr *network.ResolveError
		if errors.As(err, &resolveErr) {
			a.logger.Error("unable to resolve node address", "address", addr, "error", resolveErr.Err)
			a.emit(events.Error{ErrorKind: events.ErrorNodeAddress, Message: resolveErr.Error()})
			a.emit(events.NodeConnectionFailed{Reason: resolveErr.Error()})
			return
		}
		a.logger.Error("failed to set node address", "address", addr, "error", err)
		return
	}
	if wasConnected {
		if a.opts.Metrics != nil {
			a.opts.Metrics.RecordNodeConnection(false)
		}
		a.emit(events.NodeConnectionChanged{Connected: false})
	}
}

func (a *Actor) changeWalletPassword(secret []byte) {
	if err := a.opts.DB.ChangePassword(a.ctx, secret); err != nil {
		a.reportError(events.ErrorStore, "failed to change store password", err)
		return
	}
	if err := a.opts.KeyStore.ChangePassword(a.ctx, secret); err != nil {
		a.reportError(events.ErrorKeyStore, "failed to change key store password", err)
	}
}

// checkReceiverAddress reports whether addr can receive funds: a non-empty
// base58 public key that the key store can seal payloads for.
func (a *Actor) checkReceiverAddress(addr string) {
	a.emit(events.ReceiverAddressChecked{Address: addr, Valid: a.validReceiver(addr)})
}

func (a *Actor) validReceiver(addr string) bool {
	if addr == "" || len(addr) > maxAddressLength {
		return false
	}
	id, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return false
	}
	if _, err := a.opts.KeyStore.Encrypt([]byte(addr), id); err != nil {
		if !errors.Is(err, keystore.ErrInvalidKey) {
			a.logger.Warn("receiver address probe failed", "address", addr, "error", err)
		}
		return false
	}
	return true
}
