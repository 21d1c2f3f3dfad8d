package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Aaronyf/beam/service/wallet"
)

// ErrPeerClientClosed is returned by a PeerClient after teardown.
var ErrPeerClientClosed = errors.New("peer client closed")

// PeerSubject is the messenger subject carrying messages for id.
func PeerSubject(id wallet.WalletID) string {
	return "beam.bbs." + id.String()
}

// PeerClient listens on the peer channels of own addresses and sends to
// other wallets. Like NodeClient it is owned by the actor goroutine.
type PeerClient struct {
	messenger Messenger
	out       chan<- Event
	ctx       context.Context
	logger    *slog.Logger

	listening map[wallet.WalletID]func() error
	closed    bool
}

func newPeerClient(ctx context.Context, m Messenger, out chan<- Event, logger *slog.Logger) *PeerClient {
	return &PeerClient{
		messenger: m,
		out:       out,
		ctx:       ctx,
		logger:    logger,
		listening: make(map[wallet.WalletID]func() error),
	}
}

// Listen subscribes to the peer channel of id. Listening twice is a no-op.
func (p *PeerClient) Listen(id wallet.WalletID) error {
	if p.closed {
		return ErrPeerClientClosed
	}
	if _, ok := p.listening[id]; ok {
		return nil
	}

	ctx, out := p.ctx, p.out
	unsubscribe, err := p.messenger.Subscribe(PeerSubject(id), func(data []byte) {
		select {
		case out <- PeerMessageReceived{Message: wallet.PeerMessage{To: id, Payload: data}}:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", id, err)
	}
	p.listening[id] = unsubscribe
	p.logger.Debug("listening on peer channel", "wallet_id", id.String())
	return nil
}

// Unlisten drops the subscription for id, if any.
func (p *PeerClient) Unlisten(id wallet.WalletID) error {
	unsubscribe, ok := p.listening[id]
	if !ok {
		return nil
	}
	delete(p.listening, id)
	if err := unsubscribe(); err != nil {
		return fmt.Errorf("failed to unlisten on %s: %w", id, err)
	}
	return nil
}

// Listening reports whether the client is subscribed for id.
func (p *PeerClient) Listening(id wallet.WalletID) bool {
	_, ok := p.listening[id]
	return ok
}

// Send publishes payload on the peer channel of to.
func (p *PeerClient) Send(ctx context.Context, to wallet.WalletID, payload []byte) error {
	if p.closed {
		return ErrPeerClientClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.messenger.Publish(PeerSubject(to), payload); err != nil {
		return fmt.Errorf("failed to send to %s: %w", to, err)
	}
	return nil
}

func (p *PeerClient) close() {
	for id, unsubscribe := range p.listening {
		if err := unsubscribe(); err != nil {
			p.logger.Warn("failed to unlisten during teardown", "wallet_id", id.String(), "error", err)
		}
	}
	clear(p.listening)
	p.closed = true
}
