package nats

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// Messenger carries peer messages over core NATS subjects. It implements
// network.Messenger.
type Messenger struct {
	nc *nats.Conn
}

// NewMessenger wraps an established connection.
func NewMessenger(nc *nats.Conn) *Messenger {
	return &Messenger{nc: nc}
}

// Subscribe delivers every message on subject to handler. Handlers run on
// the connection's dispatch goroutine.
func (m *Messenger) Subscribe(subject string, handler func(data []byte)) (func() error, error) {
	sub, err := m.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub.Unsubscribe, nil
}

// Publish sends data on subject.
func (m *Messenger) Publish(subject string, data []byte) error {
	if err := m.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}
