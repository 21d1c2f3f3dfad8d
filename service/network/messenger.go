package network

import (
	"errors"
	"slices"
	"sync"
)

// ErrMessengerClosed is returned by a closed LoopbackMessenger.
var ErrMessengerClosed = errors.New("messenger closed")

// Messenger is a subject-based publish/subscribe transport for peer
// messages. Handlers run on transport goroutines, never on the publisher's.
type Messenger interface {
	Subscribe(subject string, handler func(data []byte)) (unsubscribe func() error, err error)
	Publish(subject string, data []byte) error
}

// LoopbackMessenger delivers messages between subscribers of the same
// process. It backs offline use and tests.
type LoopbackMessenger struct {
	mu     sync.Mutex
	subs   map[string][]*loopbackSub
	nextID uint64
	closed bool
}

type loopbackSub struct {
	id      uint64
	handler func([]byte)
}

// NewLoopbackMessenger returns an empty messenger.
func NewLoopbackMessenger() *LoopbackMessenger {
	return &LoopbackMessenger{subs: make(map[string][]*loopbackSub)}
}

// Subscribe registers handler for subject.
func (m *LoopbackMessenger) Subscribe(subject string, handler func([]byte)) (func() error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrMessengerClosed
	}
	m.nextID++
	sub := &loopbackSub{id: m.nextID, handler: handler}
	m.subs[subject] = append(m.subs[subject], sub)

	return func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.subs[subject] = slices.DeleteFunc(m.subs[subject], func(s *loopbackSub) bool { return s.id == sub.id })
		if len(m.subs[subject]) == 0 {
			delete(m.subs, subject)
		}
		return nil
	}, nil
}

// Publish hands a copy of data to every subscriber of subject, each on its
// own goroutine.
func (m *LoopbackMessenger) Publish(subject string, data []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrMessengerClosed
	}
	subs := slices.Clone(m.subs[subject])
	m.mu.Unlock()

	for _, s := range subs {
		payload := slices.Clone(data)
		go s.handler(payload)
	}
	return nil
}

// Subscribers returns the number of handlers registered for subject.
func (m *LoopbackMessenger) Subscribers(subject string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[subject])
}

// Close drops every subscription. Later calls fail with ErrMessengerClosed.
func (m *LoopbackMessenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string][]*loopbackSub)
	return nil
}
