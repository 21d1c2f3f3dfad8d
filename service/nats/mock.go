package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*EventMessage
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		publishedEvents: make([]*EventMessage, 0),
	}
}

// PublishEvent records the message and returns any configured error.
func (m *MockPublisher) PublishEvent(ctx context.Context, msg *EventMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, msg)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published messages (for testing).
func (m *MockPublisher) GetPublishedEvents() []*EventMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid race conditions
	out := make([]*EventMessage, len(m.publishedEvents))
	copy(out, m.publishedEvents)
	return out
}

// GetPublishedEventCount returns the number of published messages.
func (m *MockPublisher) GetPublishedEventCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.publishedEvents)
}

// GetPublishedEventsOfKind returns messages published for one event kind.
func (m *MockPublisher) GetPublishedEventsOfKind(kind string) []*EventMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*EventMessage, 0)
	for _, msg := range m.publishedEvents {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

// SetPublishError configures the mock to return an error on PublishEvent.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
