// Package observer implements a synchronous fan-out of notifications to a set
// of registered observers with scoped subscriptions.
package observer

import (
	"log/slog"
	"slices"
	"sync"
)

// Notifier delivers notifications to its observers in registration order on
// the goroutine that calls Notify. The zero value is ready to use.
type Notifier[O any] struct {
	// Logger receives recovered observer panics. Optional.
	Logger *slog.Logger

	mu   sync.Mutex
	subs []*entry[O]
}

type entry[O any] struct {
	mu     sync.Mutex
	o      O
	closed bool
}

// New returns a Notifier that logs observer panics to logger.
func New[O any](logger *slog.Logger) *Notifier[O] {
	return &Notifier[O]{Logger: logger}
}

// Subscribe registers o and returns the token that unregisters it. Callers
// typically defer Close on the returned subscription.
func (n *Notifier[O]) Subscribe(o O) *Subscription {
	e := &entry[O]{o: o}

	n.mu.Lock()
	n.subs = append(n.subs, e)
	n.mu.Unlock()

	return &Subscription{close: func() { n.remove(e) }}
}

// Notify calls fn once per live observer.
func (n *Notifier[O]) Notify(fn func(O)) {
	n.mu.Lock()
	subs := slices.Clone(n.subs)
	n.mu.Unlock()

	for _, e := range subs {
		n.deliver(e, fn)
	}
}

// Len returns the number of registered observers.
func (n *Notifier[O]) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func (n *Notifier[O]) deliver(e *entry[O], fn func(O)) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	defer func() {
		if r := recover(); r != nil && n.Logger != nil {
			n.Logger.Error("observer panicked", "panic", r)
		}
	}()
	fn(e.o)
}

func (n *Notifier[O]) remove(e *entry[O]) {
	n.mu.Lock()
	n.subs = slices.DeleteFunc(n.subs, func(s *entry[O]) bool { return s == e })
	n.mu.Unlock()

	// Waits out a delivery in progress on another goroutine.
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// Subscription is the scoped registration token returned by Subscribe.
type Subscription struct {
	once  sync.Once
	close func()
}

// Close unregisters the observer. Once Close returns no further notification
// reaches it. Close must not be called from inside the observer's own
// callback. Safe to call more than once and on a nil subscription.
func (s *Subscription) Close() {
	if s == nil || s.close == nil {
		return
	}
	s.once.Do(s.close)
}
