package nats

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Aaronyf/beam/service/events"
)

// Relay forwards actor events to a Publisher. OnEvent never blocks the
// actor goroutine: events are buffered and published by Run; when the
// buffer is full the event is dropped.
type Relay struct {
	pub    Publisher
	wallet string
	logger *slog.Logger
	ch     chan events.Envelope
	stop   chan struct{}
	once   sync.Once
	now    func() time.Time
}

// NewRelay creates a relay publishing on behalf of wallet.
func NewRelay(pub Publisher, wallet string, buffer int, logger *slog.Logger) *Relay {
	if buffer <= 0 {
		buffer = 256
	}
	return &Relay{
		pub:    pub,
		wallet: wallet,
		logger: logger,
		ch:     make(chan events.Envelope, buffer),
		stop:   make(chan struct{}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// OnEvent implements events.Observer.
func (r *Relay) OnEvent(ev events.Event) {
	env, err := events.Wrap(ev, r.now())
	if err != nil {
		r.logger.Error("failed to wrap event for relay", "kind", ev.Kind(), "error", err)
		return
	}

	select {
	case <-r.stop:
		return
	default:
	}

	select {
	case r.ch <- env:
	default:
		r.logger.Warn("relay buffer full, dropping event", "kind", ev.Kind())
	}
}

// Run publishes buffered events until ctx is done or Close is called.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case env := <-r.ch:
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := r.pub.PublishEvent(pubCtx, FromEnvelope(r.wallet, env)); err != nil {
				r.logger.Error("failed to relay event",
					"kind", env.Kind,
					"error", err,
				)
			}
			cancel()
		}
	}
}

// Close stops Run and closes the publisher. Events still buffered are
// discarded.
func (r *Relay) Close() {
	r.once.Do(func() {
		close(r.stop)
		if err := r.pub.Close(); err != nil {
			r.logger.Warn("failed to close relay publisher", "error", err)
		}
	})
}
