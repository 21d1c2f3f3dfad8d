package nats

import (
	"time"

	"github.com/Aaronyf/beam/service/events"
)

// EventMessage is a wallet event as published to JetStream on the subject
// "wallet.events.{kind}".
type EventMessage struct {
	events.Envelope

	// Wallet is the name of the publishing wallet daemon.
	Wallet string `json:"wallet"`

	PublishedAt time.Time `json:"published_at"`
}

// FromEnvelope converts an event envelope into a message for publishing.
func FromEnvelope(wallet string, env events.Envelope) *EventMessage {
	return &EventMessage{
		Envelope:    env,
		Wallet:      wallet,
		PublishedAt: time.Now().UTC(),
	}
}

// EventSubject returns the subject events of the given kind are published on.
func EventSubject(kind string) string {
	return EventSubjectPrefix + kind
}
