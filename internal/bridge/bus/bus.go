// Package bus abstracts the message transport the bridge daemon rides
// on. Implementations may be in-memory (tests, single-node loopback) or
// NATS for production.
package bus

import (
	"context"
)

// Message is one delivery from the bus.
type Message struct {
	Subject string
	Payload []byte
}

// Publisher sends payloads to a subject. Publishing is fire-and-forget:
// an error means the transport refused the send, never that a consumer
// failed.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

// Consumer delivers messages for an exact subject. The returned cancel
// function drops the subscription; the channel is closed afterwards.
type Consumer interface {
	Subscribe(subject string) (<-chan Message, func(), error)
}

// Bus combines both halves with a lifecycle.
type Bus interface {
	Publisher
	Consumer
	Close() error
}

// Noop discards all publishes. Used when a response queue is not wired.
type Noop struct{}

func (Noop) Publish(ctx context.Context, subject string, payload []byte) error { return nil }

// Subject names used by the daemon itself. Response and control queues
// arrive as opaque subjects inside each request.
const (
	SubjectBridgeRequests = "callbridge.req.bridge"
	subjectEventPrefix    = "callbridge.evt."
)

// EventSubject returns the subject channel events for a call are
// published on.
func EventSubject(callID string) string {
	return subjectEventPrefix + callID
}
