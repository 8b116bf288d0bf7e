package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Memory is an in-process bus backed by buffered channels. It backs the
// tests and the daemon's loopback mode. Delivery is best-effort: a full
// subscriber buffer drops the message with a warning rather than
// blocking the publisher.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	closed bool

	bufSize   int
	dropCount atomic.Int64
}

type memorySub struct {
	subject string
	ch      chan Message
}

// NewMemory creates an in-memory bus. bufferSize <= 0 selects a default
// of 64 messages per subscription.
func NewMemory(bufferSize int) *Memory {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Memory{
		subs:    make(map[string][]*memorySub),
		bufSize: bufferSize,
	}
}

// Publish delivers to every subscription on the exact subject.
func (m *Memory) Publish(ctx context.Context, subject string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil
	}
	for _, sub := range m.subs[subject] {
		select {
		case sub.ch <- Message{Subject: subject, Payload: payload}:
		default:
			m.dropCount.Add(1)
			slog.Warn("memory bus: subscriber buffer full, message dropped",
				"subject", subject,
			)
		}
	}
	return nil
}

// Subscribe registers a new subscription for the exact subject.
func (m *Memory) Subscribe(subject string) (<-chan Message, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &memorySub{subject: subject, ch: make(chan Message, m.bufSize)}
	m.subs[subject] = append(m.subs[subject], sub)

	cancel := func() { m.unsubscribe(sub) }
	return sub.ch, cancel, nil
}

func (m *Memory) unsubscribe(sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.subs[sub.subject]
	for i, s := range list {
		if s == sub {
			m.subs[sub.subject] = append(list[:i], list[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Close drops all subscriptions and closes their channels.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, list := range m.subs {
		for _, sub := range list {
			close(sub.ch)
		}
	}
	m.subs = make(map[string][]*memorySub)
	return nil
}

// DroppedCount returns the number of messages dropped on full buffers.
func (m *Memory) DroppedCount() int64 {
	return m.dropCount.Load()
}
