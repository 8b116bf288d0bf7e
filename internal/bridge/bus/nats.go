package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the production bus adapter.
type NATSConfig struct {
	// NATS server URL(s), comma-separated.
	URL string
	// Name identifies this daemon on the server's connection list.
	Name string

	ConnectTimeout time.Duration
	MaxReconnects  int
	ReconnectWait  time.Duration

	// SubscribeBuffer sizes each subscription's delivery channel.
	SubscribeBuffer int
}

// DefaultNATSConfig returns defaults suitable for call signaling: fast
// reconnects, never give up.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:             nats.DefaultURL,
		Name:            "callbridge",
		ConnectTimeout:  5 * time.Second,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		SubscribeBuffer: 256,
	}
}

// NATS is the Bus implementation backed by a core NATS connection.
type NATS struct {
	conn *nats.Conn
	cfg  NATSConfig

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

// NewNATS connects to the configured server.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.SubscribeBuffer <= 0 {
		cfg.SubscribeBuffer = 256
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
	}
	slog.Info("connected to nats", "url", conn.ConnectedUrl())
	return &NATS{conn: conn, cfg: cfg}, nil
}

// Publish sends the payload. Core NATS publishes are buffered in the
// client, so this does not wait on the server.
func (n *NATS) Publish(ctx context.Context, subject string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers messages for the subject on a buffered channel.
func (n *NATS) Subscribe(subject string) (<-chan Message, func(), error) {
	out := make(chan Message, n.cfg.SubscribeBuffer)
	inbox := make(chan *nats.Msg, n.cfg.SubscribeBuffer)

	sub, err := n.conn.ChanSubscribe(subject, inbox)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}

	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-inbox:
				if !ok {
					return
				}
				select {
				case out <- Message{Subject: msg.Subject, Payload: msg.Data}:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := sub.Unsubscribe(); err != nil {
				slog.Debug("nats unsubscribe", "subject", subject, "error", err)
			}
			close(done)
		})
	}
	return out, cancel, nil
}

// Close drains the connection so in-flight messages are flushed before
// the sockets go away.
func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
