// Package notify delivers operator notifications for emergency calling
// events. Notifications are informational side effects: failures are
// logged, never surfaced to the call.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sebas/callbridge/internal/bridge/bus"
)

// Subjects notifications are published on.
const (
	SubjectUnconfiguredEmergency = "callbridge.notify.emergency_bridge"
	SubjectDeniedEmergency       = "callbridge.notify.denied_emergency"
)

// Notification describes an emergency bridge that needs operator
// attention.
type Notification struct {
	NotifyID  string    `json:"notify_id"`
	AccountID string    `json:"account_id"`
	CallID    string    `json:"call_id"`
	Timestamp time.Time `json:"timestamp"`

	OutboundCIDNumber  string `json:"outbound_cid_number,omitempty"`
	EmergencyCIDNumber string `json:"emergency_cid_number,omitempty"`
	ChosenNumber       string `json:"chosen_number,omitempty"`
	ChosenName         string `json:"chosen_name,omitempty"`

	// TestCall marks attempts against a known emergency test number, so
	// operators can mute the alarm.
	TestCall bool `json:"test_call,omitempty"`
}

// Notifier sends emergency-calling notifications.
type Notifier interface {
	// UnconfiguredEmergency reports an emergency bridge proceeding on a
	// fallback caller ID.
	UnconfiguredEmergency(ctx context.Context, n Notification)
	// DeniedEmergency reports an emergency bridge rejected by policy.
	DeniedEmergency(ctx context.Context, n Notification)
}

// BusNotifier publishes notifications onto the message bus.
type BusNotifier struct {
	pub bus.Publisher
	log *slog.Logger
}

// NewBusNotifier creates a bus-backed notifier.
func NewBusNotifier(pub bus.Publisher, log *slog.Logger) *BusNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &BusNotifier{pub: pub, log: log}
}

func (b *BusNotifier) UnconfiguredEmergency(ctx context.Context, n Notification) {
	b.send(ctx, SubjectUnconfiguredEmergency, n)
}

func (b *BusNotifier) DeniedEmergency(ctx context.Context, n Notification) {
	b.send(ctx, SubjectDeniedEmergency, n)
}

func (b *BusNotifier) send(ctx context.Context, subject string, n Notification) {
	if n.NotifyID == "" {
		n.NotifyID = uuid.New().String()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(n)
	if err != nil {
		b.log.Error("encode notification", "subject", subject, "error", err)
		return
	}
	if err := b.pub.Publish(ctx, subject, payload); err != nil {
		b.log.Warn("publish notification failed",
			"subject", subject,
			"call_id", n.CallID,
			"error", fmt.Errorf("notify: %w", err),
		)
	}
}

// Capture records notifications for tests.
type Capture struct {
	mu           sync.Mutex
	Unconfigured []Notification
	Denied       []Notification
}

// NewCapture creates an empty capture notifier.
func NewCapture() *Capture { return &Capture{} }

func (c *Capture) UnconfiguredEmergency(ctx context.Context, n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Unconfigured = append(c.Unconfigured, n)
}

func (c *Capture) DeniedEmergency(ctx context.Context, n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Denied = append(c.Denied, n)
}

// UnconfiguredCount returns how many unconfigured-emergency
// notifications were sent.
func (c *Capture) UnconfiguredCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Unconfigured)
}

// DeniedCount returns how many denied-emergency notifications were sent.
func (c *Capture) DeniedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Denied)
}
