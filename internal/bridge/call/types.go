// Package call defines the wire types shared by the bridge daemon:
// inbound bridge requests, channel lifecycle events, and terminal results.
package call

import (
	"encoding/json"
	"errors"
	"time"
)

// DefaultTimeout bounds a bridge attempt when the request does not carry
// its own budget.
const DefaultTimeout = 120 * time.Second

// ErrNoControlQueue is returned when a request arrives without a control
// queue. There is nothing to send the dial command to, so the attempt
// cannot even start.
var ErrNoControlQueue = errors.New("bridge request has no control queue")

// BridgeRequest asks the daemon to connect an existing call to one or
// more external endpoints. It is created once per attempt and owned by a
// single orchestrator; only the endpoint list may be replaced during
// emergency processing, and then only via copies.
type BridgeRequest struct {
	MsgID     string `json:"msg_id"`
	CallID    string `json:"call_id"`
	AccountID string `json:"account_id"`

	Endpoints []Endpoint `json:"endpoints"`

	CallerIDName   string `json:"caller_id_name,omitempty"`
	CallerIDNumber string `json:"caller_id_number,omitempty"`

	EmergencyCallerIDName   string `json:"emergency_caller_id_name,omitempty"`
	EmergencyCallerIDNumber string `json:"emergency_caller_id_number,omitempty"`

	AssertedIdentityName   string `json:"asserted_identity_name,omitempty"`
	AssertedIdentityNumber string `json:"asserted_identity_number,omitempty"`
	AssertedIdentityRealm  string `json:"asserted_identity_realm,omitempty"`

	// CCVs are passed through to the dial command after the daemon's own
	// variables are merged in.
	CCVs map[string]string `json:"custom_channel_vars,omitempty"`

	IgnoreEarlyMedia   bool     `json:"ignore_early_media,omitempty"`
	FailOnSingleReject string   `json:"fail_on_single_reject,omitempty"`
	HuntAccountID      string   `json:"hunt_account_id,omitempty"`
	OutboundFlags      []string `json:"outbound_flags,omitempty"`

	Media         string   `json:"media,omitempty"`
	HoldMedia     string   `json:"hold_media,omitempty"`
	Ringback      string   `json:"ringback,omitempty"`
	PresenceID    string   `json:"presence_id,omitempty"`
	BridgeActions []string `json:"bridge_actions,omitempty"`

	CustomSIPHeaders map[string]string `json:"custom_sip_headers,omitempty"`

	// ResponseQueue is where the terminal result goes. Empty means fire
	// and forget: the attempt runs but nothing is published at the end.
	ResponseQueue string `json:"response_queue,omitempty"`
	// ControlQueue is the call's control channel, required.
	ControlQueue string `json:"control_queue"`

	TimeoutSec int `json:"timeout,omitempty"`
}

// Validate checks the fields the orchestrator cannot run without.
func (r *BridgeRequest) Validate() error {
	if r.ControlQueue == "" {
		return ErrNoControlQueue
	}
	return nil
}

// Timeout returns the watchdog budget for this attempt.
func (r *BridgeRequest) Timeout() time.Duration {
	if r.TimeoutSec > 0 {
		return time.Duration(r.TimeoutSec) * time.Second
	}
	return DefaultTimeout
}

// ToDID returns the dialed number of the first endpoint, used to annotate
// failure results.
func (r *BridgeRequest) ToDID() string {
	if len(r.Endpoints) == 0 {
		return ""
	}
	return r.Endpoints[0].ToDID
}

// Endpoint describes one target device or trunk for the bridge attempt,
// including its own caller-ID overrides.
type Endpoint struct {
	InviteFormat string `json:"invite_format,omitempty"`
	ToUser       string `json:"to_user,omitempty"`
	ToRealm      string `json:"to_realm,omitempty"`
	ToDID        string `json:"to_did,omitempty"`
	Route        string `json:"route,omitempty"`

	CallerIDName   string `json:"caller_id_name,omitempty"`
	CallerIDNumber string `json:"caller_id_number,omitempty"`

	OutboundCallID string `json:"outbound_call_id,omitempty"`

	PrivacyMethod     string `json:"privacy_method,omitempty"`
	PrivacyHideName   bool   `json:"privacy_hide_name,omitempty"`
	PrivacyHideNumber bool   `json:"privacy_hide_number,omitempty"`

	// EmergencyResource marks an endpoint that terminates to emergency
	// dispatch. Its presence switches the attempt onto the emergency
	// caller-ID policy.
	EmergencyResource bool `json:"emergency_resource,omitempty"`

	CCVs map[string]string `json:"custom_channel_vars,omitempty"`
}

// Clone returns a deep copy. Policy rewrites always operate on copies so
// the request's endpoints stay untouched.
func (e Endpoint) Clone() Endpoint {
	out := e
	if e.CCVs != nil {
		out.CCVs = make(map[string]string, len(e.CCVs))
		for k, v := range e.CCVs {
			out.CCVs[k] = v
		}
	}
	return out
}

// EventKind identifies a channel lifecycle event.
type EventKind string

const (
	EventTransferor      EventKind = "CHANNEL_TRANSFEROR"
	EventReplaced        EventKind = "CHANNEL_REPLACED"
	EventBridged         EventKind = "CHANNEL_BRIDGE"
	EventDestroyed       EventKind = "CHANNEL_DESTROY"
	EventExecuteComplete EventKind = "CHANNEL_EXECUTE_COMPLETE"
	EventExecutionError  EventKind = "CHANNEL_EXECUTE_ERROR"
)

// SubscribedKinds is the event filter an orchestrator installs for each
// call identifier it tracks.
var SubscribedKinds = []EventKind{
	EventDestroyed,
	EventReplaced,
	EventTransferor,
	EventExecuteComplete,
	EventBridged,
	EventExecutionError,
}

// ChannelEvent is one lifecycle event for a call leg, decoded from the
// bus. Raw preserves the payload as received so terminal results can
// carry the untouched resource response.
type ChannelEvent struct {
	Kind   EventKind `json:"event_name"`
	CallID string    `json:"call_id"`

	// OtherLegCallID carries the transferee on CHANNEL_TRANSFEROR and
	// the replacement leg on CHANNEL_REPLACED.
	OtherLegCallID string `json:"other_leg_call_id,omitempty"`

	Application         string `json:"application_name,omitempty"`
	ApplicationResponse string `json:"application_response,omitempty"`
	ErrorMessage        string `json:"error_message,omitempty"`

	Disposition string `json:"disposition,omitempty"`
	HangupCause string `json:"hangup_cause,omitempty"`
	HangupCode  string `json:"hangup_code,omitempty"`

	Timestamp time.Time `json:"timestamp,omitzero"`

	Raw json.RawMessage `json:"-"`
}

// DecodeChannelEvent parses a bus payload, keeping the raw bytes.
func DecodeChannelEvent(payload []byte) (*ChannelEvent, error) {
	var ev ChannelEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, err
	}
	ev.Raw = append(json.RawMessage(nil), payload...)
	return &ev, nil
}

// LinkedCallID returns the identifier the attempt should follow after a
// transfer or replace, or "" for other kinds.
func (e *ChannelEvent) LinkedCallID() string {
	switch e.Kind {
	case EventTransferor, EventReplaced:
		return e.OtherLegCallID
	}
	return ""
}

// DispositionSuccess is the disposition value that marks a completed
// bridge on a terminal event.
const DispositionSuccess = "SUCCESS"

// IsSuccessful reports whether a terminal event ended the attempt well.
func (e *ChannelEvent) IsSuccessful() bool {
	return e.Disposition == DispositionSuccess
}
