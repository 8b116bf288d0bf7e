// Package command assembles the dial command published on a call's
// control queue.
package command

import (
	"strings"

	"github.com/emiago/sipgo/sip"
	"github.com/sebas/callbridge/internal/bridge/accounts"
	"github.com/sebas/callbridge/internal/bridge/call"
	"github.com/sebas/callbridge/internal/bridge/emergency"
)

// CCV keys the builder injects or strips.
const (
	ccvAccountID     = "Account-ID"
	ccvAccountRealm  = "Account-Realm"
	ccvResellerID    = "Reseller-ID"
	ccvOutboundFlags = "Outbound-Flags"
	ccvFromURI       = "From-URI"
)

// legacyCCVs are accepted on requests for compatibility but never passed
// through to the switch.
var legacyCCVs = []string{"Channel-Is-Moving", "Simplify-Loopback"}

// DialCommand is the bridge instruction sent to the call's control
// queue.
type DialCommand struct {
	ApplicationName    string `json:"application_name"`
	DialEndpointMethod string `json:"dial_endpoint_method"`

	MsgID  string `json:"msg_id"`
	CallID string `json:"call_id"`

	CallerIDName   string `json:"caller_id_name,omitempty"`
	CallerIDNumber string `json:"caller_id_number,omitempty"`

	AssertedIdentityName   string `json:"asserted_identity_name,omitempty"`
	AssertedIdentityNumber string `json:"asserted_identity_number,omitempty"`
	AssertedIdentityRealm  string `json:"asserted_identity_realm,omitempty"`

	CCVs      map[string]string `json:"custom_channel_vars,omitempty"`
	Endpoints []call.Endpoint   `json:"endpoints"`

	IgnoreEarlyMedia   bool   `json:"ignore_early_media,omitempty"`
	FailOnSingleReject string `json:"fail_on_single_reject,omitempty"`
	Timeout            int    `json:"timeout"`

	Media         string   `json:"media,omitempty"`
	HoldMedia     string   `json:"hold_media,omitempty"`
	Ringback      string   `json:"ringback,omitempty"`
	PresenceID    string   `json:"presence_id,omitempty"`
	BridgeActions []string `json:"bridge_actions,omitempty"`

	CustomSIPHeaders map[string]string `json:"custom_sip_headers,omitempty"`
}

// Config gates optional builder behavior.
type Config struct {
	// FormatFromURI injects a From-URI CCV built from the resolved
	// number and the account realm when both are known.
	FormatFromURI bool
}

// Builder produces dial commands from a request and a resolved policy
// decision.
type Builder struct {
	cfg Config
}

// NewBuilder creates a Builder.
func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

// Build assembles the command. acct may be nil when the account document
// was unavailable; the account-derived CCVs are simply omitted.
func (b *Builder) Build(req *call.BridgeRequest, d emergency.Decision, acct *accounts.Document) *DialCommand {
	cmd := &DialCommand{
		ApplicationName:    "bridge",
		DialEndpointMethod: "single",
		MsgID:              req.MsgID,
		CallID:             req.CallID,
		CallerIDName:       d.Name,
		CallerIDNumber:     d.Number,

		AssertedIdentityName:   d.AssertedName,
		AssertedIdentityNumber: d.AssertedNumber,
		AssertedIdentityRealm:  d.AssertedRealm,

		CCVs:      b.channelVars(req, d, acct),
		Endpoints: d.Endpoints,

		IgnoreEarlyMedia:   req.IgnoreEarlyMedia,
		FailOnSingleReject: req.FailOnSingleReject,
		Timeout:            int(req.Timeout().Seconds()),

		Media:         req.Media,
		HoldMedia:     req.HoldMedia,
		Ringback:      req.Ringback,
		PresenceID:    req.PresenceID,
		BridgeActions: req.BridgeActions,

		CustomSIPHeaders: req.CustomSIPHeaders,
	}
	return cmd
}

// channelVars merges the request's CCVs with the daemon's injected
// variables, dropping the legacy passthrough flags.
func (b *Builder) channelVars(req *call.BridgeRequest, d emergency.Decision, acct *accounts.Document) map[string]string {
	ccvs := make(map[string]string, len(req.CCVs)+5)
	for k, v := range req.CCVs {
		ccvs[k] = v
	}
	for _, k := range legacyCCVs {
		delete(ccvs, k)
	}

	if req.AccountID != "" {
		ccvs[ccvAccountID] = req.AccountID
	}
	if len(req.OutboundFlags) > 0 {
		ccvs[ccvOutboundFlags] = strings.Join(req.OutboundFlags, ",")
	}

	realm := ""
	if acct != nil {
		realm = acct.Realm
		if acct.Realm != "" {
			ccvs[ccvAccountRealm] = acct.Realm
		}
		if acct.ResellerID != "" {
			ccvs[ccvResellerID] = acct.ResellerID
		}
	}

	if b.cfg.FormatFromURI && d.Number != "" && realm != "" {
		uri := sip.Uri{Scheme: "sip", User: d.Number, Host: realm}
		ccvs[ccvFromURI] = uri.String()
	}
	return ccvs
}
