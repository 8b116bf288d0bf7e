// Package emergency decides which caller ID an outbound bridge presents
// and whether an emergency call may proceed at all. The resolver is pure
// decision logic over injected collaborators; it never mutates the
// request's endpoints, only returns rewritten copies.
package emergency

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sebas/callbridge/internal/bridge/accounts"
	"github.com/sebas/callbridge/internal/bridge/call"
	"github.com/sebas/callbridge/internal/bridge/notify"
)

// Defaults for the deny response when the configuration leaves them
// unset.
const (
	DefaultDenyCode  = 486
	DefaultDenyCause = "Emergency service not configured"
	DefaultDenyMedia = "prompt://system_media/emergency-not-configured"
)

// Config is the policy surface, supplied read-only by the daemon
// configuration.
type Config struct {
	// EnsureValidCID gates validation of the emergency number against
	// the account's enabled set. Off means the unverified emergency
	// number is used directly.
	EnsureValidCID bool
	// DenyInvalidCID denies the bridge outright when no valid emergency
	// number can be resolved; off selects the fallback number instead.
	DenyInvalidCID bool
	// DefaultCIDNumber is the system-wide fallback emergency number.
	DefaultCIDNumber string

	DenyCode  int
	DenyCause string
	DenyMedia string
}

// TestCallFunc reports whether the attempt targets a known emergency
// test number. The matching semantics live with the resource catalog;
// the resolver only forwards the verdict in notifications.
type TestCallFunc func(endpoints []call.Endpoint, destination string) bool

// Decision is the resolver's output: either a caller ID to proceed with
// (plus possibly rewritten endpoints) or a denial.
type Decision struct {
	Denied    bool
	DenyCode  int
	DenyCause string
	DenyMedia string

	Number string
	Name   string

	// Endpoints to dial. Identical to the request's unless emergency
	// processing had to rewrite caller-ID or privacy fields.
	Endpoints []call.Endpoint

	AssertedName   string
	AssertedNumber string
	AssertedRealm  string
}

// Resolver applies the emergency caller-ID policy.
type Resolver struct {
	cfg        Config
	accounts   accounts.Provider
	notifier   notify.Notifier
	isTestCall TestCallFunc
	log        *slog.Logger
}

// NewResolver wires the policy. A nil testCall predicate means no call
// is ever considered a test call.
func NewResolver(cfg Config, provider accounts.Provider, notifier notify.Notifier, testCall TestCallFunc, log *slog.Logger) *Resolver {
	if cfg.DenyCode == 0 {
		cfg.DenyCode = DefaultDenyCode
	}
	if cfg.DenyCause == "" {
		cfg.DenyCause = DefaultDenyCause
	}
	if cfg.DenyMedia == "" {
		cfg.DenyMedia = DefaultDenyMedia
	}
	if testCall == nil {
		testCall = func([]call.Endpoint, string) bool { return false }
	}
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		cfg:        cfg,
		accounts:   provider,
		notifier:   notifier,
		isTestCall: testCall,
		log:        log,
	}
}

// Resolve evaluates the policy for one bridge request.
func (r *Resolver) Resolve(ctx context.Context, req *call.BridgeRequest) Decision {
	d := Decision{
		Endpoints:      req.Endpoints,
		AssertedName:   req.AssertedIdentityName,
		AssertedNumber: req.AssertedIdentityNumber,
		AssertedRealm:  req.AssertedIdentityRealm,
	}

	if !hasEmergencyResource(req.Endpoints) {
		d.Number = firstNonEmpty(req.CallerIDNumber, req.EmergencyCallerIDNumber)
		d.Name = firstNonEmpty(req.CallerIDName, req.EmergencyCallerIDName)
		return d
	}

	d.Name = firstNonEmpty(req.EmergencyCallerIDName, req.CallerIDName)

	substituted := false
	switch {
	case req.HuntAccountID != "":
		// Routed through a trusted local account; validation is skipped.
		d.Number = firstNonEmpty(req.EmergencyCallerIDNumber, req.CallerIDNumber)

	case !r.cfg.EnsureValidCID:
		d.Number = firstNonEmpty(req.EmergencyCallerIDNumber, req.CallerIDNumber)

	default:
		enabled := r.enabledNumbers(ctx, req.AccountID)
		switch {
		case inSet(enabled, req.EmergencyCallerIDNumber):
			d.Number = req.EmergencyCallerIDNumber
		case inSet(enabled, req.CallerIDNumber):
			d.Number = req.CallerIDNumber
		case r.cfg.DenyInvalidCID:
			return r.deny(ctx, req, d)
		default:
			d.Number = r.fallbackNumber(ctx, req)
			substituted = true
			d.Endpoints = rewriteCallerID(d.Endpoints, d.Number, d.Name)
			r.log.Info("emergency bridge without configured caller id, using fallback",
				"call_id", req.CallID,
				"account_id", req.AccountID,
				"number", d.Number,
			)
			r.notifier.UnconfiguredEmergency(ctx, r.notification(req, d))
		}
	}

	// Emergency calls must never be anonymized.
	d.Endpoints = clearPrivacy(d.Endpoints)

	if substituted && req.AssertedIdentityNumber == "" {
		// Never forge an asserted identity from a substituted number.
		d.AssertedName = ""
		d.AssertedNumber = ""
		d.AssertedRealm = ""
	}
	return d
}

func (r *Resolver) deny(ctx context.Context, req *call.BridgeRequest, d Decision) Decision {
	d.Denied = true
	d.DenyCode = r.cfg.DenyCode
	d.DenyCause = r.cfg.DenyCause
	d.DenyMedia = r.cfg.DenyMedia
	r.log.Warn("emergency bridge denied: no valid emergency caller id",
		"call_id", req.CallID,
		"account_id", req.AccountID,
	)
	r.notifier.DeniedEmergency(ctx, r.notification(req, d))
	return d
}

// enabledNumbers fetches the account's emergency-enabled set. A lookup
// failure fails closed: the empty set sends resolution to the deny or
// fallback branch.
func (r *Resolver) enabledNumbers(ctx context.Context, accountID string) map[string]struct{} {
	set, err := r.accounts.EmergencyNumbers(ctx, accountID)
	if err != nil {
		r.log.Error("emergency number lookup failed",
			"account_id", accountID,
			"error", err,
		)
		return nil
	}
	return set
}

// fallbackNumber picks the best available number when none is enabled:
// the account's configured default, the system default, then the
// account's anonymous caller ID. The account document read is
// best-effort enrichment.
func (r *Resolver) fallbackNumber(ctx context.Context, req *call.BridgeRequest) string {
	doc, err := r.accounts.Account(ctx, req.AccountID)
	if err != nil && !errors.Is(err, accounts.ErrNotFound) {
		r.log.Error("account lookup failed",
			"account_id", req.AccountID,
			"error", err,
		)
	}
	if doc != nil {
		return firstNonEmpty(doc.DefaultEmergencyNumber, r.cfg.DefaultCIDNumber, doc.AnonymousCIDNumber)
	}
	return r.cfg.DefaultCIDNumber
}

func (r *Resolver) notification(req *call.BridgeRequest, d Decision) notify.Notification {
	return notify.Notification{
		AccountID:          req.AccountID,
		CallID:             req.CallID,
		OutboundCIDNumber:  req.CallerIDNumber,
		EmergencyCIDNumber: req.EmergencyCallerIDNumber,
		ChosenNumber:       d.Number,
		ChosenName:         d.Name,
		TestCall:           r.isTestCall(req.Endpoints, req.ToDID()),
	}
}

func hasEmergencyResource(endpoints []call.Endpoint) bool {
	for _, ep := range endpoints {
		if ep.EmergencyResource {
			return true
		}
	}
	return false
}

// rewriteCallerID returns endpoints whose caller-ID overrides match the
// chosen identity. Endpoints that already match are passed through
// untouched to avoid payload churn.
func rewriteCallerID(endpoints []call.Endpoint, number, name string) []call.Endpoint {
	out := make([]call.Endpoint, len(endpoints))
	for i, ep := range endpoints {
		if ep.CallerIDNumber == number && ep.CallerIDName == name {
			out[i] = ep
			continue
		}
		c := ep.Clone()
		c.CallerIDNumber = number
		c.CallerIDName = name
		out[i] = c
	}
	return out
}

// clearPrivacy strips anonymization from every endpoint, cloning only
// those that carry any.
func clearPrivacy(endpoints []call.Endpoint) []call.Endpoint {
	out := make([]call.Endpoint, len(endpoints))
	for i, ep := range endpoints {
		if ep.PrivacyMethod == "" && !ep.PrivacyHideName && !ep.PrivacyHideNumber {
			out[i] = ep
			continue
		}
		c := ep.Clone()
		c.PrivacyMethod = ""
		c.PrivacyHideName = false
		c.PrivacyHideNumber = false
		out[i] = c
	}
	return out
}

func inSet(set map[string]struct{}, number string) bool {
	if number == "" {
		return false
	}
	_, ok := set[number]
	return ok
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
