// Package orchestrator runs one bridge attempt end to end: it publishes
// the dial command, follows the call's lifecycle events across leg
// changes, and guarantees exactly one terminal result within the
// watchdog budget.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sebas/callbridge/internal/bridge/accounts"
	"github.com/sebas/callbridge/internal/bridge/bus"
	"github.com/sebas/callbridge/internal/bridge/call"
	"github.com/sebas/callbridge/internal/bridge/command"
	"github.com/sebas/callbridge/internal/bridge/emergency"
)

// State names the orchestrator's lifecycle phase.
type State string

const (
	StateInitializing     State = "initializing"
	StateAwaitingDispatch State = "awaiting_dispatch"
	StateAwaitingOutcome  State = "awaiting_outcome"
	StateTerminated       State = "terminated"
)

// Deps are the collaborators one attempt needs. Each orchestrator owns
// its request exclusively; Deps are shared and must be safe for
// concurrent use.
type Deps struct {
	Bus      bus.Bus
	Resolver *emergency.Resolver
	Builder  *command.Builder
	Accounts accounts.Provider
	Log      *slog.Logger

	// Watchdog overrides the request's timeout budget; used by tests.
	Watchdog time.Duration
}

// Orchestrator is the per-attempt state machine. All fields are owned by
// the Run goroutine; events are handled strictly serially.
type Orchestrator struct {
	req  *call.BridgeRequest
	deps Deps
	log  *slog.Logger

	state           State
	bridgeConfirmed bool
	terminal        bool

	// trackedCallID follows the live leg; transfer and replace events
	// rebind it. Events keyed to any other identifier are ignored.
	trackedCallID string

	events     chan *call.ChannelEvent
	subCancels []func()

	watchdog  *time.Timer
	watchdogC <-chan time.Time

	responder *Responder

	done     chan struct{}
	doneOnce sync.Once
}

// New validates the request and builds the orchestrator. A request with
// no control queue is rejected here: there is nothing to control, so no
// result is ever published for it.
func New(req *call.BridgeRequest, deps Deps) (*Orchestrator, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("call_id", req.CallID)
	return &Orchestrator{
		req:       req,
		deps:      deps,
		log:       log,
		state:     StateInitializing,
		events:    make(chan *call.ChannelEvent, 32),
		responder: NewResponder(deps.Bus, log),
		done:      make(chan struct{}),
	}, nil
}

// State returns the current phase. Only meaningful from the Run
// goroutine or after Run returns.
func (o *Orchestrator) State() State { return o.state }

// Done is closed when the attempt has finished.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Run drives the attempt to its single terminal result. It returns when
// the result has been handled or ctx is canceled (daemon shutdown, which
// terminates silently).
func (o *Orchestrator) Run(ctx context.Context) {
	defer o.teardown()

	budget := o.deps.Watchdog
	if budget <= 0 {
		budget = o.req.Timeout()
	}
	o.watchdog = time.NewTimer(budget)
	o.watchdogC = o.watchdog.C

	if err := o.subscribe(o.req.CallID); err != nil {
		o.log.Error("event subscription failed", "error", err)
		o.finish(ctx, call.ErrorResult(o.req, "failed to subscribe to call events"))
		return
	}
	o.trackedCallID = o.req.CallID
	o.state = StateAwaitingDispatch

	if !o.dispatch(ctx) {
		return
	}
	o.state = StateAwaitingOutcome

	for {
		select {
		case ev := <-o.events:
			o.handleEvent(ctx, ev)
		case <-o.watchdogC:
			o.handleWatchdog(ctx)
		case <-ctx.Done():
			o.log.Debug("orchestrator stopped before terminal event")
			o.terminal = true
			o.state = StateTerminated
			return
		}
		if o.terminal {
			return
		}
	}
}

// subscribe registers for the call's events and forwards them into the
// serial event channel.
func (o *Orchestrator) subscribe(callID string) error {
	ch, cancel, err := o.deps.Bus.Subscribe(bus.EventSubject(callID))
	if err != nil {
		return err
	}
	o.subCancels = append(o.subCancels, cancel)

	go func() {
		for msg := range ch {
			ev, err := call.DecodeChannelEvent(msg.Payload)
			if err != nil {
				o.log.Warn("undecodable channel event dropped", "error", err)
				continue
			}
			select {
			case o.events <- ev:
			case <-o.done:
				return
			}
		}
	}()
	return nil
}

// resubscribe extends the subscription set to a new call identifier and
// rebinds tracking to it. Subscribing happens before the rebind so no
// event for the new identifier can slip through unobserved; the old
// subscription stays open and its events are dropped by the tracked-ID
// filter.
func (o *Orchestrator) resubscribe(newCallID string) {
	if err := o.subscribe(newCallID); err != nil {
		o.log.Error("resubscribe failed, keeping current leg",
			"new_call_id", newCallID,
			"error", err,
		)
		return
	}
	o.log.Info("call leg changed", "old_call_id", o.trackedCallID, "new_call_id", newCallID)
	o.trackedCallID = newCallID
}

// dispatch resolves emergency policy, builds the dial command, and
// publishes it on the control queue. Returns false when the attempt
// already terminated (denial or publish failure).
func (o *Orchestrator) dispatch(ctx context.Context) bool {
	d := o.deps.Resolver.Resolve(ctx, o.req)
	if d.Denied {
		// The direct call response and the asynchronous result are
		// independent outputs of the denial branch.
		o.responder.SendDenyResponse(ctx, o.req, d)
		o.finish(ctx, call.DeniedResult(o.req))
		return false
	}

	var acct *accounts.Document
	if o.req.AccountID != "" && o.deps.Accounts != nil {
		var err error
		acct, err = o.deps.Accounts.Account(ctx, o.req.AccountID)
		if err != nil {
			// Best-effort enrichment; the command is built without it.
			o.log.Debug("account document unavailable", "error", err)
			acct = nil
		}
	}

	cmd := o.deps.Builder.Build(o.req, d, acct)
	payload, err := json.Marshal(cmd)
	if err != nil {
		o.log.Error("encode dial command", "error", err)
		o.finish(ctx, call.ErrorResult(o.req, ""))
		return false
	}
	if err := o.deps.Bus.Publish(ctx, o.req.ControlQueue, payload); err != nil {
		o.log.Error("publish dial command", "error", err)
		o.finish(ctx, call.ErrorResult(o.req, "failed to publish bridge command"))
		return false
	}
	o.log.Info("bridge command dispatched",
		"endpoints", len(cmd.Endpoints),
		"caller_id_number", cmd.CallerIDNumber,
	)
	return true
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev *call.ChannelEvent) {
	if o.terminal {
		return
	}
	if ev.CallID != o.trackedCallID {
		o.log.Debug("event for untracked leg ignored",
			"event", string(ev.Kind),
			"event_call_id", ev.CallID,
		)
		return
	}

	switch ev.Kind {
	case call.EventBridged:
		// Connected: the dial timeout no longer applies. Duplicate
		// bridge events make this a no-op.
		o.stopWatchdog()
		o.bridgeConfirmed = true
		o.log.Info("call bridged")

	case call.EventTransferor, call.EventReplaced:
		if linked := ev.LinkedCallID(); linked != "" && linked != o.trackedCallID {
			o.resubscribe(linked)
		}

	case call.EventDestroyed:
		o.finishFromTerminal(ctx, ev)

	case call.EventExecuteComplete:
		if ev.Application == "bridge" {
			o.finishFromTerminal(ctx, ev)
		}

	case call.EventExecutionError:
		if ev.Application == "" || ev.Application == "bridge" {
			o.log.Warn("bridge execution error", "detail", ev.ErrorMessage)
			o.finish(ctx, call.ErrorResult(o.req, ev.ErrorMessage))
		}
	}
}

func (o *Orchestrator) finishFromTerminal(ctx context.Context, ev *call.ChannelEvent) {
	if ev.IsSuccessful() {
		o.finish(ctx, call.SuccessResult(o.req, ev))
		return
	}
	o.finish(ctx, call.FailureResult(o.req, ev))
}

func (o *Orchestrator) handleWatchdog(ctx context.Context) {
	if o.terminal {
		return
	}
	o.log.Warn("bridge request timed out", "state", string(o.state))
	o.finish(ctx, call.TimeoutResult(o.req))
}

// finish publishes the terminal result at most once. A request without a
// response queue terminates silently.
func (o *Orchestrator) finish(ctx context.Context, result *call.BridgeResult) {
	if o.terminal {
		return
	}
	o.terminal = true
	o.state = StateTerminated
	o.stopWatchdog()

	if o.req.ResponseQueue == "" {
		o.log.Debug("no response queue, terminating silently", "status", string(result.Status))
		return
	}
	o.responder.PublishResult(ctx, o.req.ResponseQueue, result)
}

// stopWatchdog disarms the timer. Safe to call repeatedly and after the
// timer has fired: a fired-but-unhandled tick is discarded by nilling
// the channel.
func (o *Orchestrator) stopWatchdog() {
	if o.watchdog == nil {
		return
	}
	o.watchdog.Stop()
	o.watchdog = nil
	o.watchdogC = nil
}

func (o *Orchestrator) teardown() {
	o.doneOnce.Do(func() { close(o.done) })
	for _, cancel := range o.subCancels {
		cancel()
	}
}
