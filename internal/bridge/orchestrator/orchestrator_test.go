package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sebas/callbridge/internal/bridge/accounts"
	"github.com/sebas/callbridge/internal/bridge/bus"
	"github.com/sebas/callbridge/internal/bridge/call"
	"github.com/sebas/callbridge/internal/bridge/command"
	"github.com/sebas/callbridge/internal/bridge/emergency"
	"github.com/sebas/callbridge/internal/bridge/notify"
)

const (
	waitShort = 150 * time.Millisecond
	waitLong  = 2 * time.Second
)

type harness struct {
	t       *testing.T
	bus     *bus.Memory
	orch    *Orchestrator
	notes   *notify.Capture
	results <-chan bus.Message
	control <-chan bus.Message
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequest() *call.BridgeRequest {
	return &call.BridgeRequest{
		MsgID:         "m1",
		CallID:        "call-a",
		AccountID:     "acct-1",
		ControlQueue:  "ctrl.call-a",
		ResponseQueue: "resp.m1",
		Endpoints:     []call.Endpoint{{ToUser: "4125551212", ToDID: "+14125551212"}},
	}
}

// newHarness wires an orchestrator over the in-memory bus with the given
// emergency policy and starts it. It returns once the dial command has
// been published (or immediately for denial paths).
func newHarness(t *testing.T, req *call.BridgeRequest, cfg emergency.Config, provider *accounts.Memory, watchdog time.Duration) *harness {
	t.Helper()

	mem := bus.NewMemory(0)
	t.Cleanup(func() { mem.Close() })

	if provider == nil {
		provider = accounts.NewMemory()
	}
	notes := notify.NewCapture()
	deps := Deps{
		Bus:      mem,
		Resolver: emergency.NewResolver(cfg, provider, notes, nil, quietLogger()),
		Builder:  command.NewBuilder(command.Config{}),
		Accounts: provider,
		Log:      quietLogger(),
		Watchdog: watchdog,
	}

	var results <-chan bus.Message
	if req.ResponseQueue != "" {
		ch, cancel, err := mem.Subscribe(req.ResponseQueue)
		if err != nil {
			t.Fatalf("subscribe results: %v", err)
		}
		t.Cleanup(cancel)
		results = ch
	}
	control, cancelCtrl, err := mem.Subscribe(req.ControlQueue)
	if err != nil {
		t.Fatalf("subscribe control: %v", err)
	}
	t.Cleanup(cancelCtrl)

	orch, err := New(req, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go orch.Run(ctx)

	return &harness{t: t, bus: mem, orch: orch, notes: notes, results: results, control: control}
}

func (h *harness) sendEvent(callID string, ev map[string]any) {
	h.t.Helper()
	if _, ok := ev["call_id"]; !ok {
		ev["call_id"] = callID
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.t.Fatalf("marshal event: %v", err)
	}
	if err := h.bus.Publish(context.Background(), bus.EventSubject(callID), payload); err != nil {
		h.t.Fatalf("publish event: %v", err)
	}
}

func (h *harness) waitControl() map[string]any {
	h.t.Helper()
	select {
	case msg := <-h.control:
		var m map[string]any
		if err := json.Unmarshal(msg.Payload, &m); err != nil {
			h.t.Fatalf("decode control message: %v", err)
		}
		return m
	case <-time.After(waitLong):
		h.t.Fatal("no control message within deadline")
		return nil
	}
}

func (h *harness) waitResult() *call.BridgeResult {
	h.t.Helper()
	select {
	case msg := <-h.results:
		var res call.BridgeResult
		if err := json.Unmarshal(msg.Payload, &res); err != nil {
			h.t.Fatalf("decode result: %v", err)
		}
		return &res
	case <-time.After(waitLong):
		h.t.Fatal("no result within deadline")
		return nil
	}
}

func (h *harness) expectNoResult(wait time.Duration) {
	h.t.Helper()
	if h.results == nil {
		time.Sleep(wait)
		return
	}
	select {
	case msg := <-h.results:
		h.t.Fatalf("unexpected result published: %s", msg.Payload)
	case <-time.After(wait):
	}
}

func (h *harness) waitDone() {
	h.t.Helper()
	select {
	case <-h.orch.Done():
	case <-time.After(waitLong):
		h.t.Fatal("orchestrator did not terminate")
	}
}

func TestMissingControlQueueRejectedAtConstruction(t *testing.T) {
	req := testRequest()
	req.ControlQueue = ""
	_, err := New(req, Deps{Bus: bus.NewMemory(0)})
	if !errors.Is(err, call.ErrNoControlQueue) {
		t.Errorf("New() error = %v, want ErrNoControlQueue", err)
	}
}

func TestSuccessPublishesExactlyOneResult(t *testing.T) {
	h := newHarness(t, testRequest(), emergency.Config{}, nil, time.Minute)

	cmd := h.waitControl()
	if cmd["application_name"] != "bridge" {
		t.Errorf("control message = %v, want bridge command", cmd["application_name"])
	}

	h.sendEvent("call-a", map[string]any{
		"event_name":  string(call.EventDestroyed),
		"disposition": "SUCCESS",
	})

	res := h.waitResult()
	if res.Status != call.StatusSuccess || res.ResponseCode != "sip:200" || res.ResponseMessage != "SUCCESS" {
		t.Errorf("result = %+v", res)
	}
	if len(res.ResourceResponse) == 0 {
		t.Error("success result must carry the raw terminal event")
	}

	// A duplicate terminal event after termination must be suppressed.
	h.sendEvent("call-a", map[string]any{
		"event_name":  string(call.EventDestroyed),
		"disposition": "SUCCESS",
	})
	h.expectNoResult(waitShort)
	h.waitDone()
}

func TestExecuteCompleteBridgeFailureMapping(t *testing.T) {
	h := newHarness(t, testRequest(), emergency.Config{}, nil, time.Minute)
	h.waitControl()

	h.sendEvent("call-a", map[string]any{
		"event_name":           string(call.EventExecuteComplete),
		"application_name":     "bridge",
		"disposition":          "FAILED",
		"application_response": "DESTINATION_OUT_OF_ORDER",
		"hangup_cause":         "NORMAL_TEMPORARY_FAILURE",
		"hangup_code":          "sip:503",
	})

	res := h.waitResult()
	if res.Status != call.StatusFailure {
		t.Fatalf("status = %s, want failure", res.Status)
	}
	if res.ResponseCode != "sip:503" {
		t.Errorf("ResponseCode = %q, want sip:503", res.ResponseCode)
	}
	if res.ResponseMessage != "DESTINATION_OUT_OF_ORDER" {
		t.Errorf("ResponseMessage = %q, want application response", res.ResponseMessage)
	}
	if res.ToDID != "+14125551212" {
		t.Errorf("ToDID = %q", res.ToDID)
	}
}

func TestExecuteCompleteOtherApplicationIgnored(t *testing.T) {
	h := newHarness(t, testRequest(), emergency.Config{}, nil, time.Minute)
	h.waitControl()

	h.sendEvent("call-a", map[string]any{
		"event_name":       string(call.EventExecuteComplete),
		"application_name": "play",
		"disposition":      "SUCCESS",
	})
	h.expectNoResult(waitShort)

	h.sendEvent("call-a", map[string]any{
		"event_name":  string(call.EventDestroyed),
		"disposition": "SUCCESS",
	})
	if res := h.waitResult(); res.Status != call.StatusSuccess {
		t.Errorf("status = %s", res.Status)
	}
}

func TestExecutionErrorProducesTemporaryFailure(t *testing.T) {
	h := newHarness(t, testRequest(), emergency.Config{}, nil, time.Minute)
	h.waitControl()

	h.sendEvent("call-a", map[string]any{
		"event_name":       string(call.EventExecutionError),
		"application_name": "bridge",
	})

	res := h.waitResult()
	if res.Status != call.StatusFailure {
		t.Fatalf("status = %s", res.Status)
	}
	if res.ResponseCode != "sip:500" || res.ResponseMessage != "NORMAL_TEMPORARY_FAILURE" {
		t.Errorf("result = %+v", res)
	}
	if res.ErrorMessage != "failed to process request" {
		t.Errorf("ErrorMessage = %q, want default detail", res.ErrorMessage)
	}
}

func TestWatchdogTimeout(t *testing.T) {
	h := newHarness(t, testRequest(), emergency.Config{}, nil, 50*time.Millisecond)
	h.waitControl()

	res := h.waitResult()
	if res.Status != call.StatusTimeout {
		t.Fatalf("status = %s, want timeout", res.Status)
	}
	if res.ResponseCode != "sip:500" || res.ResponseMessage != "NORMAL_TEMPORARY_FAILURE" {
		t.Errorf("result = %+v", res)
	}
	if res.ErrorMessage != "bridge request timed out" {
		t.Errorf("ErrorMessage = %q", res.ErrorMessage)
	}
	h.waitDone()
}

func TestBridgedCancelsWatchdog(t *testing.T) {
	h := newHarness(t, testRequest(), emergency.Config{}, nil, 50*time.Millisecond)
	h.waitControl()

	h.sendEvent("call-a", map[string]any{"event_name": string(call.EventBridged)})
	// Duplicate bridge events must be harmless.
	h.sendEvent("call-a", map[string]any{"event_name": string(call.EventBridged)})

	// Well past the watchdog budget: no timeout may fire once bridged.
	h.expectNoResult(200 * time.Millisecond)

	h.sendEvent("call-a", map[string]any{
		"event_name":  string(call.EventDestroyed),
		"disposition": "SUCCESS",
	})
	if res := h.waitResult(); res.Status != call.StatusSuccess {
		t.Errorf("status = %s, want success after bridge", res.Status)
	}
}

func TestTransferRebindsTracking(t *testing.T) {
	h := newHarness(t, testRequest(), emergency.Config{}, nil, time.Minute)
	h.waitControl()

	h.sendEvent("call-a", map[string]any{
		"event_name":        string(call.EventTransferor),
		"other_leg_call_id": "call-b",
	})
	// Give the serial loop time to install the new subscription.
	time.Sleep(waitShort)

	// The superseded leg's terminal event must be ignored.
	h.sendEvent("call-a", map[string]any{
		"event_name":   string(call.EventDestroyed),
		"disposition":  "FAILED",
		"hangup_cause": "ORIGINATOR_CANCEL",
	})
	h.expectNoResult(waitShort)

	// The new leg's terminal event decides the attempt.
	h.sendEvent("call-b", map[string]any{
		"event_name":  string(call.EventDestroyed),
		"disposition": "SUCCESS",
	})
	if res := h.waitResult(); res.Status != call.StatusSuccess {
		t.Errorf("status = %s, want success from the replacement leg", res.Status)
	}
}

func TestReplacedRebindsTracking(t *testing.T) {
	h := newHarness(t, testRequest(), emergency.Config{}, nil, time.Minute)
	h.waitControl()

	h.sendEvent("call-a", map[string]any{
		"event_name":        string(call.EventReplaced),
		"other_leg_call_id": "call-c",
	})
	time.Sleep(waitShort)

	h.sendEvent("call-c", map[string]any{
		"event_name":       string(call.EventExecuteComplete),
		"application_name": "bridge",
		"disposition":      "SUCCESS",
	})
	if res := h.waitResult(); res.Status != call.StatusSuccess {
		t.Errorf("status = %s", res.Status)
	}
}

func TestNoResponseQueueTerminatesSilently(t *testing.T) {
	req := testRequest()
	req.ResponseQueue = ""
	h := newHarness(t, req, emergency.Config{}, nil, time.Minute)
	h.waitControl()

	h.sendEvent("call-a", map[string]any{
		"event_name":  string(call.EventDestroyed),
		"disposition": "SUCCESS",
	})

	h.waitDone()
	if got := h.orch.State(); got != StateTerminated {
		t.Errorf("state = %s, want terminated", got)
	}
}

func TestEmergencyDenialSendsBothOutputs(t *testing.T) {
	req := testRequest()
	req.EmergencyCallerIDNumber = "+15551230001"
	req.Endpoints = []call.Endpoint{{ToUser: "911", ToDID: "911", EmergencyResource: true}}

	provider := accounts.NewMemory()
	provider.PutEmergencyNumbers("acct-1") // nothing enabled

	cfg := emergency.Config{EnsureValidCID: true, DenyInvalidCID: true}
	h := newHarness(t, req, cfg, provider, time.Minute)

	// Direct call-control response on the control queue.
	deny := h.waitControl()
	if deny["application_name"] != "respond" {
		t.Fatalf("control message = %v, want respond", deny["application_name"])
	}
	if code, ok := deny["response_code"].(float64); !ok || int(code) != emergency.DefaultDenyCode {
		t.Errorf("response_code = %v, want %d", deny["response_code"], emergency.DefaultDenyCode)
	}

	// Asynchronous terminal result on the response queue.
	res := h.waitResult()
	if res.Status != call.StatusDenied {
		t.Fatalf("status = %s, want denied", res.Status)
	}
	if res.ResponseCode != "sip:403" || res.ResponseMessage != "MANDATORY_IE_MISSING" {
		t.Errorf("result = %+v", res)
	}
	if h.notes.DeniedCount() != 1 {
		t.Errorf("denied notifications = %d, want 1", h.notes.DeniedCount())
	}
	h.waitDone()
}

func TestEventsForUntrackedLegIgnored(t *testing.T) {
	h := newHarness(t, testRequest(), emergency.Config{}, nil, time.Minute)
	h.waitControl()

	// An event whose call_id does not match the subscription's leg.
	h.sendEvent("call-a", map[string]any{
		"event_name":  string(call.EventDestroyed),
		"call_id":     "someone-else",
		"disposition": "SUCCESS",
	})
	h.expectNoResult(waitShort)

	h.sendEvent("call-a", map[string]any{
		"event_name":  string(call.EventDestroyed),
		"disposition": "SUCCESS",
	})
	if res := h.waitResult(); res.Status != call.StatusSuccess {
		t.Errorf("status = %s", res.Status)
	}
}
