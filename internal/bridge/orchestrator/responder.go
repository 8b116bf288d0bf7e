package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/sebas/callbridge/internal/bridge/bus"
	"github.com/sebas/callbridge/internal/bridge/call"
	"github.com/sebas/callbridge/internal/bridge/emergency"
)

// DenyResponse is the direct call-control instruction sent when
// emergency policy rejects a bridge: answer the caller with a rejection
// code and play the configured announcement.
type DenyResponse struct {
	ApplicationName string `json:"application_name"`
	MsgID           string `json:"msg_id"`
	CallID          string `json:"call_id"`
	ResponseCode    int    `json:"response_code"`
	ResponseMessage string `json:"response_message"`
	Media           string `json:"media,omitempty"`
}

// Responder serializes terminal results and direct call responses onto
// the bus. Sends are fire-and-forget; a transport error is logged and
// the attempt still counts as terminated.
type Responder struct {
	pub bus.Publisher
	log *slog.Logger
}

// NewResponder creates a Responder.
func NewResponder(pub bus.Publisher, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.Default()
	}
	return &Responder{pub: pub, log: log}
}

// PublishResult emits the single terminal result on the response queue.
func (r *Responder) PublishResult(ctx context.Context, queue string, result *call.BridgeResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		r.log.Error("encode bridge result", "error", err)
		return
	}
	if err := r.pub.Publish(ctx, queue, payload); err != nil {
		r.log.Error("publish bridge result",
			"queue", queue,
			"status", string(result.Status),
			"error", err,
		)
		return
	}
	r.log.Info("bridge result published",
		"status", string(result.Status),
		"response_code", result.ResponseCode,
		"response_message", result.ResponseMessage,
	)
}

// SendDenyResponse issues the direct rejection on the call's control
// queue.
func (r *Responder) SendDenyResponse(ctx context.Context, req *call.BridgeRequest, d emergency.Decision) {
	resp := DenyResponse{
		ApplicationName: "respond",
		MsgID:           uuid.New().String(),
		CallID:          req.CallID,
		ResponseCode:    d.DenyCode,
		ResponseMessage: d.DenyCause,
		Media:           d.DenyMedia,
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		r.log.Error("encode deny response", "error", err)
		return
	}
	if err := r.pub.Publish(ctx, req.ControlQueue, payload); err != nil {
		r.log.Error("publish deny response", "queue", req.ControlQueue, "error", err)
		return
	}
	r.log.Info("deny response sent", "code", resp.ResponseCode, "cause", resp.ResponseMessage)
}
