package call

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Result status values. Exactly one BridgeResult is ever produced per
// BridgeRequest.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusFailure ResultStatus = "failure"
	StatusTimeout ResultStatus = "timeout"
	StatusDenied  ResultStatus = "denied"
)

// Stock response values shared by the failure paths.
const (
	ResponseSuccess          = "SUCCESS"
	ResponseTemporaryFailure = "NORMAL_TEMPORARY_FAILURE"
	ResponseMissingIE        = "MANDATORY_IE_MISSING"

	CodeOK              = "sip:200"
	CodeServerError     = "sip:500"
	CodeForbidden       = "sip:403"
	DefaultErrorMessage = "failed to process request"
)

// BridgeResult is the single terminal answer for a bridge attempt.
type BridgeResult struct {
	Status ResultStatus `json:"status"`

	MsgID  string `json:"msg_id"`
	CallID string `json:"call_id"`

	ResponseMessage string `json:"response_message"`
	ResponseCode    string `json:"response_code"`
	ErrorMessage    string `json:"error_message,omitempty"`

	// ResourceResponse is the raw terminal event, present on success and
	// call-leg failure only.
	ResourceResponse json.RawMessage `json:"resource_response,omitempty"`

	ToDID string `json:"to_did,omitempty"`
}

// SuccessResult builds the result for a terminal event with a SUCCESS
// disposition.
func SuccessResult(req *BridgeRequest, ev *ChannelEvent) *BridgeResult {
	return &BridgeResult{
		Status:           StatusSuccess,
		MsgID:            resultMsgID(req),
		CallID:           req.CallID,
		ResponseMessage:  ResponseSuccess,
		ResponseCode:     CodeOK,
		ResourceResponse: ev.Raw,
	}
}

// FailureResult builds the result for a terminal event with any other
// disposition. The message prefers the application response and falls
// back to the hangup cause.
func FailureResult(req *BridgeRequest, ev *ChannelEvent) *BridgeResult {
	msg := ev.ApplicationResponse
	if msg == "" {
		msg = ev.HangupCause
	}
	code := ev.HangupCode
	if code == "" {
		code = CauseToSIPCode(ev.HangupCause)
	}
	return &BridgeResult{
		Status:           StatusFailure,
		MsgID:            resultMsgID(req),
		CallID:           req.CallID,
		ResponseMessage:  msg,
		ResponseCode:     code,
		ResourceResponse: ev.Raw,
		ToDID:            req.ToDID(),
	}
}

// ErrorResult builds the result for a dialplan execution error.
func ErrorResult(req *BridgeRequest, detail string) *BridgeResult {
	if detail == "" {
		detail = DefaultErrorMessage
	}
	return &BridgeResult{
		Status:          StatusFailure,
		MsgID:           resultMsgID(req),
		CallID:          req.CallID,
		ResponseMessage: ResponseTemporaryFailure,
		ResponseCode:    CodeServerError,
		ErrorMessage:    detail,
		ToDID:           req.ToDID(),
	}
}

// TimeoutResult builds the result for a watchdog expiry.
func TimeoutResult(req *BridgeRequest) *BridgeResult {
	return &BridgeResult{
		Status:          StatusTimeout,
		MsgID:           resultMsgID(req),
		CallID:          req.CallID,
		ResponseMessage: ResponseTemporaryFailure,
		ResponseCode:    CodeServerError,
		ErrorMessage:    "bridge request timed out",
		ToDID:           req.ToDID(),
	}
}

// DeniedResult builds the result for an emergency policy denial.
func DeniedResult(req *BridgeRequest) *BridgeResult {
	return &BridgeResult{
		Status:          StatusDenied,
		MsgID:           resultMsgID(req),
		CallID:          req.CallID,
		ResponseMessage: ResponseMissingIE,
		ResponseCode:    CodeForbidden,
		ErrorMessage:    "emergency caller id is not configured",
		ToDID:           req.ToDID(),
	}
}

func resultMsgID(req *BridgeRequest) string {
	if req.MsgID != "" {
		return req.MsgID
	}
	return uuid.New().String()
}
