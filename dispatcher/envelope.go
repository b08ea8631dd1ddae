package dispatcher

import (
	"encoding/json"
	"time"

	apperrors "github.com/twoshard/enclave-signer/errors"
)

// Request is the logical request envelope carried by the transport. Body is
// decoded per endpoint; binary fields inside it are base64 within JSON.
type Request struct {
	Endpoint  string          `json:"endpoint"`
	Body      json.RawMessage `json:"body,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Response is the logical response envelope. Exactly one of Data or Error is
// set; RequestID always echoes the request for caller-side correlation.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	RequestID string     `json:"requestId,omitempty"`
	Timestamp string     `json:"timestamp"`
}

// ErrorBody is the structured failure surfaced to callers.
type ErrorBody struct {
	Code    apperrors.Code `json:"code"`
	Message string         `json:"message"`
}

// SuccessResponse builds a success envelope echoing the given request id.
func SuccessResponse(requestID string, data any) *Response {
	return &Response{
		Success:   true,
		Data:      data,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// ErrorResponse classifies err into the stable taxonomy and builds a failure
// envelope. Raw errors surface as INTERNAL_ERROR with a generic message.
func ErrorResponse(requestID string, err error) *Response {
	return &Response{
		Success: false,
		Error: &ErrorBody{
			Code:    apperrors.CodeOf(err),
			Message: apperrors.MessageOf(err),
		},
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
