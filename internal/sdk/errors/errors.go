// Package errors provides structured error types for QuickBooks API
// operations. The CLI layer wraps these with user-facing hints.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error is a structured error for API operations. Vendor fields are
// populated only when the response body parses as Intuit's fault
// envelope; otherwise they stay empty and ResponseBody carries the raw
// payload.
type Error struct {
	Code       string // Error code (e.g., "api_error", "auth_required")
	Message    string // Error message
	HTTPStatus int    // HTTP status code, possibly synthetic (503/408)
	RequestURL string // URL of the failed request, if known
	Retryable  bool   // Whether the operation can be retried
	Cause      error  // Underlying error

	// Fields extracted from the Intuit fault envelope.
	ResponseBody string // Raw response body, verbatim
	FaultCode    string // e.g., "6240"
	FaultType    string // e.g., "ValidationFault"
	FaultDetail  string // Human-readable detail for the first fault
}

func (e *Error) Error() string {
	msg := e.Message
	if e.FaultDetail != "" {
		msg += ": " + e.FaultDetail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Error codes.
const (
	CodeUsage     = "usage"
	CodeAuth      = "auth_required"
	CodeNotFound  = "not_found"
	CodeNetwork   = "network"
	CodeTimeout   = "timeout"
	CodeAPI       = "api_error"
	CodeInternal  = "internal"
	CodeRateLimit = "rate_limit"
)

// Exit codes.
const (
	ExitOK        = 0 // Success
	ExitUsage     = 1 // Invalid arguments or flags
	ExitNotFound  = 2 // Resource not found
	ExitAuth      = 3 // Not authenticated or auth rejected
	ExitRateLimit = 4 // Rate limited (429)
	ExitNetwork   = 5 // Connection/DNS error
	ExitTimeout   = 6 // Request deadline exceeded
	ExitAPI       = 7 // Server returned an error
	ExitInternal  = 8 // Unexpected internal failure
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeNotFound:
		return ExitNotFound
	case CodeAuth:
		return ExitAuth
	case CodeRateLimit:
		return ExitRateLimit
	case CodeNetwork:
		return ExitNetwork
	case CodeTimeout:
		return ExitTimeout
	case CodeInternal:
		return ExitInternal
	default:
		return ExitAPI
	}
}

// faultEnvelope mirrors the error response shape of the QuickBooks API:
//
//	{"Fault": {"Error": [{"Message": ..., "Detail": ..., "code": ...}], "type": ...}}
type faultEnvelope struct {
	Fault *struct {
		Error []struct {
			Message string `json:"Message"`
			Detail  string `json:"Detail"`
			Code    string `json:"code"`
		} `json:"Error"`
		Type string `json:"type"`
	} `json:"Fault"`
}

// faultFields holds the vendor detail extracted from a fault envelope.
type faultFields struct {
	Message string
	Detail  string
	Code    string
	Type    string
}

// parseFault attempts to extract vendor fault detail from a response
// body. It never fails: malformed JSON, a missing Fault, or an empty
// Error array all report ok=false and the caller keeps the raw body.
// When the envelope lists several errors only the first is surfaced.
func parseFault(body string) (faultFields, bool) {
	var envelope faultEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return faultFields{}, false
	}
	if envelope.Fault == nil || len(envelope.Fault.Error) == 0 {
		return faultFields{}, false
	}

	first := envelope.Fault.Error[0]
	return faultFields{
		Message: first.Message,
		Detail:  first.Detail,
		Code:    first.Code,
		Type:    envelope.Fault.Type,
	}, true
}

// FromResponse classifies a non-success HTTP response into a structured
// Error. The status and request URL are always preserved; vendor fields
// are filled in only when the body parses as a fault envelope.
func FromResponse(status int, requestURL, body string) *Error {
	e := &Error{
		Code:         codeForStatus(status),
		Message:      fmt.Sprintf("QuickBooks API request failed with status %d", status),
		HTTPStatus:   status,
		RequestURL:   requestURL,
		ResponseBody: body,
		Retryable:    status == http.StatusTooManyRequests || status >= 500,
	}

	if fields, ok := parseFault(body); ok {
		e.FaultCode = fields.Code
		e.FaultType = fields.Type
		e.FaultDetail = fields.Detail
		if fields.Message != "" {
			e.Message = fields.Message
		}
	}

	return e
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return CodeAuth
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusTooManyRequests:
		return CodeRateLimit
	default:
		return CodeAPI
	}
}

// Error constructors.

// ErrUsage creates a usage error.
func ErrUsage(msg string) *Error {
	return &Error{Code: CodeUsage, Message: msg}
}

// ErrCredentialsNotFound reports a realm with no stored credentials.
// This is fatal for the call; the caller must re-authorize.
func ErrCredentialsNotFound(realmID string) *Error {
	return &Error{
		Code:       CodeAuth,
		Message:    "no credentials found for realm " + realmID,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// ErrNetwork wraps a transport-level failure with a synthetic 503.
func ErrNetwork(requestURL string, cause error) *Error {
	return &Error{
		Code:       CodeNetwork,
		Message:    "HTTP request failed",
		HTTPStatus: http.StatusServiceUnavailable,
		RequestURL: requestURL,
		Retryable:  true,
		Cause:      cause,
	}
}

// ErrTimeout wraps a deadline or cancellation failure with a synthetic 408.
func ErrTimeout(requestURL string, cause error) *Error {
	return &Error{
		Code:       CodeTimeout,
		Message:    "request timed out",
		HTTPStatus: http.StatusRequestTimeout,
		RequestURL: requestURL,
		Retryable:  true,
		Cause:      cause,
	}
}

// ErrInternal wraps any other internal fault.
func ErrInternal(msg string, cause error) *Error {
	return &Error{
		Code:       CodeInternal,
		Message:    msg,
		HTTPStatus: http.StatusInternalServerError,
		Cause:      cause,
	}
}
