package gateway

import (
	"errors"
	"fmt"
)

// ServiceUnavailableError marks transport-level failures reaching the gateway.
// It is the only error class background workers retry.
type ServiceUnavailableError struct {
	Cause error
}

func (e *ServiceUnavailableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("gateway unreachable: %v", e.Cause)
	}
	return "gateway unreachable"
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Cause }

// GatewayError carries the error code and message the gateway returned,
// verbatim. The code is surfaced to API callers without re-prefixing.
type GatewayError struct {
	Code    int
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %d: %s", e.Code, e.Message)
}

// AccessTokenError indicates a session could not be established with the
// configured credentials.
type AccessTokenError struct {
	Status int
	Body   string
}

func (e *AccessTokenError) Error() string {
	return fmt.Sprintf("session token request failed with status %d", e.Status)
}

// CallbackTimeoutError indicates no callback arrived for a request id within
// the polling window.
type CallbackTimeoutError struct {
	RequestID string
}

func (e *CallbackTimeoutError) Error() string {
	return fmt.Sprintf("no callback received for request %s", e.RequestID)
}

// IsRetryable reports whether the error is a transient gateway outage worth
// retrying.
func IsRetryable(err error) bool {
	var unavailable *ServiceUnavailableError
	return errors.As(err, &unavailable)
}

// CallbackError is the error block of a callback envelope.
type CallbackError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CallbackResp echoes the request id a callback responds to.
type CallbackResp struct {
	RequestID string `json:"requestId"`
}

// Envelope is the common shell of every inbound gateway callback. Callback
// payload types embed it and add their own fields.
type Envelope struct {
	RequestID string         `json:"requestId"`
	Timestamp string         `json:"timestamp"`
	Error     *CallbackError `json:"error,omitempty"`
	Resp      *CallbackResp  `json:"resp,omitempty"`
}

// Err converts the envelope's error block to a GatewayError, or nil.
func (e *Envelope) Err() error {
	if e.Error == nil {
		return nil
	}
	return &GatewayError{Code: e.Error.Code, Message: e.Error.Message}
}
