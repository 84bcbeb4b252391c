// Package apierror renders the error envelope shared by both sides of the
// bridge. Codes are the HTTP status prefixed with the participant digit
// (3 for data providers, 4 for data consumers); gateway-relayed codes pass
// through unprefixed.
package apierror

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrp/abdm-bridge/internal/platform/gateway"
)

// HTTP statuses with protocol-specific meaning.
const (
	StatusGatewayUnavailable = http.StatusServiceUnavailable
	StatusGatewayError       = 554
	StatusCallbackTimeout    = 555
)

// Participant code prefixes.
const (
	PrefixHIP = "3"
	PrefixHIU = "4"
)

var standardMessages = map[int]string{
	http.StatusBadRequest:          "Required attributes not provided or request information is not as expected",
	http.StatusUnauthorized:        "Unauthorized request",
	http.StatusNotFound:            "Resource not found",
	http.StatusMethodNotAllowed:    "Method not allowed",
	http.StatusInternalServerError: "Unknown error occurred",
	StatusGatewayUnavailable:       "ABDM Gateway Service down",
	StatusCallbackTimeout:          "Gateway callback response timeout",
}

// Detail is one field-level validation failure.
type Detail struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
	Attr   string `json:"attr,omitempty"`
}

// ErrorInfo is the code/message pair of the envelope.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Body is the full error envelope.
type Body struct {
	Error   ErrorInfo `json:"error"`
	Details []Detail  `json:"errorDetails,omitempty"`
}

// Responder formats errors for one participant role. IncludeDetails controls
// whether field-level details are exposed; gateway-facing responders keep it
// off.
type Responder struct {
	Prefix         string
	IncludeDetails bool
}

// NewResponder creates a Responder with the given code prefix.
func NewResponder(prefix string, includeDetails bool) Responder {
	return Responder{Prefix: prefix, IncludeDetails: includeDetails}
}

// Code prefixes an HTTP status with the participant digit: 400 under the
// provider prefix becomes 3400.
func (r Responder) Code(status int) int {
	code, err := strconv.Atoi(r.Prefix + strconv.Itoa(status))
	if err != nil {
		return status
	}
	return code
}

// Standard builds the envelope for a plain HTTP status.
func (r Responder) Standard(status int) *Body {
	msg, ok := standardMessages[status]
	if !ok {
		msg = http.StatusText(status)
	}
	return &Body{Error: ErrorInfo{Code: r.Code(status), Message: msg}}
}

// Custom builds an envelope with an explicit protocol code and message.
func (r Responder) Custom(code int, message string, details ...Detail) *Body {
	b := &Body{Error: ErrorInfo{Code: code, Message: message}}
	if r.IncludeDetails {
		b.Details = details
	}
	return b
}

// FromError maps an error to the HTTP status and envelope to send. Gateway
// error codes are relayed verbatim; transport failures and callback timeouts
// get their reserved statuses; anything unrecognized is a 500.
func (r Responder) FromError(err error) (int, *Body) {
	var unavailable *gateway.ServiceUnavailableError
	if errors.As(err, &unavailable) {
		return StatusGatewayUnavailable, r.Standard(StatusGatewayUnavailable)
	}

	var timeout *gateway.CallbackTimeoutError
	if errors.As(err, &timeout) {
		return StatusCallbackTimeout, r.Standard(StatusCallbackTimeout)
	}

	var gwErr *gateway.GatewayError
	if errors.As(err, &gwErr) {
		return StatusGatewayError, &Body{Error: ErrorInfo{Code: gwErr.Code, Message: gwErr.Message}}
	}

	var tokenErr *gateway.AccessTokenError
	if errors.As(err, &tokenErr) {
		return StatusGatewayUnavailable, r.Standard(StatusGatewayUnavailable)
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		body := r.Standard(httpErr.Code)
		if msg, ok := httpErr.Message.(string); ok && msg != "" {
			body.Error.Message = msg
		}
		return httpErr.Code, body
	}

	return http.StatusInternalServerError, r.Standard(http.StatusInternalServerError)
}

// JSON writes the envelope for err on the response.
func (r Responder) JSON(c echo.Context, err error) error {
	status, body := r.FromError(err)
	return c.JSON(status, body)
}

// BadRequest writes a 400 envelope with validation details.
func (r Responder) BadRequest(c echo.Context, message string, details ...Detail) error {
	body := r.Standard(http.StatusBadRequest)
	if message != "" {
		body.Error.Message = message
	}
	if r.IncludeDetails {
		body.Details = details
	}
	return c.JSON(http.StatusBadRequest, body)
}
