// Package gateway implements the outbound half of the exchange protocol:
// session tokens, authenticated JSON posts, request-id generation, and the
// callback envelope shared by every inbound notification.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Gateway API paths, relative to the configured base URL.
const (
	PathSessions = "/v0.5/sessions"

	// HIP side
	PathConsentHIPOnNotify     = "/v0.5/consents/hip/on-notify"
	PathLinkAddContexts        = "/v0.5/links/link/add-contexts"
	PathLinkOnInit             = "/v0.5/links/link/on-init"
	PathLinkOnConfirm          = "/v0.5/links/link/on-confirm"
	PathCareContextsOnDiscover = "/v0.5/care-contexts/on-discover"
	PathHealthInfoHIPOnRequest = "/v0.5/health-information/hip/on-request"

	// HIU side
	PathConsentRequestsInit = "/v0.5/consent-requests/init"
	PathConsentsFetch       = "/v0.5/consents/fetch"
	PathConsentHIUOnNotify  = "/v0.5/consents/hiu/on-notify"
	PathHealthInfoCMRequest = "/v0.5/health-information/cm/request"

	// Shared
	PathHealthInfoNotify = "/v0.5/health-information/notify"

	// User auth
	PathUsersAuthInit       = "/v0.5/users/auth/init"
	PathUsersAuthConfirm    = "/v0.5/users/auth/confirm"
	PathUsersAuthFetchModes = "/v0.5/users/auth/fetch-modes"
)

// TimestampLayout is the millisecond-precision UTC format the gateway expects.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Timestamp returns the current time formatted for gateway payloads.
func Timestamp() string {
	return time.Now().UTC().Format(TimestampLayout)
}

// RequestData carries the correlation fields every outbound request opens with.
// RequestID is the key later callbacks are matched on.
type RequestData struct {
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
}

// NewRequestData mints a fresh request id and timestamp.
func NewRequestData() RequestData {
	return RequestData{
		RequestID: uuid.New().String(),
		Timestamp: Timestamp(),
	}
}

// Config holds the immutable client settings resolved at startup.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	CMID         string
	Timeout      time.Duration
}

// Client talks to the exchange gateway. Safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// NewClient creates a gateway Client.
func NewClient(cfg Config, logger zerolog.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	cl := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
	for _, o := range opts {
		o(cl)
	}
	return cl
}

type sessionRequest struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type sessionResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
	TokenType   string `json:"tokenType"`
}

// AccessToken exchanges the client credentials for a bearer token.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	body, err := json.Marshal(sessionRequest{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
	})
	if err != nil {
		return "", fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+PathSessions, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ServiceUnavailableError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return "", &ServiceUnavailableError{Cause: fmt.Errorf("session endpoint returned %d", resp.StatusCode)}
		}
		return "", &AccessTokenError{Status: resp.StatusCode, Body: string(respBody)}
	}

	var session sessionResponse
	if err := json.Unmarshal(respBody, &session); err != nil {
		return "", &AccessTokenError{Status: resp.StatusCode, Body: string(respBody)}
	}
	if session.AccessToken == "" {
		return "", &AccessTokenError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return session.AccessToken, nil
}

// Post sends an authenticated JSON request to the gateway. The parsed body is
// returned only when the response declares a JSON content type; the gateway
// acknowledges most operations with an empty 202.
func (c *Client) Post(ctx context.Context, path string, payload interface{}) (map[string]interface{}, error) {
	token, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CM-ID", c.cfg.CMID)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ServiceUnavailableError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	c.logger.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("gateway post")

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if !isJSON(resp.Header.Get("Content-Type")) || len(respBody) == 0 {
			return map[string]interface{}{}, nil
		}
		var parsed map[string]interface{}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return map[string]interface{}{}, nil
		}
		return parsed, nil
	}

	if gwErr := parseGatewayError(respBody); gwErr != nil {
		return nil, gwErr
	}
	if resp.StatusCode >= 500 {
		return nil, &ServiceUnavailableError{Cause: fmt.Errorf("gateway returned %d", resp.StatusCode)}
	}
	return nil, &GatewayError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, "application/json")
}

func parseGatewayError(body []byte) *GatewayError {
	var wrapper struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil
	}
	if wrapper.Error.Code == 0 && wrapper.Error.Message == "" {
		return nil
	}
	return &GatewayError{Code: wrapper.Error.Code, Message: wrapper.Error.Message}
}
