package linking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hrp/abdm-bridge/internal/platform/gateway"
)

// Purposes a user authentication can be requested for.
const (
	AuthPurposeLink       = "LINK"
	AuthPurposeKYCAndLink = "KYC_AND_LINK"
)

// AuthModeDirect is offered by the gateway but not supported by the bridge;
// it is stripped from fetch-modes results and rejected on init.
const AuthModeDirect = "DIRECT"

// AuthFetchModesInput asks which authentication modes a patient supports.
type AuthFetchModesInput struct {
	PatientID string `json:"patient_id"`
	Purpose   string `json:"purpose"`
}

// AuthInitInput starts an authentication transaction in the chosen mode.
type AuthInitInput struct {
	PatientID string `json:"patient_id"`
	Purpose   string `json:"purpose"`
	AuthMode  string `json:"auth_mode"`
}

// AuthDemographic is the demographic credential for DEMOGRAPHICS mode.
type AuthDemographic struct {
	Name        string `json:"name"`
	Gender      string `json:"gender"`
	DateOfBirth string `json:"dateOfBirth"`
}

// AuthCredential carries either an OTP code or a demographic claim.
type AuthCredential struct {
	AuthCode    string           `json:"authCode,omitempty"`
	Demographic *AuthDemographic `json:"demographic,omitempty"`
}

// AuthConfirmInput completes an authentication transaction.
type AuthConfirmInput struct {
	TransactionID string         `json:"transaction_id"`
	Credential    AuthCredential `json:"credential"`
}

// AuthInitResult is the gateway's answer to an auth init.
type AuthInitResult struct {
	TransactionID string          `json:"transaction_id"`
	Mode          string          `json:"mode"`
	Meta          json.RawMessage `json:"meta,omitempty"`
}

// AuthConfirmResult carries the access token a confirmed authentication
// yields. The token authorizes provider-initiated care-context linking.
type AuthConfirmResult struct {
	AccessToken string          `json:"access_token"`
	Validity    json.RawMessage `json:"validity,omitempty"`
}

type authOnFetchModesCallback struct {
	gateway.Envelope
	Auth *struct {
		Purpose string   `json:"purpose"`
		Modes   []string `json:"modes"`
	} `json:"auth"`
}

type authOnInitCallback struct {
	gateway.Envelope
	Auth *struct {
		TransactionID string          `json:"transactionId"`
		Mode          string          `json:"mode"`
		Meta          json.RawMessage `json:"meta"`
	} `json:"auth"`
}

type authOnConfirmCallback struct {
	gateway.Envelope
	Auth *struct {
		AccessToken string          `json:"accessToken"`
		Validity    json.RawMessage `json:"validity"`
	} `json:"auth"`
}

func validAuthPurpose(p string) bool {
	return p == AuthPurposeLink || p == AuthPurposeKYCAndLink
}

// FetchAuthModes asks the gateway which authentication modes the patient
// supports for the given purpose. DIRECT is stripped from the result.
func (s *Service) FetchAuthModes(ctx context.Context, in AuthFetchModesInput) ([]string, error) {
	if in.PatientID == "" {
		return nil, &ValidationError{Message: "patient_id is required"}
	}
	if !validAuthPurpose(in.Purpose) {
		return nil, &ValidationError{Message: "invalid purpose: " + in.Purpose}
	}

	rd := gateway.NewRequestData()
	payload := map[string]interface{}{
		"requestId": rd.RequestID,
		"timestamp": rd.Timestamp,
		"query": map[string]interface{}{
			"id":      in.PatientID,
			"purpose": in.Purpose,
			"requester": map[string]string{
				"type": "HIP",
				"id":   s.cfg.HIPID,
			},
		},
	}
	err := s.runner.Run(ctx, "users/auth/fetch-modes", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathUsersAuthFetchModes, payload)
		return err
	})
	if err != nil {
		return nil, err
	}

	var cb authOnFetchModesCallback
	if err := s.awaitAuthCallback(ctx, rd.RequestID, &cb); err != nil {
		return nil, err
	}
	if err := cb.Err(); err != nil {
		return nil, err
	}
	if cb.Auth == nil {
		return nil, errors.New("on-fetch-modes callback missing auth body")
	}

	modes := make([]string, 0, len(cb.Auth.Modes))
	for _, m := range cb.Auth.Modes {
		if m != AuthModeDirect {
			modes = append(modes, m)
		}
	}
	return modes, nil
}

// InitAuth starts an authentication transaction for the patient in the
// chosen mode and returns the transaction to confirm against.
func (s *Service) InitAuth(ctx context.Context, in AuthInitInput) (*AuthInitResult, error) {
	if in.PatientID == "" {
		return nil, &ValidationError{Message: "patient_id is required"}
	}
	if !validAuthPurpose(in.Purpose) {
		return nil, &ValidationError{Message: "invalid purpose: " + in.Purpose}
	}
	if in.AuthMode == "" {
		return nil, &ValidationError{Message: "auth_mode is required"}
	}
	if in.AuthMode == AuthModeDirect {
		return nil, &ValidationError{Message: "auth mode DIRECT is not supported"}
	}

	rd := gateway.NewRequestData()
	payload := map[string]interface{}{
		"requestId": rd.RequestID,
		"timestamp": rd.Timestamp,
		"query": map[string]interface{}{
			"id":       in.PatientID,
			"purpose":  in.Purpose,
			"authMode": in.AuthMode,
			"requester": map[string]string{
				"type": "HIP",
				"id":   s.cfg.HIPID,
			},
		},
	}
	err := s.runner.Run(ctx, "users/auth/init", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathUsersAuthInit, payload)
		return err
	})
	if err != nil {
		return nil, err
	}

	var cb authOnInitCallback
	if err := s.awaitAuthCallback(ctx, rd.RequestID, &cb); err != nil {
		return nil, err
	}
	if err := cb.Err(); err != nil {
		return nil, err
	}
	if cb.Auth == nil || cb.Auth.TransactionID == "" {
		return nil, errors.New("on-init callback missing transaction id")
	}
	return &AuthInitResult{
		TransactionID: cb.Auth.TransactionID,
		Mode:          cb.Auth.Mode,
		Meta:          cb.Auth.Meta,
	}, nil
}

// ConfirmAuth completes an authentication transaction with the patient's
// credential and returns the access token for care-context linking.
func (s *Service) ConfirmAuth(ctx context.Context, in AuthConfirmInput) (*AuthConfirmResult, error) {
	if in.TransactionID == "" {
		return nil, &ValidationError{Message: "transaction_id is required"}
	}
	if in.Credential.AuthCode == "" && in.Credential.Demographic == nil {
		return nil, &ValidationError{Message: "credential requires an authCode or a demographic claim"}
	}

	rd := gateway.NewRequestData()
	payload := map[string]interface{}{
		"requestId":     rd.RequestID,
		"timestamp":     rd.Timestamp,
		"transactionId": in.TransactionID,
		"credential":    in.Credential,
	}
	err := s.runner.Run(ctx, "users/auth/confirm", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathUsersAuthConfirm, payload)
		return err
	})
	if err != nil {
		return nil, err
	}

	var cb authOnConfirmCallback
	if err := s.awaitAuthCallback(ctx, rd.RequestID, &cb); err != nil {
		return nil, err
	}
	if err := cb.Err(); err != nil {
		return nil, err
	}
	if cb.Auth == nil || cb.Auth.AccessToken == "" {
		return nil, errors.New("on-confirm callback missing access token")
	}
	return &AuthConfirmResult{
		AccessToken: cb.Auth.AccessToken,
		Validity:    cb.Auth.Validity,
	}, nil
}

// awaitAuthCallback polls for an auth callback without consuming it, so a
// retried host call inside the TTL window sees the same answer.
func (s *Service) awaitAuthCallback(ctx context.Context, requestID string, out interface{}) error {
	data, ok := s.corr.AwaitPeek(ctx, requestID, s.cfg.PollAttempts, s.cfg.PollInterval)
	if !ok {
		return &gateway.CallbackTimeoutError{RequestID: requestID}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse auth callback: %w", err)
	}
	return nil
}
