package linking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hrp/abdm-bridge/internal/platform/correlator"
	"github.com/hrp/abdm-bridge/internal/platform/gateway"
	"github.com/hrp/abdm-bridge/internal/platform/hrp"
	"github.com/hrp/abdm-bridge/internal/platform/worker"
)

// Wire error codes for link outcomes posted back to the gateway.
const (
	codePatientNotFound = 3407
	codeValidation      = 3417
	codeAlreadyLinked   = 3420
	codeMultipleMatches = 3426
	codeInvalidOTP      = 3427
	codeInternal        = 3500
)

// GatewayClient is the slice of the gateway client this package needs.
type GatewayClient interface {
	Post(ctx context.Context, path string, payload interface{}) (map[string]interface{}, error)
}

// ValidationError reports a link operation that failed a business check.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ServiceConfig carries the identity and polling settings the flows need.
type ServiceConfig struct {
	HIPID        string
	PollAttempts int
	PollInterval time.Duration
}

// Service implements discovery and linking on the provider side.
type Service struct {
	repo   Repository
	gw     GatewayClient
	corr   *correlator.Correlator
	runner *worker.Runner
	collab hrp.Collaborators
	cfg    ServiceConfig
	logger zerolog.Logger
}

// NewService creates a linking Service.
func NewService(repo Repository, gw GatewayClient, corr *correlator.Correlator, runner *worker.Runner, collab hrp.Collaborators, cfg ServiceConfig, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		gw:     gw,
		corr:   corr,
		runner: runner,
		collab: collab,
		cfg:    cfg,
		logger: logger,
	}
}

// DepositCallback hands a correlated callback body to the waiting flow.
func (s *Service) DepositCallback(requestID string, payload []byte) {
	s.corr.Deposit(requestID, payload)
}

// ---- discovery ----

// DiscoverCallback is the inbound /care-contexts/discover payload.
type DiscoverCallback struct {
	gateway.Envelope
	TransactionID string             `json:"transactionId"`
	Patient       hrp.PatientProfile `json:"patient"`
}

// ProcessDiscover resolves the demographic claim through the host platform,
// filters out care contexts already linked for this patient, snapshots the
// unfiltered match, and posts the result (or a typed failure) back to the
// gateway.
func (s *Service) ProcessDiscover(ctx context.Context, cb *DiscoverCallback) error {
	if s.collab.Discovery == nil {
		return s.postDiscoverError(ctx, cb, codeInternal, "patient discovery is not available")
	}

	result, err := s.collab.Discovery.Discover(ctx, cb.Patient)
	if err != nil {
		code := codeInternal
		switch {
		case errors.Is(err, hrp.ErrPatientNotFound):
			code = codePatientNotFound
		case errors.Is(err, hrp.ErrMultipleMatches):
			code = codeMultipleMatches
		}
		msg := err.Error()
		snapshot := &DiscoveryRequest{TransactionID: cb.TransactionID, Error: &msg}
		if err := s.repo.CreateDiscoveryRequest(ctx, snapshot); err != nil {
			s.logger.Error().Err(err).Str("transaction_id", cb.TransactionID).Msg("store discovery snapshot")
		}
		return s.postDiscoverError(ctx, cb, code, msg)
	}

	// The snapshot keeps every matched context; only the response to the
	// gateway is filtered down to unlinked ones.
	allContexts, err := json.Marshal(result.CareContexts)
	if err != nil {
		return fmt.Errorf("marshal discovered care contexts: %w", err)
	}
	snapshot := &DiscoveryRequest{
		TransactionID:    cb.TransactionID,
		PatientReference: &result.ReferenceNumber,
		CareContexts:     allContexts,
	}
	if err := s.repo.CreateDiscoveryRequest(ctx, snapshot); err != nil {
		return fmt.Errorf("store discovery snapshot: %w", err)
	}

	linked, err := s.repo.LinkedRefs(ctx, s.cfg.HIPID, result.ReferenceNumber)
	if err != nil {
		return fmt.Errorf("load linked references: %w", err)
	}
	linkedSet := make(map[string]bool, len(linked))
	for _, ref := range linked {
		linkedSet[ref] = true
	}
	unlinked := make([]hrp.CareContextRef, 0, len(result.CareContexts))
	for _, cc := range result.CareContexts {
		if !linkedSet[cc.ReferenceNumber] {
			unlinked = append(unlinked, cc)
		}
	}

	rd := gateway.NewRequestData()
	payload := map[string]interface{}{
		"requestId":     rd.RequestID,
		"timestamp":     rd.Timestamp,
		"transactionId": cb.TransactionID,
		"patient": map[string]interface{}{
			"referenceNumber": result.ReferenceNumber,
			"display":         result.Display,
			"careContexts":    unlinked,
			"matchedBy":       result.MatchedBy,
		},
		"resp": map[string]string{"requestId": cb.RequestID},
	}
	return s.runner.Run(ctx, "care-contexts/on-discover", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathCareContextsOnDiscover, payload)
		return err
	})
}

func (s *Service) postDiscoverError(ctx context.Context, cb *DiscoverCallback, code int, message string) error {
	rd := gateway.NewRequestData()
	payload := map[string]interface{}{
		"requestId":     rd.RequestID,
		"timestamp":     rd.Timestamp,
		"transactionId": cb.TransactionID,
		"error":         map[string]interface{}{"code": code, "message": message},
		"resp":          map[string]string{"requestId": cb.RequestID},
	}
	return s.runner.Run(ctx, "care-contexts/on-discover", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathCareContextsOnDiscover, payload)
		return err
	})
}

// ---- patient-initiated linking ----

// LinkInitCareContext names one care context the patient chose to link.
type LinkInitCareContext struct {
	ReferenceNumber string `json:"referenceNumber"`
}

// LinkInitCallback is the inbound /links/link/init payload.
type LinkInitCallback struct {
	gateway.Envelope
	TransactionID string `json:"transactionId"`
	Patient       struct {
		ID              string                `json:"id"`
		ReferenceNumber string                `json:"referenceNumber"`
		CareContexts    []LinkInitCareContext `json:"careContexts"`
	} `json:"patient"`
}

// ProcessLinkInit validates the chosen care contexts against the stored
// discovery snapshot, creates the pending link, dispatches an OTP challenge,
// and posts the link reference back to the gateway. An OTP dispatch failure
// is recorded on the link request without discarding it.
func (s *Service) ProcessLinkInit(ctx context.Context, cb *LinkInitCallback) error {
	dr, err := s.repo.GetDiscoveryRequestByTransaction(ctx, cb.TransactionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.postLinkError(ctx, gateway.PathLinkOnInit, cb.RequestID, codeValidation,
				"no discovery found for transaction "+cb.TransactionID)
		}
		return err
	}
	if dr.PatientReference == nil || *dr.PatientReference != cb.Patient.ReferenceNumber {
		return s.postLinkError(ctx, gateway.PathLinkOnInit, cb.RequestID, codeValidation,
			"patient reference does not match the discovered patient")
	}

	var discovered []hrp.CareContextRef
	if err := json.Unmarshal(dr.CareContexts, &discovered); err != nil {
		return fmt.Errorf("parse discovery snapshot: %w", err)
	}
	byRef := make(map[string]hrp.CareContextRef, len(discovered))
	for _, cc := range discovered {
		byRef[cc.ReferenceNumber] = cc
	}
	contexts := make([]*CareContext, 0, len(cb.Patient.CareContexts))
	for _, chosen := range cb.Patient.CareContexts {
		cc, ok := byRef[chosen.ReferenceNumber]
		if !ok {
			return s.postLinkError(ctx, gateway.PathLinkOnInit, cb.RequestID, codeValidation,
				"care context "+chosen.ReferenceNumber+" was not discovered for this transaction")
		}
		contexts = append(contexts, &CareContext{Reference: cc.ReferenceNumber, Display: cc.Display})
	}
	if len(contexts) == 0 {
		return s.postLinkError(ctx, gateway.PathLinkOnInit, cb.RequestID, codeValidation,
			"no care contexts requested")
	}

	lr := &LinkRequest{
		HIPID:            s.cfg.HIPID,
		PatientReference: cb.Patient.ReferenceNumber,
		Initiator:        InitiatorPatient,
		Status:           LinkPending,
	}
	if err := s.repo.CreateLinkRequest(ctx, lr, contexts); err != nil {
		return fmt.Errorf("store link request: %w", err)
	}

	var otpTxn string
	if s.collab.OTP == nil {
		msg := "otp service is not available"
		lr.ErrorMessage = &msg
		if err := s.repo.UpdateLinkRequest(ctx, lr); err != nil {
			s.logger.Error().Err(err).Msg("record otp dispatch failure")
		}
	} else if otpTxn, err = s.collab.OTP.Dispatch(ctx, cb.Patient.ReferenceNumber); err != nil {
		msg := err.Error()
		lr.ErrorMessage = &msg
		if err := s.repo.UpdateLinkRequest(ctx, lr); err != nil {
			s.logger.Error().Err(err).Msg("record otp dispatch failure")
		}
	}

	linkRef := uuid.New().String()
	chosenRefs, err := json.Marshal(cb.Patient.CareContexts)
	if err != nil {
		return fmt.Errorf("marshal chosen care contexts: %w", err)
	}
	plr := &PatientLinkRequest{
		LinkRequestID:       lr.ID,
		TransactionID:       cb.TransactionID,
		LinkReferenceNumber: linkRef,
		OTPTransactionID:    otpTxn,
		PatientReference:    cb.Patient.ReferenceNumber,
		CareContexts:        chosenRefs,
		Status:              LinkPending,
	}
	if err := s.repo.CreatePatientLinkRequest(ctx, plr); err != nil {
		return fmt.Errorf("store patient link request: %w", err)
	}

	rd := gateway.NewRequestData()
	payload := map[string]interface{}{
		"requestId":     rd.RequestID,
		"timestamp":     rd.Timestamp,
		"transactionId": cb.TransactionID,
		"link": map[string]interface{}{
			"referenceNumber":    linkRef,
			"authenticationType": "DIRECT",
			"meta": map[string]interface{}{
				"communicationMedium": "MOBILE",
				"communicationHint":   "OTP sent to the registered mobile number",
				"communicationExpiry": time.Now().UTC().Add(10 * time.Minute).Format(gateway.TimestampLayout),
			},
		},
		"resp": map[string]string{"requestId": cb.RequestID},
	}
	return s.runner.Run(ctx, "links/link/on-init", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathLinkOnInit, payload)
		return err
	})
}

// LinkConfirmCallback is the inbound /links/link/confirm payload.
type LinkConfirmCallback struct {
	gateway.Envelope
	Confirmation struct {
		LinkRefNumber string `json:"linkRefNumber"`
		Token         string `json:"token"`
	} `json:"confirmation"`
}

// ProcessLinkConfirm verifies the OTP and flips the pending link to SUCCESS,
// posting the linked patient back to the gateway. A failed verification
// flips it to ERROR instead.
func (s *Service) ProcessLinkConfirm(ctx context.Context, cb *LinkConfirmCallback) error {
	plr, err := s.repo.GetPatientLinkRequestByRef(ctx, cb.Confirmation.LinkRefNumber)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return s.postLinkError(ctx, gateway.PathLinkOnConfirm, cb.RequestID, codeValidation,
				"no link request found for reference "+cb.Confirmation.LinkRefNumber)
		}
		return err
	}
	lr, err := s.repo.GetLinkRequest(ctx, plr.LinkRequestID)
	if err != nil {
		return fmt.Errorf("load link request: %w", err)
	}

	if s.collab.OTP == nil {
		return s.postLinkError(ctx, gateway.PathLinkOnConfirm, cb.RequestID, codeInternal,
			"otp service is not available")
	}
	if err := s.collab.OTP.Verify(ctx, plr.OTPTransactionID, cb.Confirmation.Token); err != nil {
		msg := err.Error()
		lr.Status = LinkError
		lr.ErrorMessage = &msg
		plr.Status = LinkError
		if uerr := s.repo.UpdateLinkRequest(ctx, lr); uerr != nil {
			s.logger.Error().Err(uerr).Msg("record link verification failure")
		}
		if uerr := s.repo.UpdatePatientLinkRequest(ctx, plr); uerr != nil {
			s.logger.Error().Err(uerr).Msg("record link verification failure")
		}
		code := codeInternal
		if errors.Is(err, hrp.ErrOTPMismatch) {
			code = codeInvalidOTP
		}
		return s.postLinkError(ctx, gateway.PathLinkOnConfirm, cb.RequestID, code, "Invalid OTP")
	}

	lr.Status = LinkSuccess
	lr.ErrorMessage = nil
	plr.Status = LinkSuccess
	if err := s.repo.UpdateLinkRequest(ctx, lr); err != nil {
		return fmt.Errorf("mark link successful: %w", err)
	}
	if err := s.repo.UpdatePatientLinkRequest(ctx, plr); err != nil {
		return fmt.Errorf("mark link successful: %w", err)
	}

	contexts, err := s.repo.ListCareContexts(ctx, lr.ID)
	if err != nil {
		return fmt.Errorf("load linked care contexts: %w", err)
	}
	refs := make([]map[string]string, 0, len(contexts))
	for _, cc := range contexts {
		refs = append(refs, map[string]string{
			"referenceNumber": cc.Reference,
			"display":         cc.Display,
		})
	}

	rd := gateway.NewRequestData()
	payload := map[string]interface{}{
		"requestId": rd.RequestID,
		"timestamp": rd.Timestamp,
		"patient": map[string]interface{}{
			"referenceNumber": lr.PatientReference,
			"display":         lr.PatientDisplay,
			"careContexts":    refs,
		},
		"resp": map[string]string{"requestId": cb.RequestID},
	}
	return s.runner.Run(ctx, "links/link/on-confirm", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathLinkOnConfirm, payload)
		return err
	})
}

func (s *Service) postLinkError(ctx context.Context, path, callbackRequestID string, code int, message string) error {
	rd := gateway.NewRequestData()
	payload := map[string]interface{}{
		"requestId": rd.RequestID,
		"timestamp": rd.Timestamp,
		"error":     map[string]interface{}{"code": code, "message": message},
		"resp":      map[string]string{"requestId": callbackRequestID},
	}
	return s.runner.Run(ctx, path, func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, path, payload)
		return err
	})
}

// ---- provider-initiated linking ----

// LinkInputCareContext is one care context a provider wants to register.
type LinkInputCareContext struct {
	Reference string   `json:"reference"`
	Display   string   `json:"display"`
	HITypes   []string `json:"hi_types"`
}

// LinkInput is the host API request to register care contexts for an
// already-authenticated patient.
type LinkInput struct {
	PatientReference string                 `json:"patient_reference"`
	PatientDisplay   string                 `json:"patient_display"`
	AccessToken      string                 `json:"access_token"`
	CareContexts     []LinkInputCareContext `json:"care_contexts"`
}

// LinkCareContexts registers care contexts with the gateway on the
// provider's initiative. Already-linked references are rejected before any
// outbound call so retries cannot duplicate gateway notifications.
func (s *Service) LinkCareContexts(ctx context.Context, in LinkInput) (*LinkRequest, error) {
	if in.PatientReference == "" {
		return nil, &ValidationError{Message: "patient_reference is required"}
	}
	if in.AccessToken == "" {
		return nil, &ValidationError{Message: "access_token is required"}
	}
	if len(in.CareContexts) == 0 {
		return nil, &ValidationError{Message: "at least one care context is required"}
	}

	linked, err := s.repo.LinkedRefs(ctx, s.cfg.HIPID, in.PatientReference)
	if err != nil {
		return nil, fmt.Errorf("load linked references: %w", err)
	}
	linkedSet := make(map[string]bool, len(linked))
	for _, ref := range linked {
		linkedSet[ref] = true
	}
	var dupes []string
	for _, cc := range in.CareContexts {
		if linkedSet[cc.Reference] {
			dupes = append(dupes, cc.Reference)
		}
	}
	if len(dupes) > 0 {
		return nil, &AlreadyLinkedError{Refs: dupes}
	}

	if s.collab.ABHA != nil {
		registered, err := s.collab.ABHA.CheckABHARegistered(ctx, in.PatientReference)
		if err != nil && !errors.Is(err, hrp.ErrUnsupported) {
			return nil, fmt.Errorf("check exchange registration: %w", err)
		}
		if err == nil && !registered {
			return nil, &ValidationError{Message: "patient does not hold an exchange address"}
		}
	}

	rd := gateway.NewRequestData()
	lr := &LinkRequest{
		HIPID:            s.cfg.HIPID,
		PatientReference: in.PatientReference,
		PatientDisplay:   in.PatientDisplay,
		Initiator:        InitiatorHIP,
		Status:           LinkPending,
		GatewayRequestID: &rd.RequestID,
	}
	contexts := make([]*CareContext, 0, len(in.CareContexts))
	wireContexts := make([]map[string]string, 0, len(in.CareContexts))
	for _, cc := range in.CareContexts {
		contexts = append(contexts, &CareContext{
			Reference: cc.Reference,
			Display:   cc.Display,
			HITypes:   cc.HITypes,
		})
		wireContexts = append(wireContexts, map[string]string{
			"referenceNumber": cc.Reference,
			"display":         cc.Display,
		})
	}
	if err := s.repo.CreateLinkRequest(ctx, lr, contexts); err != nil {
		return nil, fmt.Errorf("store link request: %w", err)
	}

	payload := map[string]interface{}{
		"requestId": rd.RequestID,
		"timestamp": rd.Timestamp,
		"link": map[string]interface{}{
			"accessToken": in.AccessToken,
			"patient": map[string]interface{}{
				"referenceNumber": in.PatientReference,
				"display":         in.PatientDisplay,
				"careContexts":    wireContexts,
			},
		},
	}
	err = s.runner.Run(ctx, "links/link/add-contexts", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathLinkAddContexts, payload)
		return err
	})
	if err != nil {
		s.markLinkError(ctx, lr, err)
		return nil, err
	}

	data, ok := s.corr.Await(ctx, rd.RequestID, s.cfg.PollAttempts, s.cfg.PollInterval)
	if !ok {
		return nil, &gateway.CallbackTimeoutError{RequestID: rd.RequestID}
	}

	var ack AddContextsCallback
	if err := json.Unmarshal(data, &ack); err != nil {
		s.markLinkError(ctx, lr, err)
		return nil, fmt.Errorf("parse on-add-contexts callback: %w", err)
	}
	if err := ack.Err(); err != nil {
		s.markLinkError(ctx, lr, err)
		return nil, err
	}

	lr.Status = LinkSuccess
	if err := s.repo.UpdateLinkRequest(ctx, lr); err != nil {
		return nil, fmt.Errorf("mark link successful: %w", err)
	}
	return lr, nil
}

// AddContextsCallback is the inbound /links/link/on-add-contexts payload.
type AddContextsCallback struct {
	gateway.Envelope
	Acknowledgement *struct {
		Status string `json:"status"`
	} `json:"acknowledgement"`
}

// ProcessAddContextsAck records the gateway's verdict on a provider-initiated
// link before handing the body to the waiting flow. The waiter may already
// have given up on the callback, so the stored request is updated here rather
// than only by whoever is still polling.
func (s *Service) ProcessAddContextsAck(ctx context.Context, body []byte) error {
	var cb AddContextsCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return fmt.Errorf("parse on-add-contexts callback: %w", err)
	}
	if cb.Resp == nil || cb.Resp.RequestID == "" {
		return errors.New("on-add-contexts callback missing resp.requestId")
	}

	lr, err := s.repo.GetLinkRequestByGatewayRequestID(ctx, cb.Resp.RequestID)
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Warn().
			Str("request_id", cb.Resp.RequestID).
			Msg("link confirmation for unknown request")
	case err != nil:
		return fmt.Errorf("load link request: %w", err)
	default:
		if cbErr := cb.Err(); cbErr != nil {
			s.markLinkError(ctx, lr, cbErr)
		} else {
			lr.Status = LinkSuccess
			lr.ErrorMessage = nil
			if err := s.repo.UpdateLinkRequest(ctx, lr); err != nil {
				return fmt.Errorf("mark link successful: %w", err)
			}
		}
	}

	s.corr.Deposit(cb.Resp.RequestID, body)
	return nil
}

func (s *Service) markLinkError(ctx context.Context, lr *LinkRequest, cause error) {
	msg := cause.Error()
	lr.Status = LinkError
	lr.ErrorMessage = &msg
	if err := s.repo.UpdateLinkRequest(ctx, lr); err != nil {
		s.logger.Error().Err(err).
			Str("link_request_id", lr.ID.String()).
			Msg("record link failure")
	}
}

// ---- queries ----

// GetLinkRequest loads one link request with its care contexts.
func (s *Service) GetLinkRequest(ctx context.Context, id uuid.UUID) (*LinkRequest, []*CareContext, error) {
	lr, err := s.repo.GetLinkRequest(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	contexts, err := s.repo.ListCareContexts(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return lr, contexts, nil
}

// ListLinkRequests pages through link requests.
func (s *Service) ListLinkRequests(ctx context.Context, limit, offset int) ([]*LinkRequest, int, error) {
	return s.repo.ListLinkRequests(ctx, limit, offset)
}
