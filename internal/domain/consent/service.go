// Package consent manages the consent lifecycle on both sides of the bridge:
// provider-side artefacts received through grant notifications, and
// consumer-side requests initiated toward the gateway with their fetched
// artefacts.
package consent

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
	"github.com/hrp/abdm-bridge/internal/platform/worker"
)

// GatewayClient is the slice of the gateway client this package needs.
type GatewayClient interface {
	Post(ctx context.Context, path string, payload interface{}) (map[string]interface{}, error)
}

// ValidationError reports a consent request that failed input validation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ServiceConfig carries the identity and polling settings the flows need.
type ServiceConfig struct {
	HIPID        string
	HIUID        string
	PollAttempts int
	PollInterval time.Duration
}

// Service implements the consent flows.
type Service struct {
	repo   Repository
	gw     GatewayClient
	corr   *correlator.Correlator
	runner *worker.Runner
	cfg    ServiceConfig
	logger zerolog.Logger
}

// NewService creates a consent Service.
func NewService(repo Repository, gw GatewayClient, corr *correlator.Correlator, runner *worker.Runner, cfg ServiceConfig, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		gw:     gw,
		corr:   corr,
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

// DepositCallback hands a correlated callback body to the waiting flow.
func (s *Service) DepositCallback(requestID string, payload []byte) {
	s.corr.Deposit(requestID, payload)
}

// ---- provider side ----

// HIPNotification is the body of a consent notification delivered to a
// provider.
type HIPNotification struct {
	Status        Status          `json:"status"`
	ConsentID     string          `json:"consentId"`
	ConsentDetail json.RawMessage `json:"consentDetail,omitempty"`
	Signature     string          `json:"signature,omitempty"`
}

// HIPNotifyCallback is the inbound /consents/hip/notify payload.
type HIPNotifyCallback struct {
	gateway.Envelope
	Notification HIPNotification `json:"notification"`
}

// ProcessHIPNotify handles a provider-side consent notification. Grants are
// stored as artefacts; revocations, expiries and denials remove them. Every
// notification is acknowledged, including ones for unknown artefacts.
func (s *Service) ProcessHIPNotify(ctx context.Context, cb *HIPNotifyCallback) error {
	n := cb.Notification
	switch n.Status {
	case StatusGranted:
		var detail Detail
		if err := json.Unmarshal(n.ConsentDetail, &detail); err != nil {
			return fmt.Errorf("parse consent detail for %s: %w", n.ConsentID, err)
		}
		art := &Artefact{
			ArtefactID: n.ConsentID,
			Details:    n.ConsentDetail,
			Signature:  n.Signature,
			ExpiryDate: detail.Permission.DataEraseAt,
		}
		if err := s.repo.SaveArtefact(ctx, art); err != nil {
			return fmt.Errorf("store consent artefact %s: %w", n.ConsentID, err)
		}
		if err := s.acknowledgeHIPNotify(ctx, cb.RequestID, n.ConsentID); err != nil {
			return err
		}
		art.GrantAcknowledged = true
		return s.repo.SaveArtefact(ctx, art)

	case StatusRevoked, StatusExpired, StatusDenied:
		if err := s.repo.DeleteArtefact(ctx, n.ConsentID); err != nil {
			if !errors.Is(err, ErrNotFound) {
				return fmt.Errorf("remove consent artefact %s: %w", n.ConsentID, err)
			}
			s.logger.Warn().
				Str("consent_id", n.ConsentID).
				Str("status", string(n.Status)).
				Msg("notification for unknown consent artefact")
		}
		return s.acknowledgeHIPNotify(ctx, cb.RequestID, n.ConsentID)

	default:
		s.logger.Warn().
			Str("consent_id", n.ConsentID).
			Str("status", string(n.Status)).
			Msg("unhandled consent notification status")
		return s.acknowledgeHIPNotify(ctx, cb.RequestID, n.ConsentID)
	}
}

func (s *Service) acknowledgeHIPNotify(ctx context.Context, callbackRequestID, consentID string) error {
	rd := gateway.NewRequestData()
	payload := map[string]interface{}{
		"requestId": rd.RequestID,
		"timestamp": rd.Timestamp,
		"acknowledgement": map[string]string{
			"status":    "OK",
			"consentId": consentID,
		},
		"resp": map[string]string{"requestId": callbackRequestID},
	}
	return s.runner.Run(ctx, "consents/hip/on-notify", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathConsentHIPOnNotify, payload)
		return err
	})
}

// SweepExpired removes artefacts past their erase-at time and marks the
// consumer-side requests that held them as expired. Returns how many
// artefacts were erased.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	deleted, err := s.repo.DeleteExpiredArtefacts(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, art := range deleted {
		if art.ConsentRequestID == nil {
			continue
		}
		req, err := s.repo.GetRequest(ctx, *art.ConsentRequestID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.logger.Error().Err(err).
					Str("artefact_id", art.ArtefactID).
					Msg("load consent request for expired artefact")
			}
			continue
		}
		if req.Status == StatusExpired {
			continue
		}
		req.Status = StatusExpired
		if err := s.repo.UpdateRequest(ctx, req); err != nil {
			s.logger.Error().Err(err).
				Str("consent_request_id", req.ID.String()).
				Msg("mark consent request expired")
		}
	}
	return len(deleted), nil
}

// StartSweeper runs the expiry sweep on a fixed interval until the context
// is cancelled.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.SweepExpired(ctx, time.Now().UTC())
				if err != nil {
					s.logger.Error().Err(err).Msg("consent expiry sweep failed")
					continue
				}
				if n > 0 {
					s.logger.Info().Int("erased", n).Msg("expired consent artefacts erased")
				}
			}
		}
	}()
}

// ---- consumer side ----

type onInitCallback struct {
	gateway.Envelope
	ConsentRequest *struct {
		ID string `json:"id"`
	} `json:"consentRequest"`
}

// GenerateConsentRequest validates and sends a consent request to the
// gateway, then waits for the on-init callback carrying the gateway's
// consent request id.
func (s *Service) GenerateConsentRequest(ctx context.Context, detail Detail) (*Request, error) {
	if err := validateDetail(&detail); err != nil {
		return nil, err
	}
	detail.HIU = &Actor{ID: s.cfg.HIUID}

	details, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("marshal consent detail: %w", err)
	}

	rd := gateway.NewRequestData()
	req := &Request{
		GatewayRequestID: rd.RequestID,
		Status:           StatusPending,
		Details:          details,
	}
	req.ApplyAmendableDetail(&detail)
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("store consent request: %w", err)
	}

	payload := map[string]interface{}{
		"requestId": rd.RequestID,
		"timestamp": rd.Timestamp,
		"consent":   detail,
	}
	err = s.runner.Run(ctx, "consent-requests/init", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathConsentRequestsInit, payload)
		return err
	})
	if err != nil {
		s.markRequestError(ctx, req, err)
		return nil, err
	}

	data, ok := s.corr.Await(ctx, rd.RequestID, s.cfg.PollAttempts, s.cfg.PollInterval)
	if !ok {
		return nil, &gateway.CallbackTimeoutError{RequestID: rd.RequestID}
	}

	var cb onInitCallback
	if err := json.Unmarshal(data, &cb); err != nil {
		s.markRequestError(ctx, req, err)
		return nil, fmt.Errorf("parse on-init callback: %w", err)
	}
	if err := cb.Err(); err != nil {
		s.markRequestError(ctx, req, err)
		return nil, err
	}
	if cb.ConsentRequest == nil || cb.ConsentRequest.ID == "" {
		err := errors.New("on-init callback missing consent request id")
		s.markRequestError(ctx, req, err)
		return nil, err
	}

	req.ConsentRequestID = &cb.ConsentRequest.ID
	req.Status = StatusRequested
	if err := s.repo.UpdateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("update consent request: %w", err)
	}
	return req, nil
}

func (s *Service) markRequestError(ctx context.Context, req *Request, cause error) {
	msg := cause.Error()
	req.Status = StatusError
	req.ErrorMessage = &msg
	if err := s.repo.UpdateRequest(ctx, req); err != nil {
		s.logger.Error().Err(err).
			Str("consent_request_id", req.ID.String()).
			Msg("record consent request failure")
	}
}

func validateDetail(d *Detail) error {
	if d.Patient.ID == "" {
		return &ValidationError{Message: "patient id is required"}
	}
	if !ValidPurposeCode(d.Purpose.Code) {
		return &ValidationError{Message: fmt.Sprintf("invalid purpose code: %s", d.Purpose.Code)}
	}
	if len(d.HITypes) == 0 {
		return &ValidationError{Message: "at least one health information type is required"}
	}
	for _, t := range d.HITypes {
		if !ValidHealthInfoType(t) {
			return &ValidationError{Message: fmt.Sprintf("invalid health information type: %s", t)}
		}
	}
	if !d.Permission.DateRange.From.Before(d.Permission.DateRange.To) {
		return &ValidationError{Message: "permission date range start must be before end"}
	}
	if !d.Permission.DataEraseAt.After(time.Now()) {
		return &ValidationError{Message: "data erase time must be in the future"}
	}
	return nil
}

// ArtefactRef names one granted artefact inside a consumer notification.
type ArtefactRef struct {
	ID string `json:"id"`
}

// HIUNotification is the body of a consent notification delivered to a
// consumer.
type HIUNotification struct {
	ConsentRequestID string        `json:"consentRequestId"`
	Status           Status        `json:"status"`
	ConsentArtefacts []ArtefactRef `json:"consentArtefacts,omitempty"`
}

// HIUNotifyCallback is the inbound /consents/hiu/notify payload.
type HIUNotifyCallback struct {
	gateway.Envelope
	Notification HIUNotification `json:"notification"`
}

type onFetchCallback struct {
	gateway.Envelope
	Consent *struct {
		ConsentDetail json.RawMessage `json:"consentDetail"`
		Signature     string          `json:"signature"`
		Status        Status          `json:"status"`
	} `json:"consent"`
}

// ProcessHIUNotify handles a consumer-side consent notification. Grants pull
// each artefact through a fetch round trip; revocations and expiries erase
// the stored artefacts. The notification is always acknowledged.
func (s *Service) ProcessHIUNotify(ctx context.Context, cb *HIUNotifyCallback) error {
	n := cb.Notification
	req, err := s.repo.GetRequestByConsentRequestID(ctx, n.ConsentRequestID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.Warn().
				Str("consent_request_id", n.ConsentRequestID).
				Msg("notification for unknown consent request")
			return s.acknowledgeHIUNotify(ctx, cb.RequestID, n.ConsentArtefacts)
		}
		return err
	}

	switch n.Status {
	case StatusGranted:
		var fetchErr error
		var granted *Detail
		for _, ref := range n.ConsentArtefacts {
			detail, err := s.fetchArtefact(ctx, req.ID, ref.ID)
			if err != nil {
				s.logger.Error().Err(err).
					Str("artefact_id", ref.ID).
					Msg("fetch consent artefact")
				fetchErr = err
				continue
			}
			granted = detail
		}
		if fetchErr != nil {
			s.markRequestError(ctx, req, fetchErr)
			return s.acknowledgeHIUNotify(ctx, cb.RequestID, n.ConsentArtefacts)
		}
		// The patient may have narrowed the permission while granting;
		// the request carries what was actually granted.
		if granted != nil {
			req.ApplyAmendableDetail(granted)
		}
		req.Status = StatusGranted

	case StatusDenied:
		req.Status = StatusDenied

	case StatusRevoked, StatusExpired:
		if err := s.repo.DeleteArtefactsForRequest(ctx, req.ID); err != nil {
			return fmt.Errorf("erase artefacts for request %s: %w", req.ID, err)
		}
		req.Status = n.Status

	default:
		s.logger.Warn().
			Str("consent_request_id", n.ConsentRequestID).
			Str("status", string(n.Status)).
			Msg("unhandled consent notification status")
		return s.acknowledgeHIUNotify(ctx, cb.RequestID, n.ConsentArtefacts)
	}

	if err := s.repo.UpdateRequest(ctx, req); err != nil {
		return fmt.Errorf("update consent request: %w", err)
	}
	return s.acknowledgeHIUNotify(ctx, cb.RequestID, n.ConsentArtefacts)
}

func (s *Service) fetchArtefact(ctx context.Context, requestID uuid.UUID, artefactID string) (*Detail, error) {
	rd := gateway.NewRequestData()
	payload := map[string]interface{}{
		"requestId": rd.RequestID,
		"timestamp": rd.Timestamp,
		"consentId": artefactID,
	}
	err := s.runner.Run(ctx, "consents/fetch", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathConsentsFetch, payload)
		return err
	})
	if err != nil {
		return nil, err
	}

	data, ok := s.corr.Await(ctx, rd.RequestID, s.cfg.PollAttempts, s.cfg.PollInterval)
	if !ok {
		return nil, &gateway.CallbackTimeoutError{RequestID: rd.RequestID}
	}

	var cb onFetchCallback
	if err := json.Unmarshal(data, &cb); err != nil {
		return nil, fmt.Errorf("parse on-fetch callback: %w", err)
	}
	if err := cb.Err(); err != nil {
		return nil, err
	}
	if cb.Consent == nil {
		return nil, errors.New("on-fetch callback missing consent body")
	}

	var detail Detail
	if err := json.Unmarshal(cb.Consent.ConsentDetail, &detail); err != nil {
		return nil, fmt.Errorf("parse consent detail for %s: %w", artefactID, err)
	}
	err = s.repo.SaveArtefact(ctx, &Artefact{
		ArtefactID:        artefactID,
		ConsentRequestID:  &requestID,
		Details:           cb.Consent.ConsentDetail,
		Signature:         cb.Consent.Signature,
		GrantAcknowledged: true,
		ExpiryDate:        detail.Permission.DataEraseAt,
	})
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

func (s *Service) acknowledgeHIUNotify(ctx context.Context, callbackRequestID string, refs []ArtefactRef) error {
	rd := gateway.NewRequestData()
	acks := make([]map[string]string, 0, len(refs))
	for _, ref := range refs {
		acks = append(acks, map[string]string{
			"status":    "OK",
			"consentId": ref.ID,
		})
	}
	payload := map[string]interface{}{
		"requestId":       rd.RequestID,
		"timestamp":       rd.Timestamp,
		"acknowledgement": acks,
		"resp":            map[string]string{"requestId": callbackRequestID},
	}
	return s.runner.Run(ctx, "consents/hiu/on-notify", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathConsentHIUOnNotify, payload)
		return err
	})
}

// ---- queries ----

// GetRequest loads one consumer-side consent request.
func (s *Service) GetRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	return s.repo.GetRequest(ctx, id)
}

// ListRequests pages through consumer-side consent requests, optionally
// filtered by status.
func (s *Service) ListRequests(ctx context.Context, status Status, limit, offset int) ([]*Request, int, error) {
	return s.repo.ListRequests(ctx, status, limit, offset)
}

// GetArtefact loads one stored consent artefact.
func (s *Service) GetArtefact(ctx context.Context, artefactID string) (*Artefact, error) {
	return s.repo.GetArtefact(ctx, artefactID)
}

// ListArtefacts pages through stored consent artefacts.
func (s *Service) ListArtefacts(ctx context.Context, limit, offset int) ([]*Artefact, int, error) {
	return s.repo.ListArtefacts(ctx, limit, offset)
}
