package healthinfo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hrp/abdm-bridge/internal/domain/consent"
	"github.com/hrp/abdm-bridge/internal/domain/linking"
	"github.com/hrp/abdm-bridge/internal/platform/correlator"
	"github.com/hrp/abdm-bridge/internal/platform/crypto"
	"github.com/hrp/abdm-bridge/internal/platform/gateway"
	"github.com/hrp/abdm-bridge/internal/platform/hrp"
	"github.com/hrp/abdm-bridge/internal/platform/worker"
)

// Wire error codes for transfer preconditions.
const (
	codeKeyPairExpired   = 3410
	codeArtefactNotFound = 3416
	codeConsentExpired   = 3418
	codeInvalidDateRange = 3419
)

// ErrConsentExpired rejects consumer-side requests against an artefact past
// its erase-at time.
var ErrConsentExpired = errors.New("consent artefact has expired")

// GatewayClient is the slice of the gateway client this package needs.
type GatewayClient interface {
	Post(ctx context.Context, path string, payload interface{}) (map[string]interface{}, error)
}

// ConsentStore is the slice of the consent repository this package needs.
type ConsentStore interface {
	GetArtefact(ctx context.Context, artefactID string) (*consent.Artefact, error)
}

// LinkVerifier resolves a care-context reference to its linked record.
type LinkVerifier interface {
	FindCareContext(ctx context.Context, patientReference, careContextReference string) (*linking.CareContext, error)
}

// ServiceConfig carries identity, delivery, pagination and polling settings.
type ServiceConfig struct {
	HIPID          string
	HIUID          string
	DataPushURL    string
	EntriesPerPage int
	PollAttempts   int
	PollInterval   time.Duration
}

// Service implements the transfer pipeline on both sides.
type Service struct {
	repo       Repository
	consents   ConsentStore
	links      LinkVerifier
	gw         GatewayClient
	corr       *correlator.Correlator
	runner     *worker.Runner
	collab     hrp.Collaborators
	httpClient *http.Client
	cfg        ServiceConfig
	logger     zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient overrides the client used for data pushes.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.httpClient = c }
}

// NewService creates a healthinfo Service.
func NewService(repo Repository, consents ConsentStore, links LinkVerifier, gw GatewayClient, corr *correlator.Correlator, runner *worker.Runner, collab hrp.Collaborators, cfg ServiceConfig, logger zerolog.Logger, opts ...Option) *Service {
	if cfg.EntriesPerPage <= 0 {
		cfg.EntriesPerPage = 20
	}
	s := &Service{
		repo:       repo,
		consents:   consents,
		links:      links,
		gw:         gw,
		corr:       corr,
		runner:     runner,
		collab:     collab,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		cfg:        cfg,
		logger:     logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DepositCallback hands a correlated callback body to the waiting flow.
func (s *Service) DepositCallback(requestID string, payload []byte) {
	s.corr.Deposit(requestID, payload)
}

// ---- provider side ----

// HIPRequestCallback is the inbound /health-information/hip/request payload.
type HIPRequestCallback struct {
	gateway.Envelope
	TransactionID string `json:"transactionId"`
	HIRequest     struct {
		Consent struct {
			ID string `json:"id"`
		} `json:"consent"`
		DateRange struct {
			From time.Time `json:"from"`
			To   time.Time `json:"to"`
		} `json:"dateRange"`
		DataPushURL string                  `json:"dataPushUrl"`
		KeyMaterial crypto.TransferMaterial `json:"keyMaterial"`
	} `json:"hiRequest"`
}

// DataPushEntry is one encrypted record inside a pushed page.
type DataPushEntry struct {
	Content              string `json:"content"`
	Media                string `json:"media"`
	Checksum             string `json:"checksum"`
	CareContextReference string `json:"careContextReference"`
}

// DataPush is the page payload posted to the requester's push URL.
type DataPush struct {
	PageNumber    int                      `json:"pageNumber"`
	PageCount     int                      `json:"pageCount"`
	TransactionID string                   `json:"transactionId"`
	Entries       []DataPushEntry          `json:"entries"`
	KeyMaterial   *crypto.TransferMaterial `json:"keyMaterial"`
}

// ProcessHIPRequest fulfils a gateway data request: gate the preconditions,
// acknowledge, then fetch, encrypt and push each authorized care context's
// records in pages, reporting every per-item outcome back to the gateway.
func (s *Service) ProcessHIPRequest(ctx context.Context, cb *HIPRequestCallback) error {
	kmRaw, err := json.Marshal(cb.HIRequest.KeyMaterial)
	if err != nil {
		return fmt.Errorf("marshal requester key material: %w", err)
	}
	job := &HIPRequest{
		TransactionID:    cb.TransactionID,
		ConsentID:        cb.HIRequest.Consent.ID,
		GatewayRequestID: cb.RequestID,
		DateFrom:         cb.HIRequest.DateRange.From,
		DateTo:           cb.HIRequest.DateRange.To,
		DataPushURL:      cb.HIRequest.DataPushURL,
		KeyMaterial:      kmRaw,
		Status:           SessionPending,
	}
	if err := s.repo.CreateHIPRequest(ctx, job); err != nil {
		return fmt.Errorf("store transfer job: %w", err)
	}

	detail, code, msg := s.gate(ctx, cb)
	if code != 0 {
		s.markHIPError(ctx, job, msg)
		return s.postOnRequestError(ctx, cb, code, msg)
	}

	if err := s.acknowledgeHIPRequest(ctx, cb); err != nil {
		s.markHIPError(ctx, job, err.Error())
		return err
	}
	job.Status = SessionAcknowledged
	if err := s.repo.UpdateHIPRequest(ctx, job); err != nil {
		return fmt.Errorf("update transfer job: %w", err)
	}

	km, err := crypto.GenerateKeyMaterial()
	if err != nil {
		s.markHIPError(ctx, job, err.Error())
		return err
	}

	outcomes, entries := s.collectOutcomes(ctx, cb, detail, km)
	s.deliverPages(ctx, cb, job, km, outcomes, entries)

	allDelivered := true
	for _, o := range outcomes {
		if o.Status != ItemDelivered {
			allDelivered = false
			break
		}
	}
	if allDelivered {
		job.Status = SessionTransferred
	} else {
		job.Status = SessionFailed
	}
	if err := s.repo.UpdateHIPRequest(ctx, job); err != nil {
		return fmt.Errorf("update transfer job: %w", err)
	}

	return s.notifySession(ctx, cb.HIRequest.Consent.ID, cb.TransactionID, "HIP", s.cfg.HIPID, job.Status, outcomes)
}

// gate checks the whole-job preconditions. A non-zero code aborts the job
// before any per-item work.
func (s *Service) gate(ctx context.Context, cb *HIPRequestCallback) (*consent.Detail, int, string) {
	art, err := s.consents.GetArtefact(ctx, cb.HIRequest.Consent.ID)
	if err != nil {
		if errors.Is(err, consent.ErrNotFound) {
			return nil, codeArtefactNotFound, "Consent artefact not found"
		}
		return nil, codeArtefactNotFound, err.Error()
	}

	now := time.Now().UTC()
	expiry, err := parseWireTime(cb.HIRequest.KeyMaterial.DHPublicKey.Expiry)
	if err != nil {
		return nil, codeKeyPairExpired, "Invalid key material expiry"
	}
	if now.After(expiry) {
		return nil, codeKeyPairExpired, "Key pair expired"
	}
	if art.Expired(now) {
		return nil, codeConsentExpired, "Consent artefact expired"
	}

	detail, err := art.Detail()
	if err != nil {
		return nil, codeArtefactNotFound, err.Error()
	}
	permitted := detail.Permission.DateRange
	if cb.HIRequest.DateRange.From.Before(permitted.From) || cb.HIRequest.DateRange.To.After(permitted.To) {
		return nil, codeInvalidDateRange, "Requested date range is not permitted by the consent"
	}
	return detail, 0, ""
}

// additionalInfo is the optional metadata stored on a linked care context.
type additionalInfo struct {
	RecordDate *time.Time `json:"recordDate"`
}

// collectOutcomes runs the per-care-context stage, preserving the artefact's
// care-context order. entries[i] holds the encrypted records for outcome i;
// errored items have none.
func (s *Service) collectOutcomes(ctx context.Context, cb *HIPRequestCallback, detail *consent.Detail, km *crypto.KeyMaterial) ([]CareContextStatus, [][]DataPushEntry) {
	authorized := make(map[string]bool, len(detail.HITypes))
	for _, t := range detail.HITypes {
		authorized[t] = true
	}
	peerKey := cb.HIRequest.KeyMaterial.DHPublicKey.KeyValue
	peerNonce := cb.HIRequest.KeyMaterial.Nonce

	outcomes := make([]CareContextStatus, len(detail.CareContexts))
	entries := make([][]DataPushEntry, len(detail.CareContexts))

	for i, cc := range detail.CareContexts {
		ref := cc.CareContextReference
		outcomes[i] = CareContextStatus{Reference: ref, Status: ItemDelivered, Description: "Delivered"}
		errItem := func(desc string) {
			outcomes[i].Status = ItemErrored
			outcomes[i].Description = desc
		}

		linked, err := s.links.FindCareContext(ctx, cc.PatientReference, ref)
		if errors.Is(err, linking.ErrNotFound) {
			errItem("Linked Care Context not found for " + ref)
			continue
		}
		if err != nil {
			errItem("Error occurred while resolving linked care context for " + ref + ": " + err.Error())
			continue
		}

		typesOK := true
		for _, t := range linked.HITypes {
			if !authorized[t] {
				typesOK = false
				break
			}
		}
		if !typesOK {
			errItem("Validation failed for HI Types for care context: " + ref)
			continue
		}

		if len(linked.AdditionalInfo) > 0 {
			var info additionalInfo
			if err := json.Unmarshal(linked.AdditionalInfo, &info); err == nil && info.RecordDate != nil {
				if info.RecordDate.Before(cb.HIRequest.DateRange.From) || info.RecordDate.After(cb.HIRequest.DateRange.To) {
					errItem("Health record date is not in requested date range for " + ref)
					continue
				}
			}
		}

		if s.collab.Data == nil {
			errItem("Error occurred while fetching health data from HRP: " + hrp.ErrUnsupported.Error())
			continue
		}
		records, err := s.collab.Data.FetchHealthData(ctx, hrp.HealthDataRequest{
			CareContextReference: ref,
			HITypes:              detail.HITypes,
			From:                 cb.HIRequest.DateRange.From,
			To:                   cb.HIRequest.DateRange.To,
		})
		if err != nil {
			errItem("Error occurred while fetching health data from HRP: " + err.Error())
			continue
		}
		if len(records) == 0 {
			errItem("No health record available from HRP for " + ref)
			continue
		}

		encrypted := make([]DataPushEntry, 0, len(records))
		encErr := false
		for _, rec := range records {
			enc, err := km.Encrypt(peerKey, peerNonce, rec.Content)
			if err != nil {
				errItem("Error occurred while encryption process: " + err.Error())
				encErr = true
				break
			}
			encrypted = append(encrypted, DataPushEntry{
				Content:              enc,
				Media:                "application/fhir+json",
				Checksum:             crypto.Checksum(rec.Content),
				CareContextReference: ref,
			})
		}
		if encErr {
			continue
		}
		entries[i] = encrypted
	}
	return outcomes, entries
}

// deliverPages groups the care contexts into fixed-size pages, pushes each
// page's encrypted entries, and records one transfer row per page. A failed
// push marks every deliverable item on that page.
func (s *Service) deliverPages(ctx context.Context, cb *HIPRequestCallback, job *HIPRequest, km *crypto.KeyMaterial, outcomes []CareContextStatus, entries [][]DataPushEntry) {
	size := s.cfg.EntriesPerPage
	total := len(outcomes)
	pageCount := (total + size - 1) / size
	if pageCount == 0 {
		pageCount = 1
	}

	tm, tmErr := km.TransferMaterial(false)

	for page := 0; page < pageCount; page++ {
		start := page * size
		end := start + size
		if end > total {
			end = total
		}

		var pageEntries []DataPushEntry
		var deliverable []int
		for i := start; i < end; i++ {
			if outcomes[i].Status == ItemDelivered {
				pageEntries = append(pageEntries, entries[i]...)
				deliverable = append(deliverable, i)
			}
		}

		if len(pageEntries) > 0 {
			pushErr := tmErr
			if pushErr == nil {
				pushErr = s.pushPage(ctx, cb.HIRequest.DataPushURL, &DataPush{
					PageNumber:    page + 1,
					PageCount:     pageCount,
					TransactionID: cb.TransactionID,
					Entries:       pageEntries,
					KeyMaterial:   tm,
				})
			}
			if pushErr != nil {
				for _, i := range deliverable {
					outcomes[i].Status = ItemErrored
					outcomes[i].Description = "Error occurred while sending health data to HIU: " + pushErr.Error()
				}
			}
		}

		pageStatuses, err := json.Marshal(outcomes[start:end])
		if err != nil {
			s.logger.Error().Err(err).Msg("marshal page outcomes")
			continue
		}
		tr := &Transfer{
			HIPRequestID: job.ID,
			PageNumber:   page + 1,
			PageCount:    pageCount,
			CareContexts: pageStatuses,
		}
		if err := s.repo.CreateTransfer(ctx, tr); err != nil {
			s.logger.Error().Err(err).Int("page", page+1).Msg("record transfer page")
		}
	}
}

func (s *Service) pushPage(ctx context.Context, url string, push *DataPush) error {
	return s.runner.Run(ctx, "health data push", func(ctx context.Context) error {
		body, err := json.Marshal(push)
		if err != nil {
			return fmt.Errorf("marshal data push: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build data push: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return &gateway.ServiceUnavailableError{Cause: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("push endpoint returned %d", resp.StatusCode)
		}
		return nil
	})
}

func (s *Service) acknowledgeHIPRequest(ctx context.Context, cb *HIPRequestCallback) error {
	rd := gateway.NewRequestData()
	payload := map[string]interface{}{
		"requestId": rd.RequestID,
		"timestamp": rd.Timestamp,
		"hiRequest": map[string]string{
			"transactionId": cb.TransactionID,
			"sessionStatus": string(SessionAcknowledged),
		},
		"resp": map[string]string{"requestId": cb.RequestID},
	}
	return s.runner.Run(ctx, "health-information/hip/on-request", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathHealthInfoHIPOnRequest, payload)
		return err
	})
}

func (s *Service) postOnRequestError(ctx context.Context, cb *HIPRequestCallback, code int, message string) error {
	rd := gateway.NewRequestData()
	payload := map[string]interface{}{
		"requestId": rd.RequestID,
		"timestamp": rd.Timestamp,
		"error":     map[string]interface{}{"code": code, "message": message},
		"resp":      map[string]string{"requestId": cb.RequestID},
	}
	return s.runner.Run(ctx, "health-information/hip/on-request", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathHealthInfoHIPOnRequest, payload)
		return err
	})
}

func (s *Service) notifySession(ctx context.Context, consentID, transactionID, notifierType, notifierID string, status SessionStatus, outcomes []CareContextStatus) error {
	rd := gateway.NewRequestData()
	statusNotification := map[string]interface{}{
		"sessionStatus": string(status),
	}
	if notifierType == "HIP" {
		statusNotification["hipId"] = notifierID
	} else {
		statusNotification["hiuId"] = notifierID
	}
	if outcomes != nil {
		statusNotification["statusResponses"] = outcomes
	}
	payload := map[string]interface{}{
		"requestId": rd.RequestID,
		"timestamp": rd.Timestamp,
		"notification": map[string]interface{}{
			"consentId":     consentID,
			"transactionId": transactionID,
			"doneAt":        gateway.Timestamp(),
			"notifier": map[string]string{
				"type": notifierType,
				"id":   notifierID,
			},
			"statusNotification": statusNotification,
		},
	}
	return s.runner.Run(ctx, "health-information/notify", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathHealthInfoNotify, payload)
		return err
	})
}

func (s *Service) markHIPError(ctx context.Context, job *HIPRequest, msg string) {
	job.Status = SessionError
	job.ErrorMessage = &msg
	if err := s.repo.UpdateHIPRequest(ctx, job); err != nil {
		s.logger.Error().Err(err).
			Str("transaction_id", job.TransactionID).
			Msg("record transfer failure")
	}
}

func parseWireTime(value string) (time.Time, error) {
	for _, layout := range []string{gateway.TimestampLayout, time.RFC3339, time.RFC3339Nano} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// ---- consumer side ----

// HIURequestInput is the host API request to pull records under a granted
// consent.
type HIURequestInput struct {
	ArtefactID string    `json:"artefact_id"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
}

type onRequestCallback struct {
	gateway.Envelope
	HIRequest *struct {
		TransactionID string `json:"transactionId"`
		SessionStatus string `json:"sessionStatus"`
	} `json:"hiRequest"`
}

// RequestHealthInformation initiates a consumer-side data request: mint key
// material, post the request, and wait for the gateway's acknowledgement
// carrying the transfer's transaction id.
func (s *Service) RequestHealthInformation(ctx context.Context, in HIURequestInput) (*HIURequest, error) {
	art, err := s.consents.GetArtefact(ctx, in.ArtefactID)
	if err != nil {
		if errors.Is(err, consent.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if art.Expired(time.Now().UTC()) {
		return nil, ErrConsentExpired
	}

	km, err := crypto.GenerateKeyMaterial()
	if err != nil {
		return nil, err
	}
	kmRaw, err := json.Marshal(km)
	if err != nil {
		return nil, fmt.Errorf("marshal key material: %w", err)
	}
	tm, err := km.TransferMaterial(false)
	if err != nil {
		return nil, err
	}

	rd := gateway.NewRequestData()
	req := &HIURequest{
		ArtefactID:       in.ArtefactID,
		GatewayRequestID: rd.RequestID,
		KeyMaterial:      kmRaw,
		Status:           SessionPending,
	}
	if err := s.repo.CreateHIURequest(ctx, req); err != nil {
		return nil, fmt.Errorf("store data request: %w", err)
	}

	payload := map[string]interface{}{
		"requestId": rd.RequestID,
		"timestamp": rd.Timestamp,
		"hiRequest": map[string]interface{}{
			"consent": map[string]string{"id": in.ArtefactID},
			"dateRange": map[string]string{
				"from": in.From.UTC().Format(gateway.TimestampLayout),
				"to":   in.To.UTC().Format(gateway.TimestampLayout),
			},
			"dataPushUrl": s.cfg.DataPushURL,
			"keyMaterial": tm,
		},
	}
	err = s.runner.Run(ctx, "health-information/cm/request", func(ctx context.Context) error {
		_, err := s.gw.Post(ctx, gateway.PathHealthInfoCMRequest, payload)
		return err
	})
	if err != nil {
		s.markHIUError(ctx, req, err)
		return nil, err
	}

	data, ok := s.corr.Await(ctx, rd.RequestID, s.cfg.PollAttempts, s.cfg.PollInterval)
	if !ok {
		return nil, &gateway.CallbackTimeoutError{RequestID: rd.RequestID}
	}
	var cb onRequestCallback
	if err := json.Unmarshal(data, &cb); err != nil {
		s.markHIUError(ctx, req, err)
		return nil, fmt.Errorf("parse on-request callback: %w", err)
	}
	if err := cb.Err(); err != nil {
		s.markHIUError(ctx, req, err)
		return nil, err
	}
	if cb.HIRequest == nil || cb.HIRequest.TransactionID == "" {
		err := errors.New("on-request callback missing transaction id")
		s.markHIUError(ctx, req, err)
		return nil, err
	}

	req.TransactionID = &cb.HIRequest.TransactionID
	req.Status = SessionRequested
	if err := s.repo.UpdateHIURequest(ctx, req); err != nil {
		return nil, fmt.Errorf("update data request: %w", err)
	}
	return req, nil
}

func (s *Service) markHIUError(ctx context.Context, req *HIURequest, cause error) {
	msg := cause.Error()
	req.Status = SessionError
	req.ErrorMessage = &msg
	if err := s.repo.UpdateHIURequest(ctx, req); err != nil {
		s.logger.Error().Err(err).
			Str("artefact_id", req.ArtefactID).
			Msg("record data request failure")
	}
}

// ReceiveData decrypts a pushed page against the stored key material,
// verifies checksums, stores each record, and notifies the gateway of the
// session outcome.
func (s *Service) ReceiveData(ctx context.Context, push *DataPush) error {
	req, err := s.repo.GetHIURequestByTransaction(ctx, push.TransactionID)
	if err != nil {
		return err
	}
	var km crypto.KeyMaterial
	if err := json.Unmarshal(req.KeyMaterial, &km); err != nil {
		return fmt.Errorf("load key material: %w", err)
	}
	if push.KeyMaterial == nil {
		return errors.New("data push missing key material")
	}

	outcomes := make([]CareContextStatus, 0, len(push.Entries))
	failed := 0
	for _, entry := range push.Entries {
		outcome := CareContextStatus{Reference: entry.CareContextReference, Status: ItemDelivered, Description: "Delivered"}
		plaintext, err := km.Decrypt(push.KeyMaterial.DHPublicKey.KeyValue, push.KeyMaterial.Nonce, entry.Content)
		if err != nil {
			outcome.Status = ItemErrored
			outcome.Description = "Error occurred while decryption process: " + err.Error()
			outcomes = append(outcomes, outcome)
			failed++
			continue
		}
		if entry.Checksum != "" && crypto.Checksum(plaintext) != entry.Checksum {
			outcome.Status = ItemErrored
			outcome.Description = "Checksum verification failed for " + entry.CareContextReference
			outcomes = append(outcomes, outcome)
			failed++
			continue
		}

		content := json.RawMessage(plaintext)
		if s.collab.Transform != nil {
			transformed, err := s.collab.Transform.Transform(ctx, content)
			if err == nil {
				content = transformed
			} else if !errors.Is(err, hrp.ErrUnsupported) {
				s.logger.Warn().Err(err).
					Str("care_context", entry.CareContextReference).
					Msg("bundle transform failed, storing raw bundle")
			}
		}

		hd := &HealthData{
			HIURequestID:         req.ID,
			CareContextReference: entry.CareContextReference,
			Content:              content,
		}
		if err := s.repo.CreateHealthData(ctx, hd); err != nil {
			outcome.Status = ItemErrored
			outcome.Description = "Error occurred while storing health data: " + err.Error()
			failed++
		}
		outcomes = append(outcomes, outcome)
	}

	if push.PageNumber >= push.PageCount {
		if failed == 0 {
			req.Status = SessionTransferred
		} else {
			req.Status = SessionFailed
		}
		if err := s.repo.UpdateHIURequest(ctx, req); err != nil {
			return fmt.Errorf("update data request: %w", err)
		}
		return s.notifySession(ctx, req.ArtefactID, push.TransactionID, "HIU", s.cfg.HIUID, req.Status, outcomes)
	}
	return nil
}

// ---- queries ----

// GetHIURequest loads one consumer-side data request.
func (s *Service) GetHIURequest(ctx context.Context, id uuid.UUID) (*HIURequest, error) {
	return s.repo.GetHIURequest(ctx, id)
}

// ListHIURequests pages through consumer-side data requests.
func (s *Service) ListHIURequests(ctx context.Context, limit, offset int) ([]*HIURequest, int, error) {
	return s.repo.ListHIURequests(ctx, limit, offset)
}

// ListHealthData returns the decrypted records received for a request.
func (s *Service) ListHealthData(ctx context.Context, hiuRequestID uuid.UUID) ([]*HealthData, error) {
	return s.repo.ListHealthData(ctx, hiuRequestID)
}

// ListHIPRequests pages through provider-side transfer jobs.
func (s *Service) ListHIPRequests(ctx context.Context, limit, offset int) ([]*HIPRequest, int, error) {
	return s.repo.ListHIPRequests(ctx, limit, offset)
}

// ListTransfers returns the recorded pages of a provider-side job.
func (s *Service) ListTransfers(ctx context.Context, hipRequestID uuid.UUID) ([]*Transfer, error) {
	return s.repo.ListTransfers(ctx, hipRequestID)
}
