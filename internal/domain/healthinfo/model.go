// Package healthinfo implements the health-information transfer pipeline:
// provider-side fulfilment of gateway data requests, and consumer-side
// request initiation with decryption of the pushed payloads.
package healthinfo

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a transfer session.
type SessionStatus string

const (
	SessionPending      SessionStatus = "PENDING"
	SessionRequested    SessionStatus = "REQUESTED"
	SessionAcknowledged SessionStatus = "ACKNOWLEDGED"
	SessionTransferred  SessionStatus = "TRANSFERRED"
	SessionFailed       SessionStatus = "FAILED"
	SessionError        SessionStatus = "ERROR"
)

// ItemStatus is the per-care-context outcome inside a transfer.
type ItemStatus string

const (
	ItemDelivered ItemStatus = "DELIVERED"
	ItemErrored   ItemStatus = "ERRORED"
)

// CareContextStatus is one care context's outcome with its description.
type CareContextStatus struct {
	Reference   string     `json:"careContextReference"`
	Status      ItemStatus `json:"hiStatus"`
	Description string     `json:"description"`
}

// HIPRequest is a provider-side transfer job triggered by a gateway data
// request.
type HIPRequest struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	TransactionID    string          `db:"transaction_id" json:"transaction_id"`
	ConsentID        string          `db:"consent_id" json:"consent_id"`
	GatewayRequestID string          `db:"gateway_request_id" json:"gateway_request_id"`
	DateFrom         time.Time       `db:"date_from" json:"date_from"`
	DateTo           time.Time       `db:"date_to" json:"date_to"`
	DataPushURL      string          `db:"data_push_url" json:"data_push_url"`
	KeyMaterial      json.RawMessage `db:"key_material" json:"-"`
	Status           SessionStatus   `db:"status" json:"status"`
	ErrorMessage     *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Transfer is one delivered page of a provider-side job, holding only that
// page's per-item outcomes.
type Transfer struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	HIPRequestID uuid.UUID       `db:"hip_request_id" json:"hip_request_id"`
	PageNumber   int             `db:"page_number" json:"page_number"`
	PageCount    int             `db:"page_count" json:"page_count"`
	CareContexts json.RawMessage `db:"care_contexts" json:"care_contexts"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}

// Statuses parses the page's per-item outcomes.
func (t *Transfer) Statuses() ([]CareContextStatus, error) {
	var out []CareContextStatus
	if err := json.Unmarshal(t.CareContexts, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HIURequest is a consumer-side data request with custody of the key
// material minted for it.
type HIURequest struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	ArtefactID       string          `db:"artefact_id" json:"artefact_id"`
	GatewayRequestID string          `db:"gateway_request_id" json:"gateway_request_id"`
	TransactionID    *string         `db:"transaction_id" json:"transaction_id,omitempty"`
	KeyMaterial      json.RawMessage `db:"key_material" json:"-"`
	Status           SessionStatus   `db:"status" json:"status"`
	ErrorMessage     *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// HealthData is one decrypted record received for a consumer-side request.
type HealthData struct {
	ID                   uuid.UUID       `db:"id" json:"id"`
	HIURequestID         uuid.UUID       `db:"hiu_request_id" json:"hiu_request_id"`
	CareContextReference string          `db:"care_context_reference" json:"care_context_reference"`
	Content              json.RawMessage `db:"content" json:"content"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
}
