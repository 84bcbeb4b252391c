// Package linking implements patient and care-context linking: provider
// initiated additions, and the patient-initiated discover, init, confirm
// handshake with its OTP challenge.
package linking

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LinkStatus is the lifecycle state of a link request.
type LinkStatus string

const (
	LinkPending LinkStatus = "PENDING"
	LinkSuccess LinkStatus = "SUCCESS"
	LinkError   LinkStatus = "ERROR"
)

// Initiator records which side started a link.
type Initiator string

const (
	InitiatorPatient Initiator = "PATIENT"
	InitiatorHIP     Initiator = "HIP"
)

// LinkRequest is one attempt to link care contexts to a patient's exchange
// address.
type LinkRequest struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	HIPID            string     `db:"hip_id" json:"hip_id"`
	PatientReference string     `db:"patient_reference" json:"patient_reference"`
	PatientDisplay   string     `db:"patient_display" json:"patient_display"`
	Initiator        Initiator  `db:"initiator" json:"initiator"`
	Status           LinkStatus `db:"status" json:"status"`
	GatewayRequestID *string    `db:"gateway_request_id" json:"gateway_request_id,omitempty"`
	ErrorMessage     *string    `db:"error_message" json:"error_message,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// CareContext is one care context carried by a link request.
type CareContext struct {
	ID             uuid.UUID       `db:"id" json:"id"`
	LinkRequestID  uuid.UUID       `db:"link_request_id" json:"link_request_id"`
	Reference      string          `db:"reference" json:"reference"`
	Display        string          `db:"display" json:"display"`
	HITypes        []string        `db:"hi_types" json:"hi_types"`
	AdditionalInfo json.RawMessage `db:"additional_info" json:"additional_info,omitempty"`
}

// DiscoveryRequest snapshots a discovery round so the follow-up link/init
// can validate its transaction id and reuse the matched care contexts.
type DiscoveryRequest struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	TransactionID    string          `db:"transaction_id" json:"transaction_id"`
	PatientReference *string         `db:"patient_reference" json:"patient_reference,omitempty"`
	CareContexts     json.RawMessage `db:"care_contexts" json:"care_contexts,omitempty"`
	Error            *string         `db:"error" json:"error,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// PatientLinkRequest tracks a patient-initiated link between init and
// confirm, holding the OTP transaction custody.
type PatientLinkRequest struct {
	ID                  uuid.UUID       `db:"id" json:"id"`
	LinkRequestID       uuid.UUID       `db:"link_request_id" json:"link_request_id"`
	TransactionID       string          `db:"transaction_id" json:"transaction_id"`
	LinkReferenceNumber string          `db:"link_reference_number" json:"link_reference_number"`
	OTPTransactionID    string          `db:"otp_transaction_id" json:"-"`
	PatientReference    string          `db:"patient_reference" json:"patient_reference"`
	CareContexts        json.RawMessage `db:"care_contexts" json:"care_contexts,omitempty"`
	Status              LinkStatus      `db:"status" json:"status"`
	CreatedAt           time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updated_at"`
}

// AlreadyLinkedError rejects re-linking care contexts that already completed
// a link.
type AlreadyLinkedError struct {
	Refs []string
}

func (e *AlreadyLinkedError) Error() string {
	return strings.Join(e.Refs, ", ") + " care contexts are already linked"
}
