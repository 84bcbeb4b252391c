package consent

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a consent request or artefact.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRequested Status = "REQUESTED"
	StatusGranted   Status = "GRANTED"
	StatusDenied    Status = "DENIED"
	StatusRevoked   Status = "REVOKED"
	StatusExpired   Status = "EXPIRED"
	StatusError     Status = "ERROR"
)

// HealthInfoTypes is the vocabulary of health-information categories a
// consent can cover.
var HealthInfoTypes = []string{
	"Prescription",
	"OPConsultation",
	"DischargeSummary",
	"DiagnosticReport",
	"ImmunizationRecord",
	"HealthDocumentRecord",
	"WellnessRecord",
}

// PurposeCodes is the vocabulary of purpose-of-use codes.
var PurposeCodes = []string{"CAREMGT", "BTG", "PUBHLTH", "HPAYMT", "DSRCH", "PATRQT"}

func ValidHealthInfoType(t string) bool {
	for _, v := range HealthInfoTypes {
		if v == t {
			return true
		}
	}
	return false
}

func ValidPurposeCode(c string) bool {
	for _, v := range PurposeCodes {
		if v == c {
			return true
		}
	}
	return false
}

// Actor identifies a participant (patient, provider, consumer) by exchange id.
type Actor struct {
	ID string `json:"id"`
}

// CareContext scopes a consent to one care context of one patient.
type CareContext struct {
	PatientReference     string `json:"patientReference"`
	CareContextReference string `json:"careContextReference"`
}

// DateRange bounds which records a consent covers.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether ts falls inside the range, inclusive.
func (r DateRange) Contains(ts time.Time) bool {
	return !ts.Before(r.From) && !ts.After(r.To)
}

// Frequency limits how often data may be requested under a consent.
type Frequency struct {
	Unit    string `json:"unit"`
	Value   int    `json:"value"`
	Repeats int    `json:"repeats"`
}

// Permission is the access grant inside a consent detail.
type Permission struct {
	AccessMode  string     `json:"accessMode"`
	DateRange   DateRange  `json:"dateRange"`
	DataEraseAt time.Time  `json:"dataEraseAt"`
	Frequency   *Frequency `json:"frequency,omitempty"`
}

// Purpose is the declared purpose of use.
type Purpose struct {
	Text   string `json:"text"`
	Code   string `json:"code"`
	RefURI string `json:"refUri,omitempty"`
}

// Requester names the person asking for access.
type Requester struct {
	Name string `json:"name"`
}

// Detail is the consent body as it travels on the wire.
type Detail struct {
	ConsentID    string        `json:"consentId,omitempty"`
	Patient      Actor         `json:"patient"`
	CareContexts []CareContext `json:"careContexts,omitempty"`
	Purpose      Purpose       `json:"purpose"`
	HIP          *Actor        `json:"hip,omitempty"`
	HIU          *Actor        `json:"hiu,omitempty"`
	HITypes      []string      `json:"hiTypes"`
	Permission   Permission    `json:"permission"`
	Requester    *Requester    `json:"requester,omitempty"`
}

// Artefact is a granted consent held locally. Provider-side artefacts arrive
// via grant notifications; consumer-side artefacts are fetched after a grant
// and carry the originating request id.
type Artefact struct {
	ID                uuid.UUID       `db:"id" json:"id"`
	ArtefactID        string          `db:"artefact_id" json:"artefact_id"`
	ConsentRequestID  *uuid.UUID      `db:"consent_request_id" json:"consent_request_id,omitempty"`
	Details           json.RawMessage `db:"details" json:"details"`
	Signature         string          `db:"signature" json:"signature"`
	GrantAcknowledged bool            `db:"grant_acknowledged" json:"grant_acknowledged"`
	ExpiryDate        time.Time       `db:"expiry_date" json:"expiry_date"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Detail parses the stored consent body.
func (a *Artefact) Detail() (*Detail, error) {
	var d Detail
	if err := json.Unmarshal(a.Details, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Expired reports whether the artefact is past its erase-at time.
func (a *Artefact) Expired(now time.Time) bool {
	return now.After(a.ExpiryDate)
}

// Request is a consumer-side consent request through its lifecycle. The
// date range, expiry and hi types start out as what was asked for and are
// refreshed from the granted artefact, which the patient may have narrowed.
type Request struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	GatewayRequestID string          `db:"gateway_request_id" json:"gateway_request_id"`
	ConsentRequestID *string         `db:"consent_request_id" json:"consent_request_id,omitempty"`
	Status           Status          `db:"status" json:"status"`
	Details          json.RawMessage `db:"details" json:"details"`
	HealthInfoFrom   time.Time       `db:"health_info_from" json:"health_info_from"`
	HealthInfoTo     time.Time       `db:"health_info_to" json:"health_info_to"`
	HealthInfoTypes  []string        `db:"health_info_types" json:"health_info_types"`
	ExpiryDate       time.Time       `db:"expiry_date" json:"expiry_date"`
	ErrorMessage     *string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// ApplyAmendableDetail copies the patient-amendable permission fields from a
// consent detail onto the request.
func (r *Request) ApplyAmendableDetail(d *Detail) {
	r.HealthInfoFrom = d.Permission.DateRange.From
	r.HealthInfoTo = d.Permission.DateRange.To
	r.HealthInfoTypes = d.HITypes
	r.ExpiryDate = d.Permission.DataEraseAt
}
