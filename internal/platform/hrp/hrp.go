// Package hrp defines the seams between the bridge and the host
// health-record platform. The bridge never owns clinical data; it calls
// through these interfaces and treats unimplemented optional capabilities
// as a skip, not a failure.
package hrp

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrUnsupported is returned by optional capabilities the host platform does
// not implement.
var ErrUnsupported = errors.New("capability not implemented by host platform")

// Discovery outcomes. Each maps to its own wire error code on the
// on-discover response.
var (
	ErrPatientNotFound = errors.New("no patient matched the discovery request")
	ErrMultipleMatches = errors.New("more than one patient matched the discovery request")
)

// Identifier is a patient identifier claim (mobile number, health id, MR).
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// PatientProfile is the demographic claim a discovery request carries.
type PatientProfile struct {
	ID                    string       `json:"id"`
	Name                  string       `json:"name"`
	Gender                string       `json:"gender"`
	YearOfBirth           int          `json:"yearOfBirth"`
	VerifiedIdentifiers   []Identifier `json:"verifiedIdentifiers"`
	UnverifiedIdentifiers []Identifier `json:"unverifiedIdentifiers"`
}

// CareContextRef identifies one care context held by the platform.
type CareContextRef struct {
	ReferenceNumber string `json:"referenceNumber"`
	Display         string `json:"display"`
}

// DiscoveryResult is the single-match outcome of patient discovery.
type DiscoveryResult struct {
	ReferenceNumber string
	Display         string
	MatchedBy       []string
	CareContexts    []CareContextRef
}

// PatientDiscovery resolves a demographic claim to exactly one patient.
// Implementations return ErrPatientNotFound or ErrMultipleMatches for the
// two no-result outcomes.
type PatientDiscovery interface {
	Discover(ctx context.Context, profile PatientProfile) (*DiscoveryResult, error)
}

// HealthDataRequest scopes a clinical-data fetch to one care context.
type HealthDataRequest struct {
	CareContextReference string
	HITypes              []string
	From                 time.Time
	To                   time.Time
}

// HealthRecord is one clinical document returned by the platform.
type HealthRecord struct {
	Content    json.RawMessage
	HIType     string
	CapturedAt time.Time
}

// HealthDataProvider fetches clinical records for transfer. This is the one
// capability a data-provider deployment must implement.
type HealthDataProvider interface {
	FetchHealthData(ctx context.Context, req HealthDataRequest) ([]HealthRecord, error)
}

// OTPService dispatches and verifies link-confirmation challenges.
type OTPService interface {
	// Dispatch sends a challenge to the patient and returns the transaction
	// id needed to verify it.
	Dispatch(ctx context.Context, patientReference string) (string, error)
	Verify(ctx context.Context, transactionID, otp string) error
}

// ErrOTPMismatch is returned by OTPService.Verify for a wrong or expired code.
var ErrOTPMismatch = errors.New("otp verification failed")

// ABHAChecker is an optional capability: whether a patient already holds an
// exchange address.
type ABHAChecker interface {
	CheckABHARegistered(ctx context.Context, abhaAddress string) (bool, error)
}

// BundleTransformer post-processes decrypted bundles on the consumer side,
// e.g. flattening FHIR resources into display rows.
type BundleTransformer interface {
	Transform(ctx context.Context, bundle json.RawMessage) (json.RawMessage, error)
}

// Collaborators bundles every host-platform seam the bridge can use. Nil
// fields mean the capability is unavailable: required ones fail loudly at
// call time, optional ones are skipped.
type Collaborators struct {
	Discovery PatientDiscovery
	Data      HealthDataProvider
	OTP       OTPService
	ABHA      ABHAChecker
	Transform BundleTransformer
}
