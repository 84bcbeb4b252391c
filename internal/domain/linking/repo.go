package linking

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("linking: not found")

// Repository persists link requests, their care contexts, and the interim
// state of patient-initiated link handshakes.
type Repository interface {
	// CreateLinkRequest stores the request and its care contexts atomically.
	CreateLinkRequest(ctx context.Context, lr *LinkRequest, contexts []*CareContext) error
	UpdateLinkRequest(ctx context.Context, lr *LinkRequest) error
	GetLinkRequest(ctx context.Context, id uuid.UUID) (*LinkRequest, error)
	GetLinkRequestByGatewayRequestID(ctx context.Context, gatewayRequestID string) (*LinkRequest, error)
	ListLinkRequests(ctx context.Context, limit, offset int) ([]*LinkRequest, int, error)
	ListCareContexts(ctx context.Context, linkRequestID uuid.UUID) ([]*CareContext, error)

	// LinkedRefs returns the care-context references of the patient's
	// successful link requests.
	LinkedRefs(ctx context.Context, hipID, patientReference string) ([]string, error)
	// FindCareContext resolves a successfully linked care context to the
	// hi types recorded for it.
	FindCareContext(ctx context.Context, patientReference, careContextReference string) (*CareContext, error)

	CreateDiscoveryRequest(ctx context.Context, dr *DiscoveryRequest) error
	GetDiscoveryRequestByTransaction(ctx context.Context, transactionID string) (*DiscoveryRequest, error)

	CreatePatientLinkRequest(ctx context.Context, plr *PatientLinkRequest) error
	GetPatientLinkRequestByRef(ctx context.Context, linkReferenceNumber string) (*PatientLinkRequest, error)
	UpdatePatientLinkRequest(ctx context.Context, plr *PatientLinkRequest) error
}
