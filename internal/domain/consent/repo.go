package consent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned for lookups that match nothing.
var ErrNotFound = errors.New("consent: not found")

type Repository interface {
	// SaveArtefact inserts the artefact or replaces an existing one with the
	// same artefact id.
	SaveArtefact(ctx context.Context, a *Artefact) error
	GetArtefact(ctx context.Context, artefactID string) (*Artefact, error)
	DeleteArtefact(ctx context.Context, artefactID string) error
	DeleteArtefactsForRequest(ctx context.Context, requestID uuid.UUID) error
	ListArtefacts(ctx context.Context, limit, offset int) ([]*Artefact, int, error)
	// DeleteExpiredArtefacts removes artefacts whose expiry is at or before
	// now and returns them so callers can cascade status changes.
	DeleteExpiredArtefacts(ctx context.Context, now time.Time) ([]*Artefact, error)

	CreateRequest(ctx context.Context, r *Request) error
	GetRequest(ctx context.Context, id uuid.UUID) (*Request, error)
	GetRequestByConsentRequestID(ctx context.Context, consentRequestID string) (*Request, error)
	UpdateRequest(ctx context.Context, r *Request) error
	ListRequests(ctx context.Context, status Status, limit, offset int) ([]*Request, int, error)
}
