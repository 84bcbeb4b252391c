package linking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository backs the linking store for tests and single-node
// deployments without Postgres.
type InMemoryRepository struct {
	mu           sync.RWMutex
	linkRequests map[uuid.UUID]*LinkRequest
	linkOrder    []uuid.UUID
	careContexts map[uuid.UUID][]*CareContext
	discoveries  []*DiscoveryRequest
	patientLinks map[string]*PatientLinkRequest
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		linkRequests: make(map[uuid.UUID]*LinkRequest),
		careContexts: make(map[uuid.UUID][]*CareContext),
		patientLinks: make(map[string]*PatientLinkRequest),
	}
}

func (r *InMemoryRepository) CreateLinkRequest(_ context.Context, lr *LinkRequest, contexts []*CareContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lr.ID == uuid.Nil {
		lr.ID = uuid.New()
	}
	now := time.Now().UTC()
	lr.CreatedAt = now
	lr.UpdatedAt = now
	cp := *lr
	r.linkRequests[lr.ID] = &cp
	r.linkOrder = append(r.linkOrder, lr.ID)
	for _, cc := range contexts {
		if cc.ID == uuid.Nil {
			cc.ID = uuid.New()
		}
		cc.LinkRequestID = lr.ID
		ccCp := *cc
		r.careContexts[lr.ID] = append(r.careContexts[lr.ID], &ccCp)
	}
	return nil
}

func (r *InMemoryRepository) UpdateLinkRequest(_ context.Context, lr *LinkRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.linkRequests[lr.ID]
	if !ok {
		return ErrNotFound
	}
	lr.CreatedAt = existing.CreatedAt
	lr.UpdatedAt = time.Now().UTC()
	cp := *lr
	r.linkRequests[lr.ID] = &cp
	return nil
}

func (r *InMemoryRepository) GetLinkRequest(_ context.Context, id uuid.UUID) (*LinkRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lr, ok := r.linkRequests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *lr
	return &cp, nil
}

func (r *InMemoryRepository) GetLinkRequestByGatewayRequestID(_ context.Context, gatewayRequestID string) (*LinkRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.linkOrder) - 1; i >= 0; i-- {
		lr := r.linkRequests[r.linkOrder[i]]
		if lr.GatewayRequestID != nil && *lr.GatewayRequestID == gatewayRequestID {
			cp := *lr
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) ListLinkRequests(_ context.Context, limit, offset int) ([]*LinkRequest, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := len(r.linkOrder)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	items := make([]*LinkRequest, 0, end-offset)
	for _, id := range r.linkOrder[offset:end] {
		cp := *r.linkRequests[id]
		items = append(items, &cp)
	}
	return items, total, nil
}

func (r *InMemoryRepository) ListCareContexts(_ context.Context, linkRequestID uuid.UUID) ([]*CareContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []*CareContext
	for _, cc := range r.careContexts[linkRequestID] {
		cp := *cc
		items = append(items, &cp)
	}
	return items, nil
}

func (r *InMemoryRepository) LinkedRefs(_ context.Context, hipID, patientReference string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var refs []string
	for _, id := range r.linkOrder {
		lr := r.linkRequests[id]
		if lr.HIPID != hipID || lr.PatientReference != patientReference || lr.Status != LinkSuccess {
			continue
		}
		for _, cc := range r.careContexts[id] {
			refs = append(refs, cc.Reference)
		}
	}
	return refs, nil
}

func (r *InMemoryRepository) FindCareContext(_ context.Context, patientReference, careContextReference string) (*CareContext, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.linkOrder) - 1; i >= 0; i-- {
		lr := r.linkRequests[r.linkOrder[i]]
		if lr.PatientReference != patientReference || lr.Status != LinkSuccess {
			continue
		}
		for _, cc := range r.careContexts[lr.ID] {
			if cc.Reference == careContextReference {
				cp := *cc
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) CreateDiscoveryRequest(_ context.Context, dr *DiscoveryRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dr.ID == uuid.Nil {
		dr.ID = uuid.New()
	}
	dr.CreatedAt = time.Now().UTC()
	cp := *dr
	r.discoveries = append(r.discoveries, &cp)
	return nil
}

func (r *InMemoryRepository) GetDiscoveryRequestByTransaction(_ context.Context, transactionID string) (*DiscoveryRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.discoveries) - 1; i >= 0; i-- {
		if r.discoveries[i].TransactionID == transactionID {
			cp := *r.discoveries[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) CreatePatientLinkRequest(_ context.Context, plr *PatientLinkRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if plr.ID == uuid.Nil {
		plr.ID = uuid.New()
	}
	now := time.Now().UTC()
	plr.CreatedAt = now
	plr.UpdatedAt = now
	cp := *plr
	r.patientLinks[plr.LinkReferenceNumber] = &cp
	return nil
}

func (r *InMemoryRepository) GetPatientLinkRequestByRef(_ context.Context, linkReferenceNumber string) (*PatientLinkRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plr, ok := r.patientLinks[linkReferenceNumber]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *plr
	return &cp, nil
}

func (r *InMemoryRepository) UpdatePatientLinkRequest(_ context.Context, plr *PatientLinkRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.patientLinks[plr.LinkReferenceNumber]
	if !ok {
		return ErrNotFound
	}
	plr.CreatedAt = existing.CreatedAt
	plr.UpdatedAt = time.Now().UTC()
	cp := *plr
	r.patientLinks[plr.LinkReferenceNumber] = &cp
	return nil
}
