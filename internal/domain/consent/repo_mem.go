package consent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository backs the consent store for tests and single-node
// deployments without Postgres.
type InMemoryRepository struct {
	mu            sync.RWMutex
	artefacts     map[string]*Artefact
	artefactOrder []string
	requests      map[uuid.UUID]*Request
	requestOrder  []uuid.UUID
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		artefacts: make(map[string]*Artefact),
		requests:  make(map[uuid.UUID]*Request),
	}
}

func (r *InMemoryRepository) SaveArtefact(_ context.Context, a *Artefact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.artefacts[a.ArtefactID]; ok {
		a.ID = existing.ID
		a.CreatedAt = existing.CreatedAt
	} else {
		if a.ID == uuid.Nil {
			a.ID = uuid.New()
		}
		a.CreatedAt = now
		r.artefactOrder = append(r.artefactOrder, a.ArtefactID)
	}
	a.UpdatedAt = now
	cp := *a
	r.artefacts[a.ArtefactID] = &cp
	return nil
}

func (r *InMemoryRepository) GetArtefact(_ context.Context, artefactID string) (*Artefact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.artefacts[artefactID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *InMemoryRepository) DeleteArtefact(_ context.Context, artefactID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.artefacts[artefactID]; !ok {
		return ErrNotFound
	}
	delete(r.artefacts, artefactID)
	r.artefactOrder = removeString(r.artefactOrder, artefactID)
	return nil
}

func (r *InMemoryRepository) DeleteArtefactsForRequest(_ context.Context, requestID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.artefacts {
		if a.ConsentRequestID != nil && *a.ConsentRequestID == requestID {
			delete(r.artefacts, id)
			r.artefactOrder = removeString(r.artefactOrder, id)
		}
	}
	return nil
}

func (r *InMemoryRepository) ListArtefacts(_ context.Context, limit, offset int) ([]*Artefact, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := len(r.artefactOrder)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	items := make([]*Artefact, 0, end-offset)
	for _, id := range r.artefactOrder[offset:end] {
		cp := *r.artefacts[id]
		items = append(items, &cp)
	}
	return items, total, nil
}

func (r *InMemoryRepository) DeleteExpiredArtefacts(_ context.Context, now time.Time) ([]*Artefact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*Artefact
	for _, id := range append([]string(nil), r.artefactOrder...) {
		a := r.artefacts[id]
		if !a.ExpiryDate.After(now) {
			cp := *a
			expired = append(expired, &cp)
			delete(r.artefacts, id)
			r.artefactOrder = removeString(r.artefactOrder, id)
		}
	}
	return expired, nil
}

func (r *InMemoryRepository) CreateRequest(_ context.Context, req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	cp := *req
	r.requests[req.ID] = &cp
	r.requestOrder = append(r.requestOrder, req.ID)
	return nil
}

func (r *InMemoryRepository) GetRequest(_ context.Context, id uuid.UUID) (*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *InMemoryRepository) GetRequestByConsentRequestID(_ context.Context, consentRequestID string) (*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, req := range r.requests {
		if req.ConsentRequestID != nil && *req.ConsentRequestID == consentRequestID {
			cp := *req
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) UpdateRequest(_ context.Context, req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.requests[req.ID]
	if !ok {
		return ErrNotFound
	}
	req.CreatedAt = existing.CreatedAt
	req.UpdatedAt = time.Now().UTC()
	cp := *req
	r.requests[req.ID] = &cp
	return nil
}

func (r *InMemoryRepository) ListRequests(_ context.Context, status Status, limit, offset int) ([]*Request, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var filtered []*Request
	for _, id := range r.requestOrder {
		req := r.requests[id]
		if status != "" && req.Status != status {
			continue
		}
		cp := *req
		filtered = append(filtered, &cp)
	}
	total := len(filtered)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
