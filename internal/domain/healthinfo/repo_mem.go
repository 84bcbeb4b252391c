package healthinfo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository backs the transfer store for tests and single-node
// deployments without Postgres.
type InMemoryRepository struct {
	mu          sync.RWMutex
	hipRequests map[uuid.UUID]*HIPRequest
	hipOrder    []uuid.UUID
	transfers   map[uuid.UUID][]*Transfer
	hiuRequests map[uuid.UUID]*HIURequest
	hiuOrder    []uuid.UUID
	healthData  map[uuid.UUID][]*HealthData
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		hipRequests: make(map[uuid.UUID]*HIPRequest),
		transfers:   make(map[uuid.UUID][]*Transfer),
		hiuRequests: make(map[uuid.UUID]*HIURequest),
		healthData:  make(map[uuid.UUID][]*HealthData),
	}
}

func (r *InMemoryRepository) CreateHIPRequest(_ context.Context, req *HIPRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	cp := *req
	r.hipRequests[req.ID] = &cp
	r.hipOrder = append(r.hipOrder, req.ID)
	return nil
}

func (r *InMemoryRepository) UpdateHIPRequest(_ context.Context, req *HIPRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.hipRequests[req.ID]
	if !ok {
		return ErrNotFound
	}
	req.CreatedAt = existing.CreatedAt
	req.UpdatedAt = time.Now().UTC()
	cp := *req
	r.hipRequests[req.ID] = &cp
	return nil
}

func (r *InMemoryRepository) GetHIPRequest(_ context.Context, id uuid.UUID) (*HIPRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.hipRequests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *InMemoryRepository) GetHIPRequestByTransaction(_ context.Context, transactionID string) (*HIPRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, req := range r.hipRequests {
		if req.TransactionID == transactionID {
			cp := *req
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) ListHIPRequests(_ context.Context, limit, offset int) ([]*HIPRequest, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := len(r.hipOrder)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	items := make([]*HIPRequest, 0, end-offset)
	for _, id := range r.hipOrder[offset:end] {
		cp := *r.hipRequests[id]
		items = append(items, &cp)
	}
	return items, total, nil
}

func (r *InMemoryRepository) CreateTransfer(_ context.Context, tr *Transfer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	tr.CreatedAt = time.Now().UTC()
	cp := *tr
	r.transfers[tr.HIPRequestID] = append(r.transfers[tr.HIPRequestID], &cp)
	return nil
}

func (r *InMemoryRepository) ListTransfers(_ context.Context, hipRequestID uuid.UUID) ([]*Transfer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []*Transfer
	for _, tr := range r.transfers[hipRequestID] {
		cp := *tr
		items = append(items, &cp)
	}
	return items, nil
}

func (r *InMemoryRepository) CreateHIURequest(_ context.Context, req *HIURequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now
	cp := *req
	r.hiuRequests[req.ID] = &cp
	r.hiuOrder = append(r.hiuOrder, req.ID)
	return nil
}

func (r *InMemoryRepository) UpdateHIURequest(_ context.Context, req *HIURequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.hiuRequests[req.ID]
	if !ok {
		return ErrNotFound
	}
	req.CreatedAt = existing.CreatedAt
	req.UpdatedAt = time.Now().UTC()
	cp := *req
	r.hiuRequests[req.ID] = &cp
	return nil
}

func (r *InMemoryRepository) GetHIURequest(_ context.Context, id uuid.UUID) (*HIURequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.hiuRequests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *req
	return &cp, nil
}

func (r *InMemoryRepository) GetHIURequestByTransaction(_ context.Context, transactionID string) (*HIURequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, req := range r.hiuRequests {
		if req.TransactionID != nil && *req.TransactionID == transactionID {
			cp := *req
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) ListHIURequests(_ context.Context, limit, offset int) ([]*HIURequest, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := len(r.hiuOrder)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	items := make([]*HIURequest, 0, end-offset)
	for _, id := range r.hiuOrder[offset:end] {
		cp := *r.hiuRequests[id]
		items = append(items, &cp)
	}
	return items, total, nil
}

func (r *InMemoryRepository) CreateHealthData(_ context.Context, hd *HealthData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hd.ID == uuid.Nil {
		hd.ID = uuid.New()
	}
	hd.CreatedAt = time.Now().UTC()
	cp := *hd
	r.healthData[hd.HIURequestID] = append(r.healthData[hd.HIURequestID], &cp)
	return nil
}

func (r *InMemoryRepository) ListHealthData(_ context.Context, hiuRequestID uuid.UUID) ([]*HealthData, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []*HealthData
	for _, hd := range r.healthData[hiuRequestID] {
		cp := *hd
		items = append(items, &cp)
	}
	return items, nil
}
