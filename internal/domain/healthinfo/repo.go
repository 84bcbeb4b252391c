package healthinfo

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("healthinfo: not found")

// Repository persists transfer jobs on both sides with their pages and
// received records.
type Repository interface {
	CreateHIPRequest(ctx context.Context, req *HIPRequest) error
	UpdateHIPRequest(ctx context.Context, req *HIPRequest) error
	GetHIPRequest(ctx context.Context, id uuid.UUID) (*HIPRequest, error)
	GetHIPRequestByTransaction(ctx context.Context, transactionID string) (*HIPRequest, error)
	ListHIPRequests(ctx context.Context, limit, offset int) ([]*HIPRequest, int, error)

	CreateTransfer(ctx context.Context, tr *Transfer) error
	ListTransfers(ctx context.Context, hipRequestID uuid.UUID) ([]*Transfer, error)

	CreateHIURequest(ctx context.Context, req *HIURequest) error
	UpdateHIURequest(ctx context.Context, req *HIURequest) error
	GetHIURequest(ctx context.Context, id uuid.UUID) (*HIURequest, error)
	GetHIURequestByTransaction(ctx context.Context, transactionID string) (*HIURequest, error)
	ListHIURequests(ctx context.Context, limit, offset int) ([]*HIURequest, int, error)

	CreateHealthData(ctx context.Context, hd *HealthData) error
	ListHealthData(ctx context.Context, hiuRequestID uuid.UUID) ([]*HealthData, error)
}
