package healthinfo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hrp/abdm-bridge/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type healthinfoRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &healthinfoRepoPG{pool: pool}
}

func (r *healthinfoRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const hipReqCols = `id, transaction_id, consent_id, gateway_request_id, date_from, date_to,
	data_push_url, key_material, status, error_message, created_at, updated_at`

func scanHIPRequest(row pgx.Row) (*HIPRequest, error) {
	var req HIPRequest
	err := row.Scan(&req.ID, &req.TransactionID, &req.ConsentID, &req.GatewayRequestID,
		&req.DateFrom, &req.DateTo, &req.DataPushURL, &req.KeyMaterial,
		&req.Status, &req.ErrorMessage, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &req, err
}

func (r *healthinfoRepoPG) CreateHIPRequest(ctx context.Context, req *HIPRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO health_information_requests (id, transaction_id, consent_id, gateway_request_id,
			date_from, date_to, data_push_url, key_material, status, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		req.ID, req.TransactionID, req.ConsentID, req.GatewayRequestID,
		req.DateFrom, req.DateTo, req.DataPushURL, req.KeyMaterial, req.Status, req.ErrorMessage)
	return err
}

func (r *healthinfoRepoPG) UpdateHIPRequest(ctx context.Context, req *HIPRequest) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE health_information_requests SET status=$2, error_message=$3, updated_at=NOW()
		WHERE id = $1`,
		req.ID, req.Status, req.ErrorMessage)
	return err
}

func (r *healthinfoRepoPG) GetHIPRequest(ctx context.Context, id uuid.UUID) (*HIPRequest, error) {
	return scanHIPRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+hipReqCols+` FROM health_information_requests WHERE id = $1`, id))
}

func (r *healthinfoRepoPG) GetHIPRequestByTransaction(ctx context.Context, transactionID string) (*HIPRequest, error) {
	return scanHIPRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+hipReqCols+` FROM health_information_requests WHERE transaction_id = $1`, transactionID))
}

func (r *healthinfoRepoPG) ListHIPRequests(ctx context.Context, limit, offset int) ([]*HIPRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM health_information_requests`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+hipReqCols+` FROM health_information_requests ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*HIPRequest
	for rows.Next() {
		req, err := scanHIPRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	return items, total, nil
}

func (r *healthinfoRepoPG) CreateTransfer(ctx context.Context, tr *Transfer) error {
	if tr.ID == uuid.Nil {
		tr.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO health_data_transfers (id, hip_request_id, page_number, page_count, care_contexts)
		VALUES ($1,$2,$3,$4,$5)`,
		tr.ID, tr.HIPRequestID, tr.PageNumber, tr.PageCount, tr.CareContexts)
	return err
}

func (r *healthinfoRepoPG) ListTransfers(ctx context.Context, hipRequestID uuid.UUID) ([]*Transfer, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, hip_request_id, page_number, page_count, care_contexts, created_at
		FROM health_data_transfers
		WHERE hip_request_id = $1
		ORDER BY page_number`, hipRequestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Transfer
	for rows.Next() {
		var tr Transfer
		if err := rows.Scan(&tr.ID, &tr.HIPRequestID, &tr.PageNumber, &tr.PageCount, &tr.CareContexts, &tr.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &tr)
	}
	return items, rows.Err()
}

const hiuReqCols = `id, artefact_id, gateway_request_id, transaction_id, key_material,
	status, error_message, created_at, updated_at`

func scanHIURequest(row pgx.Row) (*HIURequest, error) {
	var req HIURequest
	err := row.Scan(&req.ID, &req.ArtefactID, &req.GatewayRequestID, &req.TransactionID,
		&req.KeyMaterial, &req.Status, &req.ErrorMessage, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &req, err
}

func (r *healthinfoRepoPG) CreateHIURequest(ctx context.Context, req *HIURequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO hiu_health_information_requests (id, artefact_id, gateway_request_id,
			transaction_id, key_material, status, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		req.ID, req.ArtefactID, req.GatewayRequestID, req.TransactionID,
		req.KeyMaterial, req.Status, req.ErrorMessage)
	return err
}

func (r *healthinfoRepoPG) UpdateHIURequest(ctx context.Context, req *HIURequest) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE hiu_health_information_requests SET transaction_id=$2, status=$3,
			error_message=$4, updated_at=NOW()
		WHERE id = $1`,
		req.ID, req.TransactionID, req.Status, req.ErrorMessage)
	return err
}

func (r *healthinfoRepoPG) GetHIURequest(ctx context.Context, id uuid.UUID) (*HIURequest, error) {
	return scanHIURequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+hiuReqCols+` FROM hiu_health_information_requests WHERE id = $1`, id))
}

func (r *healthinfoRepoPG) GetHIURequestByTransaction(ctx context.Context, transactionID string) (*HIURequest, error) {
	return scanHIURequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+hiuReqCols+` FROM hiu_health_information_requests WHERE transaction_id = $1`, transactionID))
}

func (r *healthinfoRepoPG) ListHIURequests(ctx context.Context, limit, offset int) ([]*HIURequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM hiu_health_information_requests`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+hiuReqCols+` FROM hiu_health_information_requests ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*HIURequest
	for rows.Next() {
		req, err := scanHIURequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	return items, total, nil
}

func (r *healthinfoRepoPG) CreateHealthData(ctx context.Context, hd *HealthData) error {
	if hd.ID == uuid.Nil {
		hd.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO health_data (id, hiu_request_id, care_context_reference, content)
		VALUES ($1,$2,$3,$4)`,
		hd.ID, hd.HIURequestID, hd.CareContextReference, hd.Content)
	return err
}

func (r *healthinfoRepoPG) ListHealthData(ctx context.Context, hiuRequestID uuid.UUID) ([]*HealthData, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, hiu_request_id, care_context_reference, content, created_at
		FROM health_data
		WHERE hiu_request_id = $1
		ORDER BY created_at`, hiuRequestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*HealthData
	for rows.Next() {
		var hd HealthData
		if err := rows.Scan(&hd.ID, &hd.HIURequestID, &hd.CareContextReference, &hd.Content, &hd.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &hd)
	}
	return items, rows.Err()
}
