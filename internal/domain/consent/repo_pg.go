package consent

import (
	"context"
	"errors"
	"strconv"
	"time"

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

type consentRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &consentRepoPG{pool: pool}
}

func (r *consentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const artefactCols = `id, artefact_id, consent_request_id, details, signature,
	grant_acknowledged, expiry_date, created_at, updated_at`

func scanArtefact(row pgx.Row) (*Artefact, error) {
	var a Artefact
	err := row.Scan(&a.ID, &a.ArtefactID, &a.ConsentRequestID, &a.Details, &a.Signature,
		&a.GrantAcknowledged, &a.ExpiryDate, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (r *consentRepoPG) SaveArtefact(ctx context.Context, a *Artefact) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consent_artefacts (id, artefact_id, consent_request_id, details, signature,
			grant_acknowledged, expiry_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (artefact_id) DO UPDATE SET
			consent_request_id = EXCLUDED.consent_request_id,
			details = EXCLUDED.details,
			signature = EXCLUDED.signature,
			grant_acknowledged = EXCLUDED.grant_acknowledged,
			expiry_date = EXCLUDED.expiry_date,
			updated_at = NOW()`,
		a.ID, a.ArtefactID, a.ConsentRequestID, a.Details, a.Signature,
		a.GrantAcknowledged, a.ExpiryDate)
	return err
}

func (r *consentRepoPG) GetArtefact(ctx context.Context, artefactID string) (*Artefact, error) {
	return scanArtefact(r.conn(ctx).QueryRow(ctx,
		`SELECT `+artefactCols+` FROM consent_artefacts WHERE artefact_id = $1`, artefactID))
}

func (r *consentRepoPG) DeleteArtefact(ctx context.Context, artefactID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM consent_artefacts WHERE artefact_id = $1`, artefactID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *consentRepoPG) DeleteArtefactsForRequest(ctx context.Context, requestID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM consent_artefacts WHERE consent_request_id = $1`, requestID)
	return err
}

func (r *consentRepoPG) ListArtefacts(ctx context.Context, limit, offset int) ([]*Artefact, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM consent_artefacts`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+artefactCols+` FROM consent_artefacts ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Artefact
	for rows.Next() {
		a, err := scanArtefact(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, nil
}

func (r *consentRepoPG) DeleteExpiredArtefacts(ctx context.Context, now time.Time) ([]*Artefact, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`DELETE FROM consent_artefacts WHERE expiry_date <= $1 RETURNING `+artefactCols, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Artefact
	for rows.Next() {
		a, err := scanArtefact(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

const requestCols = `id, gateway_request_id, consent_request_id, status, details,
	health_info_from, health_info_to, health_info_types, expiry_date,
	error_message, created_at, updated_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var req Request
	err := row.Scan(&req.ID, &req.GatewayRequestID, &req.ConsentRequestID, &req.Status, &req.Details,
		&req.HealthInfoFrom, &req.HealthInfoTo, &req.HealthInfoTypes, &req.ExpiryDate,
		&req.ErrorMessage, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &req, err
}

func (r *consentRepoPG) CreateRequest(ctx context.Context, req *Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO consent_requests (id, gateway_request_id, consent_request_id, status, details,
			health_info_from, health_info_to, health_info_types, expiry_date, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		req.ID, req.GatewayRequestID, req.ConsentRequestID, req.Status, req.Details,
		req.HealthInfoFrom, req.HealthInfoTo, req.HealthInfoTypes, req.ExpiryDate, req.ErrorMessage)
	return err
}

func (r *consentRepoPG) GetRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM consent_requests WHERE id = $1`, id))
}

func (r *consentRepoPG) GetRequestByConsentRequestID(ctx context.Context, consentRequestID string) (*Request, error) {
	return scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestCols+` FROM consent_requests WHERE consent_request_id = $1`, consentRequestID))
}

func (r *consentRepoPG) UpdateRequest(ctx context.Context, req *Request) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE consent_requests SET consent_request_id=$2, status=$3, details=$4,
			health_info_from=$5, health_info_to=$6, health_info_types=$7, expiry_date=$8,
			error_message=$9, updated_at=NOW()
		WHERE id = $1`,
		req.ID, req.ConsentRequestID, req.Status, req.Details,
		req.HealthInfoFrom, req.HealthInfoTo, req.HealthInfoTypes, req.ExpiryDate,
		req.ErrorMessage)
	return err
}

func (r *consentRepoPG) ListRequests(ctx context.Context, status Status, limit, offset int) ([]*Request, int, error) {
	where := ``
	args := []interface{}{}
	if status != "" {
		where = ` WHERE status = $1`
		args = append(args, status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM consent_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + requestCols + ` FROM consent_requests` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, req)
	}
	return items, total, nil
}
