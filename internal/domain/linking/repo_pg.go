package linking

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

type linkingRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &linkingRepoPG{pool: pool}
}

func (r *linkingRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const linkReqCols = `id, hip_id, patient_reference, patient_display, initiator, status,
	gateway_request_id, error_message, created_at, updated_at`

func scanLinkRequest(row pgx.Row) (*LinkRequest, error) {
	var lr LinkRequest
	err := row.Scan(&lr.ID, &lr.HIPID, &lr.PatientReference, &lr.PatientDisplay, &lr.Initiator,
		&lr.Status, &lr.GatewayRequestID, &lr.ErrorMessage, &lr.CreatedAt, &lr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &lr, err
}

func (r *linkingRepoPG) CreateLinkRequest(ctx context.Context, lr *LinkRequest, contexts []*CareContext) error {
	txCtx, tx, err := db.WithTx(ctx, r.pool)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if lr.ID == uuid.Nil {
		lr.ID = uuid.New()
	}
	_, err = r.conn(txCtx).Exec(txCtx, `
		INSERT INTO link_requests (id, hip_id, patient_reference, patient_display, initiator,
			status, gateway_request_id, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		lr.ID, lr.HIPID, lr.PatientReference, lr.PatientDisplay, lr.Initiator,
		lr.Status, lr.GatewayRequestID, lr.ErrorMessage)
	if err != nil {
		return err
	}
	for _, cc := range contexts {
		if cc.ID == uuid.Nil {
			cc.ID = uuid.New()
		}
		cc.LinkRequestID = lr.ID
		_, err = r.conn(txCtx).Exec(txCtx, `
			INSERT INTO link_care_contexts (id, link_request_id, reference, display, hi_types, additional_info)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			cc.ID, cc.LinkRequestID, cc.Reference, cc.Display, cc.HITypes, cc.AdditionalInfo)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *linkingRepoPG) UpdateLinkRequest(ctx context.Context, lr *LinkRequest) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE link_requests SET status=$2, gateway_request_id=$3, error_message=$4, updated_at=NOW()
		WHERE id = $1`,
		lr.ID, lr.Status, lr.GatewayRequestID, lr.ErrorMessage)
	return err
}

func (r *linkingRepoPG) GetLinkRequest(ctx context.Context, id uuid.UUID) (*LinkRequest, error) {
	return scanLinkRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+linkReqCols+` FROM link_requests WHERE id = $1`, id))
}

func (r *linkingRepoPG) GetLinkRequestByGatewayRequestID(ctx context.Context, gatewayRequestID string) (*LinkRequest, error) {
	return scanLinkRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+linkReqCols+` FROM link_requests WHERE gateway_request_id = $1`, gatewayRequestID))
}

func (r *linkingRepoPG) ListLinkRequests(ctx context.Context, limit, offset int) ([]*LinkRequest, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM link_requests`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+linkReqCols+` FROM link_requests ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*LinkRequest
	for rows.Next() {
		lr, err := scanLinkRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, lr)
	}
	return items, total, nil
}

const careContextCols = `id, link_request_id, reference, display, hi_types, additional_info`

func scanCareContext(row pgx.Row) (*CareContext, error) {
	var cc CareContext
	err := row.Scan(&cc.ID, &cc.LinkRequestID, &cc.Reference, &cc.Display, &cc.HITypes, &cc.AdditionalInfo)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &cc, err
}

func (r *linkingRepoPG) ListCareContexts(ctx context.Context, linkRequestID uuid.UUID) ([]*CareContext, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+careContextCols+` FROM link_care_contexts WHERE link_request_id = $1 ORDER BY reference`,
		linkRequestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CareContext
	for rows.Next() {
		cc, err := scanCareContext(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, cc)
	}
	return items, rows.Err()
}

func (r *linkingRepoPG) LinkedRefs(ctx context.Context, hipID, patientReference string) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT cc.reference
		FROM link_care_contexts cc
		JOIN link_requests lr ON lr.id = cc.link_request_id
		WHERE lr.hip_id = $1 AND lr.patient_reference = $2 AND lr.status = $3`,
		hipID, patientReference, LinkSuccess)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *linkingRepoPG) FindCareContext(ctx context.Context, patientReference, careContextReference string) (*CareContext, error) {
	return scanCareContext(r.conn(ctx).QueryRow(ctx, `
		SELECT `+careContextColsPrefixed+`
		FROM link_care_contexts cc
		JOIN link_requests lr ON lr.id = cc.link_request_id
		WHERE lr.patient_reference = $1 AND cc.reference = $2 AND lr.status = $3
		ORDER BY lr.created_at DESC
		LIMIT 1`,
		patientReference, careContextReference, LinkSuccess))
}

const careContextColsPrefixed = `cc.id, cc.link_request_id, cc.reference, cc.display, cc.hi_types, cc.additional_info`

func (r *linkingRepoPG) CreateDiscoveryRequest(ctx context.Context, dr *DiscoveryRequest) error {
	if dr.ID == uuid.Nil {
		dr.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_discovery_requests (id, transaction_id, patient_reference, care_contexts, error)
		VALUES ($1,$2,$3,$4,$5)`,
		dr.ID, dr.TransactionID, dr.PatientReference, dr.CareContexts, dr.Error)
	return err
}

func (r *linkingRepoPG) GetDiscoveryRequestByTransaction(ctx context.Context, transactionID string) (*DiscoveryRequest, error) {
	var dr DiscoveryRequest
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, transaction_id, patient_reference, care_contexts, error, created_at
		FROM patient_discovery_requests
		WHERE transaction_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, transactionID).
		Scan(&dr.ID, &dr.TransactionID, &dr.PatientReference, &dr.CareContexts, &dr.Error, &dr.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &dr, err
}

func (r *linkingRepoPG) CreatePatientLinkRequest(ctx context.Context, plr *PatientLinkRequest) error {
	if plr.ID == uuid.Nil {
		plr.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO patient_link_requests (id, link_request_id, transaction_id, link_reference_number,
			otp_transaction_id, patient_reference, care_contexts, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		plr.ID, plr.LinkRequestID, plr.TransactionID, plr.LinkReferenceNumber,
		plr.OTPTransactionID, plr.PatientReference, plr.CareContexts, plr.Status)
	return err
}

func (r *linkingRepoPG) GetPatientLinkRequestByRef(ctx context.Context, linkReferenceNumber string) (*PatientLinkRequest, error) {
	var plr PatientLinkRequest
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, link_request_id, transaction_id, link_reference_number, otp_transaction_id,
			patient_reference, care_contexts, status, created_at, updated_at
		FROM patient_link_requests
		WHERE link_reference_number = $1`, linkReferenceNumber).
		Scan(&plr.ID, &plr.LinkRequestID, &plr.TransactionID, &plr.LinkReferenceNumber, &plr.OTPTransactionID,
			&plr.PatientReference, &plr.CareContexts, &plr.Status, &plr.CreatedAt, &plr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &plr, err
}

func (r *linkingRepoPG) UpdatePatientLinkRequest(ctx context.Context, plr *PatientLinkRequest) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE patient_link_requests SET status=$2, updated_at=NOW()
		WHERE id = $1`,
		plr.ID, plr.Status)
	return err
}
