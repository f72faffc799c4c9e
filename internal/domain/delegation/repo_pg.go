package delegation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxtrail/rxtrail/internal/platform/db"
	"github.com/rxtrail/rxtrail/pkg/apperror"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns a Postgres-backed delegation repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const delCols = `id, patient_id, delegate_id, status, consent, expires_at, created_at, updated_at`

func scanDelegation(row pgx.Row) (*Delegation, error) {
	var d Delegation
	err := row.Scan(&d.ID, &d.PatientID, &d.DelegateID, &d.Status, &d.Consent,
		&d.ExpiresAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFoundf("delegation not found")
	}
	return &d, err
}

func (r *repoPG) Create(ctx context.Context, d *Delegation) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO delegation (id, patient_id, delegate_id, status, consent, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		d.ID, d.PatientID, d.DelegateID, d.Status, d.Consent, d.ExpiresAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Delegation, error) {
	return scanDelegation(r.conn(ctx).QueryRow(ctx, `SELECT `+delCols+` FROM delegation WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, d *Delegation) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE delegation SET status=$2, expires_at=$3, updated_at=NOW()
		WHERE id = $1`,
		d.ID, d.Status, d.ExpiresAt)
	return err
}

func (r *repoPG) list(ctx context.Context, column string, id uuid.UUID, limit, offset int) ([]*Delegation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM delegation WHERE `+column+` = $1`, id).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+delCols+` FROM delegation WHERE `+column+` = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		id, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Delegation, int, error) {
	return r.list(ctx, "patient_id", patientID, limit, offset)
}

func (r *repoPG) ListByDelegate(ctx context.Context, delegateID uuid.UUID, limit, offset int) ([]*Delegation, int, error) {
	return r.list(ctx, "delegate_id", delegateID, limit, offset)
}

func (r *repoPG) ListApprovedByDelegate(ctx context.Context, delegateID uuid.UUID) ([]*Delegation, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+delCols+` FROM delegation WHERE delegate_id = $1 AND status = $2`,
		delegateID, StatusApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
