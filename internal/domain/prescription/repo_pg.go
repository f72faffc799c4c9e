package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

// NewRepoPG returns a Postgres-backed prescription repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const rxCols = `id, patient_id, medication, dosage, quantity, instructions,
	status, prescription_type, priority, patient_notes, gp_notes, pharmacy_notes,
	collection_pin, requested_at, approved_at, dispensed_at, collected_at,
	created_at, updated_at`

func scanPrescription(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.Medication, &p.Dosage, &p.Quantity, &p.Instructions,
		&p.Status, &p.Type, &p.Priority, &p.PatientNotes, &p.GPNotes, &p.PharmacyNotes,
		&p.CollectionPIN, &p.RequestedAt, &p.ApprovedAt, &p.DispensedAt, &p.CollectedAt,
		&p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFoundf("prescription not found")
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	p.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescription (id, patient_id, medication, dosage, quantity, instructions,
			status, prescription_type, priority, patient_notes, requested_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.PatientID, p.Medication, p.Dosage, p.Quantity, p.Instructions,
		p.Status, p.Type, p.Priority, p.PatientNotes, p.RequestedAt)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return scanPrescription(r.conn(ctx).QueryRow(ctx, `SELECT `+rxCols+` FROM prescription WHERE id = $1`, id))
}

func (r *repoPG) UpdateStatus(ctx context.Context, p *Prescription, from Status) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescription SET status=$3, gp_notes=$4, pharmacy_notes=$5, patient_notes=$6,
			collection_pin=$7, approved_at=$8, dispensed_at=$9, collected_at=$10, updated_at=NOW()
		WHERE id = $1 AND status = $2`,
		p.ID, from, p.Status, p.GPNotes, p.PharmacyNotes, p.PatientNotes,
		p.CollectionPIN, p.ApprovedAt, p.DispensedAt, p.CollectedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperror.Conflictf("prescription was modified concurrently, re-read and retry")
	}
	return nil
}

// filterClause builds the WHERE clause for a Filter. Arguments are appended
// to args and referenced positionally.
func filterClause(f Filter, args []interface{}) (string, []interface{}) {
	var clauses []string
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		clauses = append(clauses, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if len(f.PatientIDs) > 0 {
		args = append(args, f.PatientIDs)
		clauses = append(clauses, fmt.Sprintf("patient_id = ANY($%d)", len(args)))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Prescription, int, error) {
	where, args := filterClause(f, nil)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM prescription`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT `+rxCols+` FROM prescription%s ORDER BY requested_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *repoPG) CountByStatus(ctx context.Context, f Filter) (map[Status]int, error) {
	where, args := filterClause(f, nil)
	rows, err := r.conn(ctx).Query(ctx, `SELECT status, COUNT(*) FROM prescription`+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

const eventCols = `id, prescription_id, actor_id, actor_role, from_status, to_status, note, created_at`

func (r *repoPG) AppendEvent(ctx context.Context, e *Event) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prescription_event (id, prescription_id, actor_id, actor_role, from_status, to_status, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.PrescriptionID, e.ActorID, e.ActorRole, e.FromStatus, e.ToStatus, e.Note)
	return err
}

func (r *repoPG) ListEvents(ctx context.Context, prescriptionID uuid.UUID) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+eventCols+` FROM prescription_event WHERE prescription_id = $1 ORDER BY created_at`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.PrescriptionID, &e.ActorID, &e.ActorRole,
			&e.FromStatus, &e.ToStatus, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
