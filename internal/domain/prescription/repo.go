package prescription

import (
	"context"

	"github.com/google/uuid"
)

// Filter narrows a prescription listing. Zero-value fields are ignored; an
// empty filter matches everything.
type Filter struct {
	PatientID  *uuid.UUID
	PatientIDs []uuid.UUID
	Status     *Status
}

// Stats summarizes prescription volume for dashboards.
type Stats struct {
	Total          int     `json:"total"`
	Pending        int     `json:"pending"`
	Approved       int     `json:"approved"`
	Dispensed      int     `json:"dispensed"`
	Collected      int     `json:"collected"`
	CompletionRate float64 `json:"completion_rate"`
}

// Repository is the persistence interface for prescriptions and their audit
// trail.
type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)

	// UpdateStatus persists a transition with a conditional write: the row
	// is only updated while its stored status still equals from. When the
	// precondition fails because a concurrent writer advanced the
	// prescription first, it returns a conflict error and the caller must
	// re-read and retry.
	UpdateStatus(ctx context.Context, p *Prescription, from Status) error

	List(ctx context.Context, f Filter, limit, offset int) ([]*Prescription, int, error)
	CountByStatus(ctx context.Context, f Filter) (map[Status]int, error)

	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, prescriptionID uuid.UUID) ([]*Event, error)
}
