package delegation

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence interface for delegations.
type Repository interface {
	Create(ctx context.Context, d *Delegation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Delegation, error)
	Update(ctx context.Context, d *Delegation) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Delegation, int, error)
	ListByDelegate(ctx context.Context, delegateID uuid.UUID, limit, offset int) ([]*Delegation, int, error)

	// ListApprovedByDelegate returns every approved delegation naming the
	// delegate, including ones past their expiry. Callers apply IsActive.
	ListApprovedByDelegate(ctx context.Context, delegateID uuid.UUID) ([]*Delegation, error)
}
