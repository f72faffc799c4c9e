package identity

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence interface for users.
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	ListByRole(ctx context.Context, role Role, limit, offset int) ([]*User, int, error)
}
