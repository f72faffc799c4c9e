package notification

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the persistence interface for notifications.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id uuid.UUID) (*Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID) error
	ListByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, int, error)
	CountUnread(ctx context.Context, recipientID uuid.UUID) (int, error)
}
