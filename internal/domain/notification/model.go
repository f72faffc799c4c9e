package notification

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies what triggered a notification.
type Type string

const (
	TypeStatusChange      Type = "status_change"
	TypeDelegationRequest Type = "delegation_request"
	TypeCollectionReady   Type = "collection_ready"
	TypeReminder          Type = "reminder"
)

// Notification maps to the notification table. Rows are immutable once
// written except for the read marker.
type Notification struct {
	ID          uuid.UUID `db:"id" json:"id"`
	RecipientID uuid.UUID `db:"recipient_id" json:"recipient_id"`
	Type        Type      `db:"notification_type" json:"type"`
	Title       string    `db:"title" json:"title"`
	Message     string    `db:"message" json:"message"`
	IsRead      bool      `db:"is_read" json:"is_read"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
