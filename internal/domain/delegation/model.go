package delegation

import (
	"time"

	"github.com/google/uuid"

	"github.com/rxtrail/rxtrail/pkg/apperror"
)

// Status is the delegation lifecycle state. Revoked and expired are
// terminal; a patient must create a fresh delegation to re-grant access.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRevoked  Status = "revoked"
	StatusExpired  Status = "expired"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusApproved, StatusRevoked, StatusExpired:
		return Status(s), nil
	}
	return "", apperror.Validationf("invalid delegation status: %s", s)
}

// DefaultTTL is how long an approved delegation stays active.
const DefaultTTL = 30 * 24 * time.Hour

// Delegation maps to the delegation table. It grants a delegate time-boxed
// authority to collect prescriptions for the granting patient.
type Delegation struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	PatientID  uuid.UUID  `db:"patient_id" json:"patient_id"`
	DelegateID uuid.UUID  `db:"delegate_id" json:"delegate_id"`
	Status     Status     `db:"status" json:"status"`
	Consent    bool       `db:"consent" json:"consent"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the delegation currently authorizes collection.
// Expiry is evaluated lazily on read; there is no background sweep.
func (d *Delegation) IsActive(now time.Time) bool {
	return d.Status == StatusApproved && d.ExpiresAt != nil && now.Before(*d.ExpiresAt)
}
