package prescription

import (
	"time"

	"github.com/google/uuid"

	"github.com/rxtrail/rxtrail/internal/domain/identity"
	"github.com/rxtrail/rxtrail/pkg/apperror"
)

// Status is the prescription workflow state. Transitions move strictly
// forward; there is no cancellation or rejection path.
type Status string

const (
	StatusRequested          Status = "requested"
	StatusGPApproved         Status = "gp_approved"
	StatusSentToPharmacy     Status = "sent_to_pharmacy"
	StatusDispensed          Status = "dispensed"
	StatusReadyForCollection Status = "ready_for_collection"
	StatusCollected          Status = "collected"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusRequested, StatusGPApproved, StatusSentToPharmacy,
		StatusDispensed, StatusReadyForCollection, StatusCollected:
		return Status(s), nil
	}
	return "", apperror.Validationf("invalid status: %s", s)
}

// Priority signals clinical urgency to the GP and pharmacy.
type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityUrgent    Priority = "urgent"
	PriorityEmergency Priority = "emergency"
)

// ParsePriority validates a priority string. Empty defaults to normal.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	switch Priority(s) {
	case PriorityNormal, PriorityUrgent, PriorityEmergency:
		return Priority(s), nil
	}
	return "", apperror.Validationf("invalid priority: %s", s)
}

// Type distinguishes one-off from repeat prescriptions.
type Type string

const (
	TypeAcute            Type = "acute"
	TypeRepeat           Type = "repeat"
	TypeRepeatDispensing Type = "repeat_dispensing"
)

// ParseType validates a prescription type string. Empty defaults to acute.
func ParseType(s string) (Type, error) {
	if s == "" {
		return TypeAcute, nil
	}
	switch Type(s) {
	case TypeAcute, TypeRepeat, TypeRepeatDispensing:
		return Type(s), nil
	}
	return "", apperror.Validationf("invalid prescription type: %s", s)
}

// StalledAfter is how long a prescription may sit in requested before it is
// flagged for attention on dashboards.
const StalledAfter = 24 * time.Hour

// Prescription maps to the prescription table.
type Prescription struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	Medication    string     `db:"medication" json:"medication"`
	Dosage        string     `db:"dosage" json:"dosage"`
	Quantity      string     `db:"quantity" json:"quantity"`
	Instructions  string     `db:"instructions" json:"instructions"`
	Status        Status     `db:"status" json:"status"`
	Type          Type       `db:"prescription_type" json:"prescription_type"`
	Priority      Priority   `db:"priority" json:"priority"`
	PatientNotes  *string    `db:"patient_notes" json:"patient_notes,omitempty"`
	GPNotes       *string    `db:"gp_notes" json:"gp_notes,omitempty"`
	PharmacyNotes *string    `db:"pharmacy_notes" json:"pharmacy_notes,omitempty"`
	CollectionPIN *string    `db:"collection_pin" json:"collection_pin,omitempty"`
	QRPayload     string     `db:"-" json:"qr_payload,omitempty"`
	Stalled       bool       `db:"-" json:"stalled"`
	RequestedAt   time.Time  `db:"requested_at" json:"requested_at"`
	ApprovedAt    *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	DispensedAt   *time.Time `db:"dispensed_at" json:"dispensed_at,omitempty"`
	CollectedAt   *time.Time `db:"collected_at" json:"collected_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// IsStalled reports whether the prescription has been waiting for GP review
// for longer than StalledAfter. Computed on read; never triggers a
// transition.
func (p *Prescription) IsStalled(now time.Time) bool {
	return p.Status == StatusRequested && now.Sub(p.RequestedAt) > StalledAfter
}

// Event is one row of a prescription's transition audit trail.
type Event struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PrescriptionID uuid.UUID `db:"prescription_id" json:"prescription_id"`
	ActorID        uuid.UUID `db:"actor_id" json:"actor_id"`
	ActorRole      string    `db:"actor_role" json:"actor_role"`
	FromStatus     *Status   `db:"from_status" json:"from_status,omitempty"`
	ToStatus       Status    `db:"to_status" json:"to_status"`
	Note           *string   `db:"note" json:"note,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// transitionKey identifies one edge of the state machine.
type transitionKey struct {
	from Status
	to   Status
}

// transitionRoles lists which roles may perform each transition. The
// collected transition additionally requires PIN verification, handled in
// the service.
var transitionRoles = map[transitionKey][]identity.Role{
	{StatusRequested, StatusGPApproved}:         {identity.RoleGP},
	{StatusGPApproved, StatusSentToPharmacy}:    {identity.RolePharmacy, identity.RoleGP},
	{StatusSentToPharmacy, StatusDispensed}:     {identity.RolePharmacy},
	{StatusDispensed, StatusReadyForCollection}: {identity.RolePharmacy},
	{StatusReadyForCollection, StatusCollected}: {identity.RolePatient, identity.RoleDelegate},
}

// AllowedRoles returns the roles permitted to move a prescription from one
// status to another, or false when the pair is not a legal transition.
func AllowedRoles(from, to Status) ([]identity.Role, bool) {
	roles, ok := transitionRoles[transitionKey{from, to}]
	return roles, ok
}

// RoleMayTransition reports whether a role appears in the authorized set for
// a transition.
func RoleMayTransition(role identity.Role, from, to Status) bool {
	roles, ok := AllowedRoles(from, to)
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
