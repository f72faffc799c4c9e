package identity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rxtrail/rxtrail/internal/platform/auth"
	"github.com/rxtrail/rxtrail/pkg/apperror"
)

// Role determines which prescription workflow actions a user may perform.
type Role string

const (
	RolePatient  Role = "patient"
	RoleGP       Role = "gp"
	RolePharmacy Role = "pharmacy"
	RoleDelegate Role = "delegate"
	RoleAdmin    Role = "admin"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleGP, RolePharmacy, RoleDelegate, RoleAdmin:
		return Role(s), nil
	}
	return "", apperror.Validationf("invalid role: %s", s)
}

// User maps to the app_user table.
type User struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	Role         Role      `db:"role" json:"role"`
	NHSNumber    *string   `db:"nhs_number" json:"nhs_number,omitempty"`
	GDPRConsent  bool      `db:"gdpr_consent" json:"gdpr_consent"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// CurrentUser is the authenticated principal extracted from the request
// context. It carries only what authorization decisions need.
type CurrentUser struct {
	ID   uuid.UUID
	Role Role
}

// CurrentUserFromContext builds a CurrentUser from the JWT claims stored in
// the request context by the auth middleware.
func CurrentUserFromContext(ctx context.Context) (CurrentUser, error) {
	idStr := auth.UserIDFromContext(ctx)
	if idStr == "" {
		return CurrentUser{}, apperror.Authorizationf("no authenticated user in context")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return CurrentUser{}, apperror.Authorizationf("malformed user id in token")
	}
	role, err := ParseRole(auth.RoleFromContext(ctx))
	if err != nil {
		return CurrentUser{}, apperror.Authorizationf("malformed role in token")
	}
	return CurrentUser{ID: id, Role: role}, nil
}
