package identity

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/rxtrail/rxtrail/internal/platform/auth"
	"github.com/rxtrail/rxtrail/pkg/apperror"
)

var (
	emailPattern     = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	nhsNumberPattern = regexp.MustCompile(`^\d{10}$`)
)

const minPasswordLength = 8

// RegisterInput is the payload for creating a new account.
type RegisterInput struct {
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	FullName    string  `json:"full_name"`
	Role        string  `json:"role"`
	NHSNumber   *string `json:"nhs_number,omitempty"`
	GDPRConsent bool    `json:"gdpr_consent"`
}

// LoginInput is the payload for obtaining a token.
type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResult carries the issued token and the account it belongs to.
type AuthResult struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// UpdateProfileInput holds the mutable profile fields. Email, role and NHS
// number are fixed at registration.
type UpdateProfileInput struct {
	FullName string `json:"full_name"`
}

type Service struct {
	repo   Repository
	issuer *auth.TokenIssuer
}

func NewService(repo Repository, issuer *auth.TokenIssuer) *Service {
	return &Service{repo: repo, issuer: issuer}
}

// Register creates a new account and returns it with a fresh token.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if !emailPattern.MatchString(in.Email) {
		return nil, apperror.Validationf("invalid email address")
	}
	if len(in.Password) < minPasswordLength {
		return nil, apperror.Validationf("password must be at least %d characters", minPasswordLength)
	}
	if strings.TrimSpace(in.FullName) == "" {
		return nil, apperror.Validationf("full_name is required")
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		return nil, err
	}
	if role == RoleAdmin {
		return nil, apperror.Validationf("admin accounts cannot be self-registered")
	}
	if !in.GDPRConsent {
		return nil, apperror.Validationf("data processing consent is required to register")
	}
	if in.NHSNumber != nil && !nhsNumberPattern.MatchString(*in.NHSNumber) {
		return nil, apperror.Validationf("nhs_number must be 10 digits")
	}
	if role == RolePatient && in.NHSNumber == nil {
		return nil, apperror.Validationf("nhs_number is required for patients")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	u := &User{
		Email:        in.Email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(in.FullName),
		Role:         role,
		NHSNumber:    in.NHSNumber,
		GDPRConsent:  in.GDPRConsent,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return nil, err
	}

	token, err := s.issuer.Issue(u.ID, string(u.Role), u.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: u}, nil
}

// Login verifies credentials and issues a token. Unknown email and wrong
// password return the same error so accounts cannot be enumerated.
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	u, err := s.repo.GetByEmail(ctx, in.Email)
	if err != nil {
		if apperror.IsKind(err, apperror.KindNotFound) {
			return nil, apperror.Authorizationf("invalid email or password")
		}
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, in.Password) {
		return nil, apperror.Authorizationf("invalid email or password")
	}

	token, err := s.issuer.Issue(u.ID, string(u.Role), u.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, User: u}, nil
}

// Get returns a user by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

// UpdateProfile changes the caller's mutable profile fields.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, in UpdateProfileInput) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.FullName) == "" {
		return nil, apperror.Validationf("full_name is required")
	}
	u.FullName = strings.TrimSpace(in.FullName)
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// ListGPs returns registered GPs, for patients picking a prescriber.
func (s *Service) ListGPs(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.repo.ListByRole(ctx, RoleGP, limit, offset)
}

// ListPharmacies returns registered pharmacies.
func (s *Service) ListPharmacies(ctx context.Context, limit, offset int) ([]*User, int, error) {
	return s.repo.ListByRole(ctx, RolePharmacy, limit, offset)
}
