package delegation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rxtrail/rxtrail/internal/domain/identity"
	"github.com/rxtrail/rxtrail/pkg/apperror"
)

// UserGetter looks up users so a delegation can only name a real delegate.
type UserGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// Notifier receives delegation lifecycle hooks. Implemented by the
// notification dispatcher; wired in main.
type Notifier interface {
	OnDelegationCreated(ctx context.Context, d *Delegation)
}

// Service owns delegation lifecycle rules. It also implements the
// prescription package's DelegationChecker.
type Service struct {
	repo     Repository
	users    UserGetter
	notifier Notifier
	now      func() time.Time
}

func NewService(repo Repository, users UserGetter) *Service {
	return &Service{repo: repo, users: users, now: time.Now}
}

// SetNotifier attaches the notification dispatcher after construction.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// CreateInput is the payload for requesting a delegation.
type CreateInput struct {
	DelegateID uuid.UUID `json:"delegate_id"`
	Consent    bool      `json:"consent"`
}

// Create records a pending delegation from the calling patient to a delegate.
// Explicit consent is mandatory; without it the request is rejected outright.
func (s *Service) Create(ctx context.Context, cu identity.CurrentUser, in CreateInput) (*Delegation, error) {
	if cu.Role != identity.RolePatient {
		return nil, apperror.Authorizationf("only patients can delegate collection authority")
	}
	if !in.Consent {
		return nil, apperror.Validationf("explicit consent is required to create a delegation")
	}
	if in.DelegateID == uuid.Nil {
		return nil, apperror.Validationf("delegate_id is required")
	}
	if in.DelegateID == cu.ID {
		return nil, apperror.Validationf("cannot delegate to yourself")
	}

	delegate, err := s.users.GetByID(ctx, in.DelegateID)
	if err != nil {
		if apperror.IsKind(err, apperror.KindNotFound) {
			return nil, apperror.Validationf("delegate does not exist")
		}
		return nil, err
	}
	if delegate.Role != identity.RoleDelegate {
		return nil, apperror.Validationf("delegation target must have the delegate role")
	}

	d := &Delegation{
		PatientID:  cu.ID,
		DelegateID: in.DelegateID,
		Status:     StatusPending,
		Consent:    true,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.OnDelegationCreated(ctx, d)
	}
	return d, nil
}

// Approve activates a pending delegation. Only the granting patient may
// approve, and approval starts the 30-day validity window.
func (s *Service) Approve(ctx context.Context, cu identity.CurrentUser, id uuid.UUID) (*Delegation, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.PatientID != cu.ID {
		return nil, apperror.Authorizationf("only the granting patient can approve a delegation")
	}
	if d.Status != StatusPending {
		return nil, apperror.InvalidTransitionf("cannot approve a %s delegation", d.Status)
	}

	expires := s.now().Add(DefaultTTL)
	d.Status = StatusApproved
	d.ExpiresAt = &expires
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Revoke withdraws a delegation. Revoking one that is already revoked or
// expired is a no-op rather than an error.
func (s *Service) Revoke(ctx context.Context, cu identity.CurrentUser, id uuid.UUID) (*Delegation, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.PatientID != cu.ID {
		return nil, apperror.Authorizationf("only the granting patient can revoke a delegation")
	}
	if d.Status == StatusRevoked || d.Status == StatusExpired {
		return d, nil
	}

	d.Status = StatusRevoked
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ListForUser returns the delegations the caller is a party to: granted
// ones for patients, received ones for delegates.
func (s *Service) ListForUser(ctx context.Context, cu identity.CurrentUser, limit, offset int) ([]*Delegation, int, error) {
	var (
		items []*Delegation
		total int
		err   error
	)
	switch cu.Role {
	case identity.RolePatient:
		items, total, err = s.repo.ListByPatient(ctx, cu.ID, limit, offset)
	case identity.RoleDelegate:
		items, total, err = s.repo.ListByDelegate(ctx, cu.ID, limit, offset)
	default:
		return nil, 0, apperror.Authorizationf("role %s has no delegations", cu.Role)
	}
	if err != nil {
		return nil, 0, err
	}
	now := s.now()
	for _, d := range items {
		s.expireLazily(ctx, d, now)
	}
	if items == nil {
		items = []*Delegation{}
	}
	return items, total, nil
}

// expireLazily flips an approved-but-past-expiry delegation to expired.
// The write is best effort; the returned state is authoritative either way.
func (s *Service) expireLazily(ctx context.Context, d *Delegation, now time.Time) {
	if d.Status != StatusApproved || d.ExpiresAt == nil || now.Before(*d.ExpiresAt) {
		return
	}
	d.Status = StatusExpired
	if err := s.repo.Update(ctx, d); err != nil {
		log.Warn().Err(err).Str("delegation_id", d.ID.String()).Msg("failed to persist delegation expiry")
	}
}

// HasActiveDelegation reports whether the delegate currently holds collection
// authority from the patient. Implements prescription.DelegationChecker.
func (s *Service) HasActiveDelegation(ctx context.Context, patientID, delegateID uuid.UUID) (bool, error) {
	items, err := s.repo.ListApprovedByDelegate(ctx, delegateID)
	if err != nil {
		return false, err
	}
	now := s.now()
	for _, d := range items {
		if d.PatientID != patientID {
			continue
		}
		s.expireLazily(ctx, d, now)
		if d.IsActive(now) {
			return true, nil
		}
	}
	return false, nil
}

// ActivePatientIDs lists the patients the delegate can currently act for.
// Implements prescription.DelegationChecker.
func (s *Service) ActivePatientIDs(ctx context.Context, delegateID uuid.UUID) ([]uuid.UUID, error) {
	items, err := s.repo.ListApprovedByDelegate(ctx, delegateID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var ids []uuid.UUID
	for _, d := range items {
		s.expireLazily(ctx, d, now)
		if d.IsActive(now) {
			ids = append(ids, d.PatientID)
		}
	}
	return ids, nil
}

// ActiveDelegateIDs lists delegates currently authorized for the patient.
// Used by the notification dispatcher for collection-ready fan-out.
func (s *Service) ActiveDelegateIDs(ctx context.Context, patientID uuid.UUID) ([]uuid.UUID, error) {
	items, _, err := s.repo.ListByPatient(ctx, patientID, 1000, 0)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var ids []uuid.UUID
	for _, d := range items {
		s.expireLazily(ctx, d, now)
		if d.IsActive(now) {
			ids = append(ids, d.DelegateID)
		}
	}
	return ids, nil
}
