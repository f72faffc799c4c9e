package prescription

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rxtrail/rxtrail/internal/domain/identity"
	"github.com/rxtrail/rxtrail/pkg/apperror"
)

// DelegationChecker answers whether a delegate may act for a patient. The
// delegation service implements it; the indirection keeps this package free
// of a dependency on delegation internals.
type DelegationChecker interface {
	HasActiveDelegation(ctx context.Context, patientID, delegateID uuid.UUID) (bool, error)
	ActivePatientIDs(ctx context.Context, delegateID uuid.UUID) ([]uuid.UUID, error)
}

// Notifier receives workflow state changes. Implementations must not block
// and must never fail the originating transition.
type Notifier interface {
	OnPrescriptionTransition(ctx context.Context, p *Prescription, from, to Status)
}

// UserGetter is the slice of the identity repository this service needs.
type UserGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// TxRunner executes fn within a database transaction. Wired to db.WithTx in
// production; nil means run without one.
type TxRunner func(ctx context.Context, fn func(context.Context) error) error

type Service struct {
	repo        Repository
	users       UserGetter
	delegations DelegationChecker
	notifier    Notifier
	tx          TxRunner
	now         func() time.Time
}

func NewService(repo Repository, users UserGetter, delegations DelegationChecker) *Service {
	return &Service{
		repo:        repo,
		users:       users,
		delegations: delegations,
		now:         time.Now,
	}
}

// SetNotifier attaches an optional transition notifier.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetTxRunner attaches an optional transaction runner used to commit a
// transition and its audit event atomically.
func (s *Service) SetTxRunner(tx TxRunner) {
	s.tx = tx
}

func (s *Service) runTx(ctx context.Context, fn func(context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return s.tx(ctx, fn)
}

// CreateInput is the payload for requesting a prescription.
type CreateInput struct {
	Medication   string  `json:"medication"`
	Dosage       string  `json:"dosage"`
	Quantity     string  `json:"quantity"`
	Instructions string  `json:"instructions"`
	PatientNotes *string `json:"patient_notes,omitempty"`
	Type         string  `json:"prescription_type"`
	Priority     string  `json:"priority"`
}

// TransitionInput is the payload for advancing the workflow. PIN is only
// consulted on the collected transition.
type TransitionInput struct {
	Target string  `json:"target"`
	Note   *string `json:"note,omitempty"`
	PIN    string  `json:"pin,omitempty"`
}

// Create files a new prescription request. Only patients with a recorded
// consent flag may request.
func (s *Service) Create(ctx context.Context, cu identity.CurrentUser, in CreateInput) (*Prescription, error) {
	if cu.Role != identity.RolePatient {
		return nil, apperror.Authorizationf("only patients can request prescriptions")
	}
	u, err := s.users.GetByID(ctx, cu.ID)
	if err != nil {
		return nil, err
	}
	if !u.GDPRConsent {
		return nil, apperror.Authorizationf("data processing consent required")
	}

	for field, value := range map[string]string{
		"medication":   in.Medication,
		"dosage":       in.Dosage,
		"quantity":     in.Quantity,
		"instructions": in.Instructions,
	} {
		if strings.TrimSpace(value) == "" {
			return nil, apperror.Validationf("%s is required", field)
		}
	}
	rxType, err := ParseType(in.Type)
	if err != nil {
		return nil, err
	}
	priority, err := ParsePriority(in.Priority)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &Prescription{
		PatientID:    cu.ID,
		Medication:   strings.TrimSpace(in.Medication),
		Dosage:       strings.TrimSpace(in.Dosage),
		Quantity:     strings.TrimSpace(in.Quantity),
		Instructions: strings.TrimSpace(in.Instructions),
		PatientNotes: in.PatientNotes,
		Type:         rxType,
		Priority:     priority,
		Status:       StatusRequested,
		RequestedAt:  now,
	}

	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, p); err != nil {
			return err
		}
		return s.repo.AppendEvent(ctx, &Event{
			PrescriptionID: p.ID,
			ActorID:        cu.ID,
			ActorRole:      string(cu.Role),
			ToStatus:       StatusRequested,
			Note:           in.PatientNotes,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.view(p, cu, true), nil
}

// Transition advances a prescription one step through the workflow. The
// caller's role must be authorized for the specific edge, and the collected
// step additionally verifies collection identity via PIN.
func (s *Service) Transition(ctx context.Context, cu identity.CurrentUser, id uuid.UUID, in TransitionInput) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	target, err := ParseStatus(in.Target)
	if err != nil {
		return nil, err
	}

	from := p.Status
	if _, ok := AllowedRoles(from, target); !ok {
		return nil, apperror.InvalidTransitionf("cannot transition from %s to %s", from, target)
	}
	if !RoleMayTransition(cu.Role, from, target) {
		return nil, apperror.Authorizationf("role %s may not transition %s to %s", cu.Role, from, target)
	}
	if target == StatusCollected {
		if err := s.verifyCollectionIdentity(ctx, p, cu, in.PIN); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	p.Status = target
	switch target {
	case StatusGPApproved:
		pin, err := GeneratePIN()
		if err != nil {
			return nil, err
		}
		p.CollectionPIN = &pin
		p.ApprovedAt = &now
	case StatusDispensed:
		p.DispensedAt = &now
	case StatusCollected:
		p.CollectedAt = &now
	}

	if in.Note != nil && strings.TrimSpace(*in.Note) != "" {
		switch cu.Role {
		case identity.RoleGP:
			p.GPNotes = in.Note
		case identity.RolePharmacy:
			p.PharmacyNotes = in.Note
		case identity.RolePatient:
			p.PatientNotes = in.Note
		}
	}

	err = s.runTx(ctx, func(ctx context.Context) error {
		if err := s.repo.UpdateStatus(ctx, p, from); err != nil {
			return err
		}
		return s.repo.AppendEvent(ctx, &Event{
			PrescriptionID: p.ID,
			ActorID:        cu.ID,
			ActorRole:      string(cu.Role),
			FromStatus:     &from,
			ToStatus:       target,
			Note:           in.Note,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.OnPrescriptionTransition(ctx, p, from, target)
	}

	isOwner := cu.Role == identity.RolePatient && cu.ID == p.PatientID
	return s.view(p, cu, isOwner), nil
}

// verifyCollectionIdentity checks the supplied PIN and that the actor is the
// owning patient or a delegate with an active approved delegation.
func (s *Service) verifyCollectionIdentity(ctx context.Context, p *Prescription, cu identity.CurrentUser, suppliedPIN string) error {
	if p.CollectionPIN == nil {
		return apperror.Authorizationf("prescription has no collection PIN")
	}
	if subtle.ConstantTimeCompare([]byte(*p.CollectionPIN), []byte(suppliedPIN)) != 1 {
		return apperror.Authorizationf("collection PIN does not match")
	}

	switch cu.Role {
	case identity.RolePatient:
		if cu.ID != p.PatientID {
			return apperror.Authorizationf("only the owning patient can collect")
		}
		return nil
	case identity.RoleDelegate:
		active, err := s.delegations.HasActiveDelegation(ctx, p.PatientID, cu.ID)
		if err != nil {
			return err
		}
		if !active {
			return apperror.Authorizationf("no active delegation for this patient")
		}
		return nil
	}
	return apperror.Authorizationf("role %s cannot collect prescriptions", cu.Role)
}

// Get returns one prescription, redacted for the caller.
func (s *Service) Get(ctx context.Context, cu identity.CurrentUser, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, cu, p); err != nil {
		return nil, err
	}
	return s.view(p, cu, cu.ID == p.PatientID), nil
}

// canView enforces role visibility: patients see their own, GPs and
// pharmacies see all, delegates see prescriptions of patients with an active
// delegation naming them.
func (s *Service) canView(ctx context.Context, cu identity.CurrentUser, p *Prescription) error {
	switch cu.Role {
	case identity.RoleGP, identity.RolePharmacy, identity.RoleAdmin:
		return nil
	case identity.RolePatient:
		if cu.ID == p.PatientID {
			return nil
		}
	case identity.RoleDelegate:
		active, err := s.delegations.HasActiveDelegation(ctx, p.PatientID, cu.ID)
		if err != nil {
			return err
		}
		if active {
			return nil
		}
	}
	return apperror.Authorizationf("not permitted to view this prescription")
}

// view returns a redacted copy for the caller. Patient notes and the
// collection PIN are owner-only; the QR payload is derived for the owner
// when a PIN exists.
func (s *Service) view(p *Prescription, cu identity.CurrentUser, isOwner bool) *Prescription {
	out := *p
	out.Stalled = out.IsStalled(s.now())
	if isOwner {
		if out.CollectionPIN != nil {
			out.QRPayload = QRPayload(out.ID, *out.CollectionPIN)
		}
		return &out
	}
	out.PatientNotes = nil
	out.CollectionPIN = nil
	return &out
}

// ListForUser returns prescriptions visible to the caller, newest first.
func (s *Service) ListForUser(ctx context.Context, cu identity.CurrentUser, status *Status, limit, offset int) ([]*Prescription, int, error) {
	f := Filter{Status: status}
	switch cu.Role {
	case identity.RolePatient:
		pid := cu.ID
		f.PatientID = &pid
	case identity.RoleGP, identity.RolePharmacy, identity.RoleAdmin:
		// Unscoped. Prescriptions carry no GP or pharmacy assignment, so
		// clinical and pharmacy staff see the full queue.
	case identity.RoleDelegate:
		ids, err := s.delegations.ActivePatientIDs(ctx, cu.ID)
		if err != nil {
			return nil, 0, err
		}
		if len(ids) == 0 {
			return []*Prescription{}, 0, nil
		}
		f.PatientIDs = ids
	default:
		return nil, 0, apperror.Authorizationf("role %s cannot list prescriptions", cu.Role)
	}

	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*Prescription, len(items))
	for i, p := range items {
		out[i] = s.view(p, cu, cu.ID == p.PatientID)
	}
	return out, total, nil
}

// Events returns the transition audit trail for a prescription.
func (s *Service) Events(ctx context.Context, cu identity.CurrentUser, id uuid.UUID) ([]*Event, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, cu, p); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, id)
}

// StatsForUser summarizes the caller's visible prescriptions for the
// dashboard.
func (s *Service) StatsForUser(ctx context.Context, cu identity.CurrentUser) (*Stats, error) {
	f := Filter{}
	switch cu.Role {
	case identity.RolePatient:
		pid := cu.ID
		f.PatientID = &pid
	case identity.RoleGP, identity.RolePharmacy, identity.RoleAdmin:
	case identity.RoleDelegate:
		ids, err := s.delegations.ActivePatientIDs(ctx, cu.ID)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return &Stats{}, nil
		}
		f.PatientIDs = ids
	default:
		return nil, apperror.Authorizationf("role %s cannot view stats", cu.Role)
	}

	counts, err := s.repo.CountByStatus(ctx, f)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		Pending:   counts[StatusRequested],
		Approved:  counts[StatusGPApproved] + counts[StatusSentToPharmacy],
		Dispensed: counts[StatusDispensed] + counts[StatusReadyForCollection],
		Collected: counts[StatusCollected],
	}
	for _, n := range counts {
		st.Total += n
	}
	if st.Total > 0 {
		st.CompletionRate = float64(st.Collected) / float64(st.Total)
	}
	return st, nil
}
