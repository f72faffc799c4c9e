package notification

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rxtrail/rxtrail/internal/domain/delegation"
	"github.com/rxtrail/rxtrail/internal/domain/identity"
	"github.com/rxtrail/rxtrail/internal/domain/prescription"
	"github.com/rxtrail/rxtrail/internal/platform/websocket"
	"github.com/rxtrail/rxtrail/pkg/apperror"
)

type mockNotificationRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Notification
}

func newMockNotificationRepo() *mockNotificationRepo {
	return &mockNotificationRepo{items: make(map[uuid.UUID]*Notification)}
}

func (m *mockNotificationRepo) Create(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	clone := *n
	m.items[n.ID] = &clone
	return nil
}

func (m *mockNotificationRepo) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return nil, apperror.NotFoundf("notification not found")
	}
	clone := *n
	return &clone, nil
}

func (m *mockNotificationRepo) MarkRead(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return apperror.NotFoundf("notification not found")
	}
	n.IsRead = true
	return nil
}

func (m *mockNotificationRepo) ListByRecipient(_ context.Context, recipientID uuid.UUID, limit, offset int) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.items {
		if n.RecipientID == recipientID {
			clone := *n
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, len(out), nil
}

func (m *mockNotificationRepo) CountUnread(_ context.Context, recipientID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.items {
		if n.RecipientID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *mockNotificationRepo) forRecipient(recipientID uuid.UUID) []*Notification {
	out, _, _ := m.ListByRecipient(context.Background(), recipientID, 100, 0)
	return out
}

type mockPublisher struct {
	mu     sync.Mutex
	events []websocket.Event
}

func (m *mockPublisher) Publish(_ context.Context, event websocket.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) all() []websocket.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]websocket.Event(nil), m.events...)
}

type mockDelegateLister struct {
	ids map[uuid.UUID][]uuid.UUID
}

func (m *mockDelegateLister) ActiveDelegateIDs(_ context.Context, patientID uuid.UUID) ([]uuid.UUID, error) {
	return m.ids[patientID], nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestOnPrescriptionTransition_NotifiesPatient(t *testing.T) {
	repo := newMockNotificationRepo()
	pub := &mockPublisher{}
	d := NewDispatcher(repo, pub, &mockDelegateLister{})
	defer d.Close()

	patientID := uuid.New()
	p := &prescription.Prescription{ID: uuid.New(), PatientID: patientID, Medication: "Amoxicillin"}
	d.OnPrescriptionTransition(context.Background(), p, prescription.StatusRequested, prescription.StatusGPApproved)

	stored := repo.forRecipient(patientID)
	if len(stored) != 1 {
		t.Fatalf("expected 1 stored notification, got %d", len(stored))
	}
	if stored[0].Type != TypeStatusChange {
		t.Errorf("expected status_change, got %s", stored[0].Type)
	}
	if stored[0].Title != "Prescription approved" {
		t.Errorf("unexpected title %q", stored[0].Title)
	}

	waitFor(t, func() bool { return len(pub.all()) == 1 })
	event := pub.all()[0]
	if event.Topic != websocket.UserTopic(patientID) {
		t.Errorf("push should target the patient topic, got %s", event.Topic)
	}
	if event.Type != "notification" {
		t.Errorf("unexpected event type %s", event.Type)
	}
}

func TestOnPrescriptionTransition_ReadyFansOutToDelegates(t *testing.T) {
	repo := newMockNotificationRepo()
	pub := &mockPublisher{}
	patientID := uuid.New()
	delegateID := uuid.New()
	d := NewDispatcher(repo, pub, &mockDelegateLister{ids: map[uuid.UUID][]uuid.UUID{
		patientID: {delegateID},
	}})
	defer d.Close()

	p := &prescription.Prescription{ID: uuid.New(), PatientID: patientID, Medication: "Amoxicillin"}
	d.OnPrescriptionTransition(context.Background(), p, prescription.StatusDispensed, prescription.StatusReadyForCollection)

	patientNotifs := repo.forRecipient(patientID)
	if len(patientNotifs) != 1 || patientNotifs[0].Type != TypeStatusChange {
		t.Errorf("patient should get a status_change, got %+v", patientNotifs)
	}
	delegateNotifs := repo.forRecipient(delegateID)
	if len(delegateNotifs) != 1 || delegateNotifs[0].Type != TypeCollectionReady {
		t.Errorf("delegate should get a collection_ready, got %+v", delegateNotifs)
	}

	waitFor(t, func() bool { return len(pub.all()) == 2 })
}

func TestOnPrescriptionTransition_NonReadySkipsDelegates(t *testing.T) {
	repo := newMockNotificationRepo()
	patientID := uuid.New()
	delegateID := uuid.New()
	d := NewDispatcher(repo, &mockPublisher{}, &mockDelegateLister{ids: map[uuid.UUID][]uuid.UUID{
		patientID: {delegateID},
	}})
	defer d.Close()

	p := &prescription.Prescription{ID: uuid.New(), PatientID: patientID, Medication: "Amoxicillin"}
	d.OnPrescriptionTransition(context.Background(), p, prescription.StatusRequested, prescription.StatusGPApproved)

	if got := repo.forRecipient(delegateID); len(got) != 0 {
		t.Errorf("delegate should not hear about approval, got %+v", got)
	}
}

func TestOnDelegationCreated(t *testing.T) {
	repo := newMockNotificationRepo()
	d := NewDispatcher(repo, &mockPublisher{}, &mockDelegateLister{})
	defer d.Close()

	delegateID := uuid.New()
	d.OnDelegationCreated(context.Background(), &delegation.Delegation{
		ID:         uuid.New(),
		PatientID:  uuid.New(),
		DelegateID: delegateID,
		Status:     delegation.StatusPending,
	})

	stored := repo.forRecipient(delegateID)
	if len(stored) != 1 || stored[0].Type != TypeDelegationRequest {
		t.Errorf("expected a delegation_request for the delegate, got %+v", stored)
	}
}

func TestMarkRead(t *testing.T) {
	repo := newMockNotificationRepo()
	d := NewDispatcher(repo, &mockPublisher{}, &mockDelegateLister{})
	defer d.Close()

	recipientID := uuid.New()
	n := &Notification{RecipientID: recipientID, Type: TypeReminder, Title: "t", Message: "m"}
	if err := repo.Create(context.Background(), n); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	cu := identity.CurrentUser{ID: recipientID, Role: identity.RolePatient}
	updated, err := d.MarkRead(context.Background(), cu, n.ID)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if !updated.IsRead {
		t.Error("notification should be marked read")
	}

	// Idempotent second read.
	if _, err := d.MarkRead(context.Background(), cu, n.ID); err != nil {
		t.Errorf("second MarkRead should succeed, got %v", err)
	}

	stranger := identity.CurrentUser{ID: uuid.New(), Role: identity.RolePatient}
	if _, err := d.MarkRead(context.Background(), stranger, n.ID); !apperror.IsKind(err, apperror.KindAuthorization) {
		t.Errorf("expected authorization error for non-recipient, got %v", err)
	}
}

func TestListForUser_NewestFirstAndUnreadCount(t *testing.T) {
	repo := newMockNotificationRepo()
	d := NewDispatcher(repo, &mockPublisher{}, &mockDelegateLister{})
	defer d.Close()

	recipientID := uuid.New()
	for i := 0; i < 3; i++ {
		n := &Notification{RecipientID: recipientID, Type: TypeReminder, Title: "t", Message: "m"}
		if err := repo.Create(context.Background(), n); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	cu := identity.CurrentUser{ID: recipientID, Role: identity.RolePatient}
	items, total, err := d.ListForUser(context.Background(), cu, 20, 0)
	if err != nil || total != 3 {
		t.Fatalf("expected 3 notifications, got %d err=%v", total, err)
	}
	for i := 1; i < len(items); i++ {
		if items[i].CreatedAt.After(items[i-1].CreatedAt) {
			t.Error("notifications should be newest first")
		}
	}

	count, err := d.UnreadCount(context.Background(), cu)
	if err != nil || count != 3 {
		t.Errorf("expected 3 unread, got %d err=%v", count, err)
	}

	if _, err := d.MarkRead(context.Background(), cu, items[0].ID); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	count, err = d.UnreadCount(context.Background(), cu)
	if err != nil || count != 2 {
		t.Errorf("expected 2 unread after reading one, got %d err=%v", count, err)
	}
}
