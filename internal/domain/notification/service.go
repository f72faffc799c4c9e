package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rxtrail/rxtrail/internal/domain/delegation"
	"github.com/rxtrail/rxtrail/internal/domain/identity"
	"github.com/rxtrail/rxtrail/internal/domain/prescription"
	"github.com/rxtrail/rxtrail/internal/platform/websocket"
	"github.com/rxtrail/rxtrail/pkg/apperror"
)

// DelegateLister resolves which delegates currently act for a patient, so
// collection-ready notifications reach them too.
type DelegateLister interface {
	ActiveDelegateIDs(ctx context.Context, patientID uuid.UUID) ([]uuid.UUID, error)
}

const pushQueueSize = 256

// Dispatcher persists notifications and pushes them to connected clients.
// Persistence is synchronous; the websocket push runs on a background worker
// and is fire-and-forget, so a slow or absent client never stalls the
// workflow that produced the notification.
type Dispatcher struct {
	repo      Repository
	publisher websocket.EventPublisher
	delegates DelegateLister
	queue     chan *Notification
	done      chan struct{}
}

func NewDispatcher(repo Repository, publisher websocket.EventPublisher, delegates DelegateLister) *Dispatcher {
	d := &Dispatcher{
		repo:      repo,
		publisher: publisher,
		delegates: delegates,
		queue:     make(chan *Notification, pushQueueSize),
		done:      make(chan struct{}),
	}
	go d.pushWorker()
	return d
}

// Close drains the push queue and stops the worker.
func (d *Dispatcher) Close() {
	close(d.queue)
	<-d.done
}

func (d *Dispatcher) pushWorker() {
	defer close(d.done)
	for n := range d.queue {
		d.push(n)
	}
}

func (d *Dispatcher) push(n *Notification) {
	if d.publisher == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode notification for push")
		return
	}
	event := websocket.Event{
		Type:       "notification",
		Topic:      websocket.UserTopic(n.RecipientID),
		Resource:   "notification",
		ResourceID: n.ID.String(),
		Timestamp:  time.Now().UTC(),
		Data:       payload,
	}
	if err := d.publisher.Publish(context.Background(), event); err != nil {
		log.Warn().Err(err).Str("recipient_id", n.RecipientID.String()).Msg("notification push failed")
	}
}

// dispatch stores the notification and queues the push. A full queue drops
// the push, never the stored row.
func (d *Dispatcher) dispatch(ctx context.Context, n *Notification) {
	if err := d.repo.Create(ctx, n); err != nil {
		log.Error().Err(err).
			Str("recipient_id", n.RecipientID.String()).
			Str("type", string(n.Type)).
			Msg("failed to persist notification")
		return
	}
	select {
	case d.queue <- n:
	default:
		log.Warn().Str("notification_id", n.ID.String()).Msg("push queue full, dropping push")
	}
}

var statusTitles = map[prescription.Status]string{
	prescription.StatusGPApproved:         "Prescription approved",
	prescription.StatusSentToPharmacy:     "Prescription sent to pharmacy",
	prescription.StatusDispensed:          "Prescription dispensed",
	prescription.StatusReadyForCollection: "Prescription ready for collection",
	prescription.StatusCollected:          "Prescription collected",
}

// OnPrescriptionTransition notifies the owning patient of every state change
// and, when the prescription becomes ready for collection, fans out to the
// patient's active delegates as well. Implements prescription.Notifier.
func (d *Dispatcher) OnPrescriptionTransition(ctx context.Context, p *prescription.Prescription, from, to prescription.Status) {
	title, ok := statusTitles[to]
	if !ok {
		title = "Prescription updated"
	}
	d.dispatch(ctx, &Notification{
		RecipientID: p.PatientID,
		Type:        TypeStatusChange,
		Title:       title,
		Message:     fmt.Sprintf("Your prescription for %s is now %s.", p.Medication, to),
	})

	if to != prescription.StatusReadyForCollection || d.delegates == nil {
		return
	}
	delegateIDs, err := d.delegates.ActiveDelegateIDs(ctx, p.PatientID)
	if err != nil {
		log.Warn().Err(err).Str("patient_id", p.PatientID.String()).Msg("failed to resolve delegates for collection notice")
		return
	}
	for _, id := range delegateIDs {
		d.dispatch(ctx, &Notification{
			RecipientID: id,
			Type:        TypeCollectionReady,
			Title:       "Prescription ready for collection",
			Message:     fmt.Sprintf("A prescription for %s you are authorized to collect is ready at the pharmacy.", p.Medication),
		})
	}
}

// OnDelegationCreated notifies the named delegate that a patient wants to
// grant them collection authority. Implements delegation.Notifier.
func (d *Dispatcher) OnDelegationCreated(ctx context.Context, del *delegation.Delegation) {
	d.dispatch(ctx, &Notification{
		RecipientID: del.DelegateID,
		Type:        TypeDelegationRequest,
		Title:       "Collection delegation requested",
		Message:     "A patient has asked you to collect prescriptions on their behalf.",
	})
}

// ListForUser returns the caller's notifications, newest first.
func (d *Dispatcher) ListForUser(ctx context.Context, cu identity.CurrentUser, limit, offset int) ([]*Notification, int, error) {
	items, total, err := d.repo.ListByRecipient(ctx, cu.ID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*Notification{}
	}
	return items, total, nil
}

// UnreadCount returns how many of the caller's notifications are unread.
func (d *Dispatcher) UnreadCount(ctx context.Context, cu identity.CurrentUser) (int, error) {
	return d.repo.CountUnread(ctx, cu.ID)
}

// MarkRead marks one of the caller's own notifications as read.
func (d *Dispatcher) MarkRead(ctx context.Context, cu identity.CurrentUser, id uuid.UUID) (*Notification, error) {
	n, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.RecipientID != cu.ID {
		return nil, apperror.Authorizationf("not permitted to modify this notification")
	}
	if !n.IsRead {
		if err := d.repo.MarkRead(ctx, id); err != nil {
			return nil, err
		}
		n.IsRead = true
	}
	return n, nil
}
