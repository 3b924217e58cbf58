package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/events"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
	"github.com/sirupsen/logrus"
)

// Notifier delivers a message to a customer. Delivery is best-effort.
type Notifier interface {
	Notify(ctx context.Context, n events.CustomerNotification) error
}

// Publisher announces committed status changes.
type Publisher interface {
	PublishStatusChanged(ctx context.Context, event events.OrderStatusChangedEvent) error
}

const (
	SideEffectNotifyCustomer = "notify_customer"
	SideEffectPublishEvent   = "publish_event"
)

// SideEffect is the outcome of a best-effort step that ran after the order
// write committed. A failed side effect never undoes the write.
type SideEffect struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type TransitionResult struct {
	Order       *models.Order              `json:"order"`
	History     *models.StatusHistoryEntry `json:"history"`
	SideEffects []SideEffect               `json:"side_effects,omitempty"`
}

type StatusChange struct {
	TenantID string
	OrderID  string
	Status   string
	Note     string
	SendNote bool
	ActorID  string
}

func (c StatusChange) validate() (models.OrderStatus, string, error) {
	target, ok := models.ParseStatus(c.Status)
	if !ok {
		return "", "", validationError("unknown status %q", c.Status)
	}
	note := strings.TrimSpace(c.Note)
	if c.SendNote && note == "" {
		return "", "", validationError("a note is required to notify the customer")
	}
	return target, note, nil
}

type Cancellation struct {
	TenantID string
	OrderID  string
	Note     string
	ActorID  string
}

// Workflow applies status transitions. The order write and its history entry
// are committed together: in one transaction when the store supports it,
// otherwise in sequence with the order write reverted if the history append
// fails.
type Workflow struct {
	repo      *Repository
	store     store.Store
	notifier  Notifier
	publisher Publisher
	logger    *logrus.Logger
	now       func() time.Time
}

func NewWorkflow(repo *Repository, notifier Notifier, publisher Publisher, logger *logrus.Logger) *Workflow {
	return &Workflow{
		repo:      repo,
		store:     repo.store,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UpdateStatus moves an order to a new status. Orders that are completed or
// canceled are rejected with ErrInvalidTransition and left untouched.
func (w *Workflow) UpdateStatus(ctx context.Context, change StatusChange) (*TransitionResult, error) {
	target, note, err := change.validate()
	if err != nil {
		return nil, err
	}

	snap, err := w.repo.load(ctx, change.TenantID, change.OrderID)
	if err != nil {
		return nil, err
	}
	if snap.order.Status.IsTerminal() {
		w.logger.WithFields(logrus.Fields{
			"order_id": change.OrderID,
			"status":   snap.order.Status,
			"target":   target,
		}).Warn("Rejected status change on terminal order")
		return nil, ErrInvalidTransition
	}

	return w.transition(ctx, snap, transition{
		target:    target,
		note:      note,
		notify:    change.SendNote,
		actorID:   change.ActorID,
		noteField: "notes",
	})
}

// Cancel moves an order to canceled. Canceling twice is ErrAlreadyCanceled
// and a completed order cannot be canceled.
func (w *Workflow) Cancel(ctx context.Context, c Cancellation) (*TransitionResult, error) {
	snap, err := w.repo.load(ctx, c.TenantID, c.OrderID)
	if err != nil {
		return nil, err
	}
	switch snap.order.Status {
	case models.StatusCanceled:
		return nil, ErrAlreadyCanceled
	case models.StatusCompleted:
		return nil, ErrInvalidTransition
	}

	note := strings.TrimSpace(c.Note)
	return w.transition(ctx, snap, transition{
		target:    models.StatusCanceled,
		note:      note,
		notify:    note != "",
		actorID:   c.ActorID,
		noteField: "cancellation_note",
	})
}

type transition struct {
	target    models.OrderStatus
	note      string
	notify    bool
	actorID   string
	noteField string
}

func (w *Workflow) transition(ctx context.Context, snap snapshot, t transition) (*TransitionResult, error) {
	order := snap.order
	log := w.logger.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"business_id": order.BusinessID,
		"from":        order.Status,
		"to":          t.target,
	})

	defs, err := w.repo.StatusDefinitions(ctx, order.BusinessID)
	if err != nil {
		log.WithError(err).Warn("Using default palette, status definitions unavailable")
	}
	color := ResolveColor(string(t.target), defs)
	now := w.now()

	fields := map[string]interface{}{
		"status":       string(t.target),
		"status_color": color,
		"updated_at":   now,
		"version":      order.Version + 1,
	}
	switch t.target {
	case models.StatusCompleted:
		fields["completed_at"] = now
	case models.StatusCanceled:
		fields["canceled_at"] = now
	}
	if t.note != "" {
		fields[t.noteField] = t.note
	}

	entry := models.StatusHistoryEntry{
		OrderID:        order.ID,
		BusinessID:     order.BusinessID,
		Status:         t.target,
		PreviousStatus: order.Status,
		StatusColor:    color,
		Notes:          t.note,
		CreatedBy:      t.actorID,
		CreatedAt:      now,
	}

	entryID, err := w.commit(ctx, snap, fields, historyFields(entry))
	if err != nil {
		log.WithError(err).Error("Failed to update order status")
		return nil, translate(err)
	}
	entry.ID = entryID

	order.Status = t.target
	order.StatusColor = color
	order.UpdatedAt = now
	order.Version++
	switch t.target {
	case models.StatusCompleted:
		order.CompletedAt = &now
	case models.StatusCanceled:
		order.CanceledAt = &now
	}
	if t.note != "" {
		if t.noteField == "cancellation_note" {
			order.CancellationNote = t.note
		} else {
			order.Notes = t.note
		}
	}

	log.WithField("version", order.Version).Info("Order status updated")

	result := &TransitionResult{Order: &order, History: &entry}
	if t.notify && t.note != "" {
		result.SideEffects = append(result.SideEffects, w.notifyCustomer(ctx, order, t.note))
	}
	result.SideEffects = append(result.SideEffects, w.publish(ctx, order, entry))
	return result, nil
}

func historyFields(e models.StatusHistoryEntry) map[string]interface{} {
	fields := map[string]interface{}{
		"order_id":        e.OrderID,
		"business_id":     e.BusinessID,
		"status":          string(e.Status),
		"previous_status": string(e.PreviousStatus),
		"status_color":    e.StatusColor,
		"created_by":      e.CreatedBy,
		"created_at":      e.CreatedAt,
	}
	if e.Notes != "" {
		fields["notes"] = e.Notes
	}
	return fields
}

// commit writes the order fields and appends the history entry as one unit.
func (w *Workflow) commit(ctx context.Context, snap snapshot, fields, entry map[string]interface{}) (string, error) {
	path := orderPath(snap.order.ID)
	historyPath := store.Doc(OrdersCollection, snap.order.ID, HistoryCollection)
	cond := snap.versionCondition()

	var entryID string
	err := w.store.RunInTransaction(ctx, func(ctx context.Context, tx store.Writer) error {
		if err := tx.Update(ctx, path, fields, cond); err != nil {
			return err
		}
		id, err := tx.Add(ctx, historyPath, entry)
		entryID = id
		return err
	})
	if !errors.Is(err, store.ErrTransactionsUnsupported) {
		return entryID, err
	}

	if err := w.store.Update(ctx, path, fields, cond); err != nil {
		return "", err
	}
	entryID, err = w.store.Add(ctx, historyPath, entry)
	if err == nil {
		return entryID, nil
	}

	revertCond := store.Precondition{Field: "version", Equals: fields["version"]}
	if rerr := w.store.Update(ctx, path, snap.revertOf(fields), revertCond); rerr != nil {
		w.logger.WithError(rerr).WithFields(logrus.Fields{
			"order_id":      snap.order.ID,
			"history_error": err.Error(),
		}).Error("Failed to revert order after history append failed; order has no history entry for this change")
	}
	return "", err
}

func (w *Workflow) notifyCustomer(ctx context.Context, order models.Order, note string) SideEffect {
	effect := SideEffect{Name: SideEffectNotifyCustomer}
	if w.notifier == nil {
		effect.Error = "no notification channel configured"
		return effect
	}
	if !order.Customer.HasContact() {
		effect.Error = "customer has no contact details"
		return effect
	}

	err := w.notifier.Notify(ctx, events.CustomerNotification{
		BusinessID: order.BusinessID,
		OrderID:    order.ID,
		Contact:    order.Customer,
		Message:    note,
		CreatedAt:  w.now(),
	})
	if err != nil {
		w.logger.WithError(err).WithField("order_id", order.ID).Warn("Customer notification failed")
		effect.Error = err.Error()
		return effect
	}
	effect.OK = true
	return effect
}

func (w *Workflow) publish(ctx context.Context, order models.Order, entry models.StatusHistoryEntry) SideEffect {
	effect := SideEffect{Name: SideEffectPublishEvent}
	if w.publisher == nil {
		effect.OK = true
		return effect
	}

	err := w.publisher.PublishStatusChanged(ctx, events.OrderStatusChangedEvent{
		OrderID:        order.ID,
		BusinessID:     order.BusinessID,
		Status:         order.Status,
		PreviousStatus: entry.PreviousStatus,
		StatusColor:    order.StatusColor,
		Notes:          entry.Notes,
		ChangedBy:      entry.CreatedBy,
		Version:        order.Version,
		ChangedAt:      entry.CreatedAt,
	})
	if err != nil {
		w.logger.WithError(err).WithField("order_id", order.ID).Warn("Failed to publish status change")
		effect.Error = err.Error()
		return effect
	}
	effect.OK = true
	return effect
}
