// Package notify delivers customer notifications over SMS, webhooks or the
// log, and decides which failures are worth retrying.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/events"
	"github.com/sirupsen/logrus"
)

var (
	// ErrPermanent marks a failure that will not go away on retry.
	ErrPermanent = errors.New("permanent delivery failure")
	// ErrNoRoute means no configured sender can reach the customer.
	ErrNoRoute = fmt.Errorf("%w: no sender can reach the customer", ErrPermanent)
)

// Sender delivers one notification over one channel. A sender that cannot
// reach the contact at all returns ErrNoRoute so the next one is tried.
type Sender interface {
	Name() string
	Send(ctx context.Context, n events.CustomerNotification) error
}

// IsRetryable reports whether redelivering n could succeed.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrPermanent) && !errors.Is(err, context.Canceled)
}

func permanent(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPermanent, fmt.Sprintf(format, args...))
}

// Dispatcher tries its senders in order until one accepts the notification.
type Dispatcher struct {
	senders []Sender
	logger  *logrus.Logger
}

func NewDispatcher(logger *logrus.Logger, senders ...Sender) *Dispatcher {
	return &Dispatcher{senders: senders, logger: logger}
}

func (d *Dispatcher) Send(ctx context.Context, n events.CustomerNotification) error {
	if !n.Contact.HasContact() {
		return ErrNoRoute
	}
	for _, s := range d.senders {
		err := s.Send(ctx, n)
		if errors.Is(err, ErrNoRoute) {
			continue
		}
		log := d.logger.WithFields(logrus.Fields{
			"notification_id": n.ID,
			"order_id":        n.OrderID,
			"sender":          s.Name(),
		})
		if err != nil {
			log.WithError(err).Warn("Notification delivery failed")
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
		log.Info("Notification delivered")
		return nil
	}
	return ErrNoRoute
}

// Notify delivers in-process. It is used when no message broker is
// configured, so the caller waits for delivery.
func (d *Dispatcher) Notify(ctx context.Context, n events.CustomerNotification) error {
	return d.Send(ctx, n)
}

// HandleNotification and IsRetryable let the dispatcher sit behind the
// retrying Kafka consumer.
func (d *Dispatcher) HandleNotification(ctx context.Context, n events.CustomerNotification) error {
	return d.Send(ctx, n)
}

func (d *Dispatcher) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// LogSender writes the notification to the log. It reaches every contact and
// is meant as the last sender in development setups.
type LogSender struct {
	logger *logrus.Logger
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(_ context.Context, n events.CustomerNotification) error {
	s.logger.WithFields(logrus.Fields{
		"order_id": n.OrderID,
		"name":     n.Contact.Name,
		"email":    n.Contact.Email,
		"phone":    n.Contact.Phone,
		"message":  n.Message,
	}).Info("Customer notification")
	return nil
}
