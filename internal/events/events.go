package events

import (
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
)

const (
	OrderStatusChangedTopic      = "order.status_changed"
	CustomerNotificationTopic    = "order.customer_notification"
	CustomerNotificationDLQTopic = "order.customer_notification.dlq"
)

// OrderStatusChangedEvent is published after a status transition commits.
type OrderStatusChangedEvent struct {
	OrderID        string             `json:"order_id"`
	BusinessID     string             `json:"business_id"`
	Status         models.OrderStatus `json:"status"`
	PreviousStatus models.OrderStatus `json:"previous_status"`
	StatusColor    string             `json:"status_color"`
	Notes          string             `json:"notes,omitempty"`
	ChangedBy      string             `json:"changed_by"`
	Version        int64              `json:"version"`
	ChangedAt      time.Time          `json:"changed_at"`
	EventTime      time.Time          `json:"event_time"`
}

// CustomerNotification asks the notifier to deliver a message to a customer.
type CustomerNotification struct {
	ID         string                  `json:"id"`
	BusinessID string                  `json:"business_id"`
	OrderID    string                  `json:"order_id"`
	Contact    models.CustomerSnapshot `json:"contact"`
	Message    string                  `json:"message"`
	CreatedAt  time.Time               `json:"created_at"`
}
