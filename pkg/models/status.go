package models

import "time"

// StatusHistoryEntry is one append-only audit record of a status transition.
type StatusHistoryEntry struct {
	ID             string      `json:"id"`
	OrderID        string      `json:"order_id"`
	BusinessID     string      `json:"business_id"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	StatusColor    string      `json:"status_color"`
	Notes          string      `json:"notes,omitempty"`
	CreatedBy      string      `json:"created_by"`
	CreatedAt      time.Time   `json:"created_at"`
}

// StatusDefinition is a tenant's display configuration for one status name.
type StatusDefinition struct {
	ID          string `json:"id"`
	BusinessID  string `json:"business_id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
}
