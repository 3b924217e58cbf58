package models

import (
	"math"
	"strings"
	"time"
)

type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusCompleted  OrderStatus = "completed"
	StatusCanceled   OrderStatus = "canceled"
)

// Statuses lists every status an order can hold, in lifecycle order.
var Statuses = []OrderStatus{StatusPending, StatusProcessing, StatusCompleted, StatusCanceled}

// ParseStatus matches s case-insensitively against the known statuses.
func ParseStatus(s string) (OrderStatus, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, st := range Statuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

func (s OrderStatus) String() string {
	return string(s)
}

type ShippingMethod string

const (
	ShippingDelivery ShippingMethod = "delivery"
	ShippingPickup   ShippingMethod = "pickup"
)

// CustomerSnapshot is the copy of the customer taken when the order was placed.
type CustomerSnapshot struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// HasContact reports whether the customer can be reached at all.
func (c CustomerSnapshot) HasContact() bool {
	return c.Email != "" || c.Phone != ""
}

type Order struct {
	ID               string           `json:"id"`
	BusinessID       string           `json:"business_id"`
	Customer         CustomerSnapshot `json:"customer"`
	Status           OrderStatus      `json:"status"`
	StatusColor      string           `json:"status_color"`
	ShippingMethod   ShippingMethod   `json:"shipping_method"`
	ShippingAddress  string           `json:"shipping_address"`
	Subtotal         float64          `json:"subtotal"`
	ShippingFee      float64          `json:"shipping_fee"`
	Tax              float64          `json:"tax"`
	Total            float64          `json:"total"`
	Notes            string           `json:"notes,omitempty"`
	CancellationNote string           `json:"cancellation_note,omitempty"`
	Version          int64            `json:"version"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	CanceledAt       *time.Time       `json:"canceled_at,omitempty"`
	Items            []OrderItem      `json:"items,omitempty"`
}

// TotalTolerance is the rounding slack allowed between total and its parts.
const TotalTolerance = 0.01

// TotalConsistent checks total == subtotal + shipping_fee + tax within TotalTolerance.
func (o *Order) TotalConsistent() bool {
	return math.Abs(o.Total-(o.Subtotal+o.ShippingFee+o.Tax)) < TotalTolerance
}

type OrderItem struct {
	ProductID string  `json:"product_id,omitempty"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Total     float64 `json:"total"`
}
