package models

import "time"

// Business is the tenant record. One owner per business.
type Business struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Customer struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"business_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Address    string    `json:"address,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Product struct {
	ID         string  `json:"id"`
	BusinessID string  `json:"business_id"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Stock      int     `json:"stock"`
	Sold       int     `json:"sold"`
}

type TransactionType string

const (
	TransactionSale   TransactionType = "sale"
	TransactionRefund TransactionType = "refund"
)

type Transaction struct {
	ID         string          `json:"id"`
	BusinessID string          `json:"business_id"`
	OrderID    string          `json:"order_id,omitempty"`
	Type       TransactionType `json:"type"`
	Amount     float64         `json:"amount"`
	CreatedAt  time.Time       `json:"created_at"`
}
