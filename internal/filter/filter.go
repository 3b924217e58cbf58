// Package filter narrows and orders an in-memory list of orders for the
// dashboard's search view.
package filter

import (
	"sort"
	"strings"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
)

// Criteria are combined with AND. Zero values disable a criterion; Status
// "all" does too. Start and End are inclusive bounds on created_at.
type Criteria struct {
	Status string
	Search string
	Start  *time.Time
	End    *time.Time
}

type SortField string

const (
	SortCreatedAt SortField = "created_at"
	SortUpdatedAt SortField = "updated_at"
	SortTotal     SortField = "total"
	SortStatus    SortField = "status"
	SortCustomer  SortField = "customer"
	SortID        SortField = "id"
)

var sortFields = []SortField{SortCreatedAt, SortUpdatedAt, SortTotal, SortStatus, SortCustomer, SortID}

func ParseSortField(s string) (SortField, bool) {
	if s == "" {
		return SortCreatedAt, true
	}
	for _, f := range sortFields {
		if string(f) == strings.ToLower(s) {
			return f, true
		}
	}
	return "", false
}

// Apply returns the orders matching c, in their original relative order.
func Apply(orders []models.Order, c Criteria) []models.Order {
	status := strings.TrimSpace(c.Status)
	skipStatus := status == "" || strings.EqualFold(status, "all")
	term := strings.ToLower(strings.TrimSpace(c.Search))

	out := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		if !skipStatus && !strings.EqualFold(string(o.Status), status) {
			continue
		}
		if term != "" && !matchesSearch(o, term) {
			continue
		}
		if c.Start != nil && o.CreatedAt.Before(*c.Start) {
			continue
		}
		if c.End != nil && o.CreatedAt.After(*c.End) {
			continue
		}
		out = append(out, o)
	}
	return out
}

func matchesSearch(o models.Order, term string) bool {
	for _, field := range []string{o.ID, o.Customer.Name, o.Customer.Email, o.Customer.Phone} {
		if strings.Contains(strings.ToLower(field), term) {
			return true
		}
	}
	return false
}

// Sort orders in place by field. The sort is stable, so equal keys keep their
// relative order and sorting twice gives the same result.
func Sort(orders []models.Order, field SortField, desc bool) {
	cmp := comparator(field)
	sort.SliceStable(orders, func(i, j int) bool {
		if desc {
			return cmp(orders[j], orders[i]) < 0
		}
		return cmp(orders[i], orders[j]) < 0
	})
}

func comparator(field SortField) func(a, b models.Order) int {
	switch field {
	case SortUpdatedAt:
		return func(a, b models.Order) int { return a.UpdatedAt.Compare(b.UpdatedAt) }
	case SortTotal:
		return func(a, b models.Order) int {
			switch {
			case a.Total < b.Total:
				return -1
			case a.Total > b.Total:
				return 1
			}
			return 0
		}
	case SortStatus:
		return func(a, b models.Order) int {
			return strings.Compare(strings.ToLower(string(a.Status)), strings.ToLower(string(b.Status)))
		}
	case SortCustomer:
		return func(a, b models.Order) int {
			return strings.Compare(strings.ToLower(a.Customer.Name), strings.ToLower(b.Customer.Name))
		}
	case SortID:
		return func(a, b models.Order) int { return strings.Compare(a.ID, b.ID) }
	}
	return func(a, b models.Order) int { return a.CreatedAt.Compare(b.CreatedAt) }
}
