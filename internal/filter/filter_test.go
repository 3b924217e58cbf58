package filter

import (
	"testing"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
	"github.com/stretchr/testify/assert"
)

var (
	day1 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	day5 = time.Date(2024, 6, 5, 10, 0, 0, 0, time.UTC)
)

func sample() []models.Order {
	return []models.Order{
		{ID: "A", Status: models.StatusPending, Customer: models.CustomerSnapshot{Name: "Kofi"}, CreatedAt: day1},
		{ID: "B", Status: models.StatusCompleted, Customer: models.CustomerSnapshot{Name: "Ama"}, CreatedAt: day5},
	}
}

func ids(orders []models.Order) []string {
	out := []string{}
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}

func TestApplyComposition(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		want     []string
	}{
		{"status and search", Criteria{Status: "pending", Search: "kofi"}, []string{"A"}},
		{"search only", Criteria{Search: "ama"}, []string{"B"}},
		{"no match", Criteria{Status: "canceled"}, []string{}},
		{"all skips status", Criteria{Status: "ALL"}, []string{"A", "B"}},
		{"status is case-insensitive", Criteria{Status: "Completed"}, []string{"B"}},
		{"search by id", Criteria{Search: "b"}, []string{"B"}},
		{"start bound inclusive", Criteria{Start: &day5}, []string{"B"}},
		{"end bound inclusive", Criteria{End: &day1}, []string{"A"}},
		{"conflicting criteria", Criteria{Status: "pending", Search: "ama"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Apply(sample(), tt.criteria)))
		})
	}
}

func TestApplySearchesContactFields(t *testing.T) {
	orders := []models.Order{
		{ID: "1", Customer: models.CustomerSnapshot{Email: "Efua@Example.com"}},
		{ID: "2", Customer: models.CustomerSnapshot{Phone: "+233 24 555"}},
	}
	assert.Equal(t, []string{"1"}, ids(Apply(orders, Criteria{Search: "efua@"})))
	assert.Equal(t, []string{"2"}, ids(Apply(orders, Criteria{Search: "24 555"})))
}

func TestSortIsStable(t *testing.T) {
	orders := []models.Order{
		{ID: "a", Total: 10},
		{ID: "b", Total: 5},
		{ID: "c", Total: 10},
		{ID: "d", Total: 5},
	}
	Sort(orders, SortTotal, true)
	assert.Equal(t, []string{"a", "c", "b", "d"}, ids(orders))

	Sort(orders, SortTotal, true)
	assert.Equal(t, []string{"a", "c", "b", "d"}, ids(orders))

	Sort(orders, SortTotal, false)
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids(orders))
}

func TestSortByCustomerAndDate(t *testing.T) {
	orders := sample()
	Sort(orders, SortCustomer, false)
	assert.Equal(t, []string{"B", "A"}, ids(orders))

	Sort(orders, SortCreatedAt, true)
	assert.Equal(t, []string{"B", "A"}, ids(orders))
}

func TestParseSortField(t *testing.T) {
	f, ok := ParseSortField("")
	assert.True(t, ok)
	assert.Equal(t, SortCreatedAt, f)

	f, ok = ParseSortField("Total")
	assert.True(t, ok)
	assert.Equal(t, SortTotal, f)

	_, ok = ParseSortField("price")
	assert.False(t, ok)
}
