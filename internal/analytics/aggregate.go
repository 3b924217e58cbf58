// Package analytics derives dashboard figures from orders, transactions and
// products that have already been loaded. Nothing here reads the store, so
// every result is only as complete as the slice it was given.
package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
)

type StatusCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Canceled   int `json:"canceled"`
}

func (c StatusCounts) Total() int {
	return c.Pending + c.Processing + c.Completed + c.Canceled
}

// CountByStatus counts orders per known status. Unknown statuses are ignored.
func CountByStatus(orders []models.Order) StatusCounts {
	var c StatusCounts
	for _, o := range orders {
		switch models.OrderStatus(strings.ToLower(string(o.Status))) {
		case models.StatusPending:
			c.Pending++
		case models.StatusProcessing:
			c.Processing++
		case models.StatusCompleted:
			c.Completed++
		case models.StatusCanceled:
			c.Canceled++
		}
	}
	return c
}

// PercentChange is the change from previous to current in percent. A zero
// previous value gives 0.
func PercentChange(current, previous float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

type Trend string

const (
	TrendUp      Trend = "up"
	TrendDown    Trend = "down"
	TrendNeutral Trend = "neutral"
)

func TrendOf(percent float64) Trend {
	switch {
	case percent > 0:
		return TrendUp
	case percent < 0:
		return TrendDown
	}
	return TrendNeutral
}

// Range is a closed interval [Start, End].
type Range struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// previousContains reports whether t falls in the window of equal length
// that ends right before r starts: [Start-d, Start).
func (r Range) previousContains(t time.Time) bool {
	d := r.End.Sub(r.Start)
	return !t.Before(r.Start.Add(-d)) && t.Before(r.Start)
}

type PeriodComparison struct {
	Count         int     `json:"count"`
	PreviousCount int     `json:"previous_count"`
	PercentChange float64 `json:"percent_change"`
	Trend         Trend   `json:"trend"`
}

// PeriodOverPeriod compares the number of orders created in r with the
// number created in the preceding window of the same length.
func PeriodOverPeriod(orders []models.Order, r Range) PeriodComparison {
	var cmp PeriodComparison
	for _, o := range orders {
		switch {
		case r.Contains(o.CreatedAt):
			cmp.Count++
		case r.previousContains(o.CreatedAt):
			cmp.PreviousCount++
		}
	}
	cmp.PercentChange = PercentChange(float64(cmp.Count), float64(cmp.PreviousCount))
	cmp.Trend = TrendOf(cmp.PercentChange)
	return cmp
}

type Bucket string

const (
	BucketDay   Bucket = "day"
	BucketMonth Bucket = "month"
	BucketYear  Bucket = "year"
)

func ParseBucket(s string) (Bucket, error) {
	switch Bucket(strings.ToLower(s)) {
	case "", BucketDay:
		return BucketDay, nil
	case BucketMonth:
		return BucketMonth, nil
	case BucketYear:
		return BucketYear, nil
	}
	return "", fmt.Errorf("unknown bucket %q", s)
}

func (b Bucket) layout() string {
	switch b {
	case BucketMonth:
		return "2006-01"
	case BucketYear:
		return "2006"
	}
	return "2006-01-02"
}

// Key formats t as the bucket's calendar key, in UTC.
func (b Bucket) Key(t time.Time) string {
	return t.UTC().Format(b.layout())
}

// RevenueByTimeframe sums transactions per bucket. Sales add their amount,
// refunds subtract it; other types are ignored.
func RevenueByTimeframe(txns []models.Transaction, bucket Bucket) map[string]float64 {
	out := make(map[string]float64)
	for _, t := range txns {
		switch models.TransactionType(strings.ToLower(string(t.Type))) {
		case models.TransactionSale:
			out[bucket.Key(t.CreatedAt)] += t.Amount
		case models.TransactionRefund:
			out[bucket.Key(t.CreatedAt)] -= t.Amount
		}
	}
	return out
}

type RevenuePoint struct {
	Key     string  `json:"key"`
	Revenue float64 `json:"revenue"`
}

// RevenueSeries orders a RevenueByTimeframe result by bucket key.
func RevenueSeries(byBucket map[string]float64) []RevenuePoint {
	points := make([]RevenuePoint, 0, len(byBucket))
	for k, v := range byBucket {
		points = append(points, RevenuePoint{Key: k, Revenue: v})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Key < points[j].Key })
	return points
}

// TopSellingProducts returns up to n products with sales, best sellers first.
func TopSellingProducts(products []models.Product, n int) []models.Product {
	top := make([]models.Product, 0, len(products))
	for _, p := range products {
		if p.Sold > 0 {
			top = append(top, p)
		}
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Sold > top[j].Sold })
	if n >= 0 && len(top) > n {
		top = top[:n]
	}
	return top
}

// OrderRevenue sums the totals of orders that were not canceled.
func OrderRevenue(orders []models.Order) float64 {
	var sum float64
	for _, o := range orders {
		if !strings.EqualFold(string(o.Status), string(models.StatusCanceled)) {
			sum += o.Total
		}
	}
	return sum
}

type RevenueComparison struct {
	Revenue         float64 `json:"revenue"`
	PreviousRevenue float64 `json:"previous_revenue"`
	PercentChange   float64 `json:"percent_change"`
	Trend           Trend   `json:"trend"`
}

// RevenuePeriodOverPeriod is PeriodOverPeriod for order revenue.
func RevenuePeriodOverPeriod(orders []models.Order, r Range) RevenueComparison {
	var current, previous []models.Order
	for _, o := range orders {
		switch {
		case r.Contains(o.CreatedAt):
			current = append(current, o)
		case r.previousContains(o.CreatedAt):
			previous = append(previous, o)
		}
	}
	cmp := RevenueComparison{
		Revenue:         OrderRevenue(current),
		PreviousRevenue: OrderRevenue(previous),
	}
	cmp.PercentChange = PercentChange(cmp.Revenue, cmp.PreviousRevenue)
	cmp.Trend = TrendOf(cmp.PercentChange)
	return cmp
}
