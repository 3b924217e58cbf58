package analytics

import (
	"fmt"
	"math"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTopProducts = 5
	// StalePendingAge is how long an order may stay pending before the
	// dashboard calls it out.
	StalePendingAge = 48 * time.Hour
)

// Input is the data window a summary is built from. Orders should cover
// both Range and the window before it for the comparisons to be meaningful.
type Input struct {
	Orders       []models.Order
	Transactions []models.Transaction
	Products     []models.Product
	Range        Range
	Bucket       Bucket
	TopN         int
	Now          time.Time
}

type Summary struct {
	Range             Range             `json:"range"`
	Bucket            Bucket            `json:"bucket"`
	StatusCounts      StatusCounts      `json:"status_counts"`
	Orders            PeriodComparison  `json:"orders"`
	Revenue           RevenueComparison `json:"revenue"`
	AverageOrderValue float64           `json:"average_order_value"`
	RevenueSeries     []RevenuePoint    `json:"revenue_series"`
	Refunds           float64           `json:"refunds"`
	TopProducts       []models.Product  `json:"top_products"`
	Alerts            []string          `json:"alerts"`
	GeneratedAt       time.Time         `json:"generated_at"`
	ProcessingTime    time.Duration     `json:"processing_time"`
}

type Analyzer struct {
	logger *logrus.Logger
}

func NewAnalyzer(logger *logrus.Logger) *Analyzer {
	return &Analyzer{logger: logger}
}

// Summarize builds the dashboard summary for in.Range.
func (a *Analyzer) Summarize(in Input) *Summary {
	startTime := time.Now()
	if in.Now.IsZero() {
		in.Now = startTime.UTC()
	}
	if in.Bucket == "" {
		in.Bucket = BucketDay
	}
	if in.TopN <= 0 {
		in.TopN = DefaultTopProducts
	}

	inRange := make([]models.Order, 0, len(in.Orders))
	for _, o := range in.Orders {
		if in.Range.Contains(o.CreatedAt) {
			inRange = append(inRange, o)
		}
	}

	s := &Summary{
		Range:         in.Range,
		Bucket:        in.Bucket,
		StatusCounts:  CountByStatus(inRange),
		Orders:        PeriodOverPeriod(in.Orders, in.Range),
		Revenue:       RevenuePeriodOverPeriod(in.Orders, in.Range),
		RevenueSeries: RevenueSeries(RevenueByTimeframe(in.Transactions, in.Bucket)),
		TopProducts:   TopSellingProducts(in.Products, in.TopN),
		GeneratedAt:   in.Now,
	}
	if paid := len(inRange) - s.StatusCounts.Canceled; paid > 0 {
		s.AverageOrderValue = round2(s.Revenue.Revenue / float64(paid))
	}
	for _, t := range in.Transactions {
		if t.Type == models.TransactionRefund {
			s.Refunds += t.Amount
		}
	}
	s.Alerts = a.alerts(in, s)
	s.ProcessingTime = time.Since(startTime)

	a.logger.WithFields(logrus.Fields{
		"orders":          len(inRange),
		"transactions":    len(in.Transactions),
		"alerts":          len(s.Alerts),
		"processing_time": s.ProcessingTime,
	}).Debug("Dashboard summary built")

	return s
}

func (a *Analyzer) alerts(in Input, s *Summary) []string {
	alerts := []string{}

	stale := 0
	for _, o := range in.Orders {
		if o.Status == models.StatusPending && in.Now.Sub(o.CreatedAt) > StalePendingAge {
			stale++
		}
	}
	if stale > 0 {
		alerts = append(alerts, fmt.Sprintf("%d orders have been pending for more than %d hours", stale, int(StalePendingAge.Hours())))
	}

	var sales float64
	for _, t := range in.Transactions {
		if t.Type == models.TransactionSale {
			sales += t.Amount
		}
	}
	if sales > 0 && s.Refunds/sales > 0.1 {
		alerts = append(alerts, fmt.Sprintf("Refunds are %.0f%% of sales in this period", s.Refunds/sales*100))
	}

	if s.Revenue.Trend == TrendDown && s.Revenue.PercentChange <= -20 {
		alerts = append(alerts, fmt.Sprintf("Revenue is down %.0f%% on the previous period", math.Abs(s.Revenue.PercentChange)))
	}

	if s.StatusCounts.Total() > 0 && float64(s.StatusCounts.Canceled)/float64(s.StatusCounts.Total()) > 0.25 {
		alerts = append(alerts, "More than a quarter of orders in this period were canceled")
	}
	return alerts
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
