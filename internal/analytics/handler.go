package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/tenant"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultWindow is the summary range when the caller gives no start.
const DefaultWindow = 30 * 24 * time.Hour

type OrderSource interface {
	ListAllOrders(ctx context.Context, tenantID string) ([]models.Order, error)
}

type CatalogSource interface {
	ListProducts(ctx context.Context, tenantID string) ([]models.Product, error)
	ListTransactions(ctx context.Context, tenantID string, start, end time.Time) ([]models.Transaction, error)
}

type Handler struct {
	orders   OrderSource
	catalog  CatalogSource
	analyzer *Analyzer
	logger   *logrus.Logger
	now      func() time.Time
}

func NewHandler(orders OrderSource, catalog CatalogSource, logger *logrus.Logger) *Handler {
	return &Handler{
		orders:   orders,
		catalog:  catalog,
		analyzer: NewAnalyzer(logger),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/analytics/summary", h.Summary).Methods("GET")
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := h.now()

	rng := Range{Start: now.Add(-DefaultWindow), End: now}
	if raw := q.Get("end"); raw != "" {
		end, err := parseTime(raw, true)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, "end must be a date or RFC 3339 time")
			return
		}
		rng.End = end
		rng.Start = end.Add(-DefaultWindow)
	}
	if raw := q.Get("start"); raw != "" {
		start, err := parseTime(raw, false)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, "start must be a date or RFC 3339 time")
			return
		}
		rng.Start = start
	}
	if !rng.Start.Before(rng.End) {
		h.respondWithError(w, http.StatusBadRequest, "start must be before end")
		return
	}

	bucket, err := ParseBucket(q.Get("bucket"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, "bucket must be day, month or year")
		return
	}
	topN := DefaultTopProducts
	if raw := q.Get("top"); raw != "" {
		if topN, err = strconv.Atoi(raw); err != nil || topN < 1 {
			h.respondWithError(w, http.StatusBadRequest, "top must be a positive integer")
			return
		}
	}

	tenantID := tenant.TenantID(r.Context())
	in := Input{Range: rng, Bucket: bucket, TopN: topN, Now: now}

	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		in.Orders, err = h.orders.ListAllOrders(ctx, tenantID)
		return err
	})
	g.Go(func() error {
		var err error
		in.Transactions, err = h.catalog.ListTransactions(ctx, tenantID, rng.Start, rng.End)
		return err
	})
	g.Go(func() error {
		var err error
		in.Products, err = h.catalog.ListProducts(ctx, tenantID)
		return err
	})
	if err := g.Wait(); err != nil {
		h.logger.WithError(err).WithField("business_id", tenantID).Error("Failed to load analytics data")
		h.respondWithError(w, http.StatusServiceUnavailable, "Failed to load analytics")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"summary": h.analyzer.Summarize(in),
	})
}

func parseTime(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
