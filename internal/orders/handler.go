package orders

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/filter"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/tenant"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxNoteLength = 1000

type statusRequest struct {
	Status   string `json:"status" validate:"required"`
	Note     string `json:"note" validate:"max=1000"`
	SendNote bool   `json:"send_note"`
}

type cancelRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

type bulkStatusRequest struct {
	OrderIDs []string `json:"order_ids" validate:"required,min=1,max=500,dive,required"`
	Status   string   `json:"status" validate:"required"`
	Note     string   `json:"note" validate:"max=1000"`
	SendNote bool     `json:"send_note"`
}

// Handler exposes the repository and workflow over HTTP. Every route expects
// the identity middleware to have put the actor and tenant in the context.
type Handler struct {
	repo            *Repository
	workflow        *Workflow
	validate        *validator.Validate
	bulkConcurrency int
	logger          *logrus.Logger
}

func NewHandler(repo *Repository, workflow *Workflow, bulkConcurrency int, logger *logrus.Logger) *Handler {
	return &Handler{
		repo:            repo,
		workflow:        workflow,
		validate:        validator.New(),
		bulkConcurrency: bulkConcurrency,
		logger:          logger,
	}
}

// Register mounts the order routes. Literal paths go first so that "search"
// and "bulk" are never taken for an order id.
func (h *Handler) Register(router *mux.Router) {
	router.HandleFunc("/orders", h.ListOrders).Methods("GET")
	router.HandleFunc("/orders/search", h.SearchOrders).Methods("GET")
	router.HandleFunc("/orders/bulk/status", h.BulkUpdateStatus).Methods("POST")
	router.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{id}/items", h.ListOrderItems).Methods("GET")
	router.HandleFunc("/orders/{id}/history", h.ListHistory).Methods("GET")
	router.HandleFunc("/orders/{id}/status", h.UpdateStatus).Methods("PATCH")
	router.HandleFunc("/orders/{id}/cancel", h.Cancel).Methods("POST")
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	pageSize := 0
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondWithError(w, http.StatusBadRequest, "page_size must be a positive integer")
			return
		}
		pageSize = n
	}

	page, err := h.repo.ListOrders(r.Context(), tenant.TenantID(r.Context()), r.URL.Query().Get("cursor"), pageSize)
	if err != nil {
		h.respondWithFailure(w, err, "load orders")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"orders":      page.Orders,
		"count":       len(page.Orders),
		"next_cursor": page.NextCursor,
		"has_more":    page.HasMore,
	})
}

func (h *Handler) SearchOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	field, ok := filter.ParseSortField(q.Get("sort"))
	if !ok {
		h.respondWithError(w, http.StatusBadRequest, fmt.Sprintf("cannot sort by %q", q.Get("sort")))
		return
	}
	desc := true
	switch strings.ToLower(q.Get("dir")) {
	case "", "desc":
	case "asc":
		desc = false
	default:
		h.respondWithError(w, http.StatusBadRequest, "dir must be asc or desc")
		return
	}

	criteria := filter.Criteria{Status: q.Get("status"), Search: q.Get("q")}
	var err error
	if criteria.Start, err = parseBound(q.Get("start"), false); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "start must be a date or RFC 3339 time")
		return
	}
	if criteria.End, err = parseBound(q.Get("end"), true); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "end must be a date or RFC 3339 time")
		return
	}

	all, err := h.repo.ListAllOrders(r.Context(), tenant.TenantID(r.Context()))
	if err != nil {
		h.respondWithFailure(w, err, "load orders")
		return
	}
	matched := filter.Apply(all, criteria)
	filter.Sort(matched, field, desc)

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"orders":  matched,
		"count":   len(matched),
	})
}

// parseBound reads a date (2006-01-02) or an RFC 3339 time. A bare date used
// as an upper bound covers the whole day.
func parseBound(raw string, upper bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	if upper {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.repo.GetOrder(r.Context(), tenant.TenantID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithFailure(w, err, "load order")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"order":   order,
	})
}

func (h *Handler) ListOrderItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.repo.ListOrderItems(r.Context(), tenant.TenantID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithFailure(w, err, "load order items")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"items":   items,
		"count":   len(items),
	})
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.repo.ListHistory(r.Context(), tenant.TenantID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.respondWithFailure(w, err, "load order history")
		return
	}
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"history": history,
		"count":   len(history),
	})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	result, err := h.workflow.UpdateStatus(r.Context(), StatusChange{
		TenantID: tenant.TenantID(r.Context()),
		OrderID:  mux.Vars(r)["id"],
		Status:   req.Status,
		Note:     req.Note,
		SendNote: req.SendNote,
		ActorID:  tenant.ActorID(r.Context()),
	})
	if err != nil {
		h.respondWithFailure(w, err, "update order status")
		return
	}
	h.respondWithTransition(w, result, "Order status updated")
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !h.decode(w, r, &req, true) {
		return
	}

	result, err := h.workflow.Cancel(r.Context(), Cancellation{
		TenantID: tenant.TenantID(r.Context()),
		OrderID:  mux.Vars(r)["id"],
		Note:     req.Note,
		ActorID:  tenant.ActorID(r.Context()),
	})
	if err != nil {
		h.respondWithFailure(w, err, "cancel order")
		return
	}
	h.respondWithTransition(w, result, "Order canceled")
}

func (h *Handler) BulkUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req bulkStatusRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	result, err := h.workflow.BulkUpdateStatus(r.Context(), BulkStatusChange{
		TenantID: tenant.TenantID(r.Context()),
		OrderIDs: req.OrderIDs,
		Status:   req.Status,
		Note:     req.Note,
		SendNote: req.SendNote,
		ActorID:  tenant.ActorID(r.Context()),
	}, h.bulkConcurrency)
	if err != nil {
		h.respondWithFailure(w, err, "update orders")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"total":           result.Total,
		"succeeded":       len(result.Succeeded),
		"failed":          len(result.Failed),
		"processing_time": result.ProcessingTime.Milliseconds(),
	}).Info("Bulk status change processed")

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success": len(result.Failed) == 0,
		"result":  result,
	})
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) && optional {
		err = nil
	}
	if err != nil {
		h.logger.WithError(err).Debug("Failed to decode request body")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondWithError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "Invalid request body"
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", strings.ToLower(fe.Field()))
	case "max":
		if fe.Field() == "Note" {
			return fmt.Sprintf("note must be at most %d characters", maxNoteLength)
		}
	}
	return fmt.Sprintf("%s is invalid", strings.ToLower(fe.Field()))
}

// statusCode maps the error taxonomy onto HTTP.
func statusCode(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyCanceled), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}

func (h *Handler) respondWithFailure(w http.ResponseWriter, err error, action string) {
	code := statusCode(err)
	if code == http.StatusServiceUnavailable {
		h.logger.WithError(err).Errorf("Failed to %s", action)
	}
	h.respondWithError(w, code, UserMessage(err, action))
}

func (h *Handler) respondWithTransition(w http.ResponseWriter, result *TransitionResult, message string) {
	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"message":      message,
		"order":        result.Order,
		"history":      result.History,
		"side_effects": result.SideEffects,
	})
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
