package orders

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/store/memstore"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/internal/tenant"
	"github.com/Joseph-Xorlasi-Dzagli/Apsel-web-sub001/pkg/models"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) router(tenantID string) http.Handler {
	router := mux.NewRouter()
	NewHandler(f.repo, f.workflow, 2, f.workflow.logger).Register(router)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tenant.WithIdentity(r.Context(), "owner-1", tenantID)
		router.ServeHTTP(w, r.WithContext(ctx))
	})
}

func serve(t *testing.T, h http.Handler, method, target, body string) (int, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return rec.Code, payload
}

func TestHandlerListOrders(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"a", "b", "c"} {
		f.seedOrder(t, id, models.StatusPending, day1, nil)
	}
	h := f.router(bizID)

	code, body := serve(t, h, http.MethodGet, "/orders?page_size=2", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, true, body["has_more"])
	assert.NotEmpty(t, body["next_cursor"])

	code, body = serve(t, h, http.MethodGet, "/orders?page_size=zero", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])

	code, _ = serve(t, h, http.MethodGet, "/orders?cursor=not-a-cursor!", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandlerListOrdersWithoutBusiness(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "a", models.StatusPending, day1, nil)

	code, body := serve(t, f.router(""), http.MethodGet, "/orders", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["count"])
}

func TestHandlerStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.store.SetFault(func(op memstore.Op, path string) error {
		return memstore.ErrInjected
	})

	code, body := serve(t, f.router(bizID), http.MethodGet, "/orders", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "Failed to load orders", body["message"])
}

func TestHandlerSearch(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "early", models.StatusPending, day1, map[string]interface{}{"total": 50.0})
	f.seedOrder(t, "late", models.StatusPending, day1.Add(14*time.Hour), map[string]interface{}{"total": 80.0})
	f.seedOrder(t, "next", models.StatusCompleted, day1.Add(48*time.Hour), nil)
	h := f.router(bizID)

	code, body := serve(t, h, http.MethodGet, "/orders/search?end=2024-06-01&sort=total&dir=asc", "")
	require.Equal(t, http.StatusOK, code)
	got := body["orders"].([]interface{})
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].(map[string]interface{})["id"])
	assert.Equal(t, "late", got[1].(map[string]interface{})["id"])

	code, body = serve(t, h, http.MethodGet, "/orders/search?status=completed&q=kofi", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	code, _ = serve(t, h, http.MethodGet, "/orders/search?sort=price", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = serve(t, h, http.MethodGet, "/orders/search?dir=up", "")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = serve(t, h, http.MethodGet, "/orders/search?start=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandlerGetOrderIsTenantScoped(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "o1", models.StatusPending, day1, nil)

	code, body := serve(t, f.router(bizID), http.MethodGet, "/orders/o1", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "o1", body["order"].(map[string]interface{})["id"])

	code, body = serve(t, f.router("biz-2"), http.MethodGet, "/orders/o1", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Order not found", body["message"])
}

func TestHandlerUpdateStatus(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "o1", models.StatusPending, day1, nil)
	f.seedOrder(t, "done", models.StatusCompleted, day1, nil)
	h := f.router(bizID)

	code, body := serve(t, h, http.MethodPatch, "/orders/o1/status", `{"status":"processing","note":"Packing","send_note":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "processing", body["order"].(map[string]interface{})["status"])
	assert.Equal(t, "owner-1", body["history"].(map[string]interface{})["created_by"])
	assert.Len(t, body["side_effects"], 2)
	assert.Len(t, f.notifier.sent, 1)

	code, body = serve(t, h, http.MethodPatch, "/orders/done/status", `{"status":"pending"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Order is already completed or canceled", body["message"])

	code, body = serve(t, h, http.MethodPatch, "/orders/o1/status", `{"note":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "status is required", body["message"])

	code, _ = serve(t, h, http.MethodPatch, "/orders/o1/status", `{"status":"shipped"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = serve(t, h, http.MethodPatch, "/orders/o1/status", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = serve(t, h, http.MethodPatch, "/orders/o1/status", `{"status":"processing","note":"`+strings.Repeat("a", maxNoteLength+1)+`"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandlerCancel(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "o1", models.StatusPending, day1, nil)
	h := f.router(bizID)

	code, body := serve(t, h, http.MethodPost, "/orders/o1/cancel", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "canceled", body["order"].(map[string]interface{})["status"])
	assert.Empty(t, f.notifier.sent)

	code, body = serve(t, h, http.MethodPost, "/orders/o1/cancel", `{"note":"again"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "Order is already canceled", body["message"])
}

func TestHandlerBulkUpdateStatus(t *testing.T) {
	f := newFixture(t)
	f.seedOrder(t, "a", models.StatusPending, day1, nil)
	f.seedOrder(t, "b", models.StatusCanceled, day1, nil)
	h := f.router(bizID)

	code, body := serve(t, h, http.MethodPost, "/orders/bulk/status", `{"order_ids":["a","b","missing"],"status":"processing"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	result := body["result"].(map[string]interface{})
	assert.Equal(t, float64(3), result["total"])
	assert.Equal(t, []interface{}{"a"}, result["succeeded"])
	assert.Len(t, result["failed"], 2)

	code, _ = serve(t, h, http.MethodPost, "/orders/bulk/status", `{"order_ids":[],"status":"processing"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestParseBound(t *testing.T) {
	end, err := parseBound("2024-06-01", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 23, 59, 59, 999999999, time.UTC), *end)

	start, err := parseBound("2024-06-01", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), *start)

	exact, err := parseBound("2024-06-01T10:00:00Z", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), *exact)

	none, err := parseBound("", true)
	require.NoError(t, err)
	assert.Nil(t, none)
}
