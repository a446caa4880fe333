package tab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/config"
	"github.com/Additional-Code/tally/internal/entity"
	"github.com/Additional-Code/tally/internal/repository/ledger"
	service "github.com/Additional-Code/tally/internal/service/settlement"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
	Error   struct {
		Kind      string         `json:"kind"`
		Code      string         `json:"code"`
		Message   string         `json:"message"`
		Retryable bool           `json:"retryable"`
		Details   map[string]any `json:"details"`
	} `json:"error"`
}

func newServer(t *testing.T) (*echo.Echo, *ledger.Memory) {
	t.Helper()
	store := ledger.NewMemory()
	svc := service.NewService(service.Params{
		Store:  store,
		Logger: zap.NewNop(),
		Config: config.Config{Settlement: config.Settlement{StoreTimeout: time.Second, SplitSessionTTL: time.Hour}},
	})
	e := echo.New()
	Register(e, NewHandler(svc))
	return e, store
}

func seed(t *testing.T, store *ledger.Memory, table int, prices ...string) (entity.Order, []entity.OrderItem) {
	t.Helper()
	order := entity.Order{TableNumber: &table}
	items := make([]entity.OrderItem, 0, len(prices))
	for i, p := range prices {
		items = append(items, entity.OrderItem{ProductID: int64(i + 1), Quantity: 1, UnitPrice: decimal.RequireFromString(p)})
	}
	require.NoError(t, store.CreateOrder(context.Background(), &order, items))
	return order, items
}

func do(t *testing.T, e *echo.Echo, method, target, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestGetTab(t *testing.T) {
	e, store := newServer(t)
	seed(t, store, 5, "20.00", "15.00")

	status, env := do(t, e, http.MethodGet, "/tables/5", "")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)

	var tab map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &tab))
	assert.Equal(t, "35.00", tab["total_original"])
	assert.Equal(t, "0.00", tab["total_paid"])
	assert.Equal(t, "35.00", tab["total_remaining"])
	assert.Len(t, tab["unpaid_items"], 2)
	assert.Len(t, tab["orders"], 1)
}

func TestGetTabInvalidTable(t *testing.T) {
	e, _ := newServer(t)

	for _, target := range []string{"/tables/abc", "/tables/0"} {
		status, env := do(t, e, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, status, target)
		assert.Equal(t, "bad_request", env.Error.Kind)
	}
}

func TestSettleEndpoint(t *testing.T) {
	e, store := newServer(t)
	order, items := seed(t, store, 5, "20.00", "15.00")

	body := `{"mode":"by_items","method":"card","item_ids":[` + strconv.FormatInt(items[0].ID, 10) + `]}`
	status, env := do(t, e, http.MethodPost, "/tables/5/payments", body)
	require.Equal(t, http.StatusCreated, status, env.Error.Message)

	var receipt struct {
		Payment struct {
			OrderID    int64  `json:"order_id"`
			Amount     string `json:"amount"`
			Mode       string `json:"mode"`
			ItemsCount int    `json:"items_count"`
		} `json:"payment"`
		TotalRemaining string `json:"total_remaining"`
		Closed         bool   `json:"closed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.Equal(t, order.ID, receipt.Payment.OrderID)
	assert.Equal(t, "20.00", receipt.Payment.Amount)
	assert.Equal(t, "by_items", receipt.Payment.Mode)
	assert.Equal(t, 1, receipt.Payment.ItemsCount)
	assert.Equal(t, "15.00", receipt.TotalRemaining)
	assert.False(t, receipt.Closed)

	status, env = do(t, e, http.MethodPost, "/tables/5/payments", `{"mode":"by_value","method":"cash","amount":"15.00"}`)
	require.Equal(t, http.StatusCreated, status)
	require.NoError(t, json.Unmarshal(env.Data, &receipt))
	assert.True(t, receipt.Closed)
	assert.Equal(t, "0.00", receipt.TotalRemaining)
}

func TestSettleEndpointErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "foreign field", body: `{"mode":"full","method":"cash","people":2}`, status: http.StatusBadRequest, code: service.CodeInvalidSelection},
		{name: "unknown mode", body: `{"mode":"tip","method":"cash"}`, status: http.StatusBadRequest, code: service.CodeInvalidSelection},
		{name: "missing people", body: `{"mode":"by_people","method":"cash"}`, status: http.StatusBadRequest, code: service.CodeInvalidSelection},
		{name: "unknown method", body: `{"mode":"full","method":"cheque"}`, status: http.StatusBadRequest, code: service.CodeInvalidSelection},
		{name: "exceeds remaining", body: `{"mode":"by_value","method":"cash","amount":40}`, status: http.StatusUnprocessableEntity, code: service.CodeAmountExceedsRemaining},
		{name: "one person", body: `{"mode":"by_people","method":"cash","people":1}`, status: http.StatusUnprocessableEntity, code: service.CodeInvalidSelection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, store := newServer(t)
			seed(t, store, 5, "20.00", "15.00")

			status, env := do(t, e, http.MethodPost, "/tables/5/payments", tt.body)
			assert.Equal(t, tt.status, status)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.False(t, env.Error.Retryable)
			assert.Empty(t, store.Payments())
		})
	}
}

func TestSettleEndpointStoreUnavailable(t *testing.T) {
	e, store := newServer(t)
	seed(t, store, 5, "20.00")
	store.FailNext(assert.AnError)

	req := httptest.NewRequest(http.MethodPost, "/tables/5/payments", strings.NewReader(`{"mode":"full","method":"cash"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.True(t, env.Error.Retryable)
	assert.Equal(t, service.CodeStoreUnavailable, env.Error.Code)
}

func TestPaymentsAndReconciliationEndpoints(t *testing.T) {
	e, store := newServer(t)
	seed(t, store, 5, "20.00", "15.00")

	status, _ := do(t, e, http.MethodPost, "/tables/5/payments", `{"mode":"by_people","method":"cash","people":2}`)
	require.Equal(t, http.StatusCreated, status)

	status, env := do(t, e, http.MethodGet, "/tables/5/payments", "")
	require.Equal(t, http.StatusOK, status)
	var payments []map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &payments))
	require.Len(t, payments, 1)
	assert.Equal(t, "17.50", payments[0]["amount"])
	assert.EqualValues(t, 1, env.Meta["count"])

	status, env = do(t, e, http.MethodGet, "/tables/5/reconciliation", "")
	require.Equal(t, http.StatusOK, status)
	var report map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, true, report["balanced"])
	assert.Equal(t, "17.50", report["payments_total"])
	assert.Equal(t, "0.00", report["difference"])
}

func TestRemoveItemEndpoint(t *testing.T) {
	e, store := newServer(t)
	_, items := seed(t, store, 5, "20.00", "15.00")

	status, env := do(t, e, http.MethodDelete, "/items/"+strconv.FormatInt(items[1].ID, 10), "")
	require.Equal(t, http.StatusOK, status)
	var tab map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &tab))
	assert.Equal(t, "20.00", tab["total_original"])

	status, env = do(t, e, http.MethodDelete, "/items/999", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, service.CodeNotFound, env.Error.Code)

	status, _ = do(t, e, http.MethodDelete, "/items/x", "")
	assert.Equal(t, http.StatusBadRequest, status)
}
