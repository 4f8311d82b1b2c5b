package ar

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

func newTestRouter(t *testing.T) (http.Handler, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	service := NewService(ServiceConfig{Store: store})
	service.WithNow(func() time.Time { return fixedNow })
	handler := NewHandler(slog.New(slog.DiscardHandler), service)

	r := chi.NewRouter()
	r.Route("/api/finance", handler.MountRoutes)
	return r, store
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestPostPaymentEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, store.RegisterCustomer(ctx, ledger.Customer{ID: 1, Name: "Aurora", CreditLimit: 5000}))
	_, err := store.RecordSale(ctx, ledger.Order{ID: 100, CustomerID: 1, Total: 1000, Status: ledger.OrderApproved, CreatedAt: fixedNow.AddDate(0, 0, -30)})
	require.NoError(t, err)

	rr := postJSON(t, router, "/api/finance/payments", map[string]any{
		"customer_id": 1,
		"amount":      600,
		"order_id":    100,
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var res paymentResultView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Len(t, res.Allocations, 1)
	require.InEpsilon(t, 600.0, res.Allocations[0].Amount, 1e-9)
	require.True(t, strings.HasPrefix(res.Number, "PAY"))
}

func TestPostPaymentValidation(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := postJSON(t, router, "/api/finance/payments", map[string]any{
		"customer_id": 1,
		"amount":      -5,
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/finance/payments", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostPaymentUnknownCustomer(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := postJSON(t, router, "/api/finance/payments", map[string]any{
		"customer_id": 42,
		"amount":      100,
	})
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPostPaymentCancelledTarget(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, store.RegisterCustomer(ctx, ledger.Customer{ID: 1, Name: "Aurora"}))
	_, err := store.RecordSale(ctx, ledger.Order{ID: 100, CustomerID: 1, Total: 1000, Status: ledger.OrderApproved, CreatedAt: fixedNow.AddDate(0, 0, -10)})
	require.NoError(t, err)
	require.NoError(t, store.UpdateOrderStatus(ctx, 100, ledger.OrderCancelled))

	rr := postJSON(t, router, "/api/finance/payments", map[string]any{
		"customer_id": 1,
		"amount":      100,
		"order_id":    100,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestPostPaymentCustomerMismatch(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, store.RegisterCustomer(ctx, ledger.Customer{ID: 1, Name: "Aurora"}))
	require.NoError(t, store.RegisterCustomer(ctx, ledger.Customer{ID: 2, Name: "Borealis"}))
	_, err := store.RecordSale(ctx, ledger.Order{ID: 100, CustomerID: 2, Total: 1000, Status: ledger.OrderApproved, CreatedAt: fixedNow.AddDate(0, 0, -10)})
	require.NoError(t, err)

	rr := postJSON(t, router, "/api/finance/payments", map[string]any{
		"customer_id": 1,
		"amount":      100,
		"order_id":    100,
	})
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestBatchPaymentEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, store.RegisterCustomer(ctx, ledger.Customer{ID: 1, Name: "Aurora"}))
	_, err := store.RecordSale(ctx, ledger.Order{ID: 101, CustomerID: 1, Total: 300, Status: ledger.OrderApproved, CreatedAt: fixedNow.AddDate(0, 0, -40)})
	require.NoError(t, err)
	_, err = store.RecordSale(ctx, ledger.Order{ID: 102, CustomerID: 1, Total: 500, Status: ledger.OrderApproved, CreatedAt: fixedNow.AddDate(0, 0, -20)})
	require.NoError(t, err)

	rr := postJSON(t, router, "/api/finance/payments/batch", map[string]any{
		"customer_id": 1,
		"amount":      700,
		"order_ids":   []int64{101, 102},
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	var res paymentResultView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Len(t, res.Allocations, 2)
}

func TestDebtEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, store.RegisterCustomer(ctx, ledger.Customer{ID: 1, Name: "Aurora", CreditLimit: 5000}))
	_, err := store.RecordSale(ctx, ledger.Order{ID: 100, CustomerID: 1, Total: 1000, Status: ledger.OrderApproved, CreatedAt: fixedNow.AddDate(0, 0, -30)})
	require.NoError(t, err)

	rr := get(t, router, "/api/finance/customers/1/debt")
	require.Equal(t, http.StatusOK, rr.Code)

	var res debtView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.InEpsilon(t, 1000.0, res.TotalDebt, 1e-9)
	require.InEpsilon(t, 4000.0, res.AvailableCredit, 1e-9)
}

func TestAgingEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, store.RegisterCustomer(ctx, ledger.Customer{ID: 1, Name: "Aurora"}))
	_, err := store.RecordSale(ctx, ledger.Order{ID: 100, CustomerID: 1, Total: 200, Status: ledger.OrderApproved, CreatedAt: fixedNow.AddDate(0, 0, -45)})
	require.NoError(t, err)

	rr := get(t, router, "/api/finance/customers/1/aging?as_of="+fixedNow.Format("2006-01-02"))
	require.Equal(t, http.StatusOK, rr.Code)

	var res agingView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Len(t, res.Buckets, 4)
	require.InEpsilon(t, 200.0, res.Total, 1e-9)

	bad := get(t, router, "/api/finance/customers/1/aging?as_of=not-a-date")
	require.Equal(t, http.StatusBadRequest, bad.Code)
}

// ctxSensitiveStore fails reads once the request context is done, the
// way a pool-backed store would.
type ctxSensitiveStore struct {
	*ledger.MemoryStore
}

func (s *ctxSensitiveStore) OutstandingOrders(ctx context.Context, customerID int64, asOf time.Time) ([]ledger.OutstandingOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.OutstandingOrders(ctx, customerID, asOf)
}

func TestAgingSharedReadDetachedFromCallerContext(t *testing.T) {
	store := &ctxSensitiveStore{MemoryStore: ledger.NewMemoryStore()}
	ctx := context.Background()
	require.NoError(t, store.RegisterCustomer(ctx, ledger.Customer{ID: 1, Name: "Aurora"}))
	_, err := store.RecordSale(ctx, ledger.Order{ID: 100, CustomerID: 1, Total: 200, Status: ledger.OrderApproved, CreatedAt: fixedNow.AddDate(0, 0, -45)})
	require.NoError(t, err)

	service := NewService(ServiceConfig{Store: store})
	service.WithNow(func() time.Time { return fixedNow })
	handler := NewHandler(slog.New(slog.DiscardHandler), service)
	router := chi.NewRouter()
	router.Route("/api/finance", handler.MountRoutes)

	// A caller dropping its request must not poison the shared read for
	// waiters collapsed onto the same singleflight key.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/finance/customers/1/aging?as_of="+fixedNow.Format("2006-01-02"), nil)
	req = req.WithContext(cancelled)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestStatementEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, store.RegisterCustomer(ctx, ledger.Customer{ID: 1, Name: "Aurora"}))
	_, err := store.RecordSale(ctx, ledger.Order{ID: 100, CustomerID: 1, Total: 750, Status: ledger.OrderApproved, CreatedAt: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	rr := get(t, router, "/api/finance/customers/1/statements/2025/6")
	require.Equal(t, http.StatusOK, rr.Code)

	var res statementView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Equal(t, "2025-06", res.Period)
	require.InEpsilon(t, 750.0, res.ClosingBalance, 1e-9)
	require.Len(t, res.Lines, 1)

	bad := get(t, router, "/api/finance/customers/1/statements/2025/13")
	require.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestStatementExportEndpoint(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, store.RegisterCustomer(ctx, ledger.Customer{ID: 1, Name: "Aurora"}))
	_, err := store.RecordSale(ctx, ledger.Order{ID: 100, CustomerID: 1, Total: 750, Status: ledger.OrderApproved, CreatedAt: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)

	rr := get(t, router, "/api/finance/customers/1/statements/2025/6/export")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Header().Get("Content-Type"), "text/csv")
	require.Contains(t, rr.Header().Get("Content-Disposition"), "statement-1-2025-06.csv")

	body := rr.Body.String()
	require.Contains(t, body, "# Statement of Account: Aurora")
	require.Contains(t, body, "Date,Kind,Reference,Debit,Credit,Balance")
	require.Contains(t, body, "SO-100")
	require.Contains(t, body, "750.00")
}

func TestReceivablesEndpointFilters(t *testing.T) {
	router, store := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, store.RegisterCustomer(ctx, ledger.Customer{ID: 1, Name: "Aurora"}))
	_, err := store.RecordSale(ctx, ledger.Order{ID: 100, CustomerID: 1, Total: 750, Status: ledger.OrderApproved, CreatedAt: fixedNow.AddDate(0, 0, -5)})
	require.NoError(t, err)

	rr := get(t, router, "/api/finance/customers/1/receivables?status=UNPAID")
	require.Equal(t, http.StatusOK, rr.Code)
	var res []receivableView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.Len(t, res, 1)

	bad := get(t, router, "/api/finance/customers/1/receivables?status=BOGUS")
	require.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestInvalidCustomerIDParam(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := get(t, router, "/api/finance/customers/abc/debt")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
