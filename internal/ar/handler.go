package ar

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
)

// Handler exposes the reconciliation engine over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	reads    singleflight.Group
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers finance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/payments", h.recordPayment)
	r.Post("/payments/batch", h.recordBatchPayment)
	r.Get("/customers/{customerID}/debt", h.customerDebt)
	r.Get("/customers/{customerID}/receivables", h.listReceivables)
	r.Get("/customers/{customerID}/payments", h.listPayments)
	r.Get("/customers/{customerID}/aging", h.agingReport)
	r.Get("/customers/{customerID}/statements/{year}/{month}", h.statement)
	r.Get("/customers/{customerID}/statements/{year}/{month}/export", h.exportStatement)
}

type recordPaymentRequest struct {
	CustomerID     int64   `json:"customer_id" validate:"required,gt=0"`
	Amount         float64 `json:"amount" validate:"required,gt=0"`
	OrderID        int64   `json:"order_id" validate:"omitempty,gt=0"`
	Method         string  `json:"method" validate:"omitempty,max=30"`
	Note           string  `json:"note" validate:"omitempty,max=500"`
	PaidAt         string  `json:"paid_at" validate:"omitempty"`
	IdempotencyKey string  `json:"idempotency_key" validate:"omitempty,max=100"`
}

type recordBatchPaymentRequest struct {
	CustomerID     int64   `json:"customer_id" validate:"required,gt=0"`
	Amount         float64 `json:"amount" validate:"required,gt=0"`
	OrderIDs       []int64 `json:"order_ids" validate:"omitempty,dive,gt=0"`
	Method         string  `json:"method" validate:"omitempty,max=30"`
	Note           string  `json:"note" validate:"omitempty,max=500"`
	PaidAt         string  `json:"paid_at" validate:"omitempty"`
	IdempotencyKey string  `json:"idempotency_key" validate:"omitempty,max=100"`
}

type allocationView struct {
	OrderID int64     `json:"order_id"`
	Amount  float64   `json:"amount"`
	Date    time.Time `json:"date"`
}

type paymentResultView struct {
	PaymentID         string           `json:"payment_id"`
	Number            string           `json:"number"`
	CustomerID        int64            `json:"customer_id"`
	Amount            float64          `json:"amount"`
	PaidAt            time.Time        `json:"paid_at"`
	Allocations       []allocationView `json:"allocations"`
	UnallocatedCredit float64          `json:"unallocated_credit"`
}

func paymentResultToView(res PaymentResult) paymentResultView {
	view := paymentResultView{
		PaymentID:         res.PaymentID,
		Number:            res.Number,
		CustomerID:        res.CustomerID,
		Amount:            res.Amount,
		PaidAt:            res.PaidAt,
		Allocations:       make([]allocationView, 0, len(res.Allocations)),
		UnallocatedCredit: res.UnallocatedCredit,
	}
	for _, a := range res.Allocations {
		view.Allocations = append(view.Allocations, allocationView{OrderID: a.OrderID, Amount: a.Amount, Date: a.Date})
	}
	return view
}

// recordPayment handles single-order payment posting.
func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req recordPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	paidAt, ok := h.parsePaidAt(w, req.PaidAt)
	if !ok {
		return
	}

	res, err := h.service.RecordPayment(r.Context(), RecordPaymentInput{
		CustomerID:     req.CustomerID,
		Amount:         req.Amount,
		OrderID:        req.OrderID,
		Method:         req.Method,
		Note:           req.Note,
		PaidAt:         paidAt,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.logger.Error("record payment", slog.Int64("customer_id", req.CustomerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, paymentResultToView(res))
}

// recordBatchPayment handles one payment written off across orders.
func (h *Handler) recordBatchPayment(w http.ResponseWriter, r *http.Request) {
	var req recordBatchPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Malformed Request", "request body is not valid JSON")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	paidAt, ok := h.parsePaidAt(w, req.PaidAt)
	if !ok {
		return
	}

	res, err := h.service.RecordBatchPayment(r.Context(), RecordBatchPaymentInput{
		CustomerID:     req.CustomerID,
		Amount:         req.Amount,
		OrderIDs:       req.OrderIDs,
		Method:         req.Method,
		Note:           req.Note,
		PaidAt:         paidAt,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.logger.Error("record batch payment", slog.Int64("customer_id", req.CustomerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, paymentResultToView(res))
}

type debtView struct {
	CustomerID      int64   `json:"customer_id"`
	CustomerName    string  `json:"customer_name"`
	CreditLimit     float64 `json:"credit_limit"`
	TotalDebt       float64 `json:"total_debt"`
	AvailableCredit float64 `json:"available_credit"`
	UnappliedCredit float64 `json:"unapplied_credit"`
}

func (h *Handler) customerDebt(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	debt, err := h.service.GetCustomerDebt(r.Context(), customerID)
	if err != nil {
		h.logger.Error("customer debt", slog.Int64("customer_id", customerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, debtView{
		CustomerID:      debt.CustomerID,
		CustomerName:    debt.CustomerName,
		CreditLimit:     debt.CreditLimit,
		TotalDebt:       debt.TotalDebt,
		AvailableCredit: debt.AvailableCredit,
		UnappliedCredit: debt.UnappliedCredit,
	})
}

type receivableView struct {
	OrderID     int64     `json:"order_id"`
	Total       float64   `json:"total"`
	Allocated   float64   `json:"allocated"`
	Outstanding float64   `json:"outstanding"`
	Status      string    `json:"status"`
	Settle      string    `json:"settle_status"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *Handler) listReceivables(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	settle := ledger.SettleStatus(r.URL.Query().Get("status"))
	switch settle {
	case "", ledger.SettleUnpaid, ledger.SettlePartial, ledger.SettlePaid:
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "status must be UNPAID, PARTIAL or PAID")
		return
	}

	receivables, err := h.service.ListReceivables(r.Context(), customerID, settle)
	if err != nil {
		h.logger.Error("list receivables", slog.Int64("customer_id", customerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]receivableView, 0, len(receivables))
	for _, rec := range receivables {
		views = append(views, receivableView{
			OrderID:     rec.ID,
			Total:       rec.Total,
			Allocated:   rec.Allocated,
			Outstanding: rec.Outstanding,
			Status:      string(rec.Status),
			Settle:      string(rec.Settle),
			CreatedAt:   rec.CreatedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, views)
}

type paymentView struct {
	PaymentID   string           `json:"payment_id"`
	Number      string           `json:"number"`
	Amount      float64          `json:"amount"`
	PaidAt      time.Time        `json:"paid_at"`
	Method      string           `json:"method,omitempty"`
	Note        string           `json:"note,omitempty"`
	Allocations []allocationView `json:"allocations"`
	Unallocated float64          `json:"unallocated"`
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	payments, err := h.service.ListPayments(r.Context(), customerID)
	if err != nil {
		h.logger.Error("list payments", slog.Int64("customer_id", customerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	views := make([]paymentView, 0, len(payments))
	for _, p := range payments {
		view := paymentView{
			PaymentID:   p.ID,
			Number:      p.Number,
			Amount:      p.Amount,
			PaidAt:      p.PaidAt,
			Method:      p.Method,
			Note:        p.Note,
			Allocations: make([]allocationView, 0, len(p.Allocations)),
			Unallocated: p.Unallocated,
		}
		for _, a := range p.Allocations {
			view.Allocations = append(view.Allocations, allocationView{OrderID: a.OrderID, Amount: a.Amount, Date: a.Date})
		}
		views = append(views, view)
	}
	httpx.JSON(w, http.StatusOK, views)
}

type agingBucketView struct {
	Label  string           `json:"label"`
	Total  float64          `json:"total"`
	Orders []receivableLite `json:"orders"`
}

type receivableLite struct {
	OrderID     int64     `json:"order_id"`
	Outstanding float64   `json:"outstanding"`
	CreatedAt   time.Time `json:"created_at"`
}

type agingView struct {
	CustomerID   int64             `json:"customer_id"`
	CustomerName string            `json:"customer_name"`
	AsOf         time.Time         `json:"as_of"`
	Buckets      []agingBucketView `json:"buckets"`
	Total        float64           `json:"total"`
}

func (h *Handler) agingReport(w http.ResponseWriter, r *http.Request) {
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	asOf := time.Time{}
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "as_of must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}

	// Aging is a pure read; identical concurrent requests share one
	// store scan. The shared call is detached from the first caller's
	// context so its cancellation does not fail the other waiters.
	key := "aging:" + strconv.FormatInt(customerID, 10) + ":" + asOf.Format("2006-01-02")
	ctx := context.WithoutCancel(r.Context())
	result, err, _ := h.reads.Do(key, func() (any, error) {
		return h.service.AnalyzeAge(ctx, customerID, asOf)
	})
	if err != nil {
		h.logger.Error("aging report", slog.Int64("customer_id", customerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	report := result.(AgingReport)

	view := agingView{
		CustomerID:   report.CustomerID,
		CustomerName: report.CustomerName,
		AsOf:         report.AsOf,
		Total:        report.Total,
	}
	for _, b := range report.Buckets() {
		bv := agingBucketView{Label: b.Label, Total: b.Total, Orders: make([]receivableLite, 0, len(b.Orders))}
		for _, o := range b.Orders {
			bv.Orders = append(bv.Orders, receivableLite{OrderID: o.ID, Outstanding: o.Outstanding, CreatedAt: o.CreatedAt})
		}
		view.Buckets = append(view.Buckets, bv)
	}
	httpx.JSON(w, http.StatusOK, view)
}

type statementLineView struct {
	Date      time.Time `json:"date"`
	Kind      string    `json:"kind"`
	Reference string    `json:"reference"`
	Debit     float64   `json:"debit"`
	Credit    float64   `json:"credit"`
	Balance   float64   `json:"balance"`
}

type statementView struct {
	CustomerID     int64               `json:"customer_id"`
	CustomerName   string              `json:"customer_name"`
	Period         string              `json:"period"`
	OpeningBalance float64             `json:"opening_balance"`
	ClosingBalance float64             `json:"closing_balance"`
	PeriodSales    float64             `json:"period_sales"`
	PeriodPayments float64             `json:"period_payments"`
	Lines          []statementLineView `json:"lines"`
}

func (h *Handler) statement(w http.ResponseWriter, r *http.Request) {
	customerID, year, month, ok := h.statementParams(w, r)
	if !ok {
		return
	}
	st, err := h.buildStatementShared(r, customerID, year, month)
	if err != nil {
		h.logger.Error("build statement", slog.Int64("customer_id", customerID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	view := statementView{
		CustomerID:     st.CustomerID,
		CustomerName:   st.CustomerName,
		Period:         st.Period.Label(),
		OpeningBalance: st.OpeningBalance,
		ClosingBalance: st.ClosingBalance,
		PeriodSales:    st.PeriodSales,
		PeriodPayments: st.PeriodPayments,
		Lines:          make([]statementLineView, 0, len(st.Lines)),
	}
	for _, l := range st.Lines {
		view.Lines = append(view.Lines, statementLineView{
			Date:      l.Date,
			Kind:      string(l.Kind),
			Reference: l.Reference,
			Debit:     l.Debit,
			Credit:    l.Credit,
			Balance:   l.Balance,
		})
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) buildStatementShared(r *http.Request, customerID int64, year, month int) (Statement, error) {
	key := "statement:" + strconv.FormatInt(customerID, 10) + ":" + strconv.Itoa(year) + "-" + strconv.Itoa(month)
	ctx := context.WithoutCancel(r.Context())
	result, err, _ := h.reads.Do(key, func() (any, error) {
		return h.service.BuildStatement(ctx, customerID, year, month)
	})
	if err != nil {
		return Statement{}, err
	}
	return result.(Statement), nil
}

func (h *Handler) customerID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "customerID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid customer id")
		return 0, false
	}
	return id, true
}

func (h *Handler) statementParams(w http.ResponseWriter, r *http.Request) (customerID int64, year, month int, ok bool) {
	customerID, ok = h.customerID(w, r)
	if !ok {
		return 0, 0, 0, false
	}
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid year")
		return 0, 0, 0, false
	}
	month, err = strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid month")
		return 0, 0, 0, false
	}
	return customerID, year, month, true
}

func (h *Handler) parsePaidAt(w http.ResponseWriter, raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, true
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "paid_at must be RFC3339")
		return time.Time{}, false
	}
	return parsed, true
}
