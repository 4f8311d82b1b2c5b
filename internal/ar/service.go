package ar

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/events"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/observability"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

const idempotencyModule = "finance.payment"

// amountEpsilon absorbs float64 summation noise in monetary
// comparisons.
const amountEpsilon = 1e-6

// ServiceConfig collects the engine's dependencies.
type ServiceConfig struct {
	Store       ledger.Store
	Locker      shared.CustomerLocker
	Idempotency *shared.IdempotencyStore
	Publisher   events.Publisher
	Audit       *shared.AuditLogger
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Service is the allocation engine. Payment postings for the same
// customer serialize through the locker; reads go straight to the
// store.
type Service struct {
	store       ledger.Store
	locker      shared.CustomerLocker
	idempotency *shared.IdempotencyStore
	publisher   events.Publisher
	audit       *shared.AuditLogger
	logger      *slog.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// NewService builds a Service instance.
func NewService(cfg ServiceConfig) *Service {
	locker := cfg.Locker
	if locker == nil {
		locker = shared.NewMutexLocker()
	}
	var publisher events.Publisher = cfg.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       cfg.Store,
		locker:      locker,
		idempotency: cfg.Idempotency,
		publisher:   publisher,
		audit:       cfg.Audit,
		logger:      logger,
		metrics:     cfg.Metrics,
		now:         time.Now,
	}
}

// WithNow overrides the service clock for testing.
func (s *Service) WithNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// RecordPayment posts a payment and, when an order is given, writes
// off min(amount, outstanding) against it. Without an order the whole
// amount is kept as unapplied credit on the payment; it is never
// applied to outstanding orders implicitly.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (PaymentResult, error) {
	if in.Amount <= 0 {
		return PaymentResult{}, shared.E(shared.KindInvalidAmount, "payment amount must be positive")
	}
	var targets []int64
	if in.OrderID != 0 {
		targets = []int64{in.OrderID}
	}
	return s.post(ctx, postRequest{
		mode:           "single",
		customerID:     in.CustomerID,
		amount:         in.Amount,
		targets:        targets,
		explicit:       in.OrderID != 0,
		method:         in.Method,
		note:           in.Note,
		paidAt:         in.PaidAt,
		idempotencyKey: in.IdempotencyKey,
	})
}

// RecordBatchPayment distributes one payment across the given orders
// in the caller-supplied priority order. An empty list falls back to
// oldest outstanding first. The whole batch is validated before any
// write; one bad target rejects everything.
func (s *Service) RecordBatchPayment(ctx context.Context, in RecordBatchPaymentInput) (PaymentResult, error) {
	if in.Amount <= 0 {
		return PaymentResult{}, shared.E(shared.KindInvalidAmount, "payment amount must be positive")
	}
	return s.post(ctx, postRequest{
		mode:           "batch",
		customerID:     in.CustomerID,
		amount:         in.Amount,
		targets:        in.OrderIDs,
		explicit:       len(in.OrderIDs) > 0,
		fallback:       true,
		method:         in.Method,
		note:           in.Note,
		paidAt:         in.PaidAt,
		idempotencyKey: in.IdempotencyKey,
	})
}

// postRequest is the shared posting pipeline input. explicit means the
// caller named its targets; fallback allocates oldest-outstanding-first
// when no targets were given. With neither, the untargeted amount
// stays as credit.
type postRequest struct {
	mode           string
	customerID     int64
	amount         float64
	targets        []int64
	explicit       bool
	fallback       bool
	method         string
	note           string
	paidAt         time.Time
	idempotencyKey string
}

// post runs the shared allocation pipeline: validate targets, compute
// allocations oldest-debt-aware, then write the posting atomically.
func (s *Service) post(ctx context.Context, req postRequest) (PaymentResult, error) {
	if _, err := s.store.Customer(ctx, req.customerID); err != nil {
		return PaymentResult{}, err
	}

	unlock, err := s.locker.Lock(ctx, req.customerID)
	if err != nil {
		return PaymentResult{}, err
	}
	defer unlock()

	if req.idempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, req.idempotencyKey, idempotencyModule); err != nil {
			return PaymentResult{}, err
		}
	}
	result, err := s.postLocked(ctx, req)
	if err != nil && req.idempotencyKey != "" && s.idempotency != nil {
		// The posting never happened; free the key so the caller can retry.
		if delErr := s.idempotency.Delete(ctx, req.idempotencyKey); delErr != nil {
			s.logger.Warn("release idempotency key", slog.String("key", req.idempotencyKey), slog.Any("error", delErr))
		}
	}
	return result, err
}

func (s *Service) postLocked(ctx context.Context, req postRequest) (PaymentResult, error) {
	paidAt := req.paidAt
	if paidAt.IsZero() {
		paidAt = s.now().UTC()
	}

	outstanding, err := s.store.OutstandingOrders(ctx, req.customerID, paidAt)
	if err != nil {
		return PaymentResult{}, err
	}
	byOrder := make(map[int64]float64, len(outstanding))
	for _, oo := range outstanding {
		byOrder[oo.ID] = oo.Outstanding
	}

	targets := req.targets
	switch {
	case req.explicit:
		// All-or-nothing: verify every listed order before touching
		// the ledger.
		for _, id := range targets {
			order, err := s.store.Order(ctx, id)
			if err != nil {
				if shared.KindOf(err) == shared.KindNotFound {
					return PaymentResult{}, shared.E(shared.KindInvalidTarget, "order %d not found", id)
				}
				return PaymentResult{}, err
			}
			if order.CustomerID != req.customerID {
				return PaymentResult{}, shared.E(shared.KindCustomerMismatch, "order %d belongs to customer %d", id, order.CustomerID)
			}
			if !order.Status.Receivable() {
				return PaymentResult{}, shared.E(shared.KindInvalidTarget, "order %d status %s is not receivable", id, order.Status)
			}
		}
	case req.fallback:
		targets = make([]int64, 0, len(outstanding))
		for _, oo := range outstanding {
			targets = append(targets, oo.ID)
		}
	}

	payment := ledger.Payment{
		ID:         uuid.NewString(),
		Number:     s.paymentNumber(paidAt),
		CustomerID: req.customerID,
		Amount:     req.amount,
		PaidAt:     paidAt,
		Method:     req.method,
		Note:       req.note,
	}

	remaining := req.amount
	var allocations []ledger.Allocation
	for _, id := range targets {
		if remaining <= amountEpsilon {
			break
		}
		open := byOrder[id]
		if open <= amountEpsilon {
			continue
		}
		alloc := open
		if remaining < alloc {
			alloc = remaining
		}
		allocations = append(allocations, ledger.Allocation{
			PaymentID: payment.ID,
			OrderID:   id,
			Amount:    alloc,
			Date:      paidAt,
		})
		byOrder[id] = open - alloc
		remaining -= alloc
	}
	if remaining < 0 {
		remaining = 0
	}

	entries, err := s.store.PostPayment(ctx, ledger.PaymentPosting{Payment: payment, Allocations: allocations})
	if err != nil {
		return PaymentResult{}, err
	}

	if err := s.publisher.PublishEntries(ctx, entries); err != nil {
		s.logger.Warn("publish ledger entries", slog.String("payment", payment.Number), slog.Any("error", err))
	}
	s.recordAudit(ctx, payment, allocations)
	s.metrics.PaymentPosted(req.mode)

	s.logger.Info("payment posted",
		slog.Int64("customer_id", req.customerID),
		slog.String("payment", payment.Number),
		slog.Float64("amount", req.amount),
		slog.Int("allocations", len(allocations)),
		slog.Float64("credit", remaining),
	)

	return PaymentResult{
		PaymentID:         payment.ID,
		Number:            payment.Number,
		CustomerID:        req.customerID,
		Amount:            req.amount,
		PaidAt:            paidAt,
		Allocations:       allocations,
		UnallocatedCredit: remaining,
	}, nil
}

// GetCustomerDebt summarises the customer's current outstanding total
// against their credit limit.
func (s *Service) GetCustomerDebt(ctx context.Context, customerID int64) (DebtSummary, error) {
	customer, err := s.store.Customer(ctx, customerID)
	if err != nil {
		return DebtSummary{}, err
	}
	outstanding, err := s.store.OutstandingOrders(ctx, customerID, s.now().UTC())
	if err != nil {
		return DebtSummary{}, err
	}
	var debt float64
	for _, oo := range outstanding {
		debt += oo.Outstanding
	}
	payments, err := s.store.Payments(ctx, customerID)
	if err != nil {
		return DebtSummary{}, err
	}
	var credit float64
	for _, p := range payments {
		if p.Unallocated > amountEpsilon {
			credit += p.Unallocated
		}
	}
	return DebtSummary{
		CustomerID:      customer.ID,
		CustomerName:    customer.Name,
		CreditLimit:     customer.CreditLimit,
		TotalDebt:       debt,
		AvailableCredit: customer.CreditLimit - debt,
		UnappliedCredit: credit,
	}, nil
}

// ListReceivables returns the customer's per-order receivable view,
// optionally filtered by settle status.
func (s *Service) ListReceivables(ctx context.Context, customerID int64, settle ledger.SettleStatus) ([]ledger.Receivable, error) {
	if _, err := s.store.Customer(ctx, customerID); err != nil {
		return nil, err
	}
	receivables, err := s.store.Receivables(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if settle == "" {
		return receivables, nil
	}
	filtered := receivables[:0]
	for _, r := range receivables {
		if r.Settle == settle {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// ListPayments returns the customer's payment history with allocation
// detail, newest first.
func (s *Service) ListPayments(ctx context.Context, customerID int64) ([]ledger.PaymentDetail, error) {
	if _, err := s.store.Customer(ctx, customerID); err != nil {
		return nil, err
	}
	return s.store.Payments(ctx, customerID)
}

func (s *Service) recordAudit(ctx context.Context, p ledger.Payment, allocations []ledger.Allocation) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"amount":      p.Amount,
		"allocations": len(allocations),
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  p.CustomerID,
		Action:   "finance.payment.posted",
		Entity:   "payment",
		EntityID: p.Number,
		Meta:     meta,
		At:       p.PaidAt,
	}); err != nil {
		s.logger.Warn("audit payment", slog.String("payment", p.Number), slog.Any("error", err))
	}
}

// paymentNumber builds the human payment reference, timestamp plus a
// random suffix. Uniqueness is carried by the payment uuid; the number
// exists for statements and operator lookups.
func (s *Service) paymentNumber(at time.Time) string {
	return fmt.Sprintf("PAY%s%04d", at.Format("20060102150405"), rand.Intn(10000))
}
