package ledger

import (
	"context"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Store is the durable, append-only record of sale and payment events
// per customer, and the single source of truth for balances. Every
// append is visible to subsequent reads from any caller.
type Store interface {
	// RegisterCustomer makes a customer known to the ledger. Customers
	// are owned by the customer-management collaborator; the ledger
	// keeps only what it needs for validation and debt summaries.
	RegisterCustomer(ctx context.Context, c Customer) error
	// Customer returns a registered customer or KindNotFound.
	Customer(ctx context.Context, id int64) (Customer, error)

	// RecordSale registers an approved order and appends its SALE
	// entry. Rejects non-positive totals, unknown customers and
	// duplicate order ids with KindInvalidEntry.
	RecordSale(ctx context.Context, o Order) (Entry, error)
	// Order returns a registered order or KindNotFound.
	Order(ctx context.Context, id int64) (Order, error)
	// UpdateOrderStatus applies a status change reported by order
	// management (e.g. cancellation after approval).
	UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus) error

	// PostPayment persists a payment with its allocations and appends
	// the PAYMENT and ALLOCATION entries, all-or-nothing. Reference
	// and amount validation mirrors Append.
	PostPayment(ctx context.Context, p PaymentPosting) ([]Entry, error)

	// BalanceAsOf folds SALE minus PAYMENT amounts for entries dated
	// at or before the instant. Positive means the customer owes.
	BalanceAsOf(ctx context.Context, customerID int64, at time.Time) (float64, error)
	// OutstandingOrders returns receivable-eligible orders with
	// outstanding > 0 as of the instant, oldest first.
	OutstandingOrders(ctx context.Context, customerID int64, asOf time.Time) ([]OutstandingOrder, error)
	// EntriesInRange returns entries with date in [from, to), sorted
	// by date then sequence.
	EntriesInRange(ctx context.Context, customerID int64, from, to time.Time) ([]Entry, error)
	// StatementSnapshot captures the opening balance, period entries and
	// closing balance for [from, to) from a single ledger state, so the
	// three can never disagree under concurrent postings.
	StatementSnapshot(ctx context.Context, customerID int64, from, to time.Time) (StatementSnapshot, error)

	// Receivables lists the per-order receivable view for a customer,
	// oldest first.
	Receivables(ctx context.Context, customerID int64) ([]Receivable, error)
	// Payments lists payments with allocation detail, newest first.
	Payments(ctx context.Context, customerID int64) ([]PaymentDetail, error)
	// Customers lists registered customer ids (integrity sweeps).
	Customers(ctx context.Context) ([]int64, error)
}

func settleStatus(total, allocated float64) SettleStatus {
	switch {
	case allocated <= 0:
		return SettleUnpaid
	case allocated < total:
		return SettlePartial
	default:
		return SettlePaid
	}
}

func validatePosting(p PaymentPosting) error {
	if p.Payment.ID == "" {
		return shared.E(shared.KindInvalidEntry, "payment id required")
	}
	if p.Payment.Amount <= 0 {
		return shared.E(shared.KindInvalidAmount, "payment amount must be positive")
	}
	var allocated float64
	for _, a := range p.Allocations {
		if a.Amount <= 0 {
			return shared.E(shared.KindInvalidEntry, "allocation amount must be positive")
		}
		if a.PaymentID != p.Payment.ID {
			return shared.E(shared.KindInvalidEntry, "allocation references foreign payment %s", a.PaymentID)
		}
		allocated += a.Amount
	}
	if allocated > p.Payment.Amount+amountEpsilon {
		return shared.E(shared.KindInvalidEntry, "allocations exceed payment amount")
	}
	return nil
}

// amountEpsilon absorbs float64 summation noise when comparing
// monetary totals, matching the tolerance used elsewhere in finance.
const amountEpsilon = 1e-6
