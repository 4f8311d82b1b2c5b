// Package ar implements the accounts-receivable reconciliation
// engine: payment allocation, aging analysis and customer statements
// over the append-only ledger.
package ar

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RecordPaymentInput describes a single-order payment posting. OrderID
// may be zero, in which case the whole amount stays as unapplied
// credit.
type RecordPaymentInput struct {
	CustomerID     int64
	Amount         float64
	OrderID        int64
	Method         string
	Note           string
	PaidAt         time.Time
	IdempotencyKey string
}

// RecordBatchPaymentInput describes one payment written off across
// multiple orders. OrderIDs is the caller-supplied priority order; an
// empty list falls back to oldest-outstanding-first.
type RecordBatchPaymentInput struct {
	CustomerID     int64
	Amount         float64
	OrderIDs       []int64
	Method         string
	Note           string
	PaidAt         time.Time
	IdempotencyKey string
}

// PaymentResult reports a completed posting.
type PaymentResult struct {
	PaymentID         string
	Number            string
	CustomerID        int64
	Amount            float64
	PaidAt            time.Time
	Allocations       []ledger.Allocation
	UnallocatedCredit float64
}

// DebtSummary aggregates what a customer currently owes.
type DebtSummary struct {
	CustomerID      int64
	CustomerName    string
	CreditLimit     float64
	TotalDebt       float64
	AvailableCredit float64
	UnappliedCredit float64
}

// AgingBucket holds one day-range band of the aging report.
type AgingBucket struct {
	Label  string
	Total  float64
	Orders []ledger.OutstandingOrder
}

// AgingReport buckets a customer's outstanding orders by days since
// order creation. Boundaries are closed-lower/open-upper: day 30 is
// still current, day 31 opens the 31-60 band.
type AgingReport struct {
	CustomerID   int64
	CustomerName string
	AsOf         time.Time
	Current      AgingBucket
	Bucket30     AgingBucket
	Bucket60     AgingBucket
	Bucket90Plus AgingBucket
	Total        float64
}

// StatementLine is one dated entry with the running balance after it.
// Allocations appear for auditability but do not move the balance.
type StatementLine struct {
	Date      time.Time
	Seq       int64
	Kind      ledger.EntryKind
	Reference string
	Debit     float64
	Credit    float64
	Balance   float64
}

// Statement is the derived monthly view: opening balance, the period's
// entries with running balances, and the closing balance, which is
// verified against the ledger fold before the statement is returned.
type Statement struct {
	CustomerID     int64
	CustomerName   string
	Period         shared.Period
	OpeningBalance float64
	ClosingBalance float64
	PeriodSales    float64
	PeriodPayments float64
	Lines          []StatementLine
}
