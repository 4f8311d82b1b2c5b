package ar

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// balanceTolerance bounds acceptable float64 drift between the
// statement's running balance and the ledger fold.
const balanceTolerance = 1e-4

// BuildStatement reconstructs the customer's statement for a calendar
// month: opening balance, every ledger entry in the period with a
// running balance, and the closing balance. Balances and entries come
// from one store snapshot, so postings landing mid-build cannot skew
// the result. Before returning, the closing balance is verified
// against the snapshot's independent fold; a mismatch means the ledger
// itself is inconsistent and is surfaced as an internal error, never
// as user feedback.
func (s *Service) BuildStatement(ctx context.Context, customerID int64, year, month int) (Statement, error) {
	customer, err := s.store.Customer(ctx, customerID)
	if err != nil {
		return Statement{}, err
	}
	period, err := shared.MonthPeriod(year, month)
	if err != nil {
		return Statement{}, err
	}

	snap, err := s.store.StatementSnapshot(ctx, customerID, period.Start, period.End)
	if err != nil {
		return Statement{}, err
	}

	st := Statement{
		CustomerID:     customer.ID,
		CustomerName:   customer.Name,
		Period:         period,
		OpeningBalance: snap.Opening,
	}

	running := snap.Opening
	for _, e := range snap.Entries {
		line := StatementLine{
			Date:      e.Date,
			Seq:       e.Seq,
			Kind:      e.Kind,
			Reference: s.entryReference(e, snap.PaymentNumbers),
		}
		switch e.Kind {
		case ledger.EntrySale:
			running += e.Amount
			line.Debit = e.Amount
			st.PeriodSales += e.Amount
		case ledger.EntryPayment:
			running -= e.Amount
			line.Credit = e.Amount
			st.PeriodPayments += e.Amount
		case ledger.EntryAllocation:
			// Write-off detail only; the balance moved with the payment.
		}
		line.Balance = running
		st.Lines = append(st.Lines, line)
	}
	st.ClosingBalance = running

	if math.Abs(snap.Closing-st.ClosingBalance) > balanceTolerance {
		s.metrics.StatementConsistencyFailure()
		err := shared.E(shared.KindInternalConsistency,
			"statement closing balance %.4f does not match ledger balance %.4f for customer %d period %s",
			st.ClosingBalance, snap.Closing, customerID, period.Label())
		s.logger.Error("statement self-check failed",
			slog.Int64("customer_id", customerID),
			slog.String("period", period.Label()),
			slog.Float64("statement_closing", st.ClosingBalance),
			slog.Float64("ledger_balance", snap.Closing),
		)
		return Statement{}, err
	}
	return st, nil
}

func (s *Service) entryReference(e ledger.Entry, paymentNumbers map[string]string) string {
	switch e.Kind {
	case ledger.EntrySale:
		return fmt.Sprintf("SO-%d", e.OrderID)
	case ledger.EntryPayment:
		if n, ok := paymentNumbers[e.PaymentID]; ok {
			return n
		}
		return e.PaymentID
	case ledger.EntryAllocation:
		if n, ok := paymentNumbers[e.PaymentID]; ok {
			return fmt.Sprintf("%s > SO-%d", n, e.OrderID)
		}
		return fmt.Sprintf("SO-%d", e.OrderID)
	}
	return ""
}
