package ar

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func TestBuildStatementRunningBalance(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedCustomer(t, store, 1, 10000)

	// Prior month activity forms the opening balance.
	seedOrder(t, store, 100, 1, 800, ledger.OrderApproved, time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC))

	seedOrder(t, store, 101, 1, 1200, ledger.OrderApproved, time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC))
	_, err := service.RecordPayment(ctx, RecordPaymentInput{
		CustomerID: 1, Amount: 500, OrderID: 100,
		PaidAt: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	st, err := service.BuildStatement(ctx, 1, 2025, 6)
	require.NoError(t, err)

	require.InEpsilon(t, 800.0, st.OpeningBalance, 1e-9)
	require.InEpsilon(t, 1500.0, st.ClosingBalance, 1e-9)
	require.InEpsilon(t, 1200.0, st.PeriodSales, 1e-9)
	require.InEpsilon(t, 500.0, st.PeriodPayments, 1e-9)

	// SALE, PAYMENT and its ALLOCATION detail line.
	require.Len(t, st.Lines, 3)
	require.Equal(t, ledger.EntrySale, st.Lines[0].Kind)
	require.InEpsilon(t, 2000.0, st.Lines[0].Balance, 1e-9)
	require.Equal(t, ledger.EntryPayment, st.Lines[1].Kind)
	require.InEpsilon(t, 1500.0, st.Lines[1].Balance, 1e-9)
	require.Equal(t, ledger.EntryAllocation, st.Lines[2].Kind)
	require.InEpsilon(t, 1500.0, st.Lines[2].Balance, 1e-9)
	require.Zero(t, st.Lines[2].Debit)
	require.Zero(t, st.Lines[2].Credit)
}

func TestBuildStatementEmptyMonth(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedCustomer(t, store, 1, 10000)
	seedOrder(t, store, 100, 1, 800, ledger.OrderApproved, time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC))

	st, err := service.BuildStatement(ctx, 1, 2025, 6)
	require.NoError(t, err)
	require.Empty(t, st.Lines)
	require.InEpsilon(t, 800.0, st.OpeningBalance, 1e-9)
	require.Equal(t, st.OpeningBalance, st.ClosingBalance)
	require.Zero(t, st.PeriodSales)
	require.Zero(t, st.PeriodPayments)
}

func TestBuildStatementMonthStartEntryBelongsToPeriod(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedCustomer(t, store, 1, 10000)
	seedOrder(t, store, 100, 1, 300, ledger.OrderApproved, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	st, err := service.BuildStatement(ctx, 1, 2025, 6)
	require.NoError(t, err)
	require.Zero(t, st.OpeningBalance)
	require.Len(t, st.Lines, 1)
	require.InEpsilon(t, 300.0, st.ClosingBalance, 1e-9)

	// The same entry is settled history by July.
	july, err := service.BuildStatement(ctx, 1, 2025, 7)
	require.NoError(t, err)
	require.InEpsilon(t, 300.0, july.OpeningBalance, 1e-9)
	require.Empty(t, july.Lines)
}

func TestBuildStatementReferences(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedCustomer(t, store, 1, 10000)
	seedOrder(t, store, 101, 1, 400, ledger.OrderApproved, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))

	res, err := service.RecordPayment(ctx, RecordPaymentInput{
		CustomerID: 1, Amount: 400, OrderID: 101,
		PaidAt: time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	st, err := service.BuildStatement(ctx, 1, 2025, 6)
	require.NoError(t, err)
	require.Len(t, st.Lines, 3)
	require.Equal(t, "SO-101", st.Lines[0].Reference)
	require.Equal(t, res.Number, st.Lines[1].Reference)
	require.Equal(t, res.Number+" > SO-101", st.Lines[2].Reference)
}

func TestBuildStatementInvalidMonth(t *testing.T) {
	service, store := newTestService(t)
	seedCustomer(t, store, 1, 10000)

	_, err := service.BuildStatement(context.Background(), 1, 2025, 13)
	require.Error(t, err)
	_, err = service.BuildStatement(context.Background(), 1, 2025, 0)
	require.Error(t, err)
}

func TestBuildStatementUnknownCustomer(t *testing.T) {
	service, _ := newTestService(t)
	_, err := service.BuildStatement(context.Background(), 42, 2025, 6)
	require.Equal(t, shared.KindNotFound, shared.KindOf(err))
}

// racingStore lands an extra posting the moment a statement snapshot
// has been taken, simulating a payment arriving mid-build.
type racingStore struct {
	*ledger.MemoryStore
	once sync.Once
	post func()
}

func (s *racingStore) StatementSnapshot(ctx context.Context, customerID int64, from, to time.Time) (ledger.StatementSnapshot, error) {
	snap, err := s.MemoryStore.StatementSnapshot(ctx, customerID, from, to)
	if err == nil {
		s.once.Do(s.post)
	}
	return snap, err
}

func TestBuildStatementUnaffectedByConcurrentPosting(t *testing.T) {
	inner := ledger.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, inner.RegisterCustomer(ctx, ledger.Customer{ID: 1, Name: "Test Customer", CreditLimit: 10000}))
	_, err := inner.RecordSale(ctx, ledger.Order{
		ID: 100, CustomerID: 1, Total: 500,
		Status: ledger.OrderApproved, CreatedAt: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	store := &racingStore{MemoryStore: inner}
	store.post = func() {
		_, err := inner.PostPayment(ctx, ledger.PaymentPosting{
			Payment:     ledger.Payment{ID: "late", Number: "PAY-LATE", CustomerID: 1, Amount: 100, PaidAt: time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC)},
			Allocations: []ledger.Allocation{{PaymentID: "late", OrderID: 100, Amount: 100}},
		})
		require.NoError(t, err)
	}
	service := NewService(ServiceConfig{Store: store})
	service.WithNow(func() time.Time { return fixedNow })

	st, err := service.BuildStatement(ctx, 1, 2025, 6)
	require.NoError(t, err)
	require.Len(t, st.Lines, 1)
	require.InEpsilon(t, 500.0, st.ClosingBalance, 1e-9)

	// A rebuild sees the payment; both builds are internally consistent.
	st, err = service.BuildStatement(ctx, 1, 2025, 6)
	require.NoError(t, err)
	require.Len(t, st.Lines, 3)
	require.InEpsilon(t, 400.0, st.ClosingBalance, 1e-9)
}

func TestBuildStatementUnderConcurrentPostings(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedCustomer(t, store, 1, 100000)
	seedOrder(t, store, 100, 1, 50000, ledger.OrderApproved, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))

	done := make(chan error, 1)
	go func() {
		for i := 0; i < 40; i++ {
			_, err := service.RecordPayment(ctx, RecordPaymentInput{
				CustomerID: 1, Amount: 50, OrderID: 100,
				PaidAt: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
			})
			if err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for {
		_, err := service.BuildStatement(ctx, 1, 2025, 6)
		require.NoError(t, err)
		select {
		case postErr := <-done:
			require.NoError(t, postErr)
			_, err := service.BuildStatement(ctx, 1, 2025, 6)
			require.NoError(t, err)
			return
		default:
		}
	}
}

func TestBuildStatementConsecutiveMonthsChain(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()
	seedCustomer(t, store, 1, 10000)
	seedOrder(t, store, 100, 1, 900, ledger.OrderApproved, time.Date(2025, 4, 20, 0, 0, 0, 0, time.UTC))
	_, err := service.RecordPayment(ctx, RecordPaymentInput{
		CustomerID: 1, Amount: 400, OrderID: 100,
		PaidAt: time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	april, err := service.BuildStatement(ctx, 1, 2025, 4)
	require.NoError(t, err)
	may, err := service.BuildStatement(ctx, 1, 2025, 5)
	require.NoError(t, err)

	require.Equal(t, april.ClosingBalance, may.OpeningBalance)
	require.InEpsilon(t, 500.0, may.ClosingBalance, 1e-9)
}
