package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// MemoryStore is a mutex-guarded Store kept entirely in process. It
// backs tests and single-node development; writes take the write lock
// for the whole posting, so readers always observe either none or all
// entries of a batch.
type MemoryStore struct {
	mu        sync.RWMutex
	customers map[int64]Customer
	orders    map[int64]Order
	payments  map[string]Payment
	entries   []Entry
	nextSeq   int64
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers: make(map[int64]Customer),
		orders:    make(map[int64]Order),
		payments:  make(map[string]Payment),
	}
}

// RegisterCustomer makes a customer known to the ledger.
func (s *MemoryStore) RegisterCustomer(ctx context.Context, c Customer) error {
	if c.ID == 0 {
		return shared.E(shared.KindInvalidEntry, "customer id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
	return nil
}

// Customer returns a registered customer.
func (s *MemoryStore) Customer(ctx context.Context, id int64) (Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[id]
	if !ok {
		return Customer{}, shared.E(shared.KindNotFound, "customer %d not found", id)
	}
	return c, nil
}

// RecordSale registers the order and appends its SALE entry.
func (s *MemoryStore) RecordSale(ctx context.Context, o Order) (Entry, error) {
	if o.ID == 0 {
		return Entry{}, shared.E(shared.KindInvalidEntry, "order id required")
	}
	if o.Total <= 0 {
		return Entry{}, shared.E(shared.KindInvalidEntry, "order total must be positive")
	}
	if o.Status == "" {
		o.Status = OrderApproved
	}
	if !o.Status.Receivable() {
		return Entry{}, shared.E(shared.KindInvalidEntry, "order %d status %s is not receivable", o.ID, o.Status)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customers[o.CustomerID]; !ok {
		return Entry{}, shared.E(shared.KindInvalidEntry, "customer %d not found", o.CustomerID)
	}
	if _, ok := s.orders[o.ID]; ok {
		return Entry{}, shared.E(shared.KindInvalidEntry, "order %d already recorded", o.ID)
	}
	s.orders[o.ID] = o
	entry := s.appendLocked(Entry{
		Kind:       EntrySale,
		CustomerID: o.CustomerID,
		OrderID:    o.ID,
		Amount:     o.Total,
		Date:       o.CreatedAt,
	})
	return entry, nil
}

// Order returns a registered order.
func (s *MemoryStore) Order(ctx context.Context, id int64) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, shared.E(shared.KindNotFound, "order %d not found", id)
	}
	return o, nil
}

// UpdateOrderStatus applies a status change from order management.
func (s *MemoryStore) UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return shared.E(shared.KindNotFound, "order %d not found", id)
	}
	o.Status = status
	s.orders[id] = o
	return nil
}

// PostPayment persists the posting atomically under the write lock.
func (s *MemoryStore) PostPayment(ctx context.Context, p PaymentPosting) ([]Entry, error) {
	if err := validatePosting(p); err != nil {
		return nil, err
	}
	if p.Payment.PaidAt.IsZero() {
		p.Payment.PaidAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[p.Payment.CustomerID]; !ok {
		return nil, shared.E(shared.KindInvalidEntry, "customer %d not found", p.Payment.CustomerID)
	}
	if _, ok := s.payments[p.Payment.ID]; ok {
		return nil, shared.E(shared.KindInvalidEntry, "payment %s already posted", p.Payment.ID)
	}
	for _, a := range p.Allocations {
		o, ok := s.orders[a.OrderID]
		if !ok {
			return nil, shared.E(shared.KindInvalidEntry, "order %d not found", a.OrderID)
		}
		if o.CustomerID != p.Payment.CustomerID {
			return nil, shared.E(shared.KindInvalidEntry, "order %d belongs to customer %d", a.OrderID, o.CustomerID)
		}
		allocated := s.allocatedLocked(a.OrderID, time.Time{})
		if allocated+a.Amount > o.Total+amountEpsilon {
			return nil, shared.E(shared.KindInvalidEntry, "allocation exceeds order %d total", a.OrderID)
		}
	}

	s.payments[p.Payment.ID] = p.Payment
	entries := make([]Entry, 0, 1+len(p.Allocations))
	entries = append(entries, s.appendLocked(Entry{
		Kind:       EntryPayment,
		CustomerID: p.Payment.CustomerID,
		PaymentID:  p.Payment.ID,
		Amount:     p.Payment.Amount,
		Date:       p.Payment.PaidAt,
	}))
	for _, a := range p.Allocations {
		date := a.Date
		if date.IsZero() {
			date = p.Payment.PaidAt
		}
		entries = append(entries, s.appendLocked(Entry{
			Kind:       EntryAllocation,
			CustomerID: p.Payment.CustomerID,
			OrderID:    a.OrderID,
			PaymentID:  a.PaymentID,
			Amount:     a.Amount,
			Date:       date,
		}))
	}
	return entries, nil
}

// BalanceAsOf folds SALE minus PAYMENT entries dated at or before the
// instant.
func (s *MemoryStore) BalanceAsOf(ctx context.Context, customerID int64, at time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var balance float64
	for _, e := range s.entries {
		if e.CustomerID != customerID || e.Date.After(at) {
			continue
		}
		switch e.Kind {
		case EntrySale:
			balance += e.Amount
		case EntryPayment:
			balance -= e.Amount
		}
	}
	return balance, nil
}

// OutstandingOrders returns eligible orders with outstanding > 0 as of
// the instant, oldest first.
func (s *MemoryStore) OutstandingOrders(ctx context.Context, customerID int64, asOf time.Time) ([]OutstandingOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []OutstandingOrder
	for _, o := range s.orders {
		if o.CustomerID != customerID || !o.Status.Receivable() || o.CreatedAt.After(asOf) {
			continue
		}
		allocated := s.allocatedLocked(o.ID, asOf)
		outstanding := o.Total - allocated
		if outstanding <= amountEpsilon {
			continue
		}
		out = append(out, OutstandingOrder{Order: o, Allocated: allocated, Outstanding: outstanding})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// EntriesInRange returns entries with date in [from, to), ordered by
// date then sequence.
func (s *MemoryStore) EntriesInRange(ctx context.Context, customerID int64, from, to time.Time) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.CustomerID != customerID || e.Date.Before(from) || !e.Date.Before(to) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

// StatementSnapshot folds balances and collects period entries in one
// pass under the read lock, so all fields reflect the same ledger
// state.
func (s *MemoryStore) StatementSnapshot(ctx context.Context, customerID int64, from, to time.Time) (StatementSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StatementSnapshot{From: from, To: to, PaymentNumbers: make(map[string]string)}
	for _, e := range s.entries {
		if e.CustomerID != customerID {
			continue
		}
		var delta float64
		switch e.Kind {
		case EntrySale:
			delta = e.Amount
		case EntryPayment:
			delta = -e.Amount
		}
		if e.Date.Before(from) {
			snap.Opening += delta
		}
		if e.Date.Before(to) {
			snap.Closing += delta
		}
		if !e.Date.Before(from) && e.Date.Before(to) {
			snap.Entries = append(snap.Entries, e)
		}
	}
	sort.Slice(snap.Entries, func(i, j int) bool {
		if snap.Entries[i].Date.Equal(snap.Entries[j].Date) {
			return snap.Entries[i].Seq < snap.Entries[j].Seq
		}
		return snap.Entries[i].Date.Before(snap.Entries[j].Date)
	})
	for id, p := range s.payments {
		if p.CustomerID == customerID {
			snap.PaymentNumbers[id] = p.Number
		}
	}
	return snap, nil
}

// Receivables lists the per-order receivable view, oldest first.
func (s *MemoryStore) Receivables(ctx context.Context, customerID int64) ([]Receivable, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Receivable
	for _, o := range s.orders {
		if o.CustomerID != customerID || !o.Status.Receivable() {
			continue
		}
		allocated := s.allocatedLocked(o.ID, time.Time{})
		out = append(out, Receivable{
			Order:       o,
			Allocated:   allocated,
			Outstanding: o.Total - allocated,
			Settle:      settleStatus(o.Total, allocated),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Payments lists payments with allocation detail, newest first.
func (s *MemoryStore) Payments(ctx context.Context, customerID int64) ([]PaymentDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PaymentDetail
	for _, p := range s.payments {
		if p.CustomerID != customerID {
			continue
		}
		detail := PaymentDetail{Payment: p}
		var allocated float64
		for _, e := range s.entries {
			if e.Kind != EntryAllocation || e.PaymentID != p.ID {
				continue
			}
			detail.Allocations = append(detail.Allocations, Allocation{
				PaymentID: e.PaymentID,
				OrderID:   e.OrderID,
				Amount:    e.Amount,
				Date:      e.Date,
			})
			allocated += e.Amount
		}
		detail.Unallocated = p.Amount - allocated
		out = append(out, detail)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PaidAt.Equal(out[j].PaidAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].PaidAt.After(out[j].PaidAt)
	})
	return out, nil
}

// Customers lists registered customer ids.
func (s *MemoryStore) Customers(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.customers))
	for id := range s.customers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// EntryCount reports the number of appended entries. Tests use it to
// assert that rejected postings left the ledger untouched.
func (s *MemoryStore) EntryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// allocatedLocked sums allocation entries for an order, optionally up
// to an instant. Callers hold at least the read lock.
func (s *MemoryStore) allocatedLocked(orderID int64, asOf time.Time) float64 {
	var sum float64
	for _, e := range s.entries {
		if e.Kind != EntryAllocation || e.OrderID != orderID {
			continue
		}
		if !asOf.IsZero() && e.Date.After(asOf) {
			continue
		}
		sum += e.Amount
	}
	return sum
}

func (s *MemoryStore) appendLocked(e Entry) Entry {
	s.nextSeq++
	e.Seq = s.nextSeq
	s.entries = append(s.entries, e)
	return e
}
