package ledger

import (
	"time"
)

// OrderStatus enumerates order lifecycle states as reported by the
// order-management collaborator.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderApproved  OrderStatus = "APPROVED"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Receivable reports whether orders in this status participate in
// accounts receivable.
func (s OrderStatus) Receivable() bool {
	switch s {
	case OrderApproved, OrderShipped, OrderCompleted:
		return true
	}
	return false
}

// Customer is the ledger partition key. Owned by customer management;
// the ledger only references it. CreditLimit feeds the debt summary.
type Customer struct {
	ID          int64
	Name        string
	CreditLimit float64
}

// Order is a receivable. Total is fixed at approval time; the
// allocated amount is always derived from allocation entries.
type Order struct {
	ID         int64
	CustomerID int64
	Total      float64
	Status     OrderStatus
	CreatedAt  time.Time
}

// Payment records money received from a customer. Immutable once
// posted. The allocated total never exceeds Amount; any residue is
// tracked as unapplied customer credit.
type Payment struct {
	ID         string
	Number     string
	CustomerID int64
	Amount     float64
	PaidAt     time.Time
	Method     string
	Note       string
}

// Allocation links one payment to one order. Created only by the
// allocation engine and never mutated afterwards.
type Allocation struct {
	PaymentID string
	OrderID   int64
	Amount    float64
	Date      time.Time
}

// EntryKind discriminates ledger entry types.
type EntryKind string

const (
	EntrySale       EntryKind = "SALE"
	EntryPayment    EntryKind = "PAYMENT"
	EntryAllocation EntryKind = "ALLOCATION"
)

// Entry is the append-only unit of truth. Seq is assigned by the
// store and is strictly increasing, which gives statements a total
// order for same-instant entries.
type Entry struct {
	Seq        int64
	Kind       EntryKind
	CustomerID int64
	OrderID    int64
	PaymentID  string
	Amount     float64
	Date       time.Time
}

// OutstandingOrder is an order together with its derived allocation
// state as of some instant.
type OutstandingOrder struct {
	Order
	Allocated   float64
	Outstanding float64
}

// SettleStatus classifies a receivable by how much of it is covered.
type SettleStatus string

const (
	SettleUnpaid  SettleStatus = "UNPAID"
	SettlePartial SettleStatus = "PARTIAL"
	SettlePaid    SettleStatus = "PAID"
)

// Receivable is the per-order view exposed to listings: the order,
// its derived amounts and a settle status.
type Receivable struct {
	Order
	Allocated   float64
	Outstanding float64
	Settle      SettleStatus
}

// PaymentDetail is a payment with its recorded allocations.
type PaymentDetail struct {
	Payment
	Allocations []Allocation
	Unallocated float64
}

// PaymentPosting groups a payment with its allocations so stores can
// persist the whole posting atomically.
type PaymentPosting struct {
	Payment     Payment
	Allocations []Allocation
}

// StatementSnapshot is a point-in-time read of one customer's ledger
// over the half-open interval [From, To). Opening and Closing fold
// entries dated strictly before the respective bound; Entries holds
// the interval's entries in date-then-seq order; PaymentNumbers maps
// the customer's payment ids to their human references. All fields are
// captured from the same ledger state, so a posting that lands while a
// statement is being assembled can never split them.
type StatementSnapshot struct {
	From           time.Time
	To             time.Time
	Opening        float64
	Closing        float64
	Entries        []Entry
	PaymentNumbers map[string]string
}
