// Package events publishes appended ledger entries to downstream
// consumers (reporting, notifications). Publishing is best-effort and
// never blocks or fails a posting.
package events

import (
	"context"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// EntryEvent is the wire representation of an appended ledger entry.
type EntryEvent struct {
	Seq        int64     `json:"seq"`
	Kind       string    `json:"kind"`
	CustomerID int64     `json:"customer_id"`
	OrderID    int64     `json:"order_id,omitempty"`
	PaymentID  string    `json:"payment_id,omitempty"`
	Amount     float64   `json:"amount"`
	Date       time.Time `json:"date"`
}

// FromEntry converts a ledger entry into its event form.
func FromEntry(e ledger.Entry) EntryEvent {
	return EntryEvent{
		Seq:        e.Seq,
		Kind:       string(e.Kind),
		CustomerID: e.CustomerID,
		OrderID:    e.OrderID,
		PaymentID:  e.PaymentID,
		Amount:     e.Amount,
		Date:       e.Date,
	}
}

// Publisher emits ledger entry events.
type Publisher interface {
	PublishEntries(ctx context.Context, entries []ledger.Entry) error
	Close() error
}

// NopPublisher discards events. Used when no broker is configured.
type NopPublisher struct{}

// PublishEntries discards the batch.
func (NopPublisher) PublishEntries(ctx context.Context, entries []ledger.Entry) error { return nil }

// Close is a no-op.
func (NopPublisher) Close() error { return nil }
