package ar

import (
	"context"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// AnalyzeAge buckets the customer's outstanding orders by whole days
// since order creation as of the reference instant. Pure read: two
// calls with the same inputs and no intervening writes return the
// same report.
func (s *Service) AnalyzeAge(ctx context.Context, customerID int64, asOf time.Time) (AgingReport, error) {
	customer, err := s.store.Customer(ctx, customerID)
	if err != nil {
		return AgingReport{}, err
	}
	if asOf.IsZero() {
		asOf = s.now().UTC()
	}

	outstanding, err := s.store.OutstandingOrders(ctx, customerID, asOf)
	if err != nil {
		return AgingReport{}, err
	}

	report := AgingReport{
		CustomerID:   customer.ID,
		CustomerName: customer.Name,
		AsOf:         asOf,
		Current:      AgingBucket{Label: "0-30"},
		Bucket30:     AgingBucket{Label: "31-60"},
		Bucket60:     AgingBucket{Label: "61-90"},
		Bucket90Plus: AgingBucket{Label: "90+"},
	}

	for _, oo := range outstanding {
		days := shared.DaysBetween(oo.CreatedAt, asOf)
		bucket := &report.Current
		switch {
		case days <= 30:
			bucket = &report.Current
		case days <= 60:
			bucket = &report.Bucket30
		case days <= 90:
			bucket = &report.Bucket60
		default:
			bucket = &report.Bucket90Plus
		}
		bucket.Orders = append(bucket.Orders, oo)
		bucket.Total += oo.Outstanding
		report.Total += oo.Outstanding
	}
	return report, nil
}

// Buckets returns the report's bands in display order.
func (r AgingReport) Buckets() []AgingBucket {
	return []AgingBucket{r.Current, r.Bucket30, r.Bucket60, r.Bucket90Plus}
}
