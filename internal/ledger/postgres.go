package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// PostgresStore provides PostgreSQL backed persistence for the ledger.
// Entries live in an append-only table; no row is ever updated.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// RegisterCustomer upserts the customer reference row.
func (s *PostgresStore) RegisterCustomer(ctx context.Context, c Customer) error {
	if c.ID == 0 {
		return shared.E(shared.KindInvalidEntry, "customer id required")
	}
	query := `
		INSERT INTO ledger_customers (id, name, credit_limit)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, credit_limit = EXCLUDED.credit_limit`
	_, err := s.pool.Exec(ctx, query, c.ID, c.Name, c.CreditLimit)
	return storeErr(err, "register customer")
}

// Customer retrieves a customer reference row.
func (s *PostgresStore) Customer(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, credit_limit FROM ledger_customers WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.CreditLimit)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, shared.E(shared.KindNotFound, "customer %d not found", id)
	}
	if err != nil {
		return Customer{}, storeErr(err, "load customer")
	}
	return c, nil
}

// RecordSale registers the order and appends its SALE entry in one
// transaction.
func (s *PostgresStore) RecordSale(ctx context.Context, o Order) (Entry, error) {
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

	var entry Entry
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_orders (id, customer_id, total, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
			o.ID, o.CustomerID, o.Total, string(o.Status), o.CreatedAt,
		); err != nil {
			return err
		}
		var err error
		entry, err = appendEntry(ctx, tx, Entry{
			Kind:       EntrySale,
			CustomerID: o.CustomerID,
			OrderID:    o.ID,
			Amount:     o.Total,
			Date:       o.CreatedAt,
		})
		return err
	})
	if err != nil {
		return Entry{}, storeErr(err, "record sale")
	}
	return entry, nil
}

// Order retrieves a registered order.
func (s *PostgresStore) Order(ctx context.Context, id int64) (Order, error) {
	var o Order
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, customer_id, total, status, created_at FROM ledger_orders WHERE id = $1`, id,
	).Scan(&o.ID, &o.CustomerID, &o.Total, &status, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.E(shared.KindNotFound, "order %d not found", id)
	}
	if err != nil {
		return Order{}, storeErr(err, "load order")
	}
	o.Status = OrderStatus(status)
	return o, nil
}

// UpdateOrderStatus applies a status change from order management.
func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ledger_orders SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return storeErr(err, "update order status")
	}
	if tag.RowsAffected() == 0 {
		return shared.E(shared.KindNotFound, "order %d not found", id)
	}
	return nil
}

// PostPayment persists the posting in a repeatable-read transaction.
// Target order rows are locked so concurrent postings against the
// same orders serialize at the store as well.
func (s *PostgresStore) PostPayment(ctx context.Context, p PaymentPosting) ([]Entry, error) {
	if err := validatePosting(p); err != nil {
		return nil, err
	}
	if p.Payment.PaidAt.IsZero() {
		p.Payment.PaidAt = time.Now().UTC()
	}

	var entries []Entry
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, a := range p.Allocations {
			var total float64
			var customerID int64
			err := tx.QueryRow(ctx,
				`SELECT total, customer_id FROM ledger_orders WHERE id = $1 FOR UPDATE`, a.OrderID,
			).Scan(&total, &customerID)
			if errors.Is(err, pgx.ErrNoRows) {
				return shared.E(shared.KindInvalidEntry, "order %d not found", a.OrderID)
			}
			if err != nil {
				return err
			}
			if customerID != p.Payment.CustomerID {
				return shared.E(shared.KindInvalidEntry, "order %d belongs to customer %d", a.OrderID, customerID)
			}
			var allocated pgtype.Float8
			if err := tx.QueryRow(ctx,
				`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE kind = 'ALLOCATION' AND order_id = $1`, a.OrderID,
			).Scan(&allocated); err != nil {
				return err
			}
			if allocated.Float64+a.Amount > total+amountEpsilon {
				return shared.E(shared.KindInvalidEntry, "allocation exceeds order %d total", a.OrderID)
			}
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO ledger_payments (id, number, customer_id, amount, paid_at, method, note) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			p.Payment.ID, p.Payment.Number, p.Payment.CustomerID, p.Payment.Amount, p.Payment.PaidAt, p.Payment.Method, p.Payment.Note,
		); err != nil {
			return err
		}

		entry, err := appendEntry(ctx, tx, Entry{
			Kind:       EntryPayment,
			CustomerID: p.Payment.CustomerID,
			PaymentID:  p.Payment.ID,
			Amount:     p.Payment.Amount,
			Date:       p.Payment.PaidAt,
		})
		if err != nil {
			return err
		}
		entries = append(entries, entry)

		for _, a := range p.Allocations {
			date := a.Date
			if date.IsZero() {
				date = p.Payment.PaidAt
			}
			entry, err := appendEntry(ctx, tx, Entry{
				Kind:       EntryAllocation,
				CustomerID: p.Payment.CustomerID,
				OrderID:    a.OrderID,
				PaymentID:  a.PaymentID,
				Amount:     a.Amount,
				Date:       date,
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "post payment")
	}
	return entries, nil
}

// BalanceAsOf folds SALE minus PAYMENT entries dated at or before the
// instant.
func (s *PostgresStore) BalanceAsOf(ctx context.Context, customerID int64, at time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(CASE kind WHEN 'SALE' THEN amount WHEN 'PAYMENT' THEN -amount ELSE 0 END), 0)
		FROM ledger_entries
		WHERE customer_id = $1 AND entry_date <= $2`
	var balance float64
	if err := s.pool.QueryRow(ctx, query, customerID, at).Scan(&balance); err != nil {
		return 0, storeErr(err, "balance as of")
	}
	return balance, nil
}

// OutstandingOrders returns eligible orders with outstanding > 0 as of
// the instant, oldest first.
func (s *PostgresStore) OutstandingOrders(ctx context.Context, customerID int64, asOf time.Time) ([]OutstandingOrder, error) {
	query := `
		SELECT o.id, o.customer_id, o.total, o.status, o.created_at,
			COALESCE(SUM(e.amount) FILTER (WHERE e.kind = 'ALLOCATION' AND e.entry_date <= $2), 0) AS allocated
		FROM ledger_orders o
		LEFT JOIN ledger_entries e ON e.order_id = o.id
		WHERE o.customer_id = $1
			AND o.status IN ('APPROVED', 'SHIPPED', 'COMPLETED')
			AND o.created_at <= $2
		GROUP BY o.id
		HAVING o.total - COALESCE(SUM(e.amount) FILTER (WHERE e.kind = 'ALLOCATION' AND e.entry_date <= $2), 0) > 0
		ORDER BY o.created_at, o.id`

	rows, err := s.pool.Query(ctx, query, customerID, asOf)
	if err != nil {
		return nil, storeErr(err, "outstanding orders")
	}
	defer rows.Close()

	var out []OutstandingOrder
	for rows.Next() {
		var oo OutstandingOrder
		var status string
		if err := rows.Scan(&oo.ID, &oo.CustomerID, &oo.Total, &status, &oo.CreatedAt, &oo.Allocated); err != nil {
			return nil, storeErr(err, "scan outstanding order")
		}
		oo.Status = OrderStatus(status)
		oo.Outstanding = oo.Total - oo.Allocated
		out = append(out, oo)
	}
	return out, rows.Err()
}

// EntriesInRange returns entries with date in [from, to), ordered by
// date then sequence.
func (s *PostgresStore) EntriesInRange(ctx context.Context, customerID int64, from, to time.Time) ([]Entry, error) {
	query := `
		SELECT seq, kind, customer_id, COALESCE(order_id, 0), COALESCE(payment_id, ''), amount, entry_date
		FROM ledger_entries
		WHERE customer_id = $1 AND entry_date >= $2 AND entry_date < $3
		ORDER BY entry_date, seq`

	rows, err := s.pool.Query(ctx, query, customerID, from, to)
	if err != nil {
		return nil, storeErr(err, "entries in range")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.Seq, &kind, &e.CustomerID, &e.OrderID, &e.PaymentID, &e.Amount, &e.Date); err != nil {
			return nil, storeErr(err, "scan entry")
		}
		e.Kind = EntryKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// StatementSnapshot runs the balance folds and the period scan inside
// one read-only repeatable-read transaction, so all fields come from
// the same database snapshot.
func (s *PostgresStore) StatementSnapshot(ctx context.Context, customerID int64, from, to time.Time) (StatementSnapshot, error) {
	snap := StatementSnapshot{From: from, To: to, PaymentNumbers: make(map[string]string)}
	err := db.WithReadTx(ctx, s.pool, func(tx pgx.Tx) error {
		fold := `
			SELECT COALESCE(SUM(CASE kind WHEN 'SALE' THEN amount WHEN 'PAYMENT' THEN -amount ELSE 0 END), 0)
			FROM ledger_entries
			WHERE customer_id = $1 AND entry_date < $2`
		if err := tx.QueryRow(ctx, fold, customerID, from).Scan(&snap.Opening); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, fold, customerID, to).Scan(&snap.Closing); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, `
			SELECT seq, kind, customer_id, COALESCE(order_id, 0), COALESCE(payment_id, ''), amount, entry_date
			FROM ledger_entries
			WHERE customer_id = $1 AND entry_date >= $2 AND entry_date < $3
			ORDER BY entry_date, seq`, customerID, from, to)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var e Entry
			var kind string
			if err := rows.Scan(&e.Seq, &kind, &e.CustomerID, &e.OrderID, &e.PaymentID, &e.Amount, &e.Date); err != nil {
				return err
			}
			e.Kind = EntryKind(kind)
			snap.Entries = append(snap.Entries, e)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		numRows, err := tx.Query(ctx,
			`SELECT id, number FROM ledger_payments WHERE customer_id = $1`, customerID)
		if err != nil {
			return err
		}
		defer numRows.Close()
		for numRows.Next() {
			var id, number string
			if err := numRows.Scan(&id, &number); err != nil {
				return err
			}
			snap.PaymentNumbers[id] = number
		}
		return numRows.Err()
	})
	if err != nil {
		return StatementSnapshot{}, storeErr(err, "statement snapshot")
	}
	return snap, nil
}

// Receivables lists the per-order receivable view, oldest first.
func (s *PostgresStore) Receivables(ctx context.Context, customerID int64) ([]Receivable, error) {
	query := `
		SELECT o.id, o.customer_id, o.total, o.status, o.created_at,
			COALESCE(SUM(e.amount) FILTER (WHERE e.kind = 'ALLOCATION'), 0) AS allocated
		FROM ledger_orders o
		LEFT JOIN ledger_entries e ON e.order_id = o.id
		WHERE o.customer_id = $1 AND o.status IN ('APPROVED', 'SHIPPED', 'COMPLETED')
		GROUP BY o.id
		ORDER BY o.created_at, o.id`

	rows, err := s.pool.Query(ctx, query, customerID)
	if err != nil {
		return nil, storeErr(err, "receivables")
	}
	defer rows.Close()

	var out []Receivable
	for rows.Next() {
		var r Receivable
		var status string
		if err := rows.Scan(&r.ID, &r.CustomerID, &r.Total, &status, &r.CreatedAt, &r.Allocated); err != nil {
			return nil, storeErr(err, "scan receivable")
		}
		r.Status = OrderStatus(status)
		r.Outstanding = r.Total - r.Allocated
		r.Settle = settleStatus(r.Total, r.Allocated)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Payments lists payments with allocation detail, newest first.
func (s *PostgresStore) Payments(ctx context.Context, customerID int64) ([]PaymentDetail, error) {
	query := `
		SELECT id, number, customer_id, amount, paid_at, method, note
		FROM ledger_payments
		WHERE customer_id = $1
		ORDER BY paid_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, customerID)
	if err != nil {
		return nil, storeErr(err, "payments")
	}
	defer rows.Close()

	var out []PaymentDetail
	for rows.Next() {
		var d PaymentDetail
		if err := rows.Scan(&d.ID, &d.Number, &d.CustomerID, &d.Amount, &d.PaidAt, &d.Method, &d.Note); err != nil {
			return nil, storeErr(err, "scan payment")
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "payments")
	}

	for i := range out {
		allocRows, err := s.pool.Query(ctx,
			`SELECT order_id, amount, entry_date FROM ledger_entries WHERE kind = 'ALLOCATION' AND payment_id = $1 ORDER BY seq`,
			out[i].ID,
		)
		if err != nil {
			return nil, storeErr(err, "payment allocations")
		}
		var allocated float64
		for allocRows.Next() {
			var a Allocation
			if err := allocRows.Scan(&a.OrderID, &a.Amount, &a.Date); err != nil {
				allocRows.Close()
				return nil, storeErr(err, "scan allocation")
			}
			a.PaymentID = out[i].ID
			out[i].Allocations = append(out[i].Allocations, a)
			allocated += a.Amount
		}
		allocRows.Close()
		if err := allocRows.Err(); err != nil {
			return nil, storeErr(err, "payment allocations")
		}
		out[i].Unallocated = out[i].Amount - allocated
	}
	return out, nil
}

// Customers lists registered customer ids.
func (s *PostgresStore) Customers(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM ledger_customers ORDER BY id`)
	if err != nil {
		return nil, storeErr(err, "customers")
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr(err, "scan customer id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func appendEntry(ctx context.Context, tx pgx.Tx, e Entry) (Entry, error) {
	var orderID any
	if e.OrderID != 0 {
		orderID = e.OrderID
	}
	var paymentID any
	if e.PaymentID != "" {
		paymentID = e.PaymentID
	}
	err := tx.QueryRow(ctx,
		`INSERT INTO ledger_entries (kind, customer_id, order_id, payment_id, amount, entry_date)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING seq`,
		string(e.Kind), e.CustomerID, orderID, paymentID, e.Amount, e.Date,
	).Scan(&e.Seq)
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// storeErr maps low-level pgx failures onto the shared taxonomy.
// Kinded errors pass through untouched.
func storeErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if shared.KindOf(err) != "" {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return shared.Wrap(shared.KindInvalidEntry, err, op+": duplicate record")
		case "23503":
			return shared.Wrap(shared.KindInvalidEntry, err, op+": dangling reference")
		case "40001", "40P01":
			return shared.Wrap(shared.KindStoreUnavailable, err, op+": transient conflict")
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.Wrap(shared.KindStoreUnavailable, err, op+": store timeout")
	}
	return shared.Wrap(shared.KindStoreUnavailable, err, op)
}
