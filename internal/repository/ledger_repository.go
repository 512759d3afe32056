package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/raffle-tickets/internal/model"
)

// LedgerRepo stores issued tickets.  lot_inventory keeps one row per lot
// with the committed ticket count; that row is the lock every append for the
// lot takes, so the capacity check and the insert form a single atomic unit.
// All timestamps are stored in UTC.
type LedgerRepo struct {
	db *sql.DB
}

// NewLedgerRepo returns a LedgerRepo bound to the given database.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

// CommittedCount returns the number of tickets committed for lotID.  It
// reads without locking; callers that need an authoritative value must go
// through AppendTickets.
func (r *LedgerRepo) CommittedCount(ctx context.Context, lotID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT committed FROM lot_inventory WHERE lot_id = ?`, lotID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("committed count: %w", err)
	}
	return n, nil
}

// TicketsFor returns every ticket paid with paymentRef ordered by
// quantity index.  An empty slice means the payment was never committed.
func (r *LedgerRepo) TicketsFor(ctx context.Context, paymentRef string) ([]model.Ticket, error) {
	return queryTickets(ctx, r.db, `WHERE payment_ref = ? ORDER BY quantity_index`, paymentRef)
}

// TicketsForLot returns the tickets of a lot in issue order.
func (r *LedgerRepo) TicketsForLot(ctx context.Context, lotID string) ([]model.Ticket, error) {
	return queryTickets(ctx, r.db, `WHERE lot_id = ? ORDER BY issued_at, payment_ref, quantity_index`, lotID)
}

// AppendTickets commits a batch of tickets belonging to one payment.  In a
// single transaction it locks the lot's inventory row, returns the already
// stored batch when the payment reference was committed before, verifies
// that committed + len(tickets) stays within capacity (nil capacity means
// unlimited), inserts the batch and bumps the counter.  Either every ticket
// becomes visible or none does.  The boolean result is true when the batch
// was written by this call.
func (r *LedgerRepo) AppendTickets(ctx context.Context, lotID string, capacity *int, tickets []model.Ticket) ([]model.Ticket, bool, error) {
	if err := validateBatch(lotID, tickets); err != nil {
		return nil, false, err
	}
	ref := tickets[0].PaymentRef

	// Outside the transaction: concurrent first inserts of the same key
	// inside it deadlock on the FOR UPDATE below.
	if _, err := r.db.ExecContext(ctx, `INSERT IGNORE INTO lot_inventory (lot_id, committed) VALUES (?, 0)`, lotID); err != nil {
		return nil, false, fmt.Errorf("ensure inventory row: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin append: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var current int
	if err := tx.QueryRowContext(ctx,
		`SELECT committed FROM lot_inventory WHERE lot_id = ? FOR UPDATE`, lotID,
	).Scan(&current); err != nil {
		return nil, false, fmt.Errorf("lock inventory row: %w", err)
	}

	existing, err := queryTickets(ctx, tx, `WHERE payment_ref = ? ORDER BY quantity_index`, ref)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return existing, false, nil
	}

	if capacity != nil && current+len(tickets) > *capacity {
		return nil, false, fmt.Errorf("%w: lot %s has %d of %d committed, batch of %d",
			ErrCapacityExceeded, lotID, current, *capacity, len(tickets))
	}

	if err := insertTicketsTx(ctx, tx, tickets); err != nil {
		if isDuplicateKey(err) {
			// A batch for the same reference under a different lot row won
			// the race; the unique key kept it single.
			_ = tx.Rollback()
			stored, rerr := r.TicketsFor(ctx, ref)
			if rerr != nil {
				return nil, false, rerr
			}
			return stored, false, nil
		}
		return nil, false, fmt.Errorf("insert tickets: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE lot_inventory SET committed = committed + ? WHERE lot_id = ?`, len(tickets), lotID,
	); err != nil {
		return nil, false, fmt.Errorf("bump inventory: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit append: %w", err)
	}
	committed = true
	return tickets, true, nil
}

func validateBatch(lotID string, tickets []model.Ticket) error {
	if len(tickets) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidBatch)
	}
	ref := tickets[0].PaymentRef
	seen := make(map[int]struct{}, len(tickets))
	for _, t := range tickets {
		if t.LotID != lotID || t.PaymentRef != ref || ref == "" {
			return fmt.Errorf("%w: tickets must share lot %s and one payment reference", ErrInvalidBatch, lotID)
		}
		if _, dup := seen[t.QuantityIndex]; dup {
			return fmt.Errorf("%w: duplicate quantity index %d", ErrInvalidBatch, t.QuantityIndex)
		}
		seen[t.QuantityIndex] = struct{}{}
	}
	return nil
}

// insertTicketsTx writes the batch in one multi-row INSERT.
func insertTicketsTx(ctx context.Context, tx *sql.Tx, tickets []model.Ticket) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO tickets (id, lot_id, payment_ref, quantity_index, payer_name, payer_email, issued_at) VALUES `)
	args := make([]interface{}, 0, len(tickets)*7)
	for i, t := range tickets {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args, t.ID, t.LotID, t.PaymentRef, t.QuantityIndex, t.Payer.Name, t.Payer.Email, t.IssuedAt.UTC())
	}
	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return err
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func queryTickets(ctx context.Context, q queryer, where string, args ...interface{}) ([]model.Ticket, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, lot_id, payment_ref, quantity_index, payer_name, payer_email, issued_at FROM tickets `+where,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()
	tickets := []model.Ticket{}
	for rows.Next() {
		var t model.Ticket
		if err := rows.Scan(&t.ID, &t.LotID, &t.PaymentRef, &t.QuantityIndex, &t.Payer.Name, &t.Payer.Email, &t.IssuedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		t.IssuedAt = t.IssuedAt.UTC()
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return tickets, nil
}
