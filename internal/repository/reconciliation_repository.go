package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/raffle-tickets/internal/model"
)

// ReconciliationRepo persists the reconciliation journal, one row per
// payment reference.
type ReconciliationRepo struct {
	db *sql.DB
}

// NewReconciliationRepo returns a ReconciliationRepo bound to db.
func NewReconciliationRepo(db *sql.DB) *ReconciliationRepo { return &ReconciliationRepo{db: db} }

const reconciliationColumns = `payment_ref, lot_id, quantity, state, reason, retryable, payer_name, payer_email, capture_id, created_at, updated_at`

// Get returns the journal row for paymentRef, or nil when none exists.
func (r *ReconciliationRepo) Get(ctx context.Context, paymentRef string) (*model.Reconciliation, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+reconciliationColumns+` FROM reconciliations WHERE payment_ref = ?`, paymentRef)
	rec, err := scanReconciliation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reconciliation: %w", err)
	}
	return &rec, nil
}

// Save inserts or overwrites the journal row for rec.PaymentRef.  The
// first created_at is preserved on update.
func (r *ReconciliationRepo) Save(ctx context.Context, rec model.Reconciliation) error {
	const q = `INSERT INTO reconciliations (` + reconciliationColumns + `)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
               ON DUPLICATE KEY UPDATE
                   lot_id = VALUES(lot_id), quantity = VALUES(quantity), state = VALUES(state),
                   reason = VALUES(reason), retryable = VALUES(retryable),
                   payer_name = VALUES(payer_name), payer_email = VALUES(payer_email),
                   capture_id = VALUES(capture_id), updated_at = VALUES(updated_at)`
	_, err := r.db.ExecContext(ctx, q,
		rec.PaymentRef, rec.LotID, rec.Quantity, string(rec.State), rec.Reason, rec.Retryable,
		rec.Payer.Name, rec.Payer.Email, rec.CaptureID, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save reconciliation: %w", err)
	}
	return nil
}

// ListByState returns up to limit journal rows in the given state, most
// recently updated first.  An empty state lists every row.
func (r *ReconciliationRepo) ListByState(ctx context.Context, state model.ReconcileState, limit int) ([]model.Reconciliation, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if state == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+reconciliationColumns+` FROM reconciliations ORDER BY updated_at DESC LIMIT ?`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+reconciliationColumns+` FROM reconciliations WHERE state = ? ORDER BY updated_at DESC LIMIT ?`,
			string(state), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list reconciliations: %w", err)
	}
	defer rows.Close()
	out := []model.Reconciliation{}
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reconciliation: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reconciliations: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReconciliation(s rowScanner) (model.Reconciliation, error) {
	var rec model.Reconciliation
	var state string
	err := s.Scan(&rec.PaymentRef, &rec.LotID, &rec.Quantity, &state, &rec.Reason, &rec.Retryable,
		&rec.Payer.Name, &rec.Payer.Email, &rec.CaptureID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return model.Reconciliation{}, err
	}
	rec.State = model.ReconcileState(state)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}
