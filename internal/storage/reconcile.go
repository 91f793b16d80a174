package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bilancio/internal/core"
)

// ReconcileBalance recomputes an account's balance from the full journal and
// compares it with the stored value. A mismatch is reported as core.ErrDrift
// with the report still populated; the stored balance is never corrected
// here, so a deeper bug cannot be silently masked.
func (r *SQLiteRepository) ReconcileBalance(ctx context.Context, accountID string) (core.ReconcileReport, error) {
	report := core.ReconcileReport{AccountID: accountID}

	// Snapshot the stored balance and the journal sum in one transaction so
	// a concurrent append cannot fake a drift.
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var storedCents int64
		err := tx.QueryRowContext(ctx,
			`SELECT balance_cents FROM accounts WHERE id = ?`, accountID).Scan(&storedCents)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("account %s: %w", accountID, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get balance: %w", err)
		}

		var computedCents int64
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(CASE transaction_type
				WHEN 'income' THEN amount_cents
				WHEN 'expense' THEN -amount_cents
				ELSE amount_cents
			 END), 0)
			 FROM transactions WHERE account_id = ?`, accountID).Scan(&computedCents)
		if err != nil {
			return fmt.Errorf("sum journal: %w", err)
		}

		report.Stored = core.FromCents(storedCents)
		report.Computed = core.FromCents(computedCents)
		return nil
	})
	if err != nil {
		return core.ReconcileReport{}, err
	}

	if report.InDrift() {
		return report, fmt.Errorf("account %s stored %s journal %s: %w",
			accountID, report.Stored.String(), report.Computed.String(), core.ErrDrift)
	}
	return report, nil
}

// ListAccountIDs returns every account identifier; the reconcile worker
// fans out over this set.
func (r *SQLiteRepository) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list account ids: %w", err)
	}
	return ids, nil
}
