package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"bilancio/internal/core"

	"github.com/google/uuid"
)

const accountColumns = `id, user_id, name, account_type, balance_cents, currency, is_active, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (core.Account, error) {
	var (
		a     core.Account
		cents int64
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &cents, &a.Currency, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return core.Account{}, err
	}
	a.Balance = core.FromCents(cents)
	return a, nil
}

func getAccountTx(ctx context.Context, tx *sql.Tx, id string) (core.Account, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// CreateAccount opens an account for a user with a zero balance.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, userID, name string, accountType core.AccountType, currency string) (core.Account, error) {
	if currency == "" {
		currency = "USD"
	}
	account := core.Account{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Type:      accountType,
		Balance:   core.FromCents(0),
		Currency:  currency,
		IsActive:  true,
		CreatedAt: now(),
		UpdatedAt: now(),
	}
	if err := account.Validate(); err != nil {
		return core.Account{}, fmt.Errorf("validate account: %w", err)
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %s: %w", userID, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO accounts (id, user_id, name, account_type, balance_cents, currency, is_active, created_at, updated_at)
			 VALUES (?, ?, ?, ?, 0, ?, 1, ?, ?)`,
			account.ID, account.UserID, account.Name, account.Type, account.Currency,
			account.CreatedAt, account.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert account: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Account{}, err
	}

	slog.InfoContext(ctx, "Account created",
		"id", account.ID, "user_id", userID, "type", accountType, "currency", currency)
	return account, nil
}

// GetAccount fetches an account by identifier.
func (r *SQLiteRepository) GetAccount(ctx context.Context, id string) (core.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns all accounts of a user, newest first.
func (r *SQLiteRepository) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// SetAccountActive toggles the active flag. Inactive accounts reject new
// journal appends but keep their history and balance.
func (r *SQLiteRepository) SetAccountActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, now(), id)
	if err != nil {
		return mapSQLiteErr(fmt.Errorf("update account: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// RenameAccount changes the display name of an account.
func (r *SQLiteRepository) RenameAccount(ctx context.Context, id, name string) error {
	if name == "" {
		return errors.New("empty account name")
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET name = ?, updated_at = ? WHERE id = ?`, name, now(), id)
	if err != nil {
		return mapSQLiteErr(fmt.Errorf("update account: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// DeleteAccount removes an account and all of its transactions. Transfer
// counterparts on other accounts are unlinked, not deleted, so their
// accounts' journals and balances stay untouched.
func (r *SQLiteRepository) DeleteAccount(ctx context.Context, id string) error {
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("account %s: %w", id, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get account: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE transactions SET linked_transaction_id = NULL
			 WHERE linked_transaction_id IN (SELECT id FROM transactions WHERE account_id = ?)`, id); err != nil {
			return fmt.Errorf("unlink counterparts: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM transactions WHERE account_id = ?`, id); err != nil {
			return fmt.Errorf("delete transactions: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM accounts WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Account deleted with its transactions", "id", id)
	return nil
}
