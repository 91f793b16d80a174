package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"bilancio/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const transactionColumns = `id, account_id, category_id, amount_cents, transaction_type, description, transaction_date, notes, linked_transaction_id, created_at, updated_at`

func scanTransaction(row interface{ Scan(...any) error }) (core.Transaction, error) {
	var (
		t                       core.Transaction
		categoryID, notes, linked sql.NullString
		cents                   int64
		date                    string
	)
	err := row.Scan(&t.ID, &t.AccountID, &categoryID, &cents, &t.Type, &t.Description,
		&date, &notes, &linked, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return core.Transaction{}, err
	}
	t.CategoryID = categoryID.String
	t.Notes = notes.String
	t.LinkedTransactionID = linked.String
	t.Amount = core.FromCents(cents)
	t.Date, err = core.ParseDate(date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse transaction date: %w", err)
	}
	return t, nil
}

func getTransactionTx(ctx context.Context, tx *sql.Tx, id string) (core.Transaction, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// activeAccountTx loads an account for a journal write. A missing or
// inactive account fails with core.ErrInvalidAccount.
func activeAccountTx(ctx context.Context, tx *sql.Tx, id string) (core.Account, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, fmt.Errorf("account %s: %w", id, core.ErrInvalidAccount)
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("get account: %w", err)
	}
	if !a.IsActive {
		return core.Account{}, fmt.Errorf("account %s is inactive: %w", id, core.ErrInvalidAccount)
	}
	return a, nil
}

// applyBalanceTx shifts an account's cached balance by deltaCents. This is
// the only place balances change; it always runs inside the same transaction
// as the journal write it mirrors.
func applyBalanceTx(ctx context.Context, tx *sql.Tx, accountID string, deltaCents int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = ? WHERE id = ?`,
		deltaCents, now(), accountID)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("account %s: %w", accountID, core.ErrInvalidAccount)
	}
	return nil
}

// categoryVisibleTx verifies the category exists and is visible to the
// account owner: system-wide or owned by the same user. A foreign category is
// indistinguishable from a missing one.
func categoryVisibleTx(ctx context.Context, tx *sql.Tx, id, userID string) error {
	c, err := getCategoryTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if c.UserID != "" && c.UserID != userID {
		return fmt.Errorf("category %s belongs to another user: %w", id, core.ErrNotFound)
	}
	return nil
}

func insertTransactionTx(ctx context.Context, tx *sql.Tx, t core.Transaction) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO transactions
		 (id, account_id, category_id, amount_cents, transaction_type, description,
		  transaction_date, notes, linked_transaction_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, nullStr(t.CategoryID), core.Cents(t.Amount), t.Type,
		t.Description, t.Date.String(), nullStr(t.Notes), nullStr(t.LinkedTransactionID),
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// AppendSimpleParams describes an income or expense journal append.
type AppendSimpleParams struct {
	AccountID   string
	Type        core.TransactionType // Income or Expense
	Amount      decimal.Decimal      // strictly positive, 2 decimal places
	CategoryID  string               // optional
	Date        core.Date
	Description string
	Notes       string
}

// AppendSimple inserts an income or expense row and shifts the owning
// account's balance in the same transaction.
func (r *SQLiteRepository) AppendSimple(ctx context.Context, params AppendSimpleParams) (core.Transaction, error) {
	if params.Type != core.Income && params.Type != core.Expense {
		return core.Transaction{}, fmt.Errorf("append simple: type must be income or expense")
	}
	t := core.Transaction{
		ID:          uuid.NewString(),
		AccountID:   params.AccountID,
		CategoryID:  params.CategoryID,
		Amount:      params.Amount,
		Type:        params.Type,
		Description: params.Description,
		Date:        params.Date,
		Notes:       params.Notes,
		CreatedAt:   now(),
		UpdatedAt:   now(),
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("validate transaction: %w", err)
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		account, err := activeAccountTx(ctx, tx, t.AccountID)
		if err != nil {
			return err
		}
		if t.CategoryID != "" {
			if err := categoryVisibleTx(ctx, tx, t.CategoryID, account.UserID); err != nil {
				return err
			}
		}
		if err := insertTransactionTx(ctx, tx, t); err != nil {
			return err
		}
		return applyBalanceTx(ctx, tx, t.AccountID, core.Cents(t.SignedAmount()))
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Journal append",
		"id", t.ID, "account_id", t.AccountID, "type", t.Type, "amount", t.Amount.String())
	return t, nil
}

// AppendTransferParams describes a transfer between two accounts of the same
// user.
type AppendTransferParams struct {
	SourceAccountID string
	DestAccountID   string
	Amount          decimal.Decimal // strictly positive, 2 decimal places
	Date            core.Date
	Description     string
	Notes           string
}

// AppendTransfer atomically writes both legs of a transfer: a negative leg
// on the source account and a positive leg on the destination, each linked
// to the other, with both balances updated in the same transaction. Either
// both legs commit or neither does.
func (r *SQLiteRepository) AppendTransfer(ctx context.Context, params AppendTransferParams) (core.Transaction, core.Transaction, error) {
	if params.SourceAccountID == params.DestAccountID {
		return core.Transaction{}, core.Transaction{}, core.ErrSameAccount
	}
	if err := core.ValidateAmount(params.Amount); err != nil {
		return core.Transaction{}, core.Transaction{}, err
	}

	debit := core.Transaction{
		ID:          uuid.NewString(),
		AccountID:   params.SourceAccountID,
		Amount:      params.Amount.Neg(),
		Type:        core.Transfer,
		Description: params.Description,
		Date:        params.Date,
		Notes:       params.Notes,
		CreatedAt:   now(),
		UpdatedAt:   now(),
	}
	credit := core.Transaction{
		ID:                  uuid.NewString(),
		AccountID:           params.DestAccountID,
		Amount:              params.Amount,
		Type:                core.Transfer,
		Description:         params.Description,
		Date:                params.Date,
		Notes:               params.Notes,
		LinkedTransactionID: debit.ID,
		CreatedAt:           now(),
		UpdatedAt:           now(),
	}
	if err := debit.Validate(); err != nil {
		return core.Transaction{}, core.Transaction{}, fmt.Errorf("validate transfer: %w", err)
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		source, err := activeAccountTx(ctx, tx, params.SourceAccountID)
		if err != nil {
			return err
		}
		dest, err := activeAccountTx(ctx, tx, params.DestAccountID)
		if err != nil {
			return err
		}
		// Ownership chains stay within one user: transfers never cross
		// user boundaries.
		if source.UserID != dest.UserID {
			return fmt.Errorf("accounts belong to different users: %w", core.ErrInvalidAccount)
		}

		// The debit leg is inserted without its link first because the
		// credit leg it references does not exist yet.
		if err := insertTransactionTx(ctx, tx, debit); err != nil {
			return err
		}
		if err := insertTransactionTx(ctx, tx, credit); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE transactions SET linked_transaction_id = ? WHERE id = ?`,
			credit.ID, debit.ID); err != nil {
			return fmt.Errorf("link transfer legs: %w", err)
		}

		if err := applyBalanceTx(ctx, tx, debit.AccountID, core.Cents(debit.Amount)); err != nil {
			return err
		}
		return applyBalanceTx(ctx, tx, credit.AccountID, core.Cents(credit.Amount))
	})
	if err != nil {
		return core.Transaction{}, core.Transaction{}, err
	}
	debit.LinkedTransactionID = credit.ID

	slog.InfoContext(ctx, "Transfer appended",
		"debit_id", debit.ID, "credit_id", credit.ID,
		"source", params.SourceAccountID, "dest", params.DestAccountID,
		"amount", params.Amount.String())
	return debit, credit, nil
}

// EditTransactionParams carries optional edits; nil fields are unchanged.
type EditTransactionParams struct {
	AccountID   *string          // move to another account of the same user
	Amount      *decimal.Decimal // new magnitude, strictly positive, 2 dp
	CategoryID  *string          // empty string clears the category
	Date        *core.Date
	Description *string
	Notes       *string
}

// EditTransaction applies edits to a journal row. Amount and date edits on a
// transfer leg are mirrored onto the counterpart, and every affected account
// balance is re-derived by delta in the same transaction. An account edit
// moves the row's full balance contribution from the old account to the new
// one; the new account must be active and belong to the same user.
func (r *SQLiteRepository) EditTransaction(ctx context.Context, id string, params EditTransactionParams) (core.Transaction, error) {
	var edited core.Transaction
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTransactionTx(ctx, tx, id)
		if err != nil {
			return err
		}

		var counterpart *core.Transaction
		if t.LinkedTransactionID != "" {
			c, err := getTransactionTx(ctx, tx, t.LinkedTransactionID)
			if err != nil {
				return err
			}
			counterpart = &c
		}

		if params.AccountID != nil && *params.AccountID != t.AccountID {
			oldAccount, err := getAccountTx(ctx, tx, t.AccountID)
			if err != nil {
				return err
			}
			newAccount, err := activeAccountTx(ctx, tx, *params.AccountID)
			if err != nil {
				return err
			}
			if newAccount.UserID != oldAccount.UserID {
				return fmt.Errorf("account %s belongs to another user: %w", newAccount.ID, core.ErrInvalidAccount)
			}
			// A transfer leg may not land on its counterpart's account.
			if counterpart != nil && counterpart.AccountID == newAccount.ID {
				return core.ErrSameAccount
			}
			cents := core.Cents(t.SignedAmount())
			if err := applyBalanceTx(ctx, tx, t.AccountID, -cents); err != nil {
				return err
			}
			if err := applyBalanceTx(ctx, tx, newAccount.ID, cents); err != nil {
				return err
			}
			t.AccountID = newAccount.ID
		}

		if params.Amount != nil {
			if err := core.ValidateAmount(*params.Amount); err != nil {
				return err
			}
			if t.Type == core.Transfer {
				// Keep each leg's direction; only the magnitude changes.
				newThis := *params.Amount
				if t.Amount.Sign() < 0 {
					newThis = newThis.Neg()
				}
				deltaThis := core.Cents(newThis) - core.Cents(t.Amount)
				if err := applyBalanceTx(ctx, tx, t.AccountID, deltaThis); err != nil {
					return err
				}
				t.Amount = newThis

				if counterpart != nil {
					newOther := newThis.Neg()
					deltaOther := core.Cents(newOther) - core.Cents(counterpart.Amount)
					if err := applyBalanceTx(ctx, tx, counterpart.AccountID, deltaOther); err != nil {
						return err
					}
					counterpart.Amount = newOther
				}
			} else {
				old := t.SignedAmount()
				t.Amount = *params.Amount
				delta := core.Cents(t.SignedAmount()) - core.Cents(old)
				if err := applyBalanceTx(ctx, tx, t.AccountID, delta); err != nil {
					return err
				}
			}
		}

		if params.CategoryID != nil {
			if *params.CategoryID != "" {
				account, err := getAccountTx(ctx, tx, t.AccountID)
				if err != nil {
					return err
				}
				if err := categoryVisibleTx(ctx, tx, *params.CategoryID, account.UserID); err != nil {
					return err
				}
			}
			t.CategoryID = *params.CategoryID
		}
		if params.Date != nil {
			if err := params.Date.Validate(); err != nil {
				return err
			}
			t.Date = *params.Date
			if counterpart != nil {
				counterpart.Date = *params.Date
			}
		}
		if params.Description != nil {
			t.Description = *params.Description
		}
		if params.Notes != nil {
			t.Notes = *params.Notes
		}
		t.UpdatedAt = now()

		if err := t.Validate(); err != nil {
			return fmt.Errorf("validate transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE transactions
			 SET account_id = ?, amount_cents = ?, category_id = ?, transaction_date = ?, description = ?, notes = ?, updated_at = ?
			 WHERE id = ?`,
			t.AccountID, core.Cents(t.Amount), nullStr(t.CategoryID), t.Date.String(),
			t.Description, nullStr(t.Notes), t.UpdatedAt, t.ID); err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}
		if counterpart != nil {
			counterpart.UpdatedAt = t.UpdatedAt
			if _, err := tx.ExecContext(ctx,
				`UPDATE transactions SET amount_cents = ?, transaction_date = ?, updated_at = ? WHERE id = ?`,
				core.Cents(counterpart.Amount), counterpart.Date.String(),
				counterpart.UpdatedAt, counterpart.ID); err != nil {
				return fmt.Errorf("update counterpart: %w", err)
			}
		}
		edited = t
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction edited", "id", id)
	return edited, nil
}

// RemoveTransaction deletes a journal row and reverses its balance effect,
// returning the row as it stood at deletion. A transfer leg is removed
// together with its counterpart, symmetric with paired creation, reversing
// both account balances.
func (r *SQLiteRepository) RemoveTransaction(ctx context.Context, id string) (core.Transaction, error) {
	var removed core.Transaction
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		t, err := getTransactionTx(ctx, tx, id)
		if err != nil {
			return err
		}
		removed = t

		if err := applyBalanceTx(ctx, tx, t.AccountID, -core.Cents(t.SignedAmount())); err != nil {
			return err
		}

		if t.LinkedTransactionID != "" {
			counterpart, err := getTransactionTx(ctx, tx, t.LinkedTransactionID)
			if err != nil {
				return err
			}
			if err := applyBalanceTx(ctx, tx, counterpart.AccountID, -core.Cents(counterpart.SignedAmount())); err != nil {
				return err
			}
			// Break the mutual link before deleting so the self-referencing
			// foreign key accepts the deletes.
			if _, err := tx.ExecContext(ctx,
				`UPDATE transactions SET linked_transaction_id = NULL WHERE id IN (?, ?)`,
				t.ID, counterpart.ID); err != nil {
				return fmt.Errorf("unlink legs: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM transactions WHERE id IN (?, ?)`,
				t.ID, counterpart.ID); err != nil {
				return fmt.Errorf("delete transfer pair: %w", err)
			}
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM transactions WHERE id = ?`, t.ID); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Transaction removed", "id", id)
	return removed, nil
}

// GetTransaction fetches a journal row by identifier.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

// QueryFilter narrows a journal query. Zero values leave a dimension
// unfiltered; From and To are inclusive.
type QueryFilter struct {
	AccountID   string
	CategoryIDs []string
	From        core.Date
	To          core.Date
	Type        core.TransactionType
}

// QueryTransactions returns journal rows matching the filter, ordered by
// transaction date descending with the identifier as a stable tie-break.
func (r *SQLiteRepository) QueryTransactions(ctx context.Context, filter QueryFilter) ([]core.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE 1=1`
	var args []any

	if filter.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, filter.AccountID)
	}
	if len(filter.CategoryIDs) > 0 {
		query += ` AND category_id IN (?` + strings.Repeat(",?", len(filter.CategoryIDs)-1) + `)`
		for _, id := range filter.CategoryIDs {
			args = append(args, id)
		}
	}
	if !filter.From.IsZero() {
		query += ` AND transaction_date >= ?`
		args = append(args, filter.From.String())
	}
	if !filter.To.IsZero() {
		query += ` AND transaction_date <= ?`
		args = append(args, filter.To.String())
	}
	if filter.Type != "" {
		query += ` AND transaction_type = ?`
		args = append(args, filter.Type)
	}
	query += ` ORDER BY transaction_date DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var transactions []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	return transactions, nil
}
