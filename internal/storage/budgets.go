package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"bilancio/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const budgetColumns = `id, user_id, category_id, amount_cents, period, start_date, end_date, created_at, updated_at`

func scanBudget(row interface{ Scan(...any) error }) (core.Budget, error) {
	var (
		b     core.Budget
		cents int64
		start string
		end   sql.NullString
	)
	err := row.Scan(&b.ID, &b.UserID, &b.CategoryID, &cents, &b.Period, &start, &end, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return core.Budget{}, err
	}
	b.Amount = core.FromCents(cents)
	b.StartDate, err = core.ParseDate(start)
	if err != nil {
		return core.Budget{}, fmt.Errorf("parse start date: %w", err)
	}
	b.EndDate, err = parseNullDate(end)
	if err != nil {
		return core.Budget{}, fmt.Errorf("parse end date: %w", err)
	}
	return b, nil
}

// overlapExistsTx checks that for one (user, category) pair, budget validity
// ranges must not intersect. A NULL end date is open-ended.
func overlapExistsTx(ctx context.Context, tx *sql.Tx, b core.Budget, excludeID string) (bool, error) {
	var exists int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM budgets
		 WHERE user_id = ? AND category_id = ? AND id != ?
		   AND (end_date IS NULL OR end_date >= ?)
		   AND (? = '' OR start_date <= ?)
		 LIMIT 1`,
		b.UserID, b.CategoryID, excludeID,
		b.StartDate.String(),
		nullDate(b.EndDate).String, nullDate(b.EndDate).String).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check budget overlap: %w", err)
	}
	return true, nil
}

// CreateBudgetParams describes a new spending budget.
type CreateBudgetParams struct {
	UserID     string
	CategoryID string
	Amount     decimal.Decimal
	Period     core.BudgetPeriod
	StartDate  core.Date
	EndDate    core.Date // zero = open-ended
}

// CreateBudget inserts a budget after validating the target category is
// visible to the user and that no other budget for the same (user, category)
// pair overlaps its validity range.
func (r *SQLiteRepository) CreateBudget(ctx context.Context, params CreateBudgetParams) (core.Budget, error) {
	budget := core.Budget{
		ID:         uuid.NewString(),
		UserID:     params.UserID,
		CategoryID: params.CategoryID,
		Amount:     params.Amount,
		Period:     params.Period,
		StartDate:  params.StartDate,
		EndDate:    params.EndDate,
		CreatedAt:  now(),
		UpdatedAt:  now(),
	}
	if err := budget.Validate(); err != nil {
		return core.Budget{}, fmt.Errorf("validate budget: %w", err)
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, budget.UserID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %s: %w", budget.UserID, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}

		category, err := getCategoryTx(ctx, tx, budget.CategoryID)
		if err != nil {
			return err
		}
		if category.UserID != "" && category.UserID != budget.UserID {
			return fmt.Errorf("category %s belongs to another user: %w", budget.CategoryID, core.ErrNotFound)
		}

		overlap, err := overlapExistsTx(ctx, tx, budget, budget.ID)
		if err != nil {
			return err
		}
		if overlap {
			return core.ErrBudgetOverlap
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO budgets (id, user_id, category_id, amount_cents, period, start_date, end_date, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			budget.ID, budget.UserID, budget.CategoryID, core.Cents(budget.Amount),
			budget.Period, budget.StartDate.String(), nullDate(budget.EndDate),
			budget.CreatedAt, budget.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert budget: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Budget{}, err
	}

	slog.InfoContext(ctx, "Budget created",
		"id", budget.ID, "user_id", budget.UserID, "category_id", budget.CategoryID,
		"period", budget.Period, "amount", budget.Amount.String())
	return budget, nil
}

// GetBudget fetches a budget by identifier.
func (r *SQLiteRepository) GetBudget(ctx context.Context, id string) (core.Budget, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Budget{}, fmt.Errorf("get budget: %w", err)
	}
	return b, nil
}

// ListBudgets returns all budgets of a user ordered by start date.
func (r *SQLiteRepository) ListBudgets(ctx context.Context, userID string) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE user_id = ? ORDER BY start_date, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var budgets []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		budgets = append(budgets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return budgets, nil
}

// UpdateBudgetParams carries optional budget edits; nil fields are
// unchanged.
type UpdateBudgetParams struct {
	Amount    *decimal.Decimal
	Period    *core.BudgetPeriod
	StartDate *core.Date
	EndDate   *core.Date // zero date clears the end (open-ended)
}

// UpdateBudget applies edits and re-validates the overlap rule against the
// other budgets of the same (user, category) pair.
func (r *SQLiteRepository) UpdateBudget(ctx context.Context, id string, params UpdateBudgetParams) (core.Budget, error) {
	var updated core.Budget
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)
		b, err := scanBudget(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get budget: %w", err)
		}

		if params.Amount != nil {
			b.Amount = *params.Amount
		}
		if params.Period != nil {
			b.Period = *params.Period
		}
		if params.StartDate != nil {
			b.StartDate = *params.StartDate
		}
		if params.EndDate != nil {
			b.EndDate = *params.EndDate
		}
		b.UpdatedAt = now()

		if err := b.Validate(); err != nil {
			return fmt.Errorf("validate budget: %w", err)
		}

		overlap, err := overlapExistsTx(ctx, tx, b, b.ID)
		if err != nil {
			return err
		}
		if overlap {
			return core.ErrBudgetOverlap
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE budgets SET amount_cents = ?, period = ?, start_date = ?, end_date = ?, updated_at = ?
			 WHERE id = ?`,
			core.Cents(b.Amount), b.Period, b.StartDate.String(), nullDate(b.EndDate),
			b.UpdatedAt, b.ID)
		if err != nil {
			return fmt.Errorf("update budget: %w", err)
		}
		updated = b
		return nil
	})
	if err != nil {
		return core.Budget{}, err
	}
	return updated, nil
}

// DeleteBudget removes a budget.
func (r *SQLiteRepository) DeleteBudget(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	if err != nil {
		return mapSQLiteErr(fmt.Errorf("delete budget: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("budget %s: %w", id, core.ErrNotFound)
	}
	return nil
}
