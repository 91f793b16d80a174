package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"bilancio/internal/core"

	"github.com/google/uuid"
)

// defaultSystemCategories is the shared category set new installations get.
var defaultSystemCategories = []struct {
	Name  string
	Type  core.CategoryType
	Color string
	Icon  string
}{
	{"Groceries", core.ExpenseCategory, "#10b981", "cart"},
	{"Dining", core.ExpenseCategory, "#ef4444", "utensils"},
	{"Transport", core.ExpenseCategory, "#3b82f6", "bus"},
	{"Housing", core.ExpenseCategory, "#14b8a6", "home"},
	{"Utilities", core.ExpenseCategory, "#f59e0b", "bolt"},
	{"Health", core.ExpenseCategory, "#ec4899", "heart"},
	{"Entertainment", core.ExpenseCategory, "#a855f7", "film"},
	{"Education", core.ExpenseCategory, "#6366f1", "book"},
	{"Shopping", core.ExpenseCategory, "#f97316", "bag"},
	{"Other Expenses", core.ExpenseCategory, "#64748b", "dots"},
	{"Salary", core.IncomeCategory, "#10b981", "wallet"},
	{"Bonus", core.IncomeCategory, "#3b82f6", "gift"},
	{"Investment Income", core.IncomeCategory, "#a855f7", "chart"},
	{"Other Income", core.IncomeCategory, "#64748b", "dots"},
}

// SeedSystemCategories inserts the default system-wide category set when no
// system categories exist yet. Returns the number of categories created.
func (r *SQLiteRepository) SeedSystemCategories(ctx context.Context) (int, error) {
	created := 0
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var count int64
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM transaction_categories WHERE is_system = 1`).Scan(&count)
		if err != nil {
			return fmt.Errorf("count system categories: %w", err)
		}
		if count > 0 {
			return nil
		}

		for _, c := range defaultSystemCategories {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO transaction_categories
				 (id, user_id, name, category_type, color, icon, is_system, parent_category_id, created_at, updated_at)
				 VALUES (?, NULL, ?, ?, ?, ?, 1, NULL, ?, ?)`,
				uuid.NewString(), c.Name, c.Type, c.Color, c.Icon, now(), now())
			if err != nil {
				return fmt.Errorf("seed category %s: %w", c.Name, err)
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if created > 0 {
		slog.InfoContext(ctx, "Seeded system categories", "count", created)
	}
	return created, nil
}
