package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"bilancio/internal/core"
	"bilancio/internal/storage"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestComputeUsageIncludesSubcategories(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	u, account, _ := seedUserAccounts(t, repo)

	groceries, err := repo.CreateCategory(ctx, storage.CreateCategoryParams{
		UserID: u.ID, Name: "Groceries", Type: core.ExpenseCategory,
	})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	vegetables, err := repo.CreateCategory(ctx, storage.CreateCategoryParams{
		UserID: u.ID, Name: "Vegetables", Type: core.ExpenseCategory, ParentID: groceries.ID,
	})
	if err != nil {
		t.Fatalf("create subcategory: %v", err)
	}
	unrelated, err := repo.CreateCategory(ctx, storage.CreateCategoryParams{
		UserID: u.ID, Name: "Travel", Type: core.ExpenseCategory,
	})
	if err != nil {
		t.Fatalf("create unrelated category: %v", err)
	}

	budget, err := repo.CreateBudget(ctx, storage.CreateBudgetParams{
		UserID: u.ID, CategoryID: groceries.ID, Amount: money(t, "400.00"),
		Period: core.Monthly, StartDate: core.NewDate(2024, 1, 1),
	})
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}

	spend := []struct {
		amount   string
		category string
		date     core.Date
	}{
		{"120.00", groceries.ID, core.NewDate(2024, 1, 5)},
		{"90.00", vegetables.ID, core.NewDate(2024, 1, 12)},
		{"50.00", groceries.ID, core.NewDate(2024, 1, 28)},
		// Outside the window or the subtree, must not count.
		{"75.00", groceries.ID, core.NewDate(2024, 2, 1)},
		{"30.00", unrelated.ID, core.NewDate(2024, 1, 10)},
	}
	for _, s := range spend {
		if _, err := repo.AppendSimple(ctx, storage.AppendSimpleParams{
			AccountID: account.ID, Type: core.Expense, Amount: money(t, s.amount),
			CategoryID: s.category, Date: s.date, Description: "spend",
		}); err != nil {
			t.Fatalf("append expense: %v", err)
		}
	}
	// Income in the window never counts as spend.
	if _, err := repo.AppendSimple(ctx, storage.AppendSimpleParams{
		AccountID: account.ID, Type: core.Income, Amount: money(t, "200.00"),
		CategoryID: groceries.ID, Date: core.NewDate(2024, 1, 15), Description: "refund",
	}); err != nil {
		t.Fatalf("append income: %v", err)
	}

	eval := NewBudgetEvaluator(repo, nil)
	usage, err := eval.ComputeUsage(ctx, budget.ID, core.NewDate(2024, 1, 20))
	if err != nil {
		t.Fatalf("compute usage: %v", err)
	}

	if !usage.ActualSpend.Equal(money(t, "260.00")) {
		t.Errorf("actual spend = %s, want 260.00", usage.ActualSpend)
	}
	if !usage.Remaining.Equal(money(t, "140.00")) {
		t.Errorf("remaining = %s, want 140.00", usage.Remaining)
	}
	if !usage.WindowStart.Equal(core.NewDate(2024, 1, 1)) || !usage.WindowEnd.Equal(core.NewDate(2024, 2, 1)) {
		t.Errorf("window = [%s, %s), want [2024-01-01, 2024-02-01)", usage.WindowStart, usage.WindowEnd)
	}

	// The next window only sees the February expense.
	usage, err = eval.ComputeUsage(ctx, budget.ID, core.NewDate(2024, 2, 10))
	if err != nil {
		t.Fatalf("compute usage for february: %v", err)
	}
	if !usage.ActualSpend.Equal(money(t, "75.00")) {
		t.Errorf("february spend = %s, want 75.00", usage.ActualSpend)
	}
}

func TestComputeUsageOutOfRange(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	u, _, _ := seedUserAccounts(t, repo)
	groceries, err := repo.CreateCategory(ctx, storage.CreateCategoryParams{
		UserID: u.ID, Name: "Groceries", Type: core.ExpenseCategory,
	})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	budget, err := repo.CreateBudget(ctx, storage.CreateBudgetParams{
		UserID: u.ID, CategoryID: groceries.ID, Amount: money(t, "400.00"),
		Period: core.Monthly, StartDate: core.NewDate(2024, 1, 1), EndDate: core.NewDate(2024, 6, 30),
	})
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}

	eval := NewBudgetEvaluator(repo, nil)
	if _, err := eval.ComputeUsage(ctx, budget.ID, core.NewDate(2023, 12, 31)); !errors.Is(err, core.ErrOutOfRange) {
		t.Errorf("before start: got %v, want ErrOutOfRange", err)
	}
	if _, err := eval.ComputeUsage(ctx, budget.ID, core.NewDate(2024, 7, 1)); !errors.Is(err, core.ErrOutOfRange) {
		t.Errorf("after end: got %v, want ErrOutOfRange", err)
	}
	if _, err := eval.ComputeUsage(ctx, "missing", core.NewDate(2024, 1, 1)); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown budget: got %v, want ErrNotFound", err)
	}
}

func TestCurrentUsageUsesClock(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	u, account, _ := seedUserAccounts(t, repo)
	groceries, err := repo.CreateCategory(ctx, storage.CreateCategoryParams{
		UserID: u.ID, Name: "Groceries", Type: core.ExpenseCategory,
	})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	budget, err := repo.CreateBudget(ctx, storage.CreateBudgetParams{
		UserID: u.ID, CategoryID: groceries.ID, Amount: money(t, "100.00"),
		Period: core.Monthly, StartDate: core.NewDate(2024, 1, 1),
	})
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}
	if _, err := repo.AppendSimple(ctx, storage.AppendSimpleParams{
		AccountID: account.ID, Type: core.Expense, Amount: money(t, "40.00"),
		CategoryID: groceries.ID, Date: core.NewDate(2024, 3, 10), Description: "spend",
	}); err != nil {
		t.Fatalf("append expense: %v", err)
	}

	clock := fixedClock{t: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)}
	eval := NewBudgetEvaluator(repo, clock)

	usage, err := eval.CurrentUsage(ctx, budget.ID)
	if err != nil {
		t.Fatalf("current usage: %v", err)
	}
	if !usage.WindowStart.Equal(core.NewDate(2024, 3, 1)) {
		t.Errorf("window start = %s, want 2024-03-01", usage.WindowStart)
	}
	if !usage.ActualSpend.Equal(money(t, "40.00")) {
		t.Errorf("actual spend = %s, want 40.00", usage.ActualSpend)
	}
}

// A purge after a tree change must make the evaluator see the new shape.
func TestEvaluatorPurgeRefreshesSubtrees(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	u, account, _ := seedUserAccounts(t, repo)
	groceries, err := repo.CreateCategory(ctx, storage.CreateCategoryParams{
		UserID: u.ID, Name: "Groceries", Type: core.ExpenseCategory,
	})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	budget, err := repo.CreateBudget(ctx, storage.CreateBudgetParams{
		UserID: u.ID, CategoryID: groceries.ID, Amount: money(t, "100.00"),
		Period: core.Monthly, StartDate: core.NewDate(2024, 1, 1),
	})
	if err != nil {
		t.Fatalf("create budget: %v", err)
	}

	eval := NewBudgetEvaluator(repo, nil)
	svc := NewLedgerService(repo, nil).WithSubtreeCache(eval)

	// Warm the cache with the single-node subtree.
	if _, err := eval.ComputeUsage(ctx, budget.ID, core.NewDate(2024, 1, 15)); err != nil {
		t.Fatalf("warm usage: %v", err)
	}

	// Grow the subtree through the service, which purges the cache, and
	// record spend in the new child.
	child, err := svc.CreateCategory(ctx, storage.CreateCategoryParams{
		UserID: u.ID, Name: "Vegetables", Type: core.ExpenseCategory, ParentID: groceries.ID,
	})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	if _, err := repo.AppendSimple(ctx, storage.AppendSimpleParams{
		AccountID: account.ID, Type: core.Expense, Amount: money(t, "15.00"),
		CategoryID: child.ID, Date: core.NewDate(2024, 1, 16), Description: "spend",
	}); err != nil {
		t.Fatalf("append expense: %v", err)
	}

	usage, err := eval.ComputeUsage(ctx, budget.ID, core.NewDate(2024, 1, 20))
	if err != nil {
		t.Fatalf("usage after purge: %v", err)
	}
	if !usage.ActualSpend.Equal(money(t, "15.00")) {
		t.Errorf("actual spend = %s, want 15.00 from new subcategory", usage.ActualSpend)
	}
}
