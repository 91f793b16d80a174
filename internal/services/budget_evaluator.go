package services

import (
	"context"
	"fmt"
	"time"

	"bilancio/internal/cache"
	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// Clock supplies the current date for budget evaluation; the host service
// can inject a fixed clock in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// BudgetEvaluator computes actual-vs-limit spend for a budget's period
// window. Category subtrees are memoized in a small LRU cache that the
// ledger service purges whenever the tree changes.
type BudgetEvaluator struct {
	storage  *storage.SQLiteRepository
	clock    Clock
	subtrees *cache.LRUCache[[]string]
}

func NewBudgetEvaluator(storage *storage.SQLiteRepository, clock Clock) *BudgetEvaluator {
	if clock == nil {
		clock = systemClock{}
	}
	return &BudgetEvaluator{
		storage:  storage,
		clock:    clock,
		subtrees: cache.NewLRUCache[[]string](256, time.Minute),
	}
}

// Purge drops every memoized category subtree.
func (e *BudgetEvaluator) Purge() {
	e.subtrees.Purge()
}

func (e *BudgetEvaluator) subtreeIDs(ctx context.Context, categoryID string) ([]string, error) {
	if ids, ok := e.subtrees.Get(categoryID); ok {
		return ids, nil
	}
	ids, err := e.storage.SubtreeIDs(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	e.subtrees.Set(categoryID, ids)
	return ids, nil
}

// ComputeUsage evaluates a budget for the period window containing asOf.
// Actual spend is the absolute sum of expense transactions in the budget's
// category and all of its subcategories within the half-open window. It
// fails with core.ErrOutOfRange when asOf falls outside the budget's
// validity range.
func (e *BudgetEvaluator) ComputeUsage(ctx context.Context, budgetID string, asOf core.Date) (core.BudgetUsage, error) {
	budget, err := e.storage.GetBudget(ctx, budgetID)
	if err != nil {
		return core.BudgetUsage{}, fmt.Errorf("compute usage: %w", err)
	}

	start, end, err := budget.PeriodWindow(asOf)
	if err != nil {
		return core.BudgetUsage{}, fmt.Errorf("compute usage: %w", err)
	}

	categoryIDs, err := e.subtreeIDs(ctx, budget.CategoryID)
	if err != nil {
		return core.BudgetUsage{}, fmt.Errorf("compute usage: %w", err)
	}

	// The window is half-open [start, end); the journal filter is
	// inclusive, so the last queried day is the one before end.
	rows, err := e.storage.QueryTransactions(ctx, storage.QueryFilter{
		CategoryIDs: categoryIDs,
		Type:        core.Expense,
		From:        start,
		To:          end.AddDays(-1),
	})
	if err != nil {
		return core.BudgetUsage{}, fmt.Errorf("compute usage: %w", err)
	}

	actual := core.FromCents(0)
	for _, t := range rows {
		actual = actual.Add(t.Amount.Abs())
	}

	return core.BudgetUsage{
		Limit:       budget.Amount,
		ActualSpend: actual,
		Remaining:   budget.Amount.Sub(actual),
		WindowStart: start,
		WindowEnd:   end,
	}, nil
}

// CurrentUsage evaluates a budget as of the injected clock's current date.
func (e *BudgetEvaluator) CurrentUsage(ctx context.Context, budgetID string) (core.BudgetUsage, error) {
	return e.ComputeUsage(ctx, budgetID, core.DateOf(e.clock.Now()))
}
