package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"bilancio/internal/core"

	"github.com/shopspring/decimal"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "bilancio.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func mustUser(t *testing.T, repo *SQLiteRepository, email string) core.User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), email, "bcrypt$hash", "Test User")
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func mustAccount(t *testing.T, repo *SQLiteRepository, userID, name string) core.Account {
	t.Helper()
	a, err := repo.CreateAccount(context.Background(), userID, name, core.Checking, "USD")
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return a
}

func mustCategory(t *testing.T, repo *SQLiteRepository, params CreateCategoryParams) core.Category {
	t.Helper()
	c, err := repo.CreateCategory(context.Background(), params)
	if err != nil {
		t.Fatalf("create category %s: %v", params.Name, err)
	}
	return c
}

func amt(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse amount %q: %v", s, err)
	}
	return d
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mustUser(t, repo, "anna@example.com")

	if _, err := repo.CreateUser(ctx, "anna@example.com", "hash", "Anna"); !errors.Is(err, core.ErrDuplicateEmail) {
		t.Errorf("exact duplicate: got %v, want ErrDuplicateEmail", err)
	}
	// Uniqueness is case-insensitive.
	if _, err := repo.CreateUser(ctx, "ANNA@Example.COM", "hash", "Anna"); !errors.Is(err, core.ErrDuplicateEmail) {
		t.Errorf("case-variant duplicate: got %v, want ErrDuplicateEmail", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.GetUser(context.Background(), "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestUpdateUser(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u := mustUser(t, repo, "anna@example.com")
	mustUser(t, repo, "marco@example.com")

	updated, err := repo.UpdateUser(ctx, u.ID, UpdateUserParams{FullName: "Anna Rossi"})
	if err != nil {
		t.Fatalf("update user: %v", err)
	}
	if updated.FullName != "Anna Rossi" {
		t.Errorf("full name = %q, want %q", updated.FullName, "Anna Rossi")
	}
	if updated.Email != u.Email {
		t.Errorf("email changed unexpectedly to %q", updated.Email)
	}

	if _, err := repo.UpdateUser(ctx, u.ID, UpdateUserParams{Email: "Marco@example.com"}); !errors.Is(err, core.ErrDuplicateEmail) {
		t.Errorf("email collision: got %v, want ErrDuplicateEmail", err)
	}
}

func TestDeleteUserCascades(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u := mustUser(t, repo, "anna@example.com")
	a := mustAccount(t, repo, u.ID, "Checking")
	b := mustAccount(t, repo, u.ID, "Savings")

	cat := mustCategory(t, repo, CreateCategoryParams{
		UserID: u.ID, Name: "Groceries", Type: core.ExpenseCategory,
	})
	sub := mustCategory(t, repo, CreateCategoryParams{
		UserID: u.ID, Name: "Vegetables", Type: core.ExpenseCategory, ParentID: cat.ID,
	})

	if _, err := repo.CreateBudget(ctx, CreateBudgetParams{
		UserID: u.ID, CategoryID: cat.ID, Amount: amt(t, "400.00"),
		Period: core.Monthly, StartDate: core.NewDate(2024, 1, 1),
	}); err != nil {
		t.Fatalf("create budget: %v", err)
	}

	if _, err := repo.AppendSimple(ctx, AppendSimpleParams{
		AccountID: a.ID, Type: core.Expense, Amount: amt(t, "12.50"),
		CategoryID: cat.ID, Date: core.NewDate(2024, 1, 5), Description: "market",
	}); err != nil {
		t.Fatalf("append expense: %v", err)
	}
	if _, _, err := repo.AppendTransfer(ctx, AppendTransferParams{
		SourceAccountID: a.ID, DestAccountID: b.ID, Amount: amt(t, "100.00"),
		Date: core.NewDate(2024, 1, 6), Description: "move",
	}); err != nil {
		t.Fatalf("append transfer: %v", err)
	}

	if err := repo.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	for _, check := range []struct {
		name string
		err  error
	}{
		{"user", func() error { _, err := repo.GetUser(ctx, u.ID); return err }()},
		{"account", func() error { _, err := repo.GetAccount(ctx, a.ID); return err }()},
		{"category", func() error { _, err := repo.GetCategory(ctx, cat.ID); return err }()},
		{"subcategory", func() error { _, err := repo.GetCategory(ctx, sub.ID); return err }()},
	} {
		if !errors.Is(check.err, core.ErrNotFound) {
			t.Errorf("%s still present after cascade: %v", check.name, check.err)
		}
	}

	budgets, err := repo.ListBudgets(ctx, u.ID)
	if err != nil {
		t.Fatalf("list budgets: %v", err)
	}
	if len(budgets) != 0 {
		t.Errorf("budgets remain after user delete: %d", len(budgets))
	}

	rows, err := repo.QueryTransactions(ctx, QueryFilter{})
	if err != nil {
		t.Fatalf("query transactions: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("transactions remain after user delete: %d", len(rows))
	}
}

func TestCreateAccountStartsAtZero(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u := mustUser(t, repo, "anna@example.com")
	a := mustAccount(t, repo, u.ID, "Checking")

	got, err := repo.GetAccount(ctx, a.ID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !got.Balance.Equal(amt(t, "0.00")) {
		t.Errorf("new account balance = %s, want 0.00", got.Balance)
	}
	if !got.IsActive {
		t.Error("new account should be active")
	}
}

func TestCreateAccountUnknownUser(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.CreateAccount(context.Background(), "missing", "Checking", core.Checking, "USD"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestDeleteAccountUnlinksCounterparts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	u := mustUser(t, repo, "anna@example.com")
	a := mustAccount(t, repo, u.ID, "Checking")
	b := mustAccount(t, repo, u.ID, "Savings")

	_, credit, err := repo.AppendTransfer(ctx, AppendTransferParams{
		SourceAccountID: a.ID, DestAccountID: b.ID, Amount: amt(t, "30.00"),
		Date: core.NewDate(2024, 2, 1), Description: "stash",
	})
	if err != nil {
		t.Fatalf("append transfer: %v", err)
	}

	if err := repo.DeleteAccount(ctx, a.ID); err != nil {
		t.Fatalf("delete account: %v", err)
	}

	// The credit leg survives on the other account, unlinked, and that
	// account's balance still matches its remaining journal.
	got, err := repo.GetTransaction(ctx, credit.ID)
	if err != nil {
		t.Fatalf("counterpart leg gone: %v", err)
	}
	if got.LinkedTransactionID != "" {
		t.Errorf("counterpart still linked to %s", got.LinkedTransactionID)
	}
	if _, err := repo.ReconcileBalance(ctx, b.ID); err != nil {
		t.Errorf("surviving account out of balance: %v", err)
	}
}
