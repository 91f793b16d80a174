package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Checking   AccountType = "checking"
	Savings    AccountType = "savings"
	CreditCard AccountType = "credit_card"
	Cash       AccountType = "cash"
	Investment AccountType = "investment"
	Loan       AccountType = "loan"
	OtherAsset AccountType = "other"
)

const (
	IncomeCategory  CategoryType = "income"
	ExpenseCategory CategoryType = "expense"
)

const (
	Income   TransactionType = "income"
	Expense  TransactionType = "expense"
	Transfer TransactionType = "transfer"
)

const (
	Daily     BudgetPeriod = "daily"
	Weekly    BudgetPeriod = "weekly"
	Monthly   BudgetPeriod = "monthly"
	Quarterly BudgetPeriod = "quarterly"
	Yearly    BudgetPeriod = "yearly"
)

type (
	AccountType     string
	CategoryType    string
	TransactionType string
	BudgetPeriod    string

	// User is the root of every ownership chain. Accounts, categories and
	// budgets hang off a user and are removed with it.
	User struct {
		ID             string
		Email          string
		HashedPassword string
		FullName       string
		CreatedAt      time.Time
		UpdatedAt      time.Time
	}

	// Account is a financial account with a cached running balance.
	// The balance is derived from the journal and only ever changes as a
	// side effect of a journal commit.
	Account struct {
		ID        string
		UserID    string
		Name      string
		Type      AccountType
		Balance   decimal.Decimal
		Currency  string
		IsActive  bool
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Category organizes transactions. An empty UserID marks a system
	// category shared by all users. ParentID forms a tree; the parent must
	// live in the same owner scope and the chain must stay acyclic.
	Category struct {
		ID        string
		UserID    string // empty = system-wide
		Name      string
		Type      CategoryType
		Color     string
		Icon      string
		IsSystem  bool
		ParentID  string // empty = root
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// Transaction is one journal row. Income and expense rows carry a
	// positive amount; transfer legs carry a signed amount and reference
	// their counterpart leg through LinkedTransactionID.
	Transaction struct {
		ID                  string
		AccountID           string
		CategoryID          string // empty = uncategorized
		Amount              decimal.Decimal
		Type                TransactionType
		Description         string
		Date                Date
		Notes               string
		LinkedTransactionID string // empty = not a transfer leg
		CreatedAt           time.Time
		UpdatedAt           time.Time
	}

	// Budget caps spending for a (user, category) pair over a repeating
	// period anchored at StartDate. A zero EndDate means open-ended.
	Budget struct {
		ID         string
		UserID     string
		CategoryID string
		Amount     decimal.Decimal
		Period     BudgetPeriod
		StartDate  Date
		EndDate    Date // zero = open-ended
		CreatedAt  time.Time
		UpdatedAt  time.Time
	}

	// BudgetUsage is the result of evaluating a budget against the journal
	// for the period window containing a given date.
	BudgetUsage struct {
		Limit       decimal.Decimal
		ActualSpend decimal.Decimal
		Remaining   decimal.Decimal
		WindowStart Date
		WindowEnd   Date // exclusive
	}

	// ReconcileReport compares an account's stored balance against the
	// signed sum of its journal rows.
	ReconcileReport struct {
		AccountID string
		Stored    decimal.Decimal
		Computed  decimal.Decimal
	}
)

// InDrift reports whether the stored balance diverged from the journal.
func (r ReconcileReport) InDrift() bool {
	return !r.Stored.Equal(r.Computed)
}

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidAccount      = errors.New("invalid account")
	ErrSameAccount         = errors.New("source and destination account are the same")
	ErrInvalidParent       = errors.New("invalid parent category")
	ErrCycleDetected       = errors.New("category parent chain would form a cycle")
	ErrBudgetOverlap       = errors.New("budget period overlaps an existing budget")
	ErrOutOfRange          = errors.New("date outside budget range")
	ErrDrift               = errors.New("stored balance diverged from journal")
	ErrConcurrencyConflict = errors.New("concurrent transaction conflict")
)

func (t AccountType) Valid() bool {
	switch t {
	case Checking, Savings, CreditCard, Cash, Investment, Loan, OtherAsset:
		return true
	}
	return false
}

func (t CategoryType) Valid() bool {
	return t == IncomeCategory || t == ExpenseCategory
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense || t == Transfer
}

func (p BudgetPeriod) Valid() bool {
	switch p {
	case Daily, Weekly, Monthly, Quarterly, Yearly:
		return true
	}
	return false
}

func (u User) Validate() error {
	if !strings.Contains(u.Email, "@") {
		return errors.New("invalid email")
	}
	if strings.TrimSpace(u.HashedPassword) == "" {
		return errors.New("empty credential hash")
	}
	if strings.TrimSpace(u.FullName) == "" {
		return errors.New("empty full name")
	}
	return nil
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return errors.New("empty account name")
	}
	if !a.Type.Valid() {
		return errors.New("unknown account type")
	}
	if len(a.Currency) != 3 {
		return errors.New("currency must be a 3-letter code")
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("empty category name")
	}
	if len(c.Name) > 100 {
		return errors.New("category name too long (max 100 characters)")
	}
	if !c.Type.Valid() {
		return errors.New("unknown category type")
	}
	if c.IsSystem && c.UserID != "" {
		return errors.New("system category cannot have an owner")
	}
	return nil
}

func (t Transaction) Validate() error {
	if !t.Type.Valid() {
		return errors.New("unknown transaction type")
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Description) == "" {
		return errors.New("empty description")
	}
	if len(t.Description) > 255 {
		return errors.New("description too long (max 255 characters)")
	}
	switch t.Type {
	case Transfer:
		if t.Amount.IsZero() {
			return ErrInvalidAmount
		}
	default:
		if err := ValidateAmount(t.Amount); err != nil {
			return err
		}
	}
	return nil
}

func (b Budget) Validate() error {
	if !b.Period.Valid() {
		return errors.New("unknown budget period")
	}
	if err := ValidateAmount(b.Amount); err != nil {
		return err
	}
	if err := b.StartDate.Validate(); err != nil {
		return err
	}
	if !b.EndDate.IsZero() && b.EndDate.Before(b.StartDate) {
		return errors.New("end date before start date")
	}
	return nil
}

// SignedAmount is the contribution of a transaction to its account balance:
// income counts positive, expense negative, transfer legs carry their own sign.
func (t Transaction) SignedAmount() decimal.Decimal {
	switch t.Type {
	case Income:
		return t.Amount
	case Expense:
		return t.Amount.Neg()
	default:
		return t.Amount
	}
}
