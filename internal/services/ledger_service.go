// Package services provides the orchestration layer on top of the storage
// core: journal writes with event publishing, budget evaluation and
// background balance reconciliation.
package services

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/storage"
)

// EventPublisher publishes ledger change events. *amqp.Client satisfies it;
// a nil publisher degrades to store-only operation.
type EventPublisher interface {
	PublishLedgerEvent(ctx context.Context, msg *amqp.LedgerEventMessage) error
	Close() error
}

// SubtreeCache is notified when the category tree changes so memoized
// subtree lookups can be dropped. *BudgetEvaluator satisfies it.
type SubtreeCache interface {
	Purge()
}

// LedgerService orchestrates journal and category-tree mutations across the
// SQLite store, the event stream and the budget evaluator's cache.
type LedgerService struct {
	storage   *storage.SQLiteRepository
	publisher EventPublisher
	subtrees  SubtreeCache
}

func NewLedgerService(storage *storage.SQLiteRepository, publisher EventPublisher) *LedgerService {
	return &LedgerService{
		storage:   storage,
		publisher: publisher,
	}
}

// WithSubtreeCache registers a cache to purge on category tree changes.
func (s *LedgerService) WithSubtreeCache(c SubtreeCache) *LedgerService {
	s.subtrees = c
	return s
}

// AppendSimple records an income or expense and publishes a posted event.
func (s *LedgerService) AppendSimple(ctx context.Context, params storage.AppendSimpleParams) (core.Transaction, error) {
	t, err := s.storage.AppendSimple(ctx, params)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("append simple: %w", err)
	}
	s.publish(ctx, amqp.NewLedgerEventMessage(
		amqp.EventTransactionPosted, t.ID, t.AccountID, core.Cents(t.SignedAmount())))
	return t, nil
}

// AppendTransfer records both legs of a transfer and publishes one posted
// event per leg.
func (s *LedgerService) AppendTransfer(ctx context.Context, params storage.AppendTransferParams) (core.Transaction, core.Transaction, error) {
	debit, credit, err := s.storage.AppendTransfer(ctx, params)
	if err != nil {
		return core.Transaction{}, core.Transaction{}, fmt.Errorf("append transfer: %w", err)
	}
	s.publish(ctx, amqp.NewLedgerEventMessage(
		amqp.EventTransactionPosted, debit.ID, debit.AccountID, core.Cents(debit.Amount)))
	s.publish(ctx, amqp.NewLedgerEventMessage(
		amqp.EventTransactionPosted, credit.ID, credit.AccountID, core.Cents(credit.Amount)))
	return debit, credit, nil
}

// EditTransaction applies journal edits through the store.
func (s *LedgerService) EditTransaction(ctx context.Context, id string, params storage.EditTransactionParams) (core.Transaction, error) {
	t, err := s.storage.EditTransaction(ctx, id, params)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("edit transaction: %w", err)
	}
	return t, nil
}

// RemoveTransaction removes a journal row (and its transfer counterpart)
// and publishes a removed event carrying the row as it stood at deletion.
func (s *LedgerService) RemoveTransaction(ctx context.Context, id string) error {
	t, err := s.storage.RemoveTransaction(ctx, id)
	if err != nil {
		return fmt.Errorf("remove transaction: %w", err)
	}
	s.publish(ctx, amqp.NewLedgerEventMessage(
		amqp.EventTransactionRemoved, t.ID, t.AccountID, core.Cents(t.SignedAmount())))
	return nil
}

// Transactions returns a finite, restartable sequence over the journal rows
// matching the filter, ordered by date descending then id descending. The
// snapshot is taken once; iterating again replays the same result.
func (s *LedgerService) Transactions(ctx context.Context, filter storage.QueryFilter) (iter.Seq[core.Transaction], error) {
	rows, err := s.storage.QueryTransactions(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	return func(yield func(core.Transaction) bool) {
		for _, t := range rows {
			if !yield(t) {
				return
			}
		}
	}, nil
}

// CreateCategory creates a category and drops memoized subtrees.
func (s *LedgerService) CreateCategory(ctx context.Context, params storage.CreateCategoryParams) (core.Category, error) {
	c, err := s.storage.CreateCategory(ctx, params)
	if err != nil {
		return core.Category{}, fmt.Errorf("create category: %w", err)
	}
	s.purgeSubtrees()
	return c, nil
}

// ReparentCategory moves a category in the tree and drops memoized subtrees.
func (s *LedgerService) ReparentCategory(ctx context.Context, id, newParentID string) error {
	if err := s.storage.Reparent(ctx, id, newParentID); err != nil {
		return fmt.Errorf("reparent category: %w", err)
	}
	s.purgeSubtrees()
	return nil
}

// DeleteCategory removes a category subtree and drops memoized subtrees.
func (s *LedgerService) DeleteCategory(ctx context.Context, id string) error {
	if err := s.storage.DeleteCategory(ctx, id); err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	s.purgeSubtrees()
	return nil
}

// Descendants returns a finite, restartable depth-first sequence over the
// categories below the given one; the category itself is never included.
func (s *LedgerService) Descendants(ctx context.Context, id string) (iter.Seq[core.Category], error) {
	nodes, err := s.storage.ListDescendants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list descendants: %w", err)
	}
	return func(yield func(core.Category) bool) {
		for _, c := range nodes {
			if !yield(c) {
				return
			}
		}
	}, nil
}

func (s *LedgerService) publish(ctx context.Context, msg *amqp.LedgerEventMessage) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "Event publisher not configured, skipping ledger event", "kind", msg.Kind)
		return
	}
	// Publishing is best-effort: the journal write already committed.
	if err := s.publisher.PublishLedgerEvent(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish ledger event",
			"kind", msg.Kind, "transaction_id", msg.TransactionID, "error", err)
	}
}

func (s *LedgerService) purgeSubtrees() {
	if s.subtrees != nil {
		s.subtrees.Purge()
	}
}

// Close closes the storage and the event publisher.
func (s *LedgerService) Close() error {
	var errs []error

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close ledger service: %v", errs)
	}
	return nil
}
