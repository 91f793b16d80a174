package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"bilancio/internal/amqp"
	"bilancio/internal/core"
	"bilancio/internal/storage"

	"golang.org/x/sync/errgroup"
)

// ReconcileProcessor runs the background consistency check: it recomputes
// every account balance from the journal and reports drift. Drift is only
// reported, never repaired.
type ReconcileProcessor struct {
	storage     *storage.SQLiteRepository
	publisher   EventPublisher
	concurrency int
}

func NewReconcileProcessor(storage *storage.SQLiteRepository, publisher EventPublisher, concurrency int) *ReconcileProcessor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ReconcileProcessor{
		storage:     storage,
		publisher:   publisher,
		concurrency: concurrency,
	}
}

// ReconcileAll checks every account concurrently and returns the reports of
// the accounts whose stored balance diverged from their journal. Accounts
// deleted while the scan runs are skipped.
func (p *ReconcileProcessor) ReconcileAll(ctx context.Context) ([]core.ReconcileReport, error) {
	if p.storage == nil {
		return nil, fmt.Errorf("processor not properly initialized")
	}

	ids, err := p.storage.ListAccountIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var (
		mu      sync.Mutex
		drifted []core.ReconcileReport
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, id := range ids {
		g.Go(func() error {
			report, err := p.storage.ReconcileBalance(ctx, id)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, core.ErrDrift):
				slog.WarnContext(ctx, "Balance drift detected",
					"account_id", report.AccountID,
					"stored", report.Stored.String(),
					"computed", report.Computed.String())
				p.publishDrift(ctx, report)
				mu.Lock()
				drifted = append(drifted, report)
				mu.Unlock()
				return nil
			case errors.Is(err, core.ErrNotFound):
				return nil
			default:
				return fmt.Errorf("reconcile account %s: %w", id, err)
			}
		})
	}

	if err := g.Wait(); err != nil {
		return drifted, err
	}

	slog.InfoContext(ctx, "Reconciliation pass completed",
		"accounts", len(ids), "drifted", len(drifted))
	return drifted, nil
}

func (p *ReconcileProcessor) publishDrift(ctx context.Context, report core.ReconcileReport) {
	if p.publisher == nil {
		return
	}
	msg := amqp.NewLedgerEventMessage(
		amqp.EventDriftDetected, "", report.AccountID,
		core.Cents(report.Computed.Sub(report.Stored)))
	if err := p.publisher.PublishLedgerEvent(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish drift event",
			"account_id", report.AccountID, "error", err)
	}
}
