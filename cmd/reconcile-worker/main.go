// Command reconcile-worker periodically recomputes every account balance
// from the journal and reports drift. Drift is logged and published as a
// ledger event; it is never auto-corrected.
package main

import (
	"context"
	"log/slog"
	"time"

	"bilancio/internal/amqp"
	"bilancio/internal/cli"
	"bilancio/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger("reconcile-worker")

	logger.Info("Starting reconcile-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	// The event stream is optional; without it drift is only logged.
	var publisher services.EventPublisher
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, continuing without events", "error", err)
		} else {
			defer client.Close()
			publisher = client
			logger.Info("AMQP client initialized, drift events will be published")
		}
	} else {
		logger.Info("AMQP disabled, drift will only be logged")
	}

	processor := services.NewReconcileProcessor(repo, publisher, cfg.ReconcileConcurrency)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	logger.Info("Reconcile loop starting",
		"interval", cfg.ReconcileInterval.String(),
		"concurrency", cfg.ReconcileConcurrency)

	runOnce(ctx, processor)

	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Reconcile-worker stopped")
			<-done
			return
		case <-ticker.C:
			runOnce(ctx, processor)
		}
	}
}

func runOnce(ctx context.Context, processor *services.ReconcileProcessor) {
	drifted, err := processor.ReconcileAll(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Reconciliation pass failed", "error", err)
		return
	}
	if len(drifted) > 0 {
		slog.WarnContext(ctx, "Accounts in drift", "count", len(drifted))
	}
}
