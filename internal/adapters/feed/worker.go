package feed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eshaffer321/receipt-reconciler/internal/application/service"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/normalizer"
)

// Reconciler is the slice of the reconcile service the worker drives.
type Reconciler interface {
	IngestBankRecords(ctx context.Context, accountID string, records []normalizer.BankRecord) (*service.IngestSummary, error)
	TriggerPass(ctx context.Context, accountID string) (*service.PassResult, error)
}

// Worker ingests feed batches and optionally runs a matching pass after each one.
type Worker struct {
	svc        Reconciler
	logger     *slog.Logger
	matchAfter bool
}

// NewWorker creates a feed worker.
func NewWorker(svc Reconciler, matchAfter bool, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{svc: svc, logger: logger, matchAfter: matchAfter}
}

// HandleBatch stores the batch's records and then runs a pass. Any error,
// including an account that stayed busy, is returned so the delivery is
// requeued. Redelivery is safe: records dedupe by external id, and a batch
// made only of duplicates still runs its pass.
func (w *Worker) HandleBatch(ctx context.Context, msg *BankFeedMessage) error {
	summary, err := w.svc.IngestBankRecords(ctx, msg.AccountID, msg.Records)
	if err != nil {
		return fmt.Errorf("ingest batch %s: %w", msg.BatchID, err)
	}

	w.logger.InfoContext(ctx, "bank feed batch ingested",
		slog.String("account_id", msg.AccountID),
		slog.String("batch_id", msg.BatchID),
		slog.Int("created", len(summary.Created)),
		slog.Int("duplicates", summary.Duplicates),
		slog.Int("quarantined", len(summary.Quarantined)))

	if !w.matchAfter || len(summary.Created)+summary.Duplicates == 0 {
		return nil
	}

	result, err := w.svc.TriggerPass(ctx, msg.AccountID)
	if err != nil {
		return fmt.Errorf("pass after batch %s: %w", msg.BatchID, err)
	}

	w.logger.InfoContext(ctx, "matching pass after batch",
		slog.String("account_id", msg.AccountID),
		slog.Int("matched", len(result.Matches)))
	return nil
}
