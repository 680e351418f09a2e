package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/normalizer"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/reconcile"
	"github.com/eshaffer321/receipt-reconciler/internal/infrastructure/storage"
)

const acct = "acct-1"

var (
	baseDate = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	clock    = time.Date(2024, 3, 20, 12, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T) (*ReconcileService, *storage.MockRepository) {
	t.Helper()
	repo := storage.NewMockRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewReconcileService(repo, DefaultConfig(), logger)
	svc.now = func() time.Time { return clock }
	return svc, repo
}

var seq int

func seedExpense(t *testing.T, repo storage.Repository, id, amount string, dayOffset int, merchant string) model.Expense {
	t.Helper()
	seq++
	e := model.Expense{
		ID:             id,
		AccountID:      acct,
		Date:           baseDate.AddDate(0, 0, dayOffset),
		Amount:         decimal.RequireFromString(amount),
		Merchant:       merchant,
		MerchantTokens: normalizer.MerchantTokens(merchant),
		Type:           model.ExpenseBusiness,
		Status:         model.StatusPending,
		Source:         model.SourceBankFeed,
		CreatedAt:      baseDate.Add(time.Duration(seq) * time.Minute),
	}
	require.NoError(t, repo.CreateExpense(context.Background(), &e))
	return e
}

func seedReceipt(t *testing.T, repo storage.Repository, id, amount string, dayOffset int, merchant string) model.Receipt {
	t.Helper()
	seq++
	r := model.Receipt{
		ID:             id,
		AccountID:      acct,
		URL:            "https://receipts.example.com/" + id + ".jpg",
		UploadedAt:     baseDate,
		OCR:            model.OCRMetadata{MerchantGuess: merchant, Confidence: model.FullConfidence()},
		Amount:         decimal.RequireFromString(amount),
		Date:           baseDate.AddDate(0, 0, dayOffset),
		Merchant:       merchant,
		MerchantTokens: normalizer.MerchantTokens(merchant),
		Status:         model.StatusPending,
		CreatedAt:      baseDate.Add(time.Duration(seq) * time.Minute),
	}
	require.NoError(t, repo.CreateReceipt(context.Background(), &r))
	return r
}

func getExpense(t *testing.T, repo storage.Repository, id string) *model.Expense {
	t.Helper()
	e, err := repo.GetExpense(context.Background(), id)
	require.NoError(t, err)
	return e
}

func getReceipt(t *testing.T, repo storage.Repository, id string) *model.Receipt {
	t.Helper()
	r, err := repo.GetReceipt(context.Background(), id)
	require.NoError(t, err)
	return r
}

func TestRunMatchingPass_WholeFoodsMatched(t *testing.T) {
	// Arrange
	ctx := context.Background()
	svc, repo := newTestService(t)
	seedExpense(t, repo, "e1", "-125.50", 0, "Whole Foods")
	r := model.Receipt{
		ID:             "r1",
		AccountID:      acct,
		URL:            "https://receipts.example.com/r1.jpg",
		OCR:            model.OCRMetadata{Confidence: model.FieldConfidence{Merchant: 0.8, Amount: 0.95, Date: 0.9}},
		Amount:         decimal.RequireFromString("125.50"),
		Date:           baseDate,
		Merchant:       "WHOLE FOODS #4521",
		MerchantTokens: normalizer.MerchantTokens("WHOLE FOODS #4521"),
		Status:         model.StatusPending,
		CreatedAt:      baseDate,
	}
	require.NoError(t, repo.CreateReceipt(ctx, &r))

	// Act
	result, err := svc.RunMatchingPass(ctx, acct)

	// Assert
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, int64(1), result.RunID)

	e := getExpense(t, repo, "e1")
	assert.Equal(t, model.StatusMatched, e.Status)
	assert.Equal(t, "r1", e.ReceiptID)
	got := getReceipt(t, repo, "r1")
	assert.Equal(t, model.StatusMatched, got.Status)
	assert.Equal(t, "e1", got.ExpenseID)

	audit, err := repo.ListAudit(ctx, acct, 0)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, model.ActorSystem, audit[0].Actor)
	assert.Equal(t, model.ActionAutoMatch, audit[0].Action)
	assert.Equal(t, model.StatusPending, audit[0].PreviousStatus)
	assert.Equal(t, model.StatusMatched, audit[0].NewStatus)
	assert.InDelta(t, 0.5*0.95+0.3*0.9+0.2*0.8, audit[0].Score, 1e-9)

	runs, err := repo.ListMatchRuns(ctx, acct, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunCompleted, runs[0].Status)
	assert.Equal(t, 1, runs[0].Matched)
}

func TestRunMatchingPass_PicksBestReceipt(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	seedExpense(t, repo, "e1", "-40.00", 0, "Shell")
	seedReceipt(t, repo, "r-exact", "40.00", 0, "Shell")
	seedReceipt(t, repo, "r-late", "40.00", 2, "Shell") // 0.88

	result, err := svc.RunMatchingPass(ctx, acct)

	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "r-exact", result.Matches[0].Receipt.ID)

	late := getReceipt(t, repo, "r-late")
	assert.Equal(t, model.StatusPending, late.Status)
	assert.Equal(t, 0, late.MissCount, "had a candidate this pass")
}

func TestRunMatchingPass_BelowThresholdStaysPending(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	seedExpense(t, repo, "e1", "-40.00", 0, "Shell")
	seedReceipt(t, repo, "r1", "40.00", 4, "Chevron") // 0.56

	result, err := svc.RunMatchingPass(ctx, acct)

	require.NoError(t, err)
	assert.Empty(t, result.Matches)
	assert.Equal(t, 2, result.Pending)
	assert.Equal(t, model.StatusPending, getExpense(t, repo, "e1").Status)
	assert.Equal(t, 0, repo.AuditLen())
}

func TestRunMatchingPass_UnmatchedAfterMissCyclesThenReactivated(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	seedExpense(t, repo, "e1", "-40.00", 0, "Shell")

	// Two passes only count misses
	for i := 1; i <= 2; i++ {
		_, err := svc.RunMatchingPass(ctx, acct)
		require.NoError(t, err)
		e := getExpense(t, repo, "e1")
		assert.Equal(t, model.StatusPending, e.Status)
		assert.Equal(t, i, e.MissCount)
	}
	assert.Equal(t, 0, repo.AuditLen(), "miss counting is not a transition")

	// The third gives up
	result, err := svc.RunMatchingPass(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Unmatched)
	assert.Equal(t, model.StatusUnmatched, getExpense(t, repo, "e1").Status)

	// A new upload brings it back
	seedReceipt(t, repo, "r1", "40.00", 4, "Chevron")
	result, err = svc.RunMatchingPass(ctx, acct)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reactivated)

	e := getExpense(t, repo, "e1")
	assert.Equal(t, model.StatusPending, e.Status)
	assert.Equal(t, 0, e.MissCount)

	audit, err := repo.ListAudit(ctx, acct, 0)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, model.ActionReactivate, audit[0].Action)
	assert.Equal(t, model.StatusUnmatched, audit[0].PreviousStatus)
	assert.Equal(t, model.ActionMarkUnmatched, audit[1].Action)
}

func TestRunMatchingPass_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	seedExpense(t, repo, "e1", "-12.00", 0, "Cafe")
	seedReceipt(t, repo, "r1", "12.00", 0, "Cafe")
	seedExpense(t, repo, "e2", "-40.00", 0, "Shell")
	seedReceipt(t, repo, "r2", "40.00", 4, "Chevron")

	_, err := svc.RunMatchingPass(ctx, acct)
	require.NoError(t, err)
	before := repo.AuditLen()

	result, err := svc.RunMatchingPass(ctx, acct)

	require.NoError(t, err)
	assert.Empty(t, result.Matches)
	assert.Equal(t, before, repo.AuditLen())
}

func TestRunMatchingPass_LockContention(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	seedExpense(t, repo, "e1", "-12.00", 0, "Cafe")
	seedReceipt(t, repo, "r1", "12.00", 0, "Cafe")

	st := svc.account(acct)
	require.True(t, st.tryLock())

	_, err := svc.RunMatchingPass(ctx, acct)
	require.Error(t, err)
	assert.ErrorIs(t, err, reconcile.ErrLockContention)
	assert.Equal(t, model.StatusPending, getExpense(t, repo, "e1").Status)

	st.unlock()
	result, err := svc.RunMatchingPass(ctx, acct)
	require.NoError(t, err)
	assert.Len(t, result.Matches, 1)
}

func TestTriggerPass(t *testing.T) {
	t.Run("waits out a short-lived lock", func(t *testing.T) {
		ctx := context.Background()
		svc, repo := newTestService(t)
		svc.cfg.TriggerBackoff = 10 * time.Millisecond
		seedExpense(t, repo, "e1", "-12.00", 0, "Cafe")
		seedReceipt(t, repo, "r1", "12.00", 0, "Cafe")

		st := svc.account(acct)
		require.True(t, st.tryLock())
		go func() {
			time.Sleep(15 * time.Millisecond)
			st.unlock()
		}()

		result, err := svc.TriggerPass(ctx, acct)

		require.NoError(t, err)
		assert.Len(t, result.Matches, 1)
	})

	t.Run("reports contention when the account stays busy", func(t *testing.T) {
		ctx := context.Background()
		svc, repo := newTestService(t)
		svc.cfg.TriggerRetries = 2
		svc.cfg.TriggerBackoff = time.Millisecond
		seedExpense(t, repo, "e1", "-12.00", 0, "Cafe")

		st := svc.account(acct)
		require.True(t, st.tryLock())
		defer st.unlock()

		_, err := svc.TriggerPass(ctx, acct)

		assert.ErrorIs(t, err, reconcile.ErrLockContention)
		assert.Equal(t, 0, repo.CommitCalls)
	})

	t.Run("stops retrying when the context ends", func(t *testing.T) {
		svc, _ := newTestService(t)
		svc.cfg.TriggerRetries = 100
		svc.cfg.TriggerBackoff = time.Hour

		st := svc.account(acct)
		require.True(t, st.tryLock())
		defer st.unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := svc.TriggerPass(ctx, acct)

		assert.ErrorIs(t, err, reconcile.ErrLockContention)
	})
}

func TestRunMatchingPass_TransactionFailureLeavesStateUnchanged(t *testing.T) {
	// Arrange
	ctx := context.Background()
	svc, repo := newTestService(t)
	seedExpense(t, repo, "e1", "-12.00", 0, "Cafe")
	seedReceipt(t, repo, "r1", "12.00", 0, "Cafe")
	repo.CommitErr = errors.New("disk I/O error")
	repo.CommitFailures = 1

	// Act
	_, err := svc.RunMatchingPass(ctx, acct)

	// Assert
	require.Error(t, err)
	assert.ErrorIs(t, err, reconcile.ErrTransactionFailure)
	var txErr *reconcile.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, acct, txErr.AccountID)

	assert.Equal(t, model.StatusPending, getExpense(t, repo, "e1").Status)
	assert.Equal(t, model.StatusPending, getReceipt(t, repo, "r1").Status)
	assert.Equal(t, 0, repo.AuditLen())

	runs, err := repo.ListMatchRuns(ctx, acct, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "disk I/O error")

	// The next pass starts from a clean snapshot
	result, err := svc.RunMatchingPass(ctx, acct)
	require.NoError(t, err)
	assert.Len(t, result.Matches, 1)
}

func TestRunMatchingPass_DiscardsStaleCandidate(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	seedExpense(t, repo, "e1", "-12.00", 0, "Cafe")
	seedReceipt(t, repo, "r1", "12.00", 0, "Cafe")
	seedExpense(t, repo, "e2", "-40.00", 0, "Shell")
	seedReceipt(t, repo, "r2", "40.00", 0, "Shell")
	repo.StaleOnCommit["r1"] = true

	result, err := svc.RunMatchingPass(ctx, acct)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Discarded)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "e2", result.Matches[0].Expense.ID)
	assert.Equal(t, model.StatusPending, getExpense(t, repo, "e1").Status)
	assert.Equal(t, model.StatusMatched, getExpense(t, repo, "e2").Status)
	assert.Equal(t, 2, repo.CommitCalls)
	// e1 and r1 stay pending; the committed pair has left the pool.
	assert.Equal(t, 2, result.Pending)
}

func TestRunMatchingPass_MissingAccount(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.RunMatchingPass(context.Background(), "")

	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRunAll_ReportsEveryAccount(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	seedExpense(t, repo, "e1", "-12.00", 0, "Cafe")
	seedReceipt(t, repo, "r1", "12.00", 0, "Cafe")
	other := model.Expense{
		ID: "x1", AccountID: "acct-2", Date: baseDate, Amount: decimal.NewFromInt(-5),
		Status: model.StatusPending, Type: model.ExpensePersonal, Source: model.SourceManual,
	}
	require.NoError(t, repo.CreateExpense(ctx, &other))

	st := svc.account("acct-2")
	require.True(t, st.tryLock())
	defer st.unlock()

	outcomes, err := svc.RunAll(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, reconcile.ErrLockContention)
	require.Len(t, outcomes, 2)
	assert.Equal(t, acct, outcomes[0].AccountID)
	require.NoError(t, outcomes[0].Err)
	assert.Len(t, outcomes[0].Result.Matches, 1)
	assert.Equal(t, "acct-2", outcomes[1].AccountID)
	assert.ErrorIs(t, outcomes[1].Err, reconcile.ErrLockContention)
	assert.NotEmpty(t, outcomes[1].Error)
}

func TestManualMatch(t *testing.T) {
	t.Run("reactivates unmatched side", func(t *testing.T) {
		ctx := context.Background()
		svc, repo := newTestService(t)
		e := model.Expense{
			ID: "e1", AccountID: acct, Date: baseDate, Amount: decimal.NewFromInt(-30),
			Merchant: "Hardware", Status: model.StatusUnmatched, Type: model.ExpenseBusiness,
			Source: model.SourceManual,
		}
		require.NoError(t, repo.CreateExpense(ctx, &e))
		seedReceipt(t, repo, "r1", "75.00", 20, "Lumber Yard")

		result, err := svc.ManualMatch(ctx, "e1", "r1")

		require.NoError(t, err)
		assert.Equal(t, model.StatusMatched, result.Expense.Status)
		assert.Equal(t, "r1", result.Expense.ReceiptID)
		assert.Equal(t, model.ActorUser, result.Audit.Actor)
		assert.Equal(t, model.ActionManualMatch, result.Audit.Action)
		assert.Zero(t, result.Audit.Score, "outside the candidate window")

		audit, err := repo.ListAudit(ctx, acct, 0)
		require.NoError(t, err)
		require.Len(t, audit, 2)
		assert.Equal(t, model.ActionManualMatch, audit[0].Action)
		assert.Equal(t, model.ActionReactivate, audit[1].Action)
		assert.Equal(t, model.ActorUser, audit[1].Actor)
	})

	t.Run("rejects already matched side", func(t *testing.T) {
		ctx := context.Background()
		svc, repo := newTestService(t)
		seedExpense(t, repo, "e1", "-12.00", 0, "Cafe")
		seedReceipt(t, repo, "r1", "12.00", 0, "Cafe")
		seedReceipt(t, repo, "r2", "12.00", 1, "Cafe")
		_, err := svc.ManualMatch(ctx, "e1", "r1")
		require.NoError(t, err)

		_, err = svc.ManualMatch(ctx, "e1", "r2")

		require.Error(t, err)
		assert.ErrorIs(t, err, reconcile.ErrReferentialIntegrity)
		assert.Equal(t, model.StatusPending, getReceipt(t, repo, "r2").Status)
	})

	t.Run("rejects cross account pairs", func(t *testing.T) {
		ctx := context.Background()
		svc, repo := newTestService(t)
		seedExpense(t, repo, "e1", "-12.00", 0, "Cafe")
		r := model.Receipt{ID: "r9", AccountID: "acct-2", Amount: decimal.NewFromInt(12), Date: baseDate, Status: model.StatusPending}
		require.NoError(t, repo.CreateReceipt(ctx, &r))

		_, err := svc.ManualMatch(ctx, "e1", "r9")

		assert.ErrorIs(t, err, reconcile.ErrAccountMismatch)
	})

	t.Run("unknown ids", func(t *testing.T) {
		svc, _ := newTestService(t)

		_, err := svc.ManualMatch(context.Background(), "missing", "r1")

		assert.ErrorIs(t, err, reconcile.ErrNotFound)
	})
}

func TestUnlink(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	seedExpense(t, repo, "e1", "-12.00", 0, "Cafe")
	seedReceipt(t, repo, "r1", "12.00", 0, "Cafe")
	_, err := svc.RunMatchingPass(ctx, acct)
	require.NoError(t, err)

	result, err := svc.Unlink(ctx, "e1")

	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, result.Expense.Status)
	assert.Empty(t, result.Expense.ReceiptID)
	assert.Equal(t, model.StatusPending, result.Receipt.Status)
	assert.Equal(t, model.ActionUnlink, result.Audit.Action)
	assert.Equal(t, model.StatusMatched, result.Audit.PreviousStatus)

	t.Run("unlinked pair is not matched again", func(t *testing.T) {
		pass, err := svc.RunMatchingPass(ctx, acct)
		require.NoError(t, err)
		assert.Empty(t, pass.Matches)
	})

	t.Run("pending expense cannot be unlinked", func(t *testing.T) {
		_, err := svc.Unlink(ctx, "e1")
		assert.ErrorIs(t, err, reconcile.ErrReferentialIntegrity)
	})
}

func TestUndoLastMatches(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	seedExpense(t, repo, "e1", "-12.00", 0, "Cafe")
	seedReceipt(t, repo, "r1", "12.00", 0, "Cafe")
	seedExpense(t, repo, "e2", "-40.00", 0, "Shell")
	seedReceipt(t, repo, "r2", "40.00", 0, "Shell")
	_, err := svc.RunMatchingPass(ctx, acct)
	require.NoError(t, err)

	audit, err := repo.ListAudit(ctx, acct, 0)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	newest, older := audit[0], audit[1]

	// Undo the most recent match
	undone, err := svc.UndoLastMatches(ctx, acct, 1)
	require.NoError(t, err)
	require.Len(t, undone, 1)
	assert.Equal(t, newest.ID, undone[0].OriginalEntryID)
	assert.Equal(t, newest.ID, undone[0].Audit.RefEntryID)
	assert.Equal(t, model.ActionUndo, undone[0].Audit.Action)
	assert.Equal(t, model.ActorUser, undone[0].Audit.Actor)
	assert.Equal(t, model.StatusPending, getExpense(t, repo, newest.ExpenseID).Status)
	assert.Equal(t, model.StatusPending, getReceipt(t, repo, newest.ReceiptID).Status)
	assert.Equal(t, model.StatusMatched, getExpense(t, repo, older.ExpenseID).Status)

	// Undo skips what is already reversed
	undone, err = svc.UndoLastMatches(ctx, acct, 5)
	require.NoError(t, err)
	require.Len(t, undone, 1)
	assert.Equal(t, older.ID, undone[0].OriginalEntryID)

	undone, err = svc.UndoLastMatches(ctx, acct, 1)
	require.NoError(t, err)
	assert.Empty(t, undone)

	// Undone pairs stay apart
	pass, err := svc.RunMatchingPass(ctx, acct)
	require.NoError(t, err)
	assert.Empty(t, pass.Matches)

	t.Run("manual relink is not undone", func(t *testing.T) {
		_, err := svc.ManualMatch(ctx, older.ExpenseID, older.ReceiptID)
		require.NoError(t, err)

		undone, err := svc.UndoLastMatches(ctx, acct, 1)
		require.NoError(t, err)
		assert.Empty(t, undone)
		assert.Equal(t, model.StatusMatched, getExpense(t, repo, older.ExpenseID).Status)
	})

	t.Run("count must be positive", func(t *testing.T) {
		_, err := svc.UndoLastMatches(ctx, acct, 0)
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestGetPendingCandidates(t *testing.T) {
	ctx := context.Background()
	svc, repo := newTestService(t)
	seedExpense(t, repo, "e1", "-40.00", 0, "Shell")
	seedReceipt(t, repo, "r-late", "40.00", 2, "Shell")
	seedReceipt(t, repo, "r-exact", "40.00", 0, "Shell")

	pending, err := svc.GetPendingCandidates(ctx, acct)

	require.NoError(t, err)
	require.Len(t, pending.Expenses, 1)
	require.Len(t, pending.Expenses[0].Candidates, 2)
	assert.Equal(t, "r-exact", pending.Expenses[0].Candidates[0].ReceiptID)
	assert.Equal(t, "r-late", pending.Expenses[0].Candidates[1].ReceiptID)
	assert.Len(t, pending.Receipts, 2)

	// The cached index follows ingestion
	_, err = svc.IngestReceipt(ctx, acct, ReceiptUpload{
		URL: "https://receipts.example.com/new.jpg",
		OCR: normalizer.OCRResult{MerchantGuess: "Shell", AmountGuess: "40.00", DateGuess: "2024-03-11"},
	})
	require.NoError(t, err)

	pending, err = svc.GetPendingCandidates(ctx, acct)
	require.NoError(t, err)
	assert.Len(t, pending.Receipts, 3)
	assert.Len(t, pending.Expenses[0].Candidates, 3)
}

func TestIngestBankRecords(t *testing.T) {
	// Arrange
	ctx := context.Background()
	svc, repo := newTestService(t)
	seedExpense(t, repo, "existing", "-1.00", 0, "Old")
	require.NoError(t, repo.CreateExpense(ctx, &model.Expense{
		ID: "known", AccountID: acct, ExternalID: "txn-0", Date: baseDate,
		Amount: decimal.NewFromInt(-3), Status: model.StatusPending, Source: model.SourceBankFeed,
	}))

	records := []normalizer.BankRecord{
		{Amount: "-87.43", Date: "2024-03-15", Description: "WHOLE FOODS MKT", ExternalID: "txn-1"},
		{Amount: "-87.43", Date: "2024-03-15", Description: "WHOLE FOODS MKT", ExternalID: "txn-1"},
		{Amount: "-3.00", Date: "2024-03-01", Description: "Coffee", ExternalID: "txn-0"},
		{Amount: "n/a", Date: "2024-03-15", Description: "Broken", ExternalID: "txn-2"},
		{Amount: "-5.00", Date: "2024-03-15", Description: "Elsewhere", AccountID: "acct-9", ExternalID: "txn-3"},
	}

	// Act
	summary, err := svc.IngestBankRecords(ctx, acct, records)

	// Assert
	require.NoError(t, err)
	require.Len(t, summary.Created, 1)
	assert.Equal(t, "txn-1", summary.Created[0].ExternalID)
	assert.Equal(t, "-87.43", summary.Created[0].Amount.StringFixed(2))
	assert.Equal(t, model.SourceBankFeed, summary.Created[0].Source)
	assert.Equal(t, model.StatusPending, summary.Created[0].Status)
	assert.Equal(t, 2, summary.Duplicates)
	require.Len(t, summary.Quarantined, 2)
	assert.Equal(t, "amount", summary.Quarantined[0].Field)
	assert.Equal(t, "account_id", summary.Quarantined[1].Field)

	items, err := svc.ListReviewItems(ctx, acct)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	t.Run("resolve with correction", func(t *testing.T) {
		result, err := svc.ResolveReviewItem(ctx, summary.Quarantined[0].ID, ReviewCorrection{Amount: "-9.99"})
		require.NoError(t, err)
		require.NotNil(t, result.Expense)
		assert.Equal(t, "txn-2", result.Expense.ExternalID)
		assert.Equal(t, "-9.99", result.Expense.Amount.StringFixed(2))

		_, err = repo.GetReviewItem(ctx, summary.Quarantined[0].ID)
		assert.ErrorIs(t, err, reconcile.ErrNotFound)
	})

	t.Run("resolve without fix keeps the item", func(t *testing.T) {
		bad, err := svc.IngestBankRecords(ctx, acct, []normalizer.BankRecord{{Amount: "-1", Date: "someday", ExternalID: "txn-4"}})
		require.NoError(t, err)
		require.Len(t, bad.Quarantined, 1)
		assert.Equal(t, "date", bad.Quarantined[0].Field)

		_, err = svc.ResolveReviewItem(ctx, bad.Quarantined[0].ID, ReviewCorrection{})
		assert.ErrorIs(t, err, ErrInvalidInput)
		_, err = repo.GetReviewItem(ctx, bad.Quarantined[0].ID)
		assert.NoError(t, err)
	})

	t.Run("dismiss", func(t *testing.T) {
		require.NoError(t, svc.DismissReviewItem(ctx, summary.Quarantined[1].ID))
		assert.ErrorIs(t, svc.DismissReviewItem(ctx, summary.Quarantined[1].ID), reconcile.ErrNotFound)
	})
}

func TestIngestReceipt(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	t.Run("valid upload", func(t *testing.T) {
		result, err := svc.IngestReceipt(ctx, acct, ReceiptUpload{
			URL: "https://receipts.example.com/a.jpg",
			OCR: normalizer.OCRResult{
				Text:          "WHOLE FOODS ... TOTAL 87.43",
				MerchantGuess: "Whole Foods Market",
				AmountGuess:   "87.43",
				DateGuess:     "03/14/2024",
				Confidence:    map[string]float64{"merchant": 0.85, "amount": 0.95, "date": 0.9},
			},
		})

		require.NoError(t, err)
		require.NotNil(t, result.Receipt)
		assert.Nil(t, result.Quarantined)
		assert.Equal(t, model.StatusPending, result.Receipt.Status)
		assert.Equal(t, "87.43", result.Receipt.Amount.StringFixed(2))
		assert.Equal(t, time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC), result.Receipt.Date)
		assert.Equal(t, 0.95, result.Receipt.OCR.Confidence.Amount)
		assert.Equal(t, clock, result.Receipt.UploadedAt)
	})

	t.Run("missing date is quarantined", func(t *testing.T) {
		result, err := svc.IngestReceipt(ctx, acct, ReceiptUpload{
			URL: "https://receipts.example.com/b.jpg",
			OCR: normalizer.OCRResult{MerchantGuess: "Cafe", AmountGuess: "4.50"},
		})

		require.NoError(t, err)
		assert.Nil(t, result.Receipt)
		require.NotNil(t, result.Quarantined)
		assert.Equal(t, "date", result.Quarantined.Field)
		assert.Equal(t, "https://receipts.example.com/b.jpg", result.Quarantined.ReceiptURL)

		resolved, err := svc.ResolveReviewItem(ctx, result.Quarantined.ID, ReviewCorrection{Date: "2024-03-12"})
		require.NoError(t, err)
		require.NotNil(t, resolved.Receipt)
		assert.Equal(t, 1.0, resolved.Receipt.OCR.Confidence.Date)
		assert.Equal(t, "https://receipts.example.com/b.jpg", resolved.Receipt.URL)
	})

	t.Run("url is required", func(t *testing.T) {
		_, err := svc.IngestReceipt(ctx, acct, ReceiptUpload{})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}

func TestCreateExpense(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	e, err := svc.CreateExpense(ctx, acct, ExpenseDraft{
		Date: "2024-03-15", Amount: "-18.20", Merchant: "Parking Garage", Category: "travel",
	})
	require.NoError(t, err)
	assert.Equal(t, model.SourceManual, e.Source)
	assert.Equal(t, model.ExpenseBusiness, e.Type)
	assert.Equal(t, []string{"garage", "parking"}, e.MerchantTokens)

	tests := []struct {
		name  string
		draft ExpenseDraft
	}{
		{"bad amount", ExpenseDraft{Date: "2024-03-15", Amount: "lots"}},
		{"bad date", ExpenseDraft{Date: "yesterday", Amount: "-1"}},
		{"bad type", ExpenseDraft{Date: "2024-03-15", Amount: "-1", Type: "hobby"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateExpense(ctx, acct, tt.draft)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}
