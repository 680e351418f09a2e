package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/index"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/reconcile"
)

// MatchedPair is one link created by a pass.
type MatchedPair struct {
	Expense model.Expense    `json:"expense"`
	Receipt model.Receipt    `json:"receipt"`
	Audit   model.AuditEntry `json:"audit"`
}

// PassResult summarizes a committed matching pass.
type PassResult struct {
	AccountID   string        `json:"account_id"`
	RunID       int64         `json:"run_id"`
	Matches     []MatchedPair `json:"matches"`
	Unmatched   int           `json:"unmatched"`
	Reactivated int           `json:"reactivated"`
	Discarded   int           `json:"discarded"`
	Pending     int           `json:"pending"`
	Duration    time.Duration `json:"duration"`
}

// AccountOutcome is the per-account result of RunAll.
type AccountOutcome struct {
	AccountID string      `json:"account_id"`
	Result    *PassResult `json:"result,omitempty"`
	Err       error       `json:"-"`
	Error     string      `json:"error,omitempty"`
}

// snapshot is the state a pass works from.
type snapshot struct {
	expenses map[string]model.Expense
	receipts map[string]model.Receipt
	idx      *index.Index
	rejected map[[2]string]bool
}

func (s *ReconcileService) loadSnapshot(ctx context.Context, accountID string) (*snapshot, error) {
	snap := &snapshot{
		expenses: make(map[string]model.Expense),
		receipts: make(map[string]model.Receipt),
		idx:      index.New(accountID),
	}
	for _, status := range []model.Status{model.StatusPending, model.StatusUnmatched} {
		expenses, err := s.storage.ListExpenses(ctx, accountID, status)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s expenses: %w", status, err)
		}
		for _, e := range expenses {
			snap.expenses[e.ID] = e
			if e.Status == model.StatusPending {
				snap.idx.Insert(index.ExpenseItem(e))
			}
		}
		receipts, err := s.storage.ListReceipts(ctx, accountID, status)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s receipts: %w", status, err)
		}
		for _, r := range receipts {
			snap.receipts[r.ID] = r
			if r.Status == model.StatusPending {
				snap.idx.Insert(index.ReceiptItem(r))
			}
		}
	}
	rejected, err := s.rejectedPairs(ctx, accountID)
	if err != nil {
		return nil, err
	}
	snap.rejected = rejected
	return snap, nil
}

// RunMatchingPass runs one pass over an account. It fails fast with
// ErrLockContention when another pass or operation holds the account.
func (s *ReconcileService) RunMatchingPass(ctx context.Context, accountID string) (*PassResult, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	st := s.account(accountID)
	if !st.tryLock() {
		return nil, fmt.Errorf("%w: account %s", reconcile.ErrLockContention, accountID)
	}
	defer st.unlock()

	start := time.Now()
	runID, err := s.storage.StartMatchRun(ctx, accountID)
	if err != nil {
		// A missing run record does not block matching.
		s.logger.Warn("failed to record match run",
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("matching pass started",
		slog.String("account_id", accountID),
		slog.Int64("run_id", runID),
	)

	result, err := s.runPass(ctx, accountID, st)
	run := &model.MatchRun{ID: runID, AccountID: accountID}
	if err != nil {
		run.Status = model.RunFailed
		run.Error = err.Error()
	} else {
		result.RunID = runID
		result.Duration = time.Since(start)
		run.Status = model.RunCompleted
		run.Matched = len(result.Matches)
		run.Unmatched = result.Unmatched
		run.Reactivated = result.Reactivated
		run.Discarded = result.Discarded
	}
	if runID != 0 {
		if cerr := s.storage.CompleteMatchRun(ctx, run); cerr != nil {
			s.logger.Warn("failed to complete match run",
				slog.Int64("run_id", runID),
				slog.String("error", cerr.Error()),
			)
		}
	}
	if err != nil {
		s.logger.Error("matching pass failed",
			slog.String("account_id", accountID),
			slog.Int64("run_id", runID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	s.logger.Info("matching pass completed",
		slog.String("account_id", accountID),
		slog.Int64("run_id", runID),
		slog.Int("matched", run.Matched),
		slog.Int("unmatched", run.Unmatched),
		slog.Int("reactivated", run.Reactivated),
		slog.Int("discarded", run.Discarded),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// TriggerPass runs a pass on behalf of new data (an upload or a feed
// batch). While the account is busy it retries with linear backoff; if the
// account stays busy the ErrLockContention is returned so the trigger can
// be retried by its caller rather than dropped.
func (s *ReconcileService) TriggerPass(ctx context.Context, accountID string) (*PassResult, error) {
	for attempt := 1; ; attempt++ {
		result, err := s.RunMatchingPass(ctx, accountID)
		if !errors.Is(err, reconcile.ErrLockContention) || attempt > s.cfg.TriggerRetries {
			return result, err
		}

		s.logger.Debug("account busy, retrying pass",
			slog.String("account_id", accountID),
			slog.Int("attempt", attempt))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w (gave up: %v)", err, ctx.Err())
		case <-time.After(time.Duration(attempt) * s.cfg.TriggerBackoff):
		}
	}
}

// runPass builds and commits the changeset of one pass. Caller holds the lock.
func (s *ReconcileService) runPass(ctx context.Context, accountID string, st *accountState) (*PassResult, error) {
	snap, err := s.loadSnapshot(ctx, accountID)
	if err != nil {
		st.idx = nil
		return nil, &reconcile.TransactionError{AccountID: accountID, Err: err}
	}

	cs, err := s.planPass(accountID, snap)
	if err != nil {
		st.idx = nil
		return nil, err
	}

	discarded := 0
	for !cs.Empty() {
		err = s.storage.Commit(ctx, cs)
		if err == nil {
			break
		}
		var stale *reconcile.ReferentialIntegrityError
		if errors.As(err, &stale) && discarded < s.cfg.StaleRetries {
			s.logger.Warn("discarding stale candidate",
				slog.String("account_id", accountID),
				slog.String("kind", stale.Kind),
				slog.String("entity_id", stale.EntityID),
			)
			cs = cs.Without(stale.EntityID)
			discarded++
			continue
		}
		st.idx = nil
		return nil, &reconcile.TransactionError{AccountID: accountID, Err: err}
	}

	applyToIndex(snap.idx, cs)
	if discarded > 0 {
		// Storage moved under us; rebuild on next use.
		st.idx = nil
	} else {
		st.idx = snap.idx
	}

	counts := cs.Transitions()
	result := &PassResult{
		AccountID:   accountID,
		Unmatched:   counts[model.ActionMarkUnmatched],
		Reactivated: counts[model.ActionReactivate],
		Discarded:   discarded,
		Pending:     snap.idx.Len(index.KindExpense) + snap.idx.Len(index.KindReceipt),
	}
	for _, a := range cs.Audit {
		if a.Action != model.ActionAutoMatch {
			continue
		}
		e, _ := cs.Expense(a.ExpenseID)
		r, _ := cs.Receipt(a.ReceiptID)
		result.Matches = append(result.Matches, MatchedPair{Expense: e, Receipt: r, Audit: a})
	}
	return result, nil
}

// planPass stages every transition of a pass against the snapshot:
// reactivation, mutual-best matching, then miss counting.
func (s *ReconcileService) planPass(accountID string, snap *snapshot) (*reconcile.Changeset, error) {
	cs := reconcile.NewChangeset(accountID, s.now())
	cfg := s.matcher.Config()

	if err := s.reactivate(cs, snap); err != nil {
		return nil, err
	}

	g := s.candidateGraph(snap.idx, snap.rejected)
	for _, c := range s.matcher.Resolve(g) {
		if _, err := cs.Match(snap.expenses[c.ExpenseID], snap.receipts[c.ReceiptID],
			model.ActorSystem, model.ActionAutoMatch, c.Score); err != nil {
			return nil, fmt.Errorf("staging match %s/%s: %w", c.ExpenseID, c.ReceiptID, err)
		}
	}

	for _, it := range snap.idx.Items(index.KindExpense) {
		e, _ := cs.Expense(it.ID)
		if e.Status == model.StatusMatched {
			continue
		}
		e = snap.expenses[it.ID]
		if g.HasExpense(it.ID) {
			cs.SetExpenseMisses(e, 0)
			continue
		}
		if e.MissCount+1 >= cfg.MaxMissCycles {
			if _, err := cs.MarkExpenseUnmatched(e); err != nil {
				return nil, err
			}
			continue
		}
		cs.SetExpenseMisses(e, e.MissCount+1)
	}
	for _, it := range snap.idx.Items(index.KindReceipt) {
		r, _ := cs.Receipt(it.ID)
		if r.Status == model.StatusMatched {
			continue
		}
		r = snap.receipts[it.ID]
		if g.HasReceipt(it.ID) {
			cs.SetReceiptMisses(r, 0)
			continue
		}
		if r.MissCount+1 >= cfg.MaxMissCycles {
			if _, err := cs.MarkReceiptUnmatched(r); err != nil {
				return nil, err
			}
			continue
		}
		cs.SetReceiptMisses(r, r.MissCount+1)
	}
	return cs, nil
}

// reactivate returns unmatched entities to the pool when a pending
// counterpart now scores above the candidate floor.
func (s *ReconcileService) reactivate(cs *reconcile.Changeset, snap *snapshot) error {
	for _, id := range sortedExpenseIDs(snap.expenses) {
		e := snap.expenses[id]
		if e.Status != model.StatusUnmatched {
			continue
		}
		if !s.hasCandidate(snap, index.ExpenseItem(e)) {
			continue
		}
		if _, err := cs.ReactivateExpense(e, model.ActorSystem); err != nil {
			return err
		}
		e.Status, e.MissCount = model.StatusPending, 0
		snap.expenses[id] = e
		snap.idx.Insert(index.ExpenseItem(e))
	}
	for _, id := range sortedReceiptIDs(snap.receipts) {
		r := snap.receipts[id]
		if r.Status != model.StatusUnmatched {
			continue
		}
		if !s.hasCandidate(snap, index.ReceiptItem(r)) {
			continue
		}
		if _, err := cs.ReactivateReceipt(r, model.ActorSystem); err != nil {
			return err
		}
		r.Status, r.MissCount = model.StatusPending, 0
		snap.receipts[id] = r
		snap.idx.Insert(index.ReceiptItem(r))
	}
	return nil
}

func (s *ReconcileService) hasCandidate(snap *snapshot, it index.Item) bool {
	for _, c := range s.matcher.CandidatesFor(snap.idx, it) {
		if !snap.rejected[[2]string{c.ExpenseID, c.ReceiptID}] {
			return true
		}
	}
	return false
}

func sortedExpenseIDs(m map[string]model.Expense) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedReceiptIDs(m map[string]model.Receipt) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunAll runs a pass for every known account with bounded concurrency.
// Failed accounts are reported in their outcome and in the joined error;
// they never stop the other accounts.
func (s *ReconcileService) RunAll(ctx context.Context) ([]AccountOutcome, error) {
	accounts, err := s.storage.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	outcomes := make([]AccountOutcome, len(accounts))
	var mu sync.Mutex
	var errs []error

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, accountID := range accounts {
		g.Go(func() error {
			result, err := s.RunMatchingPass(ctx, accountID)
			outcome := AccountOutcome{AccountID: accountID, Result: result, Err: err}
			if err != nil {
				outcome.Error = err.Error()
				mu.Lock()
				errs = append(errs, fmt.Errorf("account %s: %w", accountID, err))
				mu.Unlock()
			}
			outcomes[i] = outcome
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("matching run finished",
		slog.Int("accounts", len(accounts)),
		slog.Int("failed", len(errs)),
	)
	return outcomes, errors.Join(errs...)
}
