// Package service coordinates the reconciliation engine: it owns the
// per-account pending index and lock, runs matching passes, and routes every
// manual operation through the same commit-plus-audit path.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/index"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/reconcile"
	"github.com/eshaffer321/receipt-reconciler/internal/infrastructure/storage"
)

// ErrInvalidInput is returned for requests that fail validation.
var ErrInvalidInput = errors.New("invalid input")

// Config holds service tuning.
type Config struct {
	Matching matcher.Config

	// Concurrency bounds how many accounts RunAll matches at once.
	Concurrency int

	// StaleRetries bounds how many stale entities a pass may discard before
	// its commit is treated as failed.
	StaleRetries int

	// TriggerRetries and TriggerBackoff bound how long TriggerPass waits
	// out a busy account. The n-th retry sleeps n*TriggerBackoff.
	TriggerRetries int
	TriggerBackoff time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Matching:       matcher.DefaultConfig(),
		Concurrency:    4,
		StaleRetries:   5,
		TriggerRetries: 3,
		TriggerBackoff: 200 * time.Millisecond,
	}
}

// accountState is the per-account lock and pending index. The index is only
// read or written while the lock is held; nil means it must be rebuilt from
// storage.
type accountState struct {
	sem chan struct{}
	idx *index.Index
}

func (a *accountState) tryLock() bool {
	select {
	case a.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (a *accountState) lock(ctx context.Context) error {
	select {
	case a.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *accountState) unlock() { <-a.sem }

// ReconcileService manages reconciliation operations.
type ReconcileService struct {
	cfg     Config
	storage storage.Repository
	matcher *matcher.Matcher
	logger  *slog.Logger
	now     func() time.Time

	accounts   map[string]*accountState
	accountsMu sync.Mutex
}

// NewReconcileService creates a new reconciliation service.
func NewReconcileService(store storage.Repository, cfg Config, logger *slog.Logger) *ReconcileService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &ReconcileService{
		cfg:      cfg,
		storage:  store,
		matcher:  matcher.NewMatcher(cfg.Matching),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		accounts: make(map[string]*accountState),
	}
}

// Matcher returns the matcher in use.
func (s *ReconcileService) Matcher() *matcher.Matcher { return s.matcher }

func (s *ReconcileService) account(id string) *accountState {
	s.accountsMu.Lock()
	defer s.accountsMu.Unlock()

	st, ok := s.accounts[id]
	if !ok {
		st = &accountState{sem: make(chan struct{}, 1)}
		s.accounts[id] = st
	}
	return st
}

// withAccount runs fn while holding the account lock, waiting for it if a
// pass is running.
func (s *ReconcileService) withAccount(ctx context.Context, accountID string, fn func(st *accountState) error) error {
	st := s.account(accountID)
	if err := st.lock(ctx); err != nil {
		return fmt.Errorf("waiting for account %s: %w", accountID, err)
	}
	defer st.unlock()
	return fn(st)
}

// ensureIndex loads the pending pool of an account when it is not cached.
// Caller holds the account lock.
func (s *ReconcileService) ensureIndex(ctx context.Context, accountID string, st *accountState) (*index.Index, error) {
	if st.idx != nil {
		return st.idx, nil
	}
	expenses, err := s.storage.ListExpenses(ctx, accountID, model.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending expenses: %w", err)
	}
	receipts, err := s.storage.ListReceipts(ctx, accountID, model.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending receipts: %w", err)
	}
	st.idx = index.Build(accountID, expenses, receipts)
	return st.idx, nil
}

// applyToIndex mirrors committed status changes into an index: pending
// entities are (re)inserted, everything else is removed.
func applyToIndex(idx *index.Index, cs *reconcile.Changeset) {
	if idx == nil {
		return
	}
	for _, ch := range cs.Expenses {
		if ch.After.Status == model.StatusPending {
			idx.Insert(index.ExpenseItem(ch.After))
		} else {
			idx.Remove(index.KindExpense, ch.After.ID)
		}
	}
	for _, ch := range cs.Receipts {
		if ch.After.Status == model.StatusPending {
			idx.Insert(index.ReceiptItem(ch.After))
		} else {
			idx.Remove(index.KindReceipt, ch.After.ID)
		}
	}
}

// commit writes a changeset for a manual operation. Stale entities are
// returned to the caller unchanged; any other failure is a TransactionError
// and drops the cached index.
func (s *ReconcileService) commit(ctx context.Context, st *accountState, cs *reconcile.Changeset) error {
	err := s.storage.Commit(ctx, cs)
	if err == nil {
		applyToIndex(st.idx, cs)
		return nil
	}
	st.idx = nil
	if errors.Is(err, reconcile.ErrReferentialIntegrity) {
		return err
	}
	s.logger.Error("commit failed",
		slog.String("account_id", cs.AccountID),
		slog.Int("audit_entries", len(cs.Audit)),
		slog.String("error", err.Error()),
	)
	return &reconcile.TransactionError{AccountID: cs.AccountID, Err: err}
}

// rejectedPairs returns the pairs a user unlinked or undid. They are never
// matched automatically again; a manual match is still possible.
func (s *ReconcileService) rejectedPairs(ctx context.Context, accountID string) (map[[2]string]bool, error) {
	entries, err := s.storage.ListAudit(ctx, accountID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit log: %w", err)
	}
	rejected := make(map[[2]string]bool)
	for _, a := range entries {
		if a.Action == model.ActionUnlink || a.Action == model.ActionUndo {
			rejected[[2]string{a.ExpenseID, a.ReceiptID}] = true
		}
	}
	return rejected, nil
}

func (s *ReconcileService) candidateGraph(idx *index.Index, rejected map[[2]string]bool) *matcher.Graph {
	g := s.matcher.BuildGraph(idx)
	if len(rejected) == 0 {
		return g
	}
	return g.Exclude(func(c matcher.MatchCandidate) bool {
		return rejected[[2]string{c.ExpenseID, c.ReceiptID}]
	})
}
