package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/index"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/matcher"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
)

// PendingItem is one pending entity with its ranked candidates.
type PendingItem struct {
	ID         string                   `json:"id"`
	Kind       string                   `json:"kind"`
	Merchant   string                   `json:"merchant"`
	Amount     decimal.Decimal          `json:"amount"`
	Date       time.Time                `json:"date"`
	Candidates []matcher.MatchCandidate `json:"candidates"`
}

// PendingCandidates is the reviewable state of an account's pool.
type PendingCandidates struct {
	AccountID string        `json:"account_id"`
	Expenses  []PendingItem `json:"expenses"`
	Receipts  []PendingItem `json:"receipts"`
}

// GetPendingCandidates lists every pending entity of an account with the
// candidates a pass would consider for it, best first.
func (s *ReconcileService) GetPendingCandidates(ctx context.Context, accountID string) (*PendingCandidates, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	out := &PendingCandidates{
		AccountID: accountID,
		Expenses:  []PendingItem{},
		Receipts:  []PendingItem{},
	}
	err := s.withAccount(ctx, accountID, func(st *accountState) error {
		idx, err := s.ensureIndex(ctx, accountID, st)
		if err != nil {
			return err
		}
		rejected, err := s.rejectedPairs(ctx, accountID)
		if err != nil {
			return err
		}
		g := s.candidateGraph(idx, rejected)

		for _, it := range idx.Items(index.KindExpense) {
			out.Expenses = append(out.Expenses, pendingItem(it, g.ForExpense(it.ID)))
		}
		for _, it := range idx.Items(index.KindReceipt) {
			out.Receipts = append(out.Receipts, pendingItem(it, g.ForReceipt(it.ID)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func pendingItem(it index.Item, candidates []matcher.MatchCandidate) PendingItem {
	return PendingItem{
		ID:         it.ID,
		Kind:       it.Kind.String(),
		Merchant:   it.Candidate.Merchant,
		Amount:     it.Candidate.Amount,
		Date:       it.Candidate.Date,
		Candidates: candidates,
	}
}

// GetExpense returns an expense by id
func (s *ReconcileService) GetExpense(ctx context.Context, id string) (*model.Expense, error) {
	return s.storage.GetExpense(ctx, id)
}

// GetReceipt returns a receipt by id
func (s *ReconcileService) GetReceipt(ctx context.Context, id string) (*model.Receipt, error) {
	return s.storage.GetReceipt(ctx, id)
}

// ListExpenses returns the expenses of an account, optionally by status
func (s *ReconcileService) ListExpenses(ctx context.Context, accountID string, status model.Status) ([]model.Expense, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.storage.ListExpenses(ctx, accountID, status)
}

// ListReceipts returns the receipts of an account, optionally by status
func (s *ReconcileService) ListReceipts(ctx context.Context, accountID string, status model.Status) ([]model.Receipt, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.storage.ListReceipts(ctx, accountID, status)
}

// ListAudit returns the newest audit entries of an account
func (s *ReconcileService) ListAudit(ctx context.Context, accountID string, limit int) ([]model.AuditEntry, error) {
	return s.storage.ListAudit(ctx, accountID, limit)
}

// ListRuns returns the most recent match runs of an account
func (s *ReconcileService) ListRuns(ctx context.Context, accountID string, limit int) ([]model.MatchRun, error) {
	return s.storage.ListMatchRuns(ctx, accountID, limit)
}

// Stats returns per-status counts for an account
func (s *ReconcileService) Stats(ctx context.Context, accountID string) (*model.Stats, error) {
	return s.storage.GetStats(ctx, accountID)
}

// Accounts lists every known account
func (s *ReconcileService) Accounts(ctx context.Context) ([]string, error) {
	return s.storage.ListAccounts(ctx)
}
