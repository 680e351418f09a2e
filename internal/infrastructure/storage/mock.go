package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/reconcile"
)

// MockRepository is an in-memory implementation of Repository for testing.
// Commit is all-or-nothing like the SQLite implementation.
type MockRepository struct {
	mu sync.Mutex

	expenses  map[string]model.Expense
	receipts  map[string]model.Receipt
	audit     []model.AuditEntry
	review    map[string]model.ReviewItem
	runs      []model.MatchRun
	nextRunID int64

	commitsFailed int

	// Hooks for test assertions
	CommitCalls  int
	LastCommit   *reconcile.Changeset
	CreatedCount int

	// Error injection for testing error paths
	CreateExpenseErr error
	CreateReceiptErr error
	CreateReviewErr  error
	CommitErr        error
	ListExpensesErr  error
	StartMatchRunErr error
	CompleteRunErr   error
	ListAuditErr     error
	CommitFailures   int // how many commits fail with CommitErr, 0 = all

	// StaleOnCommit makes Commit report any listed entity id as stale
	StaleOnCommit map[string]bool
}

// NewMockRepository creates a new mock repository for testing
func NewMockRepository() *MockRepository {
	return &MockRepository{
		expenses:      make(map[string]model.Expense),
		receipts:      make(map[string]model.Receipt),
		review:        make(map[string]model.ReviewItem),
		nextRunID:     1,
		StaleOnCommit: make(map[string]bool),
	}
}

// Compile-time check that MockRepository implements Repository
var _ Repository = (*MockRepository)(nil)

// Close does nothing for mock
func (m *MockRepository) Close() error {
	return nil
}

// CreateExpense stores an expense
func (m *MockRepository) CreateExpense(_ context.Context, e *model.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateExpenseErr != nil {
		return m.CreateExpenseErr
	}
	if e.ExternalID != "" {
		for _, existing := range m.expenses {
			if existing.AccountID == e.AccountID && existing.ExternalID == e.ExternalID {
				return fmt.Errorf("expense %s/%s: %w", e.AccountID, e.ExternalID, ErrDuplicate)
			}
		}
	}
	m.expenses[e.ID] = copyExpense(*e)
	m.CreatedCount++
	return nil
}

// GetExpense returns a copy of a stored expense
func (m *MockRepository) GetExpense(_ context.Context, id string) (*model.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.expenses[id]
	if !ok {
		return nil, fmt.Errorf("expense %s: %w", id, reconcile.ErrNotFound)
	}
	e = copyExpense(e)
	return &e, nil
}

// FindExpenseByExternalID looks up an expense by bank-feed id
func (m *MockRepository) FindExpenseByExternalID(_ context.Context, accountID, externalID string) (*model.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.expenses {
		if e.AccountID == accountID && e.ExternalID == externalID {
			e = copyExpense(e)
			return &e, nil
		}
	}
	return nil, nil
}

// ListExpenses returns the expenses of an account ordered by creation
func (m *MockRepository) ListExpenses(_ context.Context, accountID string, status model.Status) ([]model.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListExpensesErr != nil {
		return nil, m.ListExpensesErr
	}
	var out []model.Expense
	for _, e := range m.expenses {
		if e.AccountID == accountID && (status == "" || e.Status == status) {
			out = append(out, copyExpense(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// CreateReceipt stores a receipt
func (m *MockRepository) CreateReceipt(_ context.Context, r *model.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateReceiptErr != nil {
		return m.CreateReceiptErr
	}
	m.receipts[r.ID] = copyReceipt(*r)
	m.CreatedCount++
	return nil
}

// GetReceipt returns a copy of a stored receipt
func (m *MockRepository) GetReceipt(_ context.Context, id string) (*model.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.receipts[id]
	if !ok {
		return nil, fmt.Errorf("receipt %s: %w", id, reconcile.ErrNotFound)
	}
	r = copyReceipt(r)
	return &r, nil
}

// ListReceipts returns the receipts of an account ordered by creation
func (m *MockRepository) ListReceipts(_ context.Context, accountID string, status model.Status) ([]model.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Receipt
	for _, r := range m.receipts {
		if r.AccountID == accountID && (status == "" || r.Status == status) {
			out = append(out, copyReceipt(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Commit validates every staged change before applying any of them
func (m *MockRepository) Commit(_ context.Context, cs *reconcile.Changeset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CommitCalls++
	m.LastCommit = cs

	if cs == nil || cs.Empty() {
		return nil
	}
	if m.CommitErr != nil && (m.CommitFailures == 0 || m.commitsFailed < m.CommitFailures) {
		m.commitsFailed++
		return m.CommitErr
	}

	for _, ch := range cs.Expenses {
		cur, ok := m.expenses[ch.After.ID]
		if !ok || cur.Status != ch.Before || cur.AccountID != cs.AccountID || m.StaleOnCommit[ch.After.ID] {
			return &reconcile.ReferentialIntegrityError{Kind: "expense", EntityID: ch.After.ID, Expected: ch.Before}
		}
	}
	for _, ch := range cs.Receipts {
		cur, ok := m.receipts[ch.After.ID]
		if !ok || cur.Status != ch.Before || cur.AccountID != cs.AccountID || m.StaleOnCommit[ch.After.ID] {
			return &reconcile.ReferentialIntegrityError{Kind: "receipt", EntityID: ch.After.ID, Expected: ch.Before}
		}
	}

	m.audit = append(m.audit, cs.Audit...)
	for _, ch := range cs.Expenses {
		m.expenses[ch.After.ID] = copyExpense(ch.After)
	}
	for _, ch := range cs.Receipts {
		m.receipts[ch.After.ID] = copyReceipt(ch.After)
	}
	return nil
}

// ListAudit returns audit entries newest first
func (m *MockRepository) ListAudit(_ context.Context, accountID string, limit int) ([]model.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListAuditErr != nil {
		return nil, m.ListAuditErr
	}
	var out []model.AuditEntry
	for i := len(m.audit) - 1; i >= 0; i-- {
		if m.audit[i].AccountID != accountID {
			continue
		}
		out = append(out, m.audit[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetAuditEntry returns one audit entry
func (m *MockRepository) GetAuditEntry(_ context.Context, id string) (*model.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.audit {
		if a.ID == id {
			a := a
			return &a, nil
		}
	}
	return nil, fmt.Errorf("audit entry %s: %w", id, reconcile.ErrNotFound)
}

// CreateReviewItem stores a quarantined input
func (m *MockRepository) CreateReviewItem(_ context.Context, item *model.ReviewItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateReviewErr != nil {
		return m.CreateReviewErr
	}
	m.review[item.ID] = *item
	return nil
}

// GetReviewItem returns a quarantined input
func (m *MockRepository) GetReviewItem(_ context.Context, id string) (*model.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.review[id]
	if !ok {
		return nil, fmt.Errorf("review item %s: %w", id, reconcile.ErrNotFound)
	}
	return &item, nil
}

// ListReviewItems returns the review queue of an account
func (m *MockRepository) ListReviewItems(_ context.Context, accountID string) ([]model.ReviewItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ReviewItem
	for _, item := range m.review {
		if item.AccountID == accountID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteReviewItem removes a quarantined input
func (m *MockRepository) DeleteReviewItem(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.review[id]; !ok {
		return fmt.Errorf("review item %s: %w", id, reconcile.ErrNotFound)
	}
	delete(m.review, id)
	return nil
}

// StartMatchRun records a running pass
func (m *MockRepository) StartMatchRun(_ context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StartMatchRunErr != nil {
		return 0, m.StartMatchRunErr
	}
	id := m.nextRunID
	m.nextRunID++
	m.runs = append(m.runs, model.MatchRun{
		ID:        id,
		AccountID: accountID,
		StartedAt: time.Now().UTC(),
		Status:    model.RunRunning,
	})
	return id, nil
}

// CompleteMatchRun stores the outcome of a pass
func (m *MockRepository) CompleteMatchRun(_ context.Context, run *model.MatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CompleteRunErr != nil {
		return m.CompleteRunErr
	}
	for i := range m.runs {
		if m.runs[i].ID != run.ID {
			continue
		}
		started := m.runs[i].StartedAt
		m.runs[i] = *run
		m.runs[i].StartedAt = started
		if m.runs[i].CompletedAt == nil {
			now := time.Now().UTC()
			m.runs[i].CompletedAt = &now
		}
		return nil
	}
	return fmt.Errorf("match run %d: %w", run.ID, reconcile.ErrNotFound)
}

// ListMatchRuns returns runs newest first
func (m *MockRepository) ListMatchRuns(_ context.Context, accountID string, limit int) ([]model.MatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.MatchRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].AccountID != accountID {
			continue
		}
		out = append(out, m.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ListAccounts returns every account with at least one entity
func (m *MockRepository) ListAccounts(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	for _, e := range m.expenses {
		seen[e.AccountID] = true
	}
	for _, r := range m.receipts {
		seen[r.AccountID] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// GetStats counts entities by status
func (m *MockRepository) GetStats(_ context.Context, accountID string) (*model.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &model.Stats{AccountID: accountID}
	for _, e := range m.expenses {
		if e.AccountID == accountID {
			stats.Expenses.Add(e.Status, 1)
		}
	}
	for _, r := range m.receipts {
		if r.AccountID == accountID {
			stats.Receipts.Add(r.Status, 1)
		}
	}
	return stats, nil
}

// AuditLen returns the total number of audit entries
func (m *MockRepository) AuditLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.audit)
}

func copyExpense(e model.Expense) model.Expense {
	e.MerchantTokens = append([]string(nil), e.MerchantTokens...)
	return e
}

func copyReceipt(r model.Receipt) model.Receipt {
	r.MerchantTokens = append([]string(nil), r.MerchantTokens...)
	return r
}
