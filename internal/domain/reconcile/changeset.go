package reconcile

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
)

// ExpenseChange is the staged new state of an expense. Before is the status
// the entity must still have in storage for the change to apply.
type ExpenseChange struct {
	Before model.Status
	After  model.Expense
}

// ReceiptChange is the staged new state of a receipt.
type ReceiptChange struct {
	Before model.Status
	After  model.Receipt
}

// Changeset collects the transitions of one operation. Storage applies it
// in one transaction, audit entries first.
//
// An entity staged more than once keeps its original Before and its latest
// After. Methods always operate on the staged version of an entity when one
// exists, so callers may pass the snapshot value they loaded.
type Changeset struct {
	AccountID string
	Now       time.Time

	Audit    []model.AuditEntry
	Expenses []ExpenseChange
	Receipts []ReceiptChange

	expenseAt map[string]int
	receiptAt map[string]int
	newID     func() string
}

// NewChangeset starts an empty changeset for an account.
func NewChangeset(accountID string, now time.Time) *Changeset {
	return &Changeset{
		AccountID: accountID,
		Now:       now.UTC(),
		expenseAt: make(map[string]int),
		receiptAt: make(map[string]int),
		newID:     uuid.NewString,
	}
}

// Empty reports whether the changeset would write nothing.
func (c *Changeset) Empty() bool {
	return len(c.Audit) == 0 && len(c.Expenses) == 0 && len(c.Receipts) == 0
}

// Expense returns the staged version of an expense.
func (c *Changeset) Expense(id string) (model.Expense, bool) {
	i, ok := c.expenseAt[id]
	if !ok {
		return model.Expense{}, false
	}
	return c.Expenses[i].After, true
}

// Receipt returns the staged version of a receipt.
func (c *Changeset) Receipt(id string) (model.Receipt, bool) {
	i, ok := c.receiptAt[id]
	if !ok {
		return model.Receipt{}, false
	}
	return c.Receipts[i].After, true
}

func (c *Changeset) currentExpense(e model.Expense) model.Expense {
	if staged, ok := c.Expense(e.ID); ok {
		return staged
	}
	return e
}

func (c *Changeset) currentReceipt(r model.Receipt) model.Receipt {
	if staged, ok := c.Receipt(r.ID); ok {
		return staged
	}
	return r
}

func (c *Changeset) stageExpense(before model.Status, e model.Expense) {
	e.UpdatedAt = c.Now
	if i, ok := c.expenseAt[e.ID]; ok {
		c.Expenses[i].After = e
		return
	}
	c.expenseAt[e.ID] = len(c.Expenses)
	c.Expenses = append(c.Expenses, ExpenseChange{Before: before, After: e})
}

func (c *Changeset) stageReceipt(before model.Status, r model.Receipt) {
	r.UpdatedAt = c.Now
	if i, ok := c.receiptAt[r.ID]; ok {
		c.Receipts[i].After = r
		return
	}
	c.receiptAt[r.ID] = len(c.Receipts)
	c.Receipts = append(c.Receipts, ReceiptChange{Before: before, After: r})
}

func (c *Changeset) appendAudit(entry model.AuditEntry) model.AuditEntry {
	entry.ID = c.newID()
	entry.AccountID = c.AccountID
	entry.Timestamp = c.Now
	c.Audit = append(c.Audit, entry)
	return entry
}

func (c *Changeset) checkAccount(accountID string) error {
	if accountID != c.AccountID {
		return fmt.Errorf("%w: %s is not %s", ErrAccountMismatch, accountID, c.AccountID)
	}
	return nil
}

func requireStatus(kind, id string, actual, expected model.Status) error {
	if actual != expected {
		return &ReferentialIntegrityError{Kind: kind, EntityID: id, Expected: expected, Actual: actual}
	}
	return nil
}

// Match links a pending expense and a pending receipt.
func (c *Changeset) Match(e model.Expense, r model.Receipt, actor model.Actor, action model.Action, score float64) (model.AuditEntry, error) {
	if err := c.checkAccount(e.AccountID); err != nil {
		return model.AuditEntry{}, err
	}
	if err := c.checkAccount(r.AccountID); err != nil {
		return model.AuditEntry{}, err
	}
	e, r = c.currentExpense(e), c.currentReceipt(r)
	if err := requireStatus("expense", e.ID, e.Status, model.StatusPending); err != nil {
		return model.AuditEntry{}, err
	}
	if err := requireStatus("receipt", r.ID, r.Status, model.StatusPending); err != nil {
		return model.AuditEntry{}, err
	}

	before := c.before(e, r)
	e.Status, e.ReceiptID, e.MissCount = model.StatusMatched, r.ID, 0
	r.Status, r.ExpenseID, r.MissCount = model.StatusMatched, e.ID, 0
	c.stageExpense(before.expense, e)
	c.stageReceipt(before.receipt, r)

	return c.appendAudit(model.AuditEntry{
		Actor:          actor,
		Action:         action,
		PreviousStatus: model.StatusPending,
		NewStatus:      model.StatusMatched,
		ExpenseID:      e.ID,
		ReceiptID:      r.ID,
		Score:          score,
	}), nil
}

// Unlink breaks a mutual link and returns both sides to pending. ref names
// the audit entry being reversed and is set for undo.
func (c *Changeset) Unlink(e model.Expense, r model.Receipt, actor model.Actor, action model.Action, ref string) (model.AuditEntry, error) {
	if err := c.checkAccount(e.AccountID); err != nil {
		return model.AuditEntry{}, err
	}
	if err := c.checkAccount(r.AccountID); err != nil {
		return model.AuditEntry{}, err
	}
	e, r = c.currentExpense(e), c.currentReceipt(r)
	if err := requireStatus("expense", e.ID, e.Status, model.StatusMatched); err != nil {
		return model.AuditEntry{}, err
	}
	if err := requireStatus("receipt", r.ID, r.Status, model.StatusMatched); err != nil {
		return model.AuditEntry{}, err
	}
	if e.ReceiptID != r.ID || r.ExpenseID != e.ID {
		return model.AuditEntry{}, fmt.Errorf("%w: expense %s and receipt %s are not linked to each other",
			ErrReferentialIntegrity, e.ID, r.ID)
	}

	before := c.before(e, r)
	e.Status, e.ReceiptID, e.MissCount = model.StatusPending, "", 0
	r.Status, r.ExpenseID, r.MissCount = model.StatusPending, "", 0
	c.stageExpense(before.expense, e)
	c.stageReceipt(before.receipt, r)

	return c.appendAudit(model.AuditEntry{
		Actor:          actor,
		Action:         action,
		PreviousStatus: model.StatusMatched,
		NewStatus:      model.StatusPending,
		ExpenseID:      e.ID,
		ReceiptID:      r.ID,
		RefEntryID:     ref,
	}), nil
}

// MarkExpenseUnmatched moves an expense the matcher gave up on out of the pool.
func (c *Changeset) MarkExpenseUnmatched(e model.Expense) (model.AuditEntry, error) {
	return c.moveExpense(e, model.StatusUnmatched, model.ActorSystem, model.ActionMarkUnmatched)
}

// MarkReceiptUnmatched moves a receipt the matcher gave up on out of the pool.
func (c *Changeset) MarkReceiptUnmatched(r model.Receipt) (model.AuditEntry, error) {
	return c.moveReceipt(r, model.StatusUnmatched, model.ActorSystem, model.ActionMarkUnmatched)
}

// ReactivateExpense returns an unmatched expense to the pool.
func (c *Changeset) ReactivateExpense(e model.Expense, actor model.Actor) (model.AuditEntry, error) {
	return c.moveExpense(e, model.StatusPending, actor, model.ActionReactivate)
}

// ReactivateReceipt returns an unmatched receipt to the pool.
func (c *Changeset) ReactivateReceipt(r model.Receipt, actor model.Actor) (model.AuditEntry, error) {
	return c.moveReceipt(r, model.StatusPending, actor, model.ActionReactivate)
}

func (c *Changeset) moveExpense(e model.Expense, to model.Status, actor model.Actor, action model.Action) (model.AuditEntry, error) {
	if err := c.checkAccount(e.AccountID); err != nil {
		return model.AuditEntry{}, err
	}
	e = c.currentExpense(e)
	from := e.Status
	if err := Transition(from, to); err != nil {
		return model.AuditEntry{}, fmt.Errorf("expense %s: %w", e.ID, err)
	}
	before := from
	if i, ok := c.expenseAt[e.ID]; ok {
		before = c.Expenses[i].Before
	}
	e.Status, e.MissCount = to, 0
	c.stageExpense(before, e)
	return c.appendAudit(model.AuditEntry{
		Actor:          actor,
		Action:         action,
		PreviousStatus: from,
		NewStatus:      to,
		ExpenseID:      e.ID,
	}), nil
}

func (c *Changeset) moveReceipt(r model.Receipt, to model.Status, actor model.Actor, action model.Action) (model.AuditEntry, error) {
	if err := c.checkAccount(r.AccountID); err != nil {
		return model.AuditEntry{}, err
	}
	r = c.currentReceipt(r)
	from := r.Status
	if err := Transition(from, to); err != nil {
		return model.AuditEntry{}, fmt.Errorf("receipt %s: %w", r.ID, err)
	}
	before := from
	if i, ok := c.receiptAt[r.ID]; ok {
		before = c.Receipts[i].Before
	}
	r.Status, r.MissCount = to, 0
	c.stageReceipt(before, r)
	return c.appendAudit(model.AuditEntry{
		Actor:          actor,
		Action:         action,
		PreviousStatus: from,
		NewStatus:      to,
		ReceiptID:      r.ID,
	}), nil
}

// SetExpenseMisses records a miss count without changing status. It is not
// a transition and writes no audit entry.
func (c *Changeset) SetExpenseMisses(e model.Expense, misses int) {
	e = c.currentExpense(e)
	if e.MissCount == misses {
		return
	}
	before := e.Status
	if i, ok := c.expenseAt[e.ID]; ok {
		before = c.Expenses[i].Before
	}
	e.MissCount = misses
	c.stageExpense(before, e)
}

// SetReceiptMisses is SetExpenseMisses for receipts.
func (c *Changeset) SetReceiptMisses(r model.Receipt, misses int) {
	r = c.currentReceipt(r)
	if r.MissCount == misses {
		return
	}
	before := r.Status
	if i, ok := c.receiptAt[r.ID]; ok {
		before = c.Receipts[i].Before
	}
	r.MissCount = misses
	c.stageReceipt(before, r)
}

type beforeStatus struct {
	expense model.Status
	receipt model.Status
}

func (c *Changeset) before(e model.Expense, r model.Receipt) beforeStatus {
	b := beforeStatus{expense: e.Status, receipt: r.Status}
	if i, ok := c.expenseAt[e.ID]; ok {
		b.expense = c.Expenses[i].Before
	}
	if i, ok := c.receiptAt[r.ID]; ok {
		b.receipt = c.Receipts[i].Before
	}
	return b
}

// Without returns a copy of the changeset with every change that touches one
// of ids removed. Removal follows audit links: dropping a receipt also drops
// the expense it was being matched with, and that expense's other entries.
func (c *Changeset) Without(ids ...string) *Changeset {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	for changed := true; changed; {
		changed = false
		for _, a := range c.Audit {
			if !drop[a.ExpenseID] && !drop[a.ReceiptID] {
				continue
			}
			for _, id := range []string{a.ExpenseID, a.ReceiptID} {
				if id != "" && !drop[id] {
					drop[id] = true
					changed = true
				}
			}
		}
	}

	out := NewChangeset(c.AccountID, c.Now)
	out.newID = c.newID
	for _, a := range c.Audit {
		if drop[a.ExpenseID] || drop[a.ReceiptID] {
			continue
		}
		out.Audit = append(out.Audit, a)
	}
	for _, ch := range c.Expenses {
		if drop[ch.After.ID] {
			continue
		}
		out.expenseAt[ch.After.ID] = len(out.Expenses)
		out.Expenses = append(out.Expenses, ch)
	}
	for _, ch := range c.Receipts {
		if drop[ch.After.ID] {
			continue
		}
		out.receiptAt[ch.After.ID] = len(out.Receipts)
		out.Receipts = append(out.Receipts, ch)
	}
	return out
}

// Transitions counts audit entries by action.
func (c *Changeset) Transitions() map[model.Action]int {
	out := make(map[model.Action]int)
	for _, a := range c.Audit {
		out[a.Action]++
	}
	return out
}
