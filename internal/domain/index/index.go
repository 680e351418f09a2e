// Package index maintains the per-account pending pool.
//
// For each entity kind the index keeps two slices sorted by absolute amount
// and by date. A window query binary-searches both orderings, scans only the
// narrower of the two ranges and filters it by the other predicate, so a
// lookup never walks the full pool. Inserts and removals are incremental.
//
// An Index is not safe for concurrent use; the reconciliation service only
// touches it while holding the owning account's lock.
package index

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
	"github.com/eshaffer321/receipt-reconciler/internal/domain/normalizer"
)

// Kind distinguishes the two sides of the bipartite pool.
type Kind int

const (
	KindExpense Kind = iota
	KindReceipt
)

func (k Kind) String() string {
	if k == KindReceipt {
		return "receipt"
	}
	return "expense"
}

// Item is one pending entity in matching shape.
type Item struct {
	ID        string
	Kind      Kind
	CreatedAt time.Time
	Candidate normalizer.Candidate
}

// Window is an inclusive range query.
type Window struct {
	MinAmount decimal.Decimal // absolute amounts
	MaxAmount decimal.Decimal
	From      time.Time
	To        time.Time
}

type entry struct {
	item Item
	abs  decimal.Decimal
}

type pool struct {
	byAmount []*entry
	byDate   []*entry
	byID     map[string]*entry
}

func newPool() *pool {
	return &pool{byID: make(map[string]*entry)}
}

// Index is the pending pool of one account.
type Index struct {
	accountID string
	pools     [2]*pool
}

// New creates an empty index for an account.
func New(accountID string) *Index {
	return &Index{
		accountID: accountID,
		pools:     [2]*pool{newPool(), newPool()},
	}
}

// AccountID returns the owning account.
func (x *Index) AccountID() string { return x.accountID }

// ExpenseItem converts an expense into its index item.
func ExpenseItem(e model.Expense) Item {
	return Item{
		ID:        e.ID,
		Kind:      KindExpense,
		CreatedAt: e.CreatedAt,
		Candidate: normalizer.Candidate{
			Amount:         e.Amount,
			Date:           e.Date,
			Merchant:       e.Merchant,
			MerchantTokens: e.MerchantTokens,
			Confidence:     1,
			Fields:         model.FullConfidence(),
		},
	}
}

// ReceiptItem converts a receipt into its index item.
func ReceiptItem(r model.Receipt) Item {
	fields := r.OCR.Confidence
	return Item{
		ID:        r.ID,
		Kind:      KindReceipt,
		CreatedAt: r.CreatedAt,
		Candidate: normalizer.Candidate{
			Amount:         r.Amount,
			Date:           r.Date,
			Merchant:       r.Merchant,
			MerchantTokens: r.MerchantTokens,
			Confidence:     (fields.Amount + fields.Date + fields.Merchant) / 3,
			Fields:         fields,
		},
	}
}

// Build creates an index from the pending entities of an account. Entities in
// any other status are skipped.
func Build(accountID string, expenses []model.Expense, receipts []model.Receipt) *Index {
	x := New(accountID)
	for _, e := range expenses {
		if e.Status == model.StatusPending {
			x.Insert(ExpenseItem(e))
		}
	}
	for _, r := range receipts {
		if r.Status == model.StatusPending {
			x.Insert(ReceiptItem(r))
		}
	}
	return x
}

func amountLess(a, b *entry) bool {
	if c := a.abs.Cmp(b.abs); c != 0 {
		return c < 0
	}
	return a.item.ID < b.item.ID
}

func dateLess(a, b *entry) bool {
	if !a.item.Candidate.Date.Equal(b.item.Candidate.Date) {
		return a.item.Candidate.Date.Before(b.item.Candidate.Date)
	}
	return a.item.ID < b.item.ID
}

// Insert adds an item, replacing any existing item with the same id.
func (x *Index) Insert(it Item) {
	p := x.pools[it.Kind]
	if _, ok := p.byID[it.ID]; ok {
		x.Remove(it.Kind, it.ID)
	}

	e := &entry{item: it, abs: it.Candidate.Amount.Abs()}
	p.byID[it.ID] = e
	p.byAmount = insertSorted(p.byAmount, e, amountLess)
	p.byDate = insertSorted(p.byDate, e, dateLess)
}

// Remove deletes an item. It reports whether the item was present.
func (x *Index) Remove(kind Kind, id string) bool {
	p := x.pools[kind]
	e, ok := p.byID[id]
	if !ok {
		return false
	}
	delete(p.byID, id)
	p.byAmount = removeSorted(p.byAmount, e, amountLess)
	p.byDate = removeSorted(p.byDate, e, dateLess)
	return true
}

// Has reports whether an item is in the pool.
func (x *Index) Has(kind Kind, id string) bool {
	_, ok := x.pools[kind].byID[id]
	return ok
}

// Get returns an item by id.
func (x *Index) Get(kind Kind, id string) (Item, bool) {
	e, ok := x.pools[kind].byID[id]
	if !ok {
		return Item{}, false
	}
	return e.item, true
}

// Len returns the number of pending items of a kind.
func (x *Index) Len(kind Kind) int {
	return len(x.pools[kind].byID)
}

// Items returns every pending item of a kind ordered by creation time then id.
func (x *Index) Items(kind Kind) []Item {
	p := x.pools[kind]
	items := make([]Item, 0, len(p.byID))
	for _, e := range p.byAmount {
		items = append(items, e.item)
	}
	SortByCreated(items)
	return items
}

// Query returns the items of a kind inside the window.
func (x *Index) Query(kind Kind, w Window) []Item {
	p := x.pools[kind]

	aLo := sort.Search(len(p.byAmount), func(i int) bool {
		return p.byAmount[i].abs.GreaterThanOrEqual(w.MinAmount)
	})
	aHi := sort.Search(len(p.byAmount), func(i int) bool {
		return p.byAmount[i].abs.GreaterThan(w.MaxAmount)
	})
	dLo := sort.Search(len(p.byDate), func(i int) bool {
		return !p.byDate[i].item.Candidate.Date.Before(w.From)
	})
	dHi := sort.Search(len(p.byDate), func(i int) bool {
		return p.byDate[i].item.Candidate.Date.After(w.To)
	})
	if aHi <= aLo || dHi <= dLo {
		return nil
	}

	var out []Item
	if aHi-aLo <= dHi-dLo {
		for _, e := range p.byAmount[aLo:aHi] {
			d := e.item.Candidate.Date
			if !d.Before(w.From) && !d.After(w.To) {
				out = append(out, e.item)
			}
		}
		return out
	}
	for _, e := range p.byDate[dLo:dHi] {
		if e.abs.GreaterThanOrEqual(w.MinAmount) && e.abs.LessThanOrEqual(w.MaxAmount) {
			out = append(out, e.item)
		}
	}
	return out
}

// SortByCreated orders items by creation time, then id.
func SortByCreated(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func insertSorted(s []*entry, e *entry, less func(a, b *entry) bool) []*entry {
	i := sort.Search(len(s), func(i int) bool { return !less(s[i], e) })
	s = append(s, nil)
	copy(s[i+1:], s[i:])
	s[i] = e
	return s
}

func removeSorted(s []*entry, e *entry, less func(a, b *entry) bool) []*entry {
	i := sort.Search(len(s), func(i int) bool { return !less(s[i], e) })
	if i < len(s) && s[i] == e {
		copy(s[i:], s[i+1:])
		s[len(s)-1] = nil
		return s[:len(s)-1]
	}
	return s
}
