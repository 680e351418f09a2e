// Package matcher scores (expense, receipt) pairs and resolves the pending
// pool into mutually best matches.
//
// Scoring:
//   - Amount: 1.0 within AmountTolerance, decaying linearly to 0 at the edge
//     of the percentage slack band; farther apart is not a candidate
//   - Date: linear decay from 1.0 on the same day to 0 at DateTolerance days
//   - Merchant: Jaccard similarity of normalized tokens, where long tokens
//     within a small edit distance count as equal (OCR misreads)
//
// Each sub-score is multiplied by the field confidence of both sides and the
// composite is the weighted sum.
//
// Resolution accepts a pair only when each side is the other's highest
// scoring candidate and the score reaches AcceptThreshold. Rounds repeat
// until nothing new is accepted. Equal scores go to the earliest created
// entity, then the lowest id, so results never depend on map order.
//
// Example usage:
//
//	m := matcher.NewMatcher(matcher.DefaultConfig())
//	graph := m.BuildGraph(idx)
//	for _, pair := range m.Resolve(graph) {
//		// pair.ExpenseID <-> pair.ReceiptID
//	}
package matcher

import (
	"math"
	"sort"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/index"
)

const scoreEpsilon = 1e-9

// Matcher matches pending expenses with pending receipts
type Matcher struct {
	config    Config
	tolerance decimal.Decimal
	slack     decimal.Decimal
}

// NewMatcher creates a new matcher with the given config
func NewMatcher(config Config) *Matcher {
	return &Matcher{
		config:    config,
		tolerance: decimal.NewFromFloat(config.AmountTolerance),
		slack:     decimal.NewFromFloat(config.AmountSlackPercent),
	}
}

// Config returns the matcher configuration.
func (m *Matcher) Config() Config { return m.config }

// WindowFor returns the candidate window around an item. The amount range
// covers every counterpart whose difference is within tolerance plus slack of
// the larger of the two amounts.
func (m *Matcher) WindowFor(it index.Item) index.Window {
	a := it.Candidate.Amount.Abs()
	lo := a.Sub(m.tolerance).Sub(a.Mul(m.slack))
	if lo.IsNegative() {
		lo = decimal.Zero
	}
	hi := a.Add(m.tolerance).Div(decimal.NewFromInt(1).Sub(m.slack))

	days := m.config.DateTolerance
	return index.Window{
		MinAmount: lo,
		MaxAmount: hi,
		From:      it.Candidate.Date.AddDate(0, 0, -days),
		To:        it.Candidate.Date.AddDate(0, 0, days),
	}
}

// Score computes the composite score of an expense/receipt pair.
// It returns false when the pair falls outside the candidate window.
func (m *Matcher) Score(expense, receipt index.Item) (MatchCandidate, bool) {
	e, r := expense.Candidate, receipt.Candidate

	ea, ra := e.Amount.Abs(), r.Amount.Abs()
	amountDiff := ea.Sub(ra).Abs()
	edge := m.tolerance.Add(decimal.Max(ea, ra).Mul(m.slack))
	if amountDiff.GreaterThan(edge) {
		return MatchCandidate{}, false
	}

	dateDiff := math.Abs(e.Date.Sub(r.Date).Hours() / 24)
	window := float64(m.config.DateTolerance)
	if dateDiff > window {
		return MatchCandidate{}, false
	}

	amountScore := 1.0
	if amountDiff.GreaterThan(m.tolerance) {
		band := edge.Sub(m.tolerance)
		over := amountDiff.Sub(m.tolerance)
		amountScore = 1 - over.Div(band).InexactFloat64()
	}
	amountScore = clamp01(amountScore) * e.Fields.Amount * r.Fields.Amount

	dateScore := clamp01(1-dateDiff/window) * e.Fields.Date * r.Fields.Date

	merchantScore := m.tokenSimilarity(e.MerchantTokens, r.MerchantTokens) * e.Fields.Merchant * r.Fields.Merchant

	score := m.config.AmountWeight*amountScore +
		m.config.DateWeight*dateScore +
		m.config.MerchantWeight*merchantScore

	return MatchCandidate{
		ExpenseID:      expense.ID,
		ReceiptID:      receipt.ID,
		Score:          clamp01(score),
		AmountScore:    amountScore,
		DateScore:      dateScore,
		MerchantScore:  merchantScore,
		DateDiff:       dateDiff,
		AmountDiff:     amountDiff,
		expenseCreated: expense.CreatedAt,
		receiptCreated: receipt.CreatedAt,
	}, true
}

// CandidatesFor returns the scored counterparts of an item that reach the
// candidate floor, best first. The item itself does not need to be indexed.
func (m *Matcher) CandidatesFor(idx *index.Index, it index.Item) []MatchCandidate {
	other := index.KindExpense
	if it.Kind == index.KindExpense {
		other = index.KindReceipt
	}

	var out []MatchCandidate
	for _, o := range idx.Query(other, m.WindowFor(it)) {
		var c MatchCandidate
		var ok bool
		if it.Kind == index.KindExpense {
			c, ok = m.Score(it, o)
		} else {
			c, ok = m.Score(o, it)
		}
		if ok && c.Score+scoreEpsilon >= m.config.CandidateFloor {
			out = append(out, c)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if it.Kind == index.KindExpense {
			return betterForExpense(out[i], out[j])
		}
		return betterForReceipt(out[i], out[j])
	})
	return out
}

// BuildGraph scores every pending receipt against the pending expenses in its
// window and keeps the edges that reach the candidate floor.
func (m *Matcher) BuildGraph(idx *index.Index) *Graph {
	g := newGraph()
	for _, r := range idx.Items(index.KindReceipt) {
		for _, e := range idx.Query(index.KindExpense, m.WindowFor(r)) {
			c, ok := m.Score(e, r)
			if !ok || c.Score+scoreEpsilon < m.config.CandidateFloor {
				continue
			}
			g.add(c)
		}
	}
	return g
}

// Resolve selects mutual best matches above the acceptance threshold.
func (m *Matcher) Resolve(g *Graph) []MatchCandidate {
	takenExpense := make(map[string]bool)
	takenReceipt := make(map[string]bool)
	var accepted []MatchCandidate

	for {
		bestForExpense := make(map[string]int)
		bestForReceipt := make(map[string]int)
		for i, c := range g.edges {
			if takenExpense[c.ExpenseID] || takenReceipt[c.ReceiptID] {
				continue
			}
			if j, ok := bestForReceipt[c.ReceiptID]; !ok || betterForReceipt(c, g.edges[j]) {
				bestForReceipt[c.ReceiptID] = i
			}
			if j, ok := bestForExpense[c.ExpenseID]; !ok || betterForExpense(c, g.edges[j]) {
				bestForExpense[c.ExpenseID] = i
			}
		}

		var round []MatchCandidate
		for _, i := range bestForReceipt {
			c := g.edges[i]
			if bestForExpense[c.ExpenseID] != i {
				continue
			}
			if c.Score+scoreEpsilon < m.config.AcceptThreshold {
				continue
			}
			round = append(round, c)
		}
		if len(round) == 0 {
			break
		}

		sort.Slice(round, func(i, j int) bool {
			if round[i].ExpenseID != round[j].ExpenseID {
				return round[i].ExpenseID < round[j].ExpenseID
			}
			return round[i].ReceiptID < round[j].ReceiptID
		})
		for _, c := range round {
			takenExpense[c.ExpenseID] = true
			takenReceipt[c.ReceiptID] = true
			accepted = append(accepted, c)
		}
	}

	return accepted
}

// betterForReceipt reports whether a ranks above b when a receipt chooses
// between two expenses.
func betterForReceipt(a, b MatchCandidate) bool {
	if d := a.Score - b.Score; math.Abs(d) > scoreEpsilon {
		return d > 0
	}
	if !a.expenseCreated.Equal(b.expenseCreated) {
		return a.expenseCreated.Before(b.expenseCreated)
	}
	return a.ExpenseID < b.ExpenseID
}

// betterForExpense reports whether a ranks above b when an expense chooses
// between two receipts.
func betterForExpense(a, b MatchCandidate) bool {
	if d := a.Score - b.Score; math.Abs(d) > scoreEpsilon {
		return d > 0
	}
	if !a.receiptCreated.Equal(b.receiptCreated) {
		return a.receiptCreated.Before(b.receiptCreated)
	}
	return a.ReceiptID < b.ReceiptID
}

// tokenSimilarity is the Jaccard index of two token sets with exact matches
// paired first and fuzzy matches second.
func (m *Matcher) tokenSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	usedA := make([]bool, len(a))
	usedB := make([]bool, len(b))
	shared := 0

	pair := func(equal func(x, y string) bool) {
		for i, x := range a {
			if usedA[i] {
				continue
			}
			for j, y := range b {
				if usedB[j] || !equal(x, y) {
					continue
				}
				usedA[i], usedB[j] = true, true
				shared++
				break
			}
		}
	}
	pair(func(x, y string) bool { return x == y })
	if m.config.FuzzyTokenDistance > 0 {
		pair(m.fuzzyEqual)
	}

	return float64(shared) / float64(len(a)+len(b)-shared)
}

func (m *Matcher) fuzzyEqual(x, y string) bool {
	min := m.config.FuzzyMinTokenLength
	if utf8.RuneCountInString(x) < min || utf8.RuneCountInString(y) < min {
		return false
	}
	return levenshtein.ComputeDistance(x, y) <= m.config.FuzzyTokenDistance
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
