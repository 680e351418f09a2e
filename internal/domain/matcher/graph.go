package matcher

import "sort"

// Graph is the bipartite candidate graph of one pass. Edges carry the scored
// pairs that reached the candidate floor.
type Graph struct {
	edges     []MatchCandidate
	byExpense map[string][]int
	byReceipt map[string][]int
}

func newGraph() *Graph {
	return &Graph{
		byExpense: make(map[string][]int),
		byReceipt: make(map[string][]int),
	}
}

func (g *Graph) add(c MatchCandidate) {
	g.byExpense[c.ExpenseID] = append(g.byExpense[c.ExpenseID], len(g.edges))
	g.byReceipt[c.ReceiptID] = append(g.byReceipt[c.ReceiptID], len(g.edges))
	g.edges = append(g.edges, c)
}

// Len returns the number of edges.
func (g *Graph) Len() int { return len(g.edges) }

// HasExpense reports whether an expense has at least one candidate.
func (g *Graph) HasExpense(id string) bool { return len(g.byExpense[id]) > 0 }

// HasReceipt reports whether a receipt has at least one candidate.
func (g *Graph) HasReceipt(id string) bool { return len(g.byReceipt[id]) > 0 }

// ForExpense returns the candidates of an expense, best first.
func (g *Graph) ForExpense(id string) []MatchCandidate {
	out := g.collect(g.byExpense[id])
	sort.SliceStable(out, func(i, j int) bool { return betterForExpense(out[i], out[j]) })
	return out
}

// ForReceipt returns the candidates of a receipt, best first.
func (g *Graph) ForReceipt(id string) []MatchCandidate {
	out := g.collect(g.byReceipt[id])
	sort.SliceStable(out, func(i, j int) bool { return betterForReceipt(out[i], out[j]) })
	return out
}

// Exclude returns a graph without the edges drop reports true for.
func (g *Graph) Exclude(drop func(MatchCandidate) bool) *Graph {
	out := newGraph()
	for _, c := range g.edges {
		if !drop(c) {
			out.add(c)
		}
	}
	return out
}

func (g *Graph) collect(idx []int) []MatchCandidate {
	out := make([]MatchCandidate, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.edges[i])
	}
	return out
}
