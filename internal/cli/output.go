package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/eshaffer321/receipt-reconciler/internal/application/service"
)

// PrintPassResult prints one account's pass summary
func PrintPassResult(w io.Writer, r *service.PassResult) {
	fmt.Fprintf(w, "%s: matched=%d unmatched=%d reactivated=%d pending=%d discarded=%d (%s)\n",
		r.AccountID,
		len(r.Matches),
		r.Unmatched,
		r.Reactivated,
		r.Pending,
		r.Discarded,
		r.Duration.Round(time.Millisecond))
	for _, m := range r.Matches {
		fmt.Fprintf(w, "  %s %s %s <-> receipt %s (score %.3f)\n",
			m.Expense.Date.Format("2006-01-02"),
			m.Expense.Amount.StringFixed(2),
			m.Expense.Merchant,
			m.Receipt.ID,
			m.Audit.Score)
	}
}

// PrintOutcomes prints a RunAll report, one line per account
func PrintOutcomes(w io.Writer, outcomes []service.AccountOutcome) {
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(w, "%s: FAILED %v\n", o.AccountID, o.Err)
			continue
		}
		PrintPassResult(w, o.Result)
	}
	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintf(w, "Accounts=%d Failed=%d\n", len(outcomes), countFailed(outcomes))
}

// PrintUndone prints the matches reverted by undo
func PrintUndone(w io.Writer, undone []service.UndoneMatch) {
	if len(undone) == 0 {
		fmt.Fprintln(w, "Nothing to undo.")
		return
	}
	for _, u := range undone {
		fmt.Fprintf(w, "undone %s: expense %s <-> receipt %s\n", u.OriginalEntryID, u.Expense.ID, u.Receipt.ID)
	}
}

// PrintIngestSummary prints an import summary
func PrintIngestSummary(w io.Writer, s *service.IngestSummary) {
	fmt.Fprintf(w, "%s: created=%d duplicates=%d quarantined=%d\n",
		s.AccountID, len(s.Created), s.Duplicates, len(s.Quarantined))
	for _, item := range s.Quarantined {
		fmt.Fprintf(w, "  review %s: %s %s\n", item.ID, item.Field, item.Reason)
	}
}

func countFailed(outcomes []service.AccountOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
