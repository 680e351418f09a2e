// Package bankcsv reads bank transaction exports into raw feed records.
//
// Values are passed through untouched; the normalizer decides whether a row
// is usable, so a bad amount lands in the review queue instead of failing
// the whole file.
package bankcsv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/normalizer"
)

// Required and optional header names, matched case-insensitively.
const (
	colDate        = "date"
	colDescription = "description"
	colAmount      = "amount"
	colExternalID  = "external_id"
	colAccountID   = "account_id"
)

// ErrMissingColumn is returned when the header lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// Parse reads a CSV with a header row. date, description and amount are
// required; external_id and account_id are optional. Rows without an
// external id get a reference derived from their content so re-imports
// dedupe.
func Parse(r io.Reader) ([]normalizer.BankRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, name := range []string{colDate, colDescription, colAmount} {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var records []normalizer.BankRecord
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if blank(rec) {
			continue
		}

		br := normalizer.BankRecord{
			Date:        field(rec, colDate),
			Description: field(rec, colDescription),
			Amount:      normalizer.FlexString(field(rec, colAmount)),
			ExternalID:  field(rec, colExternalID),
			AccountID:   field(rec, colAccountID),
		}
		if br.ExternalID == "" {
			br.ExternalID = makeRef(br)
		}
		records = append(records, br)
	}
	return records, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// makeRef builds a reference like csv_2024-03-10_-12.50_WHOLEFOODS.
func makeRef(br normalizer.BankRecord) string {
	prefix := strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		return -1
	}, br.Description)
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return fmt.Sprintf("csv_%s_%s_%s", br.Date, br.Amount, prefix)
}
