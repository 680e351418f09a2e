package normalizer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
)

var errEmpty = errors.New("value is empty")

// dateLayouts are tried in order. Month-first wins for ambiguous slashes,
// matching US bank exports.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"01/02/06",
	"Jan 2, 2006",
	"January 2, 2006",
	"02 Jan 2006",
	"2 Jan 2006",
}

// ParseAmount parses a money amount the way receipts and bank exports print
// them: optional currency symbol or code, thousands separators, and either a
// leading minus, a trailing minus or accounting parentheses for negatives.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, errEmpty
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	if strings.HasSuffix(s, "-") {
		negative = !negative
		s = strings.TrimSuffix(s, "-")
	}

	upper := strings.ToUpper(strings.TrimSpace(s))
	upper = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(upper, "USD"), "USD"))
	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', ',', ' ', '\u00a0':
			return -1
		}
		return r
	}, upper)

	if s == "" {
		return decimal.Zero, errEmpty
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != '-' && r != '+' {
			return decimal.Zero, fmt.Errorf("non-numeric character %q", r)
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// ParseDate parses a calendar date in any supported layout and returns it as
// midnight UTC.
func ParseDate(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, errEmpty
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.CalendarDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date layout")
}

// corporateSuffixes are dropped from the end of a merchant name.
var corporateSuffixes = map[string]bool{
	"inc":          true,
	"incorporated": true,
	"llc":          true,
	"ltd":          true,
	"co":           true,
	"corp":         true,
	"corporation":  true,
	"company":      true,
	"plc":          true,
}

// NormalizeMerchant lower-cases, strips punctuation, collapses whitespace and
// drops trailing corporate suffixes. Apostrophes are removed without
// splitting so "Joe's" and "Joes" agree.
func NormalizeMerchant(raw string) string {
	return strings.Join(merchantWords(raw), " ")
}

func merchantWords(raw string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case r == '\'' || r == '’':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	for len(words) > 0 && corporateSuffixes[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return words
}

// MerchantTokens returns the sorted, de-duplicated token set of a merchant
// name. Pure-digit tokens such as store numbers are dropped unless nothing
// else is left.
func MerchantTokens(raw string) []string {
	words := merchantWords(raw)
	if len(words) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(words))
	var tokens, digits []string
	for _, w := range words {
		if seen[w] {
			continue
		}
		seen[w] = true
		if isDigits(w) {
			digits = append(digits, w)
			continue
		}
		tokens = append(tokens, w)
	}
	if len(tokens) == 0 {
		tokens = digits
	}
	sort.Strings(tokens)
	return tokens
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
