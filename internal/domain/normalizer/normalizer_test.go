package normalizer

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "125.50", "125.5"},
		{"currency symbol", "$125.50", "125.5"},
		{"thousands separator", "$1,234.56", "1234.56"},
		{"leading minus", "-42.10", "-42.1"},
		{"trailing minus", "42.10-", "-42.1"},
		{"accounting parentheses", "(19.99)", "-19.99"},
		{"currency code", "USD 8.00", "8"},
		{"whitespace", "  7.25 ", "7.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestParseAmount_Rejects(t *testing.T) {
	for _, input := range []string{"", "   ", "twelve", "12.5abc", "$"} {
		_, err := ParseAmount(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for _, input := range []string{
		"2024-01-15",
		"01/15/2024",
		"1/15/2024",
		"2024/01/15",
		"Jan 15, 2024",
		"15 Jan 2024",
		"2024-01-15T18:30:00Z",
	} {
		t.Run(input, func(t *testing.T) {
			got, err := ParseDate(input)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	_, err := ParseDate("the fifteenth")
	assert.Error(t, err)
}

func TestMerchantTokens(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"Whole Foods", []string{"foods", "whole"}},
		{"WHOLE FOODS #4521", []string{"foods", "whole"}},
		{"Acme Widgets, Inc.", []string{"acme", "widgets"}},
		{"Trader Joe's", []string{"joes", "trader"}},
		{"Shell   Oil   LLC", []string{"oil", "shell"}},
		{"7-11", []string{"11", "7"}},
		{"", nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, MerchantTokens(tt.input))
		})
	}
}

func TestNormalizeMerchant(t *testing.T) {
	assert.Equal(t, "whole foods market", NormalizeMerchant("  Whole   Foods Market, Inc. "))
	assert.Equal(t, "co op grocery", NormalizeMerchant("Co-op Grocery Co"))
}

func TestNormalizeOCR(t *testing.T) {
	t.Run("full result", func(t *testing.T) {
		c, err := NormalizeOCR(OCRResult{
			MerchantGuess: "WHOLE FOODS #4521",
			AmountGuess:   "125.50",
			DateGuess:     "2024-01-15",
			Confidence:    map[string]float64{"amount": 0.95, "date": 0.9, "merchant": 0.8},
		})
		require.NoError(t, err)

		assert.True(t, decimal.RequireFromString("125.50").Equal(c.Amount))
		assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), c.Date)
		assert.Equal(t, []string{"foods", "whole"}, c.MerchantTokens)
		assert.InDelta(t, 0.95, c.Fields.Amount, 1e-9)
		assert.InDelta(t, (0.95+0.9+0.8)/3, c.Confidence, 1e-9)
	})

	t.Run("missing merchant is tolerated", func(t *testing.T) {
		c, err := NormalizeOCR(OCRResult{AmountGuess: "10", DateGuess: "2024-02-01"})
		require.NoError(t, err)
		assert.Empty(t, c.MerchantTokens)
		assert.Equal(t, 1.0, c.Confidence)
	})

	t.Run("confidence is clamped", func(t *testing.T) {
		c, err := NormalizeOCR(OCRResult{
			AmountGuess: "10",
			DateGuess:   "2024-02-01",
			Confidence:  map[string]float64{"amount": 1.7, "date": -0.2},
		})
		require.NoError(t, err)
		assert.Equal(t, 1.0, c.Fields.Amount)
		assert.Equal(t, 0.0, c.Fields.Date)
	})

	t.Run("missing amount is malformed", func(t *testing.T) {
		_, err := NormalizeOCR(OCRResult{DateGuess: "2024-02-01"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedInput))

		var mErr *MalformedInputError
		require.True(t, errors.As(err, &mErr))
		assert.Equal(t, "amount", mErr.Field)
		assert.Equal(t, model.SourceOCR, mErr.Source)
	})

	t.Run("unparseable date is malformed", func(t *testing.T) {
		_, err := NormalizeOCR(OCRResult{AmountGuess: "10", DateGuess: "yesterday"})
		var mErr *MalformedInputError
		require.True(t, errors.As(err, &mErr))
		assert.Equal(t, "date", mErr.Field)
	})
}

func TestNormalizeBank(t *testing.T) {
	c, err := NormalizeBank(BankRecord{
		Amount:      "-125.50",
		Date:        "01/15/2024",
		Description: "WHOLEFDS MKT 10234",
		ExternalID:  "tx-1",
	})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("-125.50").Equal(c.Amount))
	assert.Equal(t, model.FullConfidence(), c.Fields)
	assert.Equal(t, []string{"mkt", "wholefds"}, c.MerchantTokens)

	_, err = NormalizeBank(BankRecord{Amount: "n/a", Date: "2024-01-15"})
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestFlexString_UnmarshalJSON(t *testing.T) {
	var r BankRecord
	require.NoError(t, json.Unmarshal([]byte(`{"amount": -12.5, "date": "2024-01-15"}`), &r))
	assert.Equal(t, FlexString("-12.5"), r.Amount)

	require.NoError(t, json.Unmarshal([]byte(`{"amount": "$3.00"}`), &r))
	assert.Equal(t, FlexString("$3.00"), r.Amount)

	require.NoError(t, json.Unmarshal([]byte(`{"amount": null}`), &r))
	assert.Equal(t, FlexString(""), r.Amount)
}
