// Package normalizer converts raw OCR results and raw bank-feed records into
// the strict Candidate shape the matcher works with.
//
// All optionality of the external shapes stops here: a Candidate always has
// an amount, a calendar date, a (possibly empty) merchant token set, and
// per-field confidences in [0,1]. Inputs that cannot satisfy that contract
// fail with a *MalformedInputError so the caller can quarantine them.
package normalizer

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/model"
)

// Candidate is the normalized matching shape shared by expenses and receipts.
type Candidate struct {
	Amount         decimal.Decimal
	Date           time.Time
	Merchant       string
	MerchantTokens []string
	Confidence     float64
	Fields         model.FieldConfidence
}

// FlexString accepts a JSON string, number or null. OCR and bank
// aggregators disagree on whether amounts are quoted.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// OCRResult is the extraction service output for one receipt.
// Every field may be missing.
type OCRResult struct {
	Text          string             `json:"text"`
	MerchantGuess string             `json:"merchant_guess"`
	AmountGuess   FlexString         `json:"amount_guess"`
	DateGuess     string             `json:"date_guess"`
	Confidence    map[string]float64 `json:"per_field_confidence"`
}

// BankRecord is one raw transaction from the banking-data feed.
type BankRecord struct {
	Amount      FlexString `json:"amount"`
	Date        string     `json:"date"`
	Description string     `json:"description"`
	AccountID   string     `json:"account_id"`
	ExternalID  string     `json:"external_id"`
}

// Metadata returns the verbatim OCR fields for storage on the receipt.
func (o OCRResult) Metadata() model.OCRMetadata {
	return model.OCRMetadata{
		Text:          o.Text,
		MerchantGuess: o.MerchantGuess,
		AmountGuess:   string(o.AmountGuess),
		DateGuess:     o.DateGuess,
		Confidence:    o.fieldConfidence(),
	}
}

func (o OCRResult) fieldConfidence() model.FieldConfidence {
	return model.FieldConfidence{
		Merchant: confidenceOf(o.Confidence, "merchant"),
		Amount:   confidenceOf(o.Confidence, "amount"),
		Date:     confidenceOf(o.Confidence, "date"),
	}
}

// confidenceOf returns the clamped confidence for a field, 1.0 when absent.
func confidenceOf(m map[string]float64, field string) float64 {
	v, ok := m[field]
	if !ok {
		return 1
	}
	return clamp01(v)
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

// NormalizeOCR converts an OCR result into a Candidate.
// A missing merchant is tolerated; amount and date are required.
func NormalizeOCR(o OCRResult) (Candidate, error) {
	amount, err := ParseAmount(string(o.AmountGuess))
	if err != nil {
		return Candidate{}, malformed(model.SourceOCR, "amount", string(o.AmountGuess), err)
	}
	date, err := ParseDate(o.DateGuess)
	if err != nil {
		return Candidate{}, malformed(model.SourceOCR, "date", o.DateGuess, err)
	}

	fields := o.fieldConfidence()
	merchant := strings.TrimSpace(o.MerchantGuess)
	tokens := MerchantTokens(merchant)

	// Aggregate confidence ignores the merchant field when nothing was read.
	sum, n := fields.Amount+fields.Date, 2.0
	if len(tokens) > 0 {
		sum += fields.Merchant
		n++
	}

	return Candidate{
		Amount:         amount.Abs(),
		Date:           date,
		Merchant:       merchant,
		MerchantTokens: tokens,
		Confidence:     sum / n,
		Fields:         fields,
	}, nil
}

// NormalizeBank converts a bank-feed record into a Candidate.
func NormalizeBank(r BankRecord) (Candidate, error) {
	amount, err := ParseAmount(string(r.Amount))
	if err != nil {
		return Candidate{}, malformed(model.SourceBankFeed, "amount", string(r.Amount), err)
	}
	date, err := ParseDate(r.Date)
	if err != nil {
		return Candidate{}, malformed(model.SourceBankFeed, "date", r.Date, err)
	}
	merchant := strings.TrimSpace(r.Description)
	return Candidate{
		Amount:         amount,
		Date:           date,
		Merchant:       merchant,
		MerchantTokens: MerchantTokens(merchant),
		Confidence:     1,
		Fields:         model.FullConfidence(),
	}, nil
}
