package matcher

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds matcher configuration
type Config struct {
	AmountTolerance    float64 `yaml:"amount_tolerance"`     // Default: 0.01 (1 cent)
	AmountSlackPercent float64 `yaml:"amount_slack_percent"` // Default: 0.005 (currency rounding)
	DateTolerance      int     `yaml:"date_tolerance"`       // Days tolerance (default: 5)

	AmountWeight   float64 `yaml:"amount_weight"`   // Default: 0.5
	DateWeight     float64 `yaml:"date_weight"`     // Default: 0.3
	MerchantWeight float64 `yaml:"merchant_weight"` // Default: 0.2

	AcceptThreshold float64 `yaml:"accept_threshold"` // Default: 0.75
	CandidateFloor  float64 `yaml:"candidate_floor"`  // Default: 0.25
	MaxMissCycles   int     `yaml:"max_miss_cycles"`  // Default: 3

	// Merchant tokens at least FuzzyMinTokenLength runes long count as equal
	// when their edit distance is at most FuzzyTokenDistance.
	FuzzyTokenDistance  int `yaml:"fuzzy_token_distance"`   // Default: 1
	FuzzyMinTokenLength int `yaml:"fuzzy_min_token_length"` // Default: 5
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		AmountTolerance:     0.01,
		AmountSlackPercent:  0.005,
		DateTolerance:       5,
		AmountWeight:        0.5,
		DateWeight:          0.3,
		MerchantWeight:      0.2,
		AcceptThreshold:     0.75,
		CandidateFloor:      0.25,
		MaxMissCycles:       3,
		FuzzyTokenDistance:  1,
		FuzzyMinTokenLength: 5,
	}
}

// Validate rejects configurations the scorer cannot honour.
func (c Config) Validate() error {
	var errs []error
	if c.AmountTolerance < 0 {
		errs = append(errs, fmt.Errorf("amount_tolerance must be >= 0, got %v", c.AmountTolerance))
	}
	if c.AmountSlackPercent < 0 || c.AmountSlackPercent >= 1 {
		errs = append(errs, fmt.Errorf("amount_slack_percent must be in [0,1), got %v", c.AmountSlackPercent))
	}
	if c.DateTolerance <= 0 {
		errs = append(errs, fmt.Errorf("date_tolerance must be > 0, got %d", c.DateTolerance))
	}
	for name, w := range map[string]float64{
		"amount_weight":   c.AmountWeight,
		"date_weight":     c.DateWeight,
		"merchant_weight": c.MerchantWeight,
	} {
		if w < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0, got %v", name, w))
		}
	}
	if sum := c.AmountWeight + c.DateWeight + c.MerchantWeight; math.Abs(sum-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("weights must sum to 1, got %v", sum))
	}
	if c.AcceptThreshold < 0 || c.AcceptThreshold > 1 {
		errs = append(errs, fmt.Errorf("accept_threshold must be in [0,1], got %v", c.AcceptThreshold))
	}
	if c.CandidateFloor < 0 || c.CandidateFloor > c.AcceptThreshold {
		errs = append(errs, fmt.Errorf("candidate_floor must be in [0,accept_threshold], got %v", c.CandidateFloor))
	}
	if c.MaxMissCycles <= 0 {
		errs = append(errs, fmt.Errorf("max_miss_cycles must be > 0, got %d", c.MaxMissCycles))
	}
	return errors.Join(errs...)
}

// MatchCandidate is a scored (expense, receipt) pair. It is transient and
// never persisted.
type MatchCandidate struct {
	ExpenseID string  `json:"expense_id"`
	ReceiptID string  `json:"receipt_id"`
	Score     float64 `json:"score"`

	AmountScore   float64 `json:"amount_score"`
	DateScore     float64 `json:"date_score"`
	MerchantScore float64 `json:"merchant_score"`

	DateDiff   float64         `json:"date_diff"`   // Days difference
	AmountDiff decimal.Decimal `json:"amount_diff"` // Absolute amount difference

	expenseCreated time.Time
	receiptCreated time.Time
}
