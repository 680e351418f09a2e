// Package feed consumes bank-aggregator batches from an AMQP queue and
// hands them to the reconciler.
package feed

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/eshaffer321/receipt-reconciler/internal/domain/normalizer"
)

// BankFeedMessage is one aggregator batch for a single account.
type BankFeedMessage struct {
	BatchID   string                  `json:"batch_id"`
	AccountID string                  `json:"account_id"`
	Records   []normalizer.BankRecord `json:"records"`
	SentAt    time.Time               `json:"sent_at"`
}

// NewBankFeedMessage creates a batch message with a fresh batch id.
func NewBankFeedMessage(accountID string, records []normalizer.BankRecord) *BankFeedMessage {
	return &BankFeedMessage{
		BatchID:   uuid.NewString(),
		AccountID: accountID,
		Records:   records,
		SentAt:    time.Now().UTC(),
	}
}

// ToJSON encodes the message body.
func (m *BankFeedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BankFeedMessageFromJSON decodes and validates a message body.
func BankFeedMessageFromJSON(data []byte) (*BankFeedMessage, error) {
	var msg BankFeedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.AccountID == "" {
		return nil, errors.New("missing account_id")
	}
	return &msg, nil
}
