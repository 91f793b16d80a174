package amqp

import (
	"encoding/json"
	"time"
)

// Event kinds published on the ledger stream.
const (
	EventTransactionPosted  = "transaction_posted"
	EventTransactionRemoved = "transaction_removed"
	EventDriftDetected      = "drift_detected"
)

// LedgerEventMessage is a lightweight notification about a ledger change.
// Consumers fetch the full records from the store; the message only carries
// identifiers and the cent amounts involved.
type LedgerEventMessage struct {
	Kind          string    `json:"kind"`
	TransactionID string    `json:"transaction_id,omitempty"`
	AccountID     string    `json:"account_id"`
	AmountCents   int64     `json:"amount_cents,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewLedgerEventMessage creates an event message stamped with the current time.
func NewLedgerEventMessage(kind, transactionID, accountID string, amountCents int64) *LedgerEventMessage {
	return &LedgerEventMessage{
		Kind:          kind,
		TransactionID: transactionID,
		AccountID:     accountID,
		AmountCents:   amountCents,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the message to JSON bytes.
func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerEventMessageFromJSON creates a message from JSON bytes.
func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
