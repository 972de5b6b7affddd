package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const TopicTransactionPosted = "transaction.posted"

// TransactionPosted is emitted after a balance-changing transaction commits.
type TransactionPosted struct {
	EventID       string          `json:"event_id"`
	TransactionID int64           `json:"transaction_id"`
	AccountID     int64           `json:"account_id"`
	Type          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
