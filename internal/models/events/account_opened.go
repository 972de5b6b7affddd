package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const TopicAccountOpened = "account.opened"

type AccountOpened struct {
	EventID        string          `json:"event_id"`
	AccountID      int64           `json:"account_id"`
	Email          string          `json:"email"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	OccurredAt     time.Time       `json:"occurred_at"`
}
