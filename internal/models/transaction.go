package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType selects the sign of a transaction's effect on the balance.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
)

// Valid reports whether t is one of the known transaction types.
func (t TransactionType) Valid() bool {
	return t == TransactionTypeDeposit || t == TransactionTypeWithdrawal
}

// InitialBalanceDescription is attached to the deposit created when an
// account is opened with a non-zero balance.
const InitialBalanceDescription = "Initial balance"

// Transaction is an append-only record of a balance change on an account.
// Amount is always non-negative; Type decides whether it was added or removed.
type Transaction struct {
	ID             int64
	AccountID      int64
	Type           TransactionType
	Amount         decimal.Decimal
	Timestamp      time.Time
	Description    string
	IdempotencyKey string // empty when the caller did not supply one
}
