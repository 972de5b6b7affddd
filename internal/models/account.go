package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxAmountDigits is the number of integer digits a balance or amount may
// carry; columns are NUMERIC(14,2).
const MaxAmountDigits = 12

// MaxAmount is the largest balance or amount the ledger stores.
var MaxAmount = decimal.RequireFromString("999999999999.99")

// Account is a customer account holding a single balance.
type Account struct {
	ID        int64
	Name      string
	Email     string          // unique across all accounts, stored as given
	Contact   string          // optional
	Balance   decimal.Decimal // 2 fractional digits, never negative
	CreatedAt time.Time
}

// Apply returns the balance that results from posting a transaction of the
// given type and amount. Withdrawals larger than the balance fail with
// ErrInsufficientFunds and deposits that would push the balance past
// MaxAmount fail with ErrBalanceLimit.
func (a Account) Apply(txType TransactionType, amount decimal.Decimal) (decimal.Decimal, error) {
	switch txType {
	case TransactionTypeDeposit:
		balance := a.Balance.Add(amount)
		if balance.GreaterThan(MaxAmount) {
			return a.Balance, ErrBalanceLimit
		}
		return balance, nil
	case TransactionTypeWithdrawal:
		if amount.GreaterThan(a.Balance) {
			return a.Balance, ErrInsufficientFunds
		}
		return a.Balance.Sub(amount), nil
	default:
		return a.Balance, ErrInvalidInput
	}
}
