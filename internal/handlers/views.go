package handlers

import (
	"time"

	"github.com/sheikh-saqib/banking-ledger/internal/ledger"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

// timeLayout is ISO-8601 with microseconds, always in UTC.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

type accountView struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Contact   *string `json:"contact"`
	Balance   string  `json:"balance"`
	CreatedAt string  `json:"created_at"`
	// nil unless transactions were requested; an empty page encodes as [].
	Transactions *[]transactionView `json:"transactions,omitempty"`
}

type transactionView struct {
	ID          int64   `json:"id"`
	AccountID   int64   `json:"account_id"`
	Type        string  `json:"type"`
	Amount      string  `json:"amount"`
	Timestamp   string  `json:"timestamp"`
	Description *string `json:"description"`
}

type postView struct {
	Account     accountView     `json:"account"`
	Transaction transactionView `json:"transaction"`
}

func newAccountView(a models.Account) accountView {
	return accountView{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		Contact:   nullable(a.Contact),
		Balance:   a.Balance.StringFixed(ledger.AmountScale),
		CreatedAt: formatTime(a.CreatedAt),
	}
}

func newTransactionView(t models.Transaction) transactionView {
	return transactionView{
		ID:          t.ID,
		AccountID:   t.AccountID,
		Type:        string(t.Type),
		Amount:      t.Amount.StringFixed(ledger.AmountScale),
		Timestamp:   formatTime(t.Timestamp),
		Description: nullable(t.Description),
	}
}

func newTransactionViews(txs []models.Transaction) []transactionView {
	views := make([]transactionView, 0, len(txs))
	for _, t := range txs {
		views = append(views, newTransactionView(t))
	}
	return views
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
