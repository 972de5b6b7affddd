package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

// LedgerStore persists accounts and their transactions. Every write goes
// through WithinTx so that related rows commit or roll back together.
type LedgerStore interface {
	// WithinTx runs fn inside a single unit of work. The unit commits when fn
	// returns nil and rolls back on any error, which is returned unchanged.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	GetAccount(ctx context.Context, id int64) (models.Account, error)
	ListAccounts(ctx context.Context, limit, offset int) ([]models.Account, error)
	// ListTransactions returns the newest transactions first.
	ListTransactions(ctx context.Context, accountID int64, limit, offset int) ([]models.Transaction, error)

	Close() error
}

// LedgerTx is the handle for one unit of work. It must not be used after the
// WithinTx callback returns.
type LedgerTx interface {
	// InsertAccount assigns ID and CreatedAt on acct. A taken email yields
	// models.ErrDuplicateEmail.
	InsertAccount(ctx context.Context, acct *models.Account) error
	// LockAccount loads the account and holds it until the unit of work ends.
	LockAccount(ctx context.Context, id int64) (models.Account, error)
	UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error
	// InsertTransaction assigns ID and Timestamp on t.
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	FindTransactionByKey(ctx context.Context, accountID int64, key string) (models.Transaction, error)
}
