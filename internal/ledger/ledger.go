package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
	"github.com/sheikh-saqib/banking-ledger/internal/models/events"
)

// Ledger validates requests, enforces the balance rules and runs every
// mutation inside one unit of work on the store.
type Ledger struct {
	store     interfaces.LedgerStore
	publisher interfaces.EventPublisher
	log       *zap.Logger
}

// NewLedger wires the service to a store. Events are published after each
// successful commit; publish failures are logged and do not fail the call.
func NewLedger(store interfaces.LedgerStore, publisher interfaces.EventPublisher, log *zap.Logger) *Ledger {
	return &Ledger{
		store:     store,
		publisher: publisher,
		log:       log,
	}
}

type CreateAccountRequest struct {
	Name    string
	Email   string
	Contact string
	// InitialBalance is the raw amount as received; nil means it was not
	// supplied and the account opens at 0.00.
	InitialBalance *string
}

// CreateAccount opens an account and, when the initial balance is positive,
// records the matching "Initial balance" deposit in the same unit of work.
func (l *Ledger) CreateAccount(ctx context.Context, req CreateAccountRequest) (models.Account, error) {
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" {
		return models.Account{}, fmt.Errorf("%w: both name and email are required", models.ErrInvalidInput)
	}

	raw := "0.00"
	if req.InitialBalance != nil {
		raw = *req.InitialBalance
	}
	balance, err := ParseAmount(raw)
	if err != nil {
		return models.Account{}, err
	}

	acct := models.Account{
		Name:    req.Name,
		Email:   req.Email,
		Contact: req.Contact,
		Balance: balance,
	}
	var initial *models.Transaction

	err = l.store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		if err := tx.InsertAccount(ctx, &acct); err != nil {
			return err
		}
		if !balance.IsPositive() {
			return nil
		}
		deposit := models.Transaction{
			AccountID:   acct.ID,
			Type:        models.TransactionTypeDeposit,
			Amount:      balance,
			Description: models.InitialBalanceDescription,
		}
		if err := tx.InsertTransaction(ctx, &deposit); err != nil {
			return err
		}
		initial = &deposit
		return nil
	})
	if errors.Is(err, models.ErrDuplicateEmail) {
		return models.Account{}, models.ErrEmailInUse
	}
	if err != nil {
		return models.Account{}, l.internal("create account", err)
	}

	l.log.Info("account created",
		zap.Int64("account_id", acct.ID),
		zap.String("balance", acct.Balance.StringFixed(AmountScale)),
	)
	l.publish(ctx, events.TopicAccountOpened, acct.ID, events.AccountOpened{
		EventID:        uuid.NewString(),
		AccountID:      acct.ID,
		Email:          acct.Email,
		InitialBalance: acct.Balance,
		OccurredAt:     acct.CreatedAt,
	})
	if initial != nil {
		l.publishPosted(ctx, *initial, acct.Balance)
	}
	return acct, nil
}

type GetAccountOptions struct {
	IncludeTransactions bool
	Limit               int
	Offset              int
}

// AccountDetails is an account plus, when requested, one page of its
// transactions. Transactions is nil when they were not requested.
type AccountDetails struct {
	Account      models.Account
	Transactions []models.Transaction
}

func (l *Ledger) GetAccount(ctx context.Context, id int64, opts GetAccountOptions) (AccountDetails, error) {
	acct, err := l.store.GetAccount(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return AccountDetails{}, models.ErrNotFound
	}
	if err != nil {
		return AccountDetails{}, l.internal("get account", err)
	}

	details := AccountDetails{Account: acct}
	if !opts.IncludeTransactions {
		return details, nil
	}

	limit, offset := models.ClampPage(opts.Limit, opts.Offset)
	txs, err := l.store.ListTransactions(ctx, id, limit, offset)
	if err != nil {
		return AccountDetails{}, l.internal("list transactions", err)
	}
	details.Transactions = txs
	return details, nil
}

func (l *Ledger) ListAccounts(ctx context.Context, limit, offset int) ([]models.Account, error) {
	limit, offset = models.ClampPage(limit, offset)
	accounts, err := l.store.ListAccounts(ctx, limit, offset)
	if err != nil {
		return nil, l.internal("list accounts", err)
	}
	return accounts, nil
}

// ListTransactions returns one page of an account's history, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, accountID int64, limit, offset int) ([]models.Transaction, error) {
	details, err := l.GetAccount(ctx, accountID, GetAccountOptions{
		IncludeTransactions: true,
		Limit:               limit,
		Offset:              offset,
	})
	if err != nil {
		return nil, err
	}
	return details.Transactions, nil
}

type PostRequest struct {
	Amount      string
	Description string
	// IdempotencyKey makes a retried request return the original
	// transaction instead of posting it twice. Scoped to the account.
	IdempotencyKey string
}

type PostResult struct {
	Account     models.Account
	Transaction models.Transaction
	// Replayed is true when the idempotency key matched an earlier
	// transaction and nothing new was written.
	Replayed bool
}

func (l *Ledger) Deposit(ctx context.Context, accountID int64, req PostRequest) (PostResult, error) {
	return l.post(ctx, accountID, models.TransactionTypeDeposit, req)
}

// Withdraw fails with models.ErrInsufficientFunds when the amount exceeds
// the current balance.
func (l *Ledger) Withdraw(ctx context.Context, accountID int64, req PostRequest) (PostResult, error) {
	return l.post(ctx, accountID, models.TransactionTypeWithdrawal, req)
}

func (l *Ledger) post(ctx context.Context, accountID int64, txType models.TransactionType, req PostRequest) (PostResult, error) {
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		return PostResult{}, err
	}
	if amount.IsZero() {
		return PostResult{}, fmt.Errorf("%w: must be greater than zero", models.ErrInvalidAmount)
	}

	var result PostResult
	err = l.store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		acct, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}

		if req.IdempotencyKey != "" {
			prev, err := tx.FindTransactionByKey(ctx, accountID, req.IdempotencyKey)
			switch {
			case err == nil:
				if prev.Type != txType || !prev.Amount.Equal(amount) {
					return models.ErrIdempotencyConflict
				}
				result = PostResult{Account: acct, Transaction: prev, Replayed: true}
				return nil
			case !errors.Is(err, models.ErrTxNotFound):
				return err
			}
		}

		balance, err := acct.Apply(txType, amount)
		if err != nil {
			return err
		}

		t := models.Transaction{
			AccountID:      accountID,
			Type:           txType,
			Amount:         amount,
			Description:    req.Description,
			IdempotencyKey: req.IdempotencyKey,
		}
		if err := tx.InsertTransaction(ctx, &t); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, accountID, balance); err != nil {
			return err
		}

		acct.Balance = balance
		result = PostResult{Account: acct, Transaction: t}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrBalanceLimit),
		errors.Is(err, models.ErrIdempotencyConflict):
		return PostResult{}, err
	case errors.Is(err, models.ErrDuplicateIdempotencyKey):
		// a concurrent request with the same key won the race
		return PostResult{}, models.ErrIdempotencyConflict
	default:
		return PostResult{}, l.internal("post "+string(txType), err)
	}

	if result.Replayed {
		l.log.Info("idempotent replay",
			zap.Int64("account_id", accountID),
			zap.Int64("transaction_id", result.Transaction.ID),
		)
		return result, nil
	}

	l.log.Info("transaction posted",
		zap.Int64("account_id", accountID),
		zap.Int64("transaction_id", result.Transaction.ID),
		zap.String("type", string(txType)),
		zap.String("amount", amount.StringFixed(AmountScale)),
	)
	l.publishPosted(ctx, result.Transaction, result.Account.Balance)
	return result, nil
}

// internal wraps store failures. A constraint violation means the service
// let an invalid write through, so it is logged at error level.
func (l *Ledger) internal(op string, err error) error {
	if errors.Is(err, models.ErrConstraintViolation) {
		l.log.Error("store rejected write", zap.String("op", op), zap.Error(err))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (l *Ledger) publishPosted(ctx context.Context, t models.Transaction, balanceAfter decimal.Decimal) {
	l.publish(ctx, events.TopicTransactionPosted, t.AccountID, events.TransactionPosted{
		EventID:       uuid.NewString(),
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		Type:          string(t.Type),
		Amount:        t.Amount,
		BalanceAfter:  balanceAfter,
		OccurredAt:    t.Timestamp,
	})
}

func (l *Ledger) publish(ctx context.Context, topic string, accountID int64, event any) {
	if l.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := l.publisher.Publish(ctx, topic, fmt.Sprint(accountID), event); err != nil {
		l.log.Warn("failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}
