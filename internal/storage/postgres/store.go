package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         BIGSERIAL PRIMARY KEY,
	name       VARCHAR(120) NOT NULL,
	email      VARCHAR(160) NOT NULL,
	contact    VARCHAR(80),
	balance    NUMERIC(14,2) NOT NULL DEFAULT 0.00,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT accounts_email_key UNIQUE (email),
	CONSTRAINT balance_non_negative CHECK (balance >= 0)
);

CREATE TABLE IF NOT EXISTS transactions (
	id              BIGSERIAL PRIMARY KEY,
	account_id      BIGINT NOT NULL REFERENCES accounts(id),
	amount          NUMERIC(14,2) NOT NULL,
	type            VARCHAR(20) NOT NULL,
	timestamp       TIMESTAMPTZ NOT NULL DEFAULT now(),
	description     VARCHAR(255),
	idempotency_key VARCHAR(255),
	CONSTRAINT amount_non_negative CHECK (amount >= 0),
	CONSTRAINT type_known CHECK (type IN ('deposit', 'withdrawal')),
	CONSTRAINT transactions_idempotency_key UNIQUE (account_id, idempotency_key)
);

CREATE INDEX IF NOT EXISTS transactions_account_timestamp_idx
	ON transactions (account_id, timestamp DESC, id DESC);
`

const (
	pqUniqueViolation = "23505"
	pqCheckViolation  = "23514"
	pqFKViolation     = "23503"
	pqNumericOverflow = "22003"
)

type PostgresLedgerStore struct {
	db *sql.DB
}

// Config holds the connection and pool settings for the postgres store.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects with the lib/pq driver, applies the pool settings and
// verifies the connection.
func Open(ctx context.Context, cfg Config) (*PostgresLedgerStore, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresLedgerStore(db), nil
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{
		db: db,
	}
}

// Migrate creates the accounts and transactions tables if they do not exist.
func (p *PostgresLedgerStore) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *PostgresLedgerStore) WithinTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	dbTx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	// Also runs when fn panics; after Commit it is a no-op.
	defer dbTx.Rollback()

	if err := fn(&postgresTx{tx: dbTx}); err != nil {
		return err
	}
	return dbTx.Commit()
}

func (p *PostgresLedgerStore) GetAccount(ctx context.Context, id int64) (models.Account, error) {
	const query = `SELECT id, name, email, contact, balance, created_at FROM accounts WHERE id = $1`

	return scanAccount(p.db.QueryRowContext(ctx, query, id))
}

func (p *PostgresLedgerStore) ListAccounts(ctx context.Context, limit, offset int) ([]models.Account, error) {
	const query = `SELECT id, name, email, contact, balance, created_at FROM accounts
	ORDER BY id LIMIT $1 OFFSET $2`

	limit, offset = models.ClampPage(limit, offset)
	rows, err := p.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (p *PostgresLedgerStore) ListTransactions(ctx context.Context, accountID int64, limit, offset int) ([]models.Transaction, error) {
	const query = `SELECT id, account_id, amount, type, timestamp, description, idempotency_key
	FROM transactions WHERE account_id = $1
	ORDER BY timestamp DESC, id DESC LIMIT $2 OFFSET $3`

	limit, offset = models.ClampPage(limit, offset)
	rows, err := p.db.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

func (p *PostgresLedgerStore) Close() error {
	return p.db.Close()
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) InsertAccount(ctx context.Context, acct *models.Account) error {
	const query = `INSERT INTO accounts (name, email, contact, balance)
	VALUES ($1, $2, $3, $4) RETURNING id, created_at`

	err := t.tx.QueryRowContext(ctx, query, acct.Name, acct.Email, nullString(acct.Contact), acct.Balance).
		Scan(&acct.ID, &acct.CreatedAt)
	return translate(err)
}

func (t *postgresTx) LockAccount(ctx context.Context, id int64) (models.Account, error) {
	const query = `SELECT id, name, email, contact, balance, created_at FROM accounts
	WHERE id = $1 FOR UPDATE`

	return scanAccount(t.tx.QueryRowContext(ctx, query, id))
}

func (t *postgresTx) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	const query = `UPDATE accounts SET balance = $2 WHERE id = $1`

	res, err := t.tx.ExecContext(ctx, query, id, balance)
	if err != nil {
		return translate(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (t *postgresTx) InsertTransaction(ctx context.Context, tr *models.Transaction) error {
	const query = `INSERT INTO transactions (account_id, amount, type, description, idempotency_key)
	VALUES ($1, $2, $3, $4, $5) RETURNING id, timestamp`

	err := t.tx.QueryRowContext(ctx, query,
		tr.AccountID, tr.Amount, string(tr.Type), nullString(tr.Description), nullString(tr.IdempotencyKey),
	).Scan(&tr.ID, &tr.Timestamp)
	return translate(err)
}

func (t *postgresTx) FindTransactionByKey(ctx context.Context, accountID int64, key string) (models.Transaction, error) {
	const query = `SELECT id, account_id, amount, type, timestamp, description, idempotency_key
	FROM transactions WHERE account_id = $1 AND idempotency_key = $2`

	tr, err := scanTransaction(t.tx.QueryRowContext(ctx, query, accountID, key))
	if errors.Is(err, models.ErrNotFound) {
		return tr, models.ErrTxNotFound
	}
	return tr, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (models.Account, error) {
	var (
		acct    models.Account
		contact sql.NullString
	)
	err := row.Scan(&acct.ID, &acct.Name, &acct.Email, &contact, &acct.Balance, &acct.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Account{}, models.ErrNotFound
	}
	if err != nil {
		return models.Account{}, err
	}
	acct.Contact = contact.String
	acct.CreatedAt = acct.CreatedAt.UTC()
	return acct, nil
}

func scanTransaction(row scanner) (models.Transaction, error) {
	var (
		tr          models.Transaction
		txType      string
		description sql.NullString
		key         sql.NullString
	)
	err := row.Scan(&tr.ID, &tr.AccountID, &tr.Amount, &txType, &tr.Timestamp, &description, &key)
	if err == sql.ErrNoRows {
		return models.Transaction{}, models.ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, err
	}
	tr.Type = models.TransactionType(txType)
	tr.Description = description.String
	tr.IdempotencyKey = key.String
	tr.Timestamp = tr.Timestamp.UTC()
	return tr, nil
}

// translate maps constraint failures reported by postgres onto store errors.
func translate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case pqUniqueViolation:
		if pqErr.Constraint == "transactions_idempotency_key" {
			return models.ErrDuplicateIdempotencyKey
		}
		return models.ErrDuplicateEmail
	case pqCheckViolation, pqFKViolation:
		return fmt.Errorf("%w: %s", models.ErrConstraintViolation, pqErr.Constraint)
	case pqNumericOverflow:
		return fmt.Errorf("%w: %s", models.ErrConstraintViolation, pqErr.Message)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ interfaces.LedgerStore = (*PostgresLedgerStore)(nil)
