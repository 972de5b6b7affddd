package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

// Money columns are TEXT: a NUMERIC column would give the values REAL
// affinity and round them through float64. The checks cast for comparison
// only.

// sqlAccount maps the accounts table.
type sqlAccount struct {
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	Name      string          `gorm:"size:120;not null"`
	Email     string          `gorm:"size:160;not null;uniqueIndex"`
	Contact   *string         `gorm:"size:80"`
	Balance   decimal.Decimal `gorm:"type:text;not null;check:balance_non_negative,CAST(balance AS NUMERIC) >= 0"`
	CreatedAt time.Time       `gorm:"not null"`
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlTransaction maps the transactions table.
type sqlTransaction struct {
	ID             int64           `gorm:"primaryKey;autoIncrement"`
	AccountID      int64           `gorm:"not null;index:idx_tx_account_time,priority:1;uniqueIndex:idx_tx_idempotency,priority:1"`
	Account        *sqlAccount     `gorm:"constraint:OnDelete:RESTRICT"`
	Amount         decimal.Decimal `gorm:"type:text;not null;check:amount_non_negative,CAST(amount AS NUMERIC) >= 0"`
	Type           string          `gorm:"size:20;not null;check:type_known,type IN ('deposit','withdrawal')"`
	Timestamp      time.Time       `gorm:"not null;index:idx_tx_account_time,priority:2"`
	Description    *string         `gorm:"size:255"`
	IdempotencyKey *string         `gorm:"size:255;uniqueIndex:idx_tx_idempotency,priority:2"`
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

type SQLiteLedgerStore struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path, enables foreign keys
// and migrates the schema.
func Open(path string, log *zap.Logger) (*SQLiteLedgerStore, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", path)
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(&sqlAccount{}, &sqlTransaction{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	log.Info("sqlite store ready", zap.String("path", path))

	return &SQLiteLedgerStore{db: db}, nil
}

func (s *SQLiteLedgerStore) WithinTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&sqliteTx{db: tx})
	})
}

func (s *SQLiteLedgerStore) GetAccount(ctx context.Context, id int64) (models.Account, error) {
	var row sqlAccount
	if err := s.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return models.Account{}, notFound(err, models.ErrNotFound)
	}
	return row.toModel(), nil
}

func (s *SQLiteLedgerStore) ListAccounts(ctx context.Context, limit, offset int) ([]models.Account, error) {
	limit, offset = models.ClampPage(limit, offset)

	var rows []sqlAccount
	err := s.db.WithContext(ctx).
		Order("id").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	accounts := make([]models.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.toModel())
	}
	return accounts, nil
}

func (s *SQLiteLedgerStore) ListTransactions(ctx context.Context, accountID int64, limit, offset int) ([]models.Transaction, error) {
	limit, offset = models.ClampPage(limit, offset)

	var rows []sqlTransaction
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("timestamp DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	txs := make([]models.Transaction, 0, len(rows))
	for _, r := range rows {
		txs = append(txs, r.toModel())
	}
	return txs, nil
}

func (s *SQLiteLedgerStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type sqliteTx struct {
	db *gorm.DB
}

func (t *sqliteTx) InsertAccount(ctx context.Context, acct *models.Account) error {
	row := sqlAccount{
		Name:    acct.Name,
		Email:   acct.Email,
		Contact: optional(acct.Contact),
		Balance: acct.Balance,
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return translate(err)
	}
	acct.ID = row.ID
	acct.CreatedAt = row.CreatedAt
	return nil
}

func (t *sqliteTx) LockAccount(ctx context.Context, id int64) (models.Account, error) {
	// sqlite drops the FOR UPDATE clause; the immediate transaction lock
	// already serializes writers.
	var row sqlAccount
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&row, id).Error
	if err != nil {
		return models.Account{}, notFound(err, models.ErrNotFound)
	}
	return row.toModel(), nil
}

func (t *sqliteTx) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	res := t.db.WithContext(ctx).
		Model(&sqlAccount{}).
		Where("id = ?", id).
		Update("balance", balance)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (t *sqliteTx) InsertTransaction(ctx context.Context, tr *models.Transaction) error {
	row := sqlTransaction{
		AccountID:      tr.AccountID,
		Amount:         tr.Amount,
		Type:           string(tr.Type),
		Timestamp:      time.Now().UTC(),
		Description:    optional(tr.Description),
		IdempotencyKey: optional(tr.IdempotencyKey),
	}
	if err := t.db.WithContext(ctx).Omit("Account").Create(&row).Error; err != nil {
		return translate(err)
	}
	tr.ID = row.ID
	tr.Timestamp = row.Timestamp
	return nil
}

func (t *sqliteTx) FindTransactionByKey(ctx context.Context, accountID int64, key string) (models.Transaction, error) {
	var row sqlTransaction
	err := t.db.WithContext(ctx).
		Where("account_id = ? AND idempotency_key = ?", accountID, key).
		First(&row).Error
	if err != nil {
		return models.Transaction{}, notFound(err, models.ErrTxNotFound)
	}
	return row.toModel(), nil
}

func (r sqlAccount) toModel() models.Account {
	return models.Account{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		Contact:   deref(r.Contact),
		Balance:   r.Balance,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func (r sqlTransaction) toModel() models.Transaction {
	return models.Transaction{
		ID:             r.ID,
		AccountID:      r.AccountID,
		Type:           models.TransactionType(r.Type),
		Amount:         r.Amount,
		Timestamp:      r.Timestamp.UTC(),
		Description:    deref(r.Description),
		IdempotencyKey: deref(r.IdempotencyKey),
	}
}

// translate maps sqlite constraint failures onto store errors.
func translate(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique:
		if strings.Contains(sqliteErr.Error(), "idempotency_key") {
			return models.ErrDuplicateIdempotencyKey
		}
		return models.ErrDuplicateEmail
	case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintForeignKey:
		return fmt.Errorf("%w: %s", models.ErrConstraintViolation, sqliteErr.Error())
	}
	return err
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ interfaces.LedgerStore = (*SQLiteLedgerStore)(nil)
