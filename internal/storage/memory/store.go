package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
)

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// A single mutex is held for the whole of each unit of work, so units of work
// are fully serialized. Writes are staged and only become visible on commit.
type MemoryLedgerStore struct {
	mu           sync.Mutex
	accounts     map[int64]models.Account
	emails       map[string]int64
	transactions []models.Transaction // append order
	txKeys       map[txKey]int        // index into transactions
	lastAccount  int64
	lastTx       int64
	now          func() time.Time
}

type txKey struct {
	accountID int64
	key       string
}

// NewMemoryLedgerStore creates an empty store.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		accounts: make(map[int64]models.Account),
		emails:   make(map[string]int64),
		txKeys:   make(map[txKey]int),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithinTx locks the store, runs fn against a staging area and applies the
// staged writes only if fn succeeds.
func (m *MemoryLedgerStore) WithinTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{
		store:       m,
		accounts:    make(map[int64]models.Account),
		emails:      make(map[string]int64),
		lastAccount: m.lastAccount,
		lastTx:      m.lastTx,
	}
	if err := fn(tx); err != nil {
		return err // staged writes are dropped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *MemoryLedgerStore) GetAccount(ctx context.Context, id int64) (models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return models.Account{}, models.ErrNotFound
	}
	return acct, nil
}

func (m *MemoryLedgerStore) ListAccounts(ctx context.Context, limit, offset int) ([]models.Account, error) {
	limit, offset = models.ClampPage(limit, offset)

	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		all = append(all, a)
	}
	slices.SortFunc(all, func(a, b models.Account) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return page(all, limit, offset), nil
}

func (m *MemoryLedgerStore) ListTransactions(ctx context.Context, accountID int64, limit, offset int) ([]models.Transaction, error) {
	limit, offset = models.ClampPage(limit, offset)

	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.Transaction
	for _, t := range m.transactions {
		if t.AccountID == accountID {
			result = append(result, t)
		}
	}
	// newest first, higher id wins on equal timestamps
	slices.SortFunc(result, func(a, b models.Transaction) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return page(result, limit, offset), nil
}

// Close is a no-op; the data lives as long as the store value.
func (m *MemoryLedgerStore) Close() error {
	return nil
}

// memoryTx stages writes for one unit of work. The store mutex is held by
// WithinTx for its whole lifetime.
type memoryTx struct {
	store        *MemoryLedgerStore
	accounts     map[int64]models.Account // new or modified accounts
	emails       map[string]int64
	transactions []models.Transaction
	lastAccount  int64
	lastTx       int64
}

func (t *memoryTx) account(id int64) (models.Account, bool) {
	if a, ok := t.accounts[id]; ok {
		return a, true
	}
	a, ok := t.store.accounts[id]
	return a, ok
}

func (t *memoryTx) InsertAccount(ctx context.Context, acct *models.Account) error {
	if _, taken := t.store.emails[acct.Email]; taken {
		return models.ErrDuplicateEmail
	}
	if _, taken := t.emails[acct.Email]; taken {
		return models.ErrDuplicateEmail
	}
	if acct.Balance.IsNegative() {
		return models.ErrConstraintViolation
	}

	t.lastAccount++
	acct.ID = t.lastAccount
	acct.CreatedAt = t.store.now()
	t.accounts[acct.ID] = *acct
	t.emails[acct.Email] = acct.ID
	return nil
}

func (t *memoryTx) LockAccount(ctx context.Context, id int64) (models.Account, error) {
	acct, ok := t.account(id)
	if !ok {
		return models.Account{}, models.ErrNotFound
	}
	return acct, nil
}

func (t *memoryTx) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	acct, ok := t.account(id)
	if !ok {
		return models.ErrNotFound
	}
	if balance.IsNegative() {
		return models.ErrConstraintViolation
	}
	acct.Balance = balance
	t.accounts[id] = acct
	return nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, tr *models.Transaction) error {
	if _, ok := t.account(tr.AccountID); !ok {
		return models.ErrConstraintViolation
	}
	if tr.Amount.IsNegative() || !tr.Type.Valid() {
		return models.ErrConstraintViolation
	}
	if tr.IdempotencyKey != "" {
		if _, err := t.FindTransactionByKey(ctx, tr.AccountID, tr.IdempotencyKey); err == nil {
			return models.ErrDuplicateIdempotencyKey
		}
	}

	t.lastTx++
	tr.ID = t.lastTx
	tr.Timestamp = t.store.now()
	t.transactions = append(t.transactions, *tr)
	return nil
}

func (t *memoryTx) FindTransactionByKey(ctx context.Context, accountID int64, key string) (models.Transaction, error) {
	if i, ok := t.store.txKeys[txKey{accountID, key}]; ok {
		return t.store.transactions[i], nil
	}
	for _, tr := range t.transactions {
		if tr.AccountID == accountID && tr.IdempotencyKey == key {
			return tr, nil
		}
	}
	return models.Transaction{}, models.ErrTxNotFound
}

func (t *memoryTx) commit() {
	s := t.store
	for id, a := range t.accounts {
		s.accounts[id] = a
	}
	for email, id := range t.emails {
		s.emails[email] = id
	}
	for _, tr := range t.transactions {
		s.transactions = append(s.transactions, tr)
		if tr.IdempotencyKey != "" {
			s.txKeys[txKey{tr.AccountID, tr.IdempotencyKey}] = len(s.transactions) - 1
		}
	}
	s.lastAccount = t.lastAccount
	s.lastTx = t.lastTx
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := min(offset+limit, len(items))
	return items[offset:end]
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
