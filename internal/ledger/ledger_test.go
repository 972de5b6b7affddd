package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/banking-ledger/internal/interfaces"
	"github.com/sheikh-saqib/banking-ledger/internal/models"
	"github.com/sheikh-saqib/banking-ledger/internal/models/events"
	"github.com/sheikh-saqib/banking-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/banking-ledger/internal/storage/sqlite"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.topics {
		if t == topic {
			n++
		}
	}
	return n
}

func newTestLedger(t *testing.T) (*Ledger, *memory.MemoryLedgerStore, *recordingPublisher) {
	t.Helper()
	store := memory.NewMemoryLedgerStore()
	pub := &recordingPublisher{}
	return NewLedger(store, pub, zap.NewNop()), store, pub
}

func strPtr(s string) *string { return &s }

func mustCreate(t *testing.T, l *Ledger, email, initial string) models.Account {
	t.Helper()
	acct, err := l.CreateAccount(context.Background(), CreateAccountRequest{
		Name:           "Ann",
		Email:          email,
		InitialBalance: strPtr(initial),
	})
	if err != nil {
		t.Fatalf("create %s: %v", email, err)
	}
	return acct
}

func allTransactions(t *testing.T, store interfaces.LedgerStore, id int64) []models.Transaction {
	t.Helper()
	txs, err := store.ListTransactions(context.Background(), id, models.MaxPageSize, 0)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return txs
}

func TestCreateAccountWithInitialBalance(t *testing.T) {
	l, store, pub := newTestLedger(t)

	acct := mustCreate(t, l, "a@x.com", "100.005")
	if got := acct.Balance.StringFixed(2); got != "100.00" {
		t.Fatalf("balance=%s want 100.00", got)
	}

	txs := allTransactions(t, store, acct.ID)
	if len(txs) != 1 {
		t.Fatalf("transactions=%d want 1", len(txs))
	}
	tx := txs[0]
	if tx.Type != models.TransactionTypeDeposit || !tx.Amount.Equal(acct.Balance) {
		t.Fatalf("unexpected initial transaction %+v", tx)
	}
	if tx.Description != models.InitialBalanceDescription || tx.AccountID != acct.ID {
		t.Fatalf("unexpected initial transaction %+v", tx)
	}
	if pub.count(events.TopicAccountOpened) != 1 || pub.count(events.TopicTransactionPosted) != 1 {
		t.Fatalf("events=%v", pub.topics)
	}
}

func TestCreateAccountZeroBalanceHasNoTransaction(t *testing.T) {
	l, store, pub := newTestLedger(t)

	for i, initial := range []*string{nil, strPtr("0"), strPtr("0.00"), strPtr("0.009")} {
		acct, err := l.CreateAccount(context.Background(), CreateAccountRequest{
			Name:           "Ann",
			Email:          fmt.Sprintf("z%d@x.com", i),
			InitialBalance: initial,
		})
		if err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
		if !acct.Balance.IsZero() {
			t.Fatalf("case %d: balance=%s want 0", i, acct.Balance)
		}
		if txs := allTransactions(t, store, acct.ID); len(txs) != 0 {
			t.Fatalf("case %d: transactions=%d want 0", i, len(txs))
		}
	}
	if n := pub.count(events.TopicTransactionPosted); n != 0 {
		t.Fatalf("posted events=%d want 0", n)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()

	cases := []struct {
		req  CreateAccountRequest
		want error
	}{
		{CreateAccountRequest{Email: "a@x.com"}, models.ErrInvalidInput},
		{CreateAccountRequest{Name: "Ann"}, models.ErrInvalidInput},
		{CreateAccountRequest{Name: "  ", Email: "a@x.com"}, models.ErrInvalidInput},
		{CreateAccountRequest{Name: "Ann", Email: "a@x.com", InitialBalance: strPtr("-1")}, models.ErrInvalidAmount},
		{CreateAccountRequest{Name: "Ann", Email: "a@x.com", InitialBalance: strPtr("abc")}, models.ErrInvalidAmount},
		{CreateAccountRequest{Name: "Ann", Email: "a@x.com", InitialBalance: strPtr("")}, models.ErrInvalidAmount},
		{CreateAccountRequest{Name: "Ann", Email: "a@x.com", InitialBalance: strPtr("1e200000000")}, models.ErrInvalidAmount},
	}
	for _, c := range cases {
		if _, err := l.CreateAccount(ctx, c.req); !errors.Is(err, c.want) {
			t.Fatalf("%+v: err=%v want %v", c.req, err, c.want)
		}
	}

	accounts, _ := store.ListAccounts(ctx, models.MaxPageSize, 0)
	if len(accounts) != 0 {
		t.Fatalf("accounts=%d want 0 after rejected requests", len(accounts))
	}
}

func TestCreateAccountDuplicateEmail(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()

	first := mustCreate(t, l, "a@x.com", "50")
	_, err := l.CreateAccount(ctx, CreateAccountRequest{Name: "Bob", Email: "a@x.com", InitialBalance: strPtr("75")})
	if !errors.Is(err, models.ErrEmailInUse) {
		t.Fatalf("err=%v want ErrEmailInUse", err)
	}

	accounts, _ := store.ListAccounts(ctx, models.MaxPageSize, 0)
	if len(accounts) != 1 || accounts[0].ID != first.ID {
		t.Fatalf("accounts=%+v want only the first", accounts)
	}
	if txs := allTransactions(t, store, first.ID); len(txs) != 1 {
		t.Fatalf("transactions=%d want 1", len(txs))
	}
	if txs := allTransactions(t, store, first.ID+1); len(txs) != 0 {
		t.Fatalf("orphan transactions=%d want 0", len(txs))
	}
}

func TestGetAccount(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.GetAccount(ctx, 42, GetAccountOptions{}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}

	acct := mustCreate(t, l, "a@x.com", "10")
	details, err := l.GetAccount(ctx, acct.ID, GetAccountOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if details.Transactions != nil {
		t.Fatalf("transactions attached without being requested")
	}

	details, err = l.GetAccount(ctx, acct.ID, GetAccountOptions{IncludeTransactions: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(details.Transactions) != 1 {
		t.Fatalf("transactions=%d want 1", len(details.Transactions))
	}
}

func TestGetAccountClampsLimitAndOrdersNewestFirst(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	acct := mustCreate(t, l, "a@x.com", "1")
	for i := 0; i < 210; i++ {
		if _, err := l.Deposit(ctx, acct.ID, PostRequest{Amount: "1"}); err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
	}

	details, err := l.GetAccount(ctx, acct.ID, GetAccountOptions{IncludeTransactions: true, Limit: 1000})
	if err != nil {
		t.Fatal(err)
	}
	txs := details.Transactions
	if len(txs) != models.MaxPageSize {
		t.Fatalf("page size=%d want %d", len(txs), models.MaxPageSize)
	}
	for i := 1; i < len(txs); i++ {
		prev, cur := txs[i-1], txs[i]
		if cur.Timestamp.After(prev.Timestamp) || (cur.Timestamp.Equal(prev.Timestamp) && cur.ID > prev.ID) {
			t.Fatalf("not newest first at %d: %v/%d then %v/%d", i, prev.Timestamp, prev.ID, cur.Timestamp, cur.ID)
		}
	}

	// the initial deposit is the oldest, so it is on the last page
	rest, err := l.ListTransactions(ctx, acct.ID, 20, 200)
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 11 || rest[len(rest)-1].Description != models.InitialBalanceDescription {
		t.Fatalf("last page=%d entries, last=%+v", len(rest), rest[len(rest)-1])
	}
}

func TestDepositAndWithdraw(t *testing.T) {
	l, store, pub := newTestLedger(t)
	ctx := context.Background()
	acct := mustCreate(t, l, "a@x.com", "100")

	res, err := l.Deposit(ctx, acct.ID, PostRequest{Amount: "25.509", Description: "salary"})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Account.Balance.StringFixed(2); got != "125.50" {
		t.Fatalf("balance after deposit=%s want 125.50", got)
	}

	res, err = l.Withdraw(ctx, acct.ID, PostRequest{Amount: "125.50"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Account.Balance.IsZero() || res.Transaction.Type != models.TransactionTypeWithdrawal {
		t.Fatalf("unexpected result %+v", res)
	}

	if _, err := l.Withdraw(ctx, acct.ID, PostRequest{Amount: "0.01"}); !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("err=%v want ErrInsufficientFunds", err)
	}

	stored, _ := store.GetAccount(ctx, acct.ID)
	if !stored.Balance.IsZero() {
		t.Fatalf("stored balance=%s want 0", stored.Balance)
	}
	if n := len(allTransactions(t, store, acct.ID)); n != 3 {
		t.Fatalf("transactions=%d want 3", n)
	}
	if n := pub.count(events.TopicTransactionPosted); n != 3 {
		t.Fatalf("posted events=%d want 3", n)
	}
}

func TestPostValidation(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	acct := mustCreate(t, l, "a@x.com", "10")

	for _, amount := range []string{"", "0", "0.001", "-5", "ten"} {
		if _, err := l.Deposit(ctx, acct.ID, PostRequest{Amount: amount}); !errors.Is(err, models.ErrInvalidAmount) {
			t.Fatalf("amount %q: err=%v want ErrInvalidAmount", amount, err)
		}
	}
	if _, err := l.Deposit(ctx, 999, PostRequest{Amount: "1"}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestDepositRespectsBalanceLimit(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()
	acct := mustCreate(t, l, "a@x.com", "999999999990")

	if _, err := l.Deposit(ctx, acct.ID, PostRequest{Amount: "9.99"}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Deposit(ctx, acct.ID, PostRequest{Amount: "0.01"}); !errors.Is(err, models.ErrBalanceLimit) {
		t.Fatalf("err=%v want ErrBalanceLimit", err)
	}
	stored, _ := store.GetAccount(ctx, acct.ID)
	if got := stored.Balance.StringFixed(2); got != "999999999999.99" {
		t.Fatalf("balance=%s want 999999999999.99", got)
	}
}

func TestPostIdempotency(t *testing.T) {
	l, store, _ := newTestLedger(t)
	ctx := context.Background()
	acct := mustCreate(t, l, "a@x.com", "0")

	req := PostRequest{Amount: "10", IdempotencyKey: "k-1"}
	first, err := l.Deposit(ctx, acct.ID, req)
	if err != nil {
		t.Fatal(err)
	}
	again, err := l.Deposit(ctx, acct.ID, req)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Replayed || again.Transaction.ID != first.Transaction.ID {
		t.Fatalf("replay=%+v want original transaction %d", again, first.Transaction.ID)
	}
	if got := again.Account.Balance.StringFixed(2); got != "10.00" {
		t.Fatalf("balance after replay=%s want 10.00", got)
	}

	if _, err := l.Withdraw(ctx, acct.ID, req); !errors.Is(err, models.ErrIdempotencyConflict) {
		t.Fatalf("err=%v want ErrIdempotencyConflict", err)
	}
	if n := len(allTransactions(t, store, acct.ID)); n != 1 {
		t.Fatalf("transactions=%d want 1", n)
	}
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		testConcurrentWithdrawals(t, memory.NewMemoryLedgerStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		store, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.sqlite"), zap.NewNop())
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { store.Close() })
		testConcurrentWithdrawals(t, store)
	})
}

func testConcurrentWithdrawals(t *testing.T, store interfaces.LedgerStore) {
	l := NewLedger(store, nil, zap.NewNop())
	ctx := context.Background()
	acct := mustCreate(t, l, "a@x.com", "100")

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		succeeded  int
		unexpected []error
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Withdraw(ctx, acct.ID, PostRequest{Amount: "7"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case !errors.Is(err, models.ErrInsufficientFunds):
				unexpected = append(unexpected, err)
			}
		}()
	}
	wg.Wait()

	if len(unexpected) > 0 {
		t.Fatalf("unexpected errors: %v", unexpected)
	}
	if succeeded != 14 {
		t.Fatalf("successful withdrawals=%d want 14", succeeded)
	}
	stored, _ := store.GetAccount(ctx, acct.ID)
	if got := stored.Balance.StringFixed(2); got != "2.00" {
		t.Fatalf("balance=%s want 2.00", got)
	}
}

// faultyStore wraps a real store and makes one LedgerTx operation fail.
type faultyStore struct {
	interfaces.LedgerStore
	failInsertTx  error
	failUpdateBal error
}

func (f *faultyStore) WithinTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	return f.LedgerStore.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		return fn(&faultyTx{LedgerTx: tx, store: f})
	})
}

type faultyTx struct {
	interfaces.LedgerTx
	store *faultyStore
}

func (t *faultyTx) InsertTransaction(ctx context.Context, tr *models.Transaction) error {
	if t.store.failInsertTx != nil {
		return t.store.failInsertTx
	}
	return t.LedgerTx.InsertTransaction(ctx, tr)
}

func (t *faultyTx) UpdateBalance(ctx context.Context, id int64, balance decimal.Decimal) error {
	if t.store.failUpdateBal != nil {
		return t.store.failUpdateBal
	}
	return t.LedgerTx.UpdateBalance(ctx, id, balance)
}

func TestInitialDepositFailureRollsBackAccount(t *testing.T) {
	mem := memory.NewMemoryLedgerStore()
	store := &faultyStore{LedgerStore: mem, failInsertTx: errors.New("disk full")}
	l := NewLedger(store, nil, zap.NewNop())
	ctx := context.Background()

	if _, err := l.CreateAccount(ctx, CreateAccountRequest{Name: "Ann", Email: "a@x.com", InitialBalance: strPtr("5")}); err == nil {
		t.Fatal("expected error")
	}
	accounts, _ := mem.ListAccounts(ctx, models.MaxPageSize, 0)
	if len(accounts) != 0 {
		t.Fatalf("accounts=%d want 0 after rollback", len(accounts))
	}

	// the email is free again once the failure is gone
	store.failInsertTx = nil
	if _, err := l.CreateAccount(ctx, CreateAccountRequest{Name: "Ann", Email: "a@x.com", InitialBalance: strPtr("5")}); err != nil {
		t.Fatal(err)
	}
}

func TestConstraintViolationIsSurfaced(t *testing.T) {
	mem := memory.NewMemoryLedgerStore()
	store := &faultyStore{LedgerStore: mem}
	l := NewLedger(store, nil, zap.NewNop())
	ctx := context.Background()

	acct, err := l.CreateAccount(ctx, CreateAccountRequest{Name: "Ann", Email: "a@x.com", InitialBalance: strPtr("5")})
	if err != nil {
		t.Fatal(err)
	}

	store.failUpdateBal = models.ErrConstraintViolation
	_, err = l.Deposit(ctx, acct.ID, PostRequest{Amount: "1"})
	if !errors.Is(err, models.ErrConstraintViolation) {
		t.Fatalf("err=%v want ErrConstraintViolation", err)
	}
	// the transaction row was rolled back with the failed balance update
	if n := len(allTransactions(t, mem, acct.ID)); n != 1 {
		t.Fatalf("transactions=%d want 1", n)
	}
}
