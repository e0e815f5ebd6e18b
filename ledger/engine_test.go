package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yashasviy/ledger-api/ledger"
	"github.com/yashasviy/ledger-api/memstore"
	"github.com/yashasviy/ledger-api/models"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// seed creates one account per id with the given balance.
func seed(t *testing.T, balances map[string]string) *memstore.Store {
	t.Helper()
	store := memstore.New()
	for id, balance := range balances {
		if err := store.Create(context.Background(), models.User{ID: id, Username: "user-" + id, Balance: dec(balance)}); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func balance(t *testing.T, store ledger.AccountStore, id string) decimal.Decimal {
	t.Helper()
	acc, err := store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID(%s) err=%v", id, err)
	}
	return acc.Balance
}

func assertBalances(t *testing.T, store ledger.AccountStore, want map[string]string) {
	t.Helper()
	for id, w := range want {
		if got := balance(t, store, id); !got.Equal(dec(w)) {
			t.Fatalf("balance %s=%s want %s", id, got, w)
		}
	}
}

func TestTransferMovesFundsAndRecordsTransaction(t *testing.T) {
	store := seed(t, map[string]string{"A": "100", "B": "200"})
	engine := ledger.NewEngine(store, store, store)

	err := engine.Transfer(context.Background(), models.TransferRequest{FromID: "A", ToID: "B", Amount: dec("50")})
	if err != nil {
		t.Fatal(err)
	}

	assertBalances(t, store, map[string]string{"A": "50", "B": "250"})
	txns := store.Transactions()
	if len(txns) != 1 {
		t.Fatalf("transactions=%d want 1", len(txns))
	}
	txn := txns[0]
	if txn.FromAccountID != "A" || txn.ToAccountID != "B" || !txn.Amount.Equal(dec("50")) {
		t.Fatalf("unexpected record: %+v", txn)
	}
	if txn.ID == "" || txn.CreatedAt.IsZero() {
		t.Fatalf("record missing id or timestamp: %+v", txn)
	}
}

func TestTransferRejections(t *testing.T) {
	cases := []struct {
		name string
		req  models.TransferRequest
		want error
	}{
		{"self transfer", models.TransferRequest{FromID: "A", ToID: "A", Amount: dec("10")}, ledger.ErrSelfTransfer},
		{"negative amount", models.TransferRequest{FromID: "A", ToID: "B", Amount: dec("-5")}, ledger.ErrInvalidAmount},
		{"zero amount", models.TransferRequest{FromID: "A", ToID: "B", Amount: decimal.Zero}, ledger.ErrInvalidAmount},
		{"sub-cent amount", models.TransferRequest{FromID: "A", ToID: "B", Amount: dec("0.001")}, ledger.ErrInvalidAmount},
		{"above maximum", models.TransferRequest{FromID: "A", ToID: "B", Amount: dec("10000000000")}, ledger.ErrInvalidAmount},
		{"huge exponent", models.TransferRequest{FromID: "A", ToID: "B", Amount: dec("1e20000000")}, ledger.ErrInvalidAmount},
		{"tiny exponent", models.TransferRequest{FromID: "A", ToID: "B", Amount: dec("1e-20000000")}, ledger.ErrInvalidAmount},
		{"insufficient funds", models.TransferRequest{FromID: "A", ToID: "B", Amount: dec("150")}, ledger.ErrInsufficientFunds},
		{"unknown sender", models.TransferRequest{FromID: "nonexistent", ToID: "B", Amount: dec("10")}, ledger.ErrAccountNotFound},
		{"unknown receiver", models.TransferRequest{FromID: "A", ToID: "nonexistent", Amount: dec("10")}, ledger.ErrAccountNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := seed(t, map[string]string{"A": "100", "B": "200"})
			engine := ledger.NewEngine(store, store, store)

			err := engine.Transfer(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
			assertBalances(t, store, map[string]string{"A": "100", "B": "200"})
			if n := len(store.Transactions()); n != 0 {
				t.Fatalf("transactions=%d want 0", n)
			}
		})
	}
}

func TestTransferRejectsOversizedAmountQuickly(t *testing.T) {
	store := seed(t, map[string]string{"A": "100", "B": "200"})
	engine := ledger.NewEngine(store, store, store)

	var req models.TransferRequest
	if err := json.Unmarshal([]byte(`{"fromId":"A","toId":"B","amount":1e20000000}`), &req); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	err := engine.Transfer(context.Background(), req)
	if !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("err=%v want ErrInvalidAmount", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("rejection took %v", elapsed)
	}
}

func TestTransferOfMaxAmount(t *testing.T) {
	store := seed(t, map[string]string{"A": "9999999999.99", "B": "0"})
	engine := ledger.NewEngine(store, store, store)

	req := models.TransferRequest{FromID: "A", ToID: "B", Amount: ledger.MaxAmount}
	if err := engine.Transfer(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	assertBalances(t, store, map[string]string{"A": "0", "B": "9999999999.99"})

	// Trailing zeros within the limits are the same amount
	req = models.TransferRequest{FromID: "B", ToID: "A", Amount: dec("0.500")}
	if err := engine.Transfer(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	assertBalances(t, store, map[string]string{"A": "0.5", "B": "9999999999.49"})
}

func TestTransferNotFoundNamesAccount(t *testing.T) {
	store := seed(t, map[string]string{"B": "200"})
	engine := ledger.NewEngine(store, store, store)

	err := engine.Transfer(context.Background(), models.TransferRequest{FromID: "nonexistent", ToID: "B", Amount: dec("10")})
	var notFound *ledger.AccountNotFoundError
	if !errors.As(err, &notFound) || notFound.AccountID != "nonexistent" {
		t.Fatalf("err=%v want AccountNotFound(nonexistent)", err)
	}

	// Both missing: the sender is reported
	err = engine.Transfer(context.Background(), models.TransferRequest{FromID: "X", ToID: "Y", Amount: dec("10")})
	if !errors.As(err, &notFound) || notFound.AccountID != "X" {
		t.Fatalf("err=%v want AccountNotFound(X)", err)
	}
}

func TestTransferExactDecimalArithmetic(t *testing.T) {
	store := seed(t, map[string]string{"A": "0.30", "B": "0.10"})
	engine := ledger.NewEngine(store, store, store)

	for i := 0; i < 3; i++ {
		if err := engine.Transfer(context.Background(), models.TransferRequest{FromID: "A", ToID: "B", Amount: dec("0.10")}); err != nil {
			t.Fatal(err)
		}
	}
	assertBalances(t, store, map[string]string{"A": "0", "B": "0.40"})
}

func TestReplayedTransferIsAppliedTwice(t *testing.T) {
	store := seed(t, map[string]string{"A": "100", "B": "0"})
	engine := ledger.NewEngine(store, store, store)
	req := models.TransferRequest{FromID: "A", ToID: "B", Amount: dec("10")}

	for i := 0; i < 2; i++ {
		if err := engine.Transfer(context.Background(), req); err != nil {
			t.Fatal(err)
		}
	}
	assertBalances(t, store, map[string]string{"A": "80", "B": "20"})
	if n := len(store.Transactions()); n != 2 {
		t.Fatalf("transactions=%d want 2", n)
	}
}

func TestTransferAbandonedBeforeWritesHasNoEffect(t *testing.T) {
	store := seed(t, map[string]string{"A": "100", "B": "200"})
	engine := ledger.NewEngine(store, store, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := engine.Transfer(ctx, models.TransferRequest{FromID: "A", ToID: "B", Amount: dec("50")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	assertBalances(t, store, map[string]string{"A": "100", "B": "200"})
	if n := len(store.Transactions()); n != 0 {
		t.Fatalf("transactions=%d want 0", n)
	}
}

// failingAccounts fails the balance write of one account.
type failingAccounts struct {
	*memstore.Store
	failOn string
}

func (f failingAccounts) SetBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	if id == f.failOn {
		return ledger.Unavailable("set balance", errors.New("disk full"))
	}
	return f.Store.SetBalance(ctx, id, balance)
}

// failingLog fails every append.
type failingLog struct{}

func (failingLog) Append(context.Context, models.Transaction) error {
	return ledger.Unavailable("append transaction", errors.New("disk full"))
}

func TestTransferIsAllOrNothing(t *testing.T) {
	t.Run("credit fails", func(t *testing.T) {
		store := seed(t, map[string]string{"A": "100", "B": "200"})
		engine := ledger.NewEngine(failingAccounts{Store: store, failOn: "B"}, store, store)

		err := engine.Transfer(context.Background(), models.TransferRequest{FromID: "A", ToID: "B", Amount: dec("50")})
		if !errors.Is(err, ledger.ErrUnavailable) {
			t.Fatalf("err=%v want ErrUnavailable", err)
		}
		assertBalances(t, store, map[string]string{"A": "100", "B": "200"})
		if n := len(store.Transactions()); n != 0 {
			t.Fatalf("transactions=%d want 0", n)
		}
	})

	t.Run("log append fails", func(t *testing.T) {
		store := seed(t, map[string]string{"A": "100", "B": "200"})
		engine := ledger.NewEngine(store, failingLog{}, store)

		err := engine.Transfer(context.Background(), models.TransferRequest{FromID: "A", ToID: "B", Amount: dec("50")})
		if !errors.Is(err, ledger.ErrUnavailable) {
			t.Fatalf("err=%v want ErrUnavailable", err)
		}
		assertBalances(t, store, map[string]string{"A": "100", "B": "200"})
	})
}

func TestConcurrentOverdrawOnlyOneSucceeds(t *testing.T) {
	store := seed(t, map[string]string{"A": "100", "B": "0", "C": "0"})
	engine := ledger.NewEngine(store, store, store)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, to := range []string{"B", "C"} {
		wg.Add(1)
		go func(i int, to string) {
			defer wg.Done()
			errs[i] = engine.Transfer(context.Background(), models.TransferRequest{FromID: "A", ToID: to, Amount: dec("80")})
		}(i, to)
	}
	wg.Wait()

	var ok, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || insufficient != 1 {
		t.Fatalf("ok=%d insufficient=%d want 1 and 1", ok, insufficient)
	}
	assertBalances(t, store, map[string]string{"A": "20"})
	if n := len(store.Transactions()); n != 1 {
		t.Fatalf("transactions=%d want 1", n)
	}
}

func TestConcurrentTransfersConserveTotal(t *testing.T) {
	store := seed(t, map[string]string{"A": "1000", "B": "1000", "C": "500", "D": "500"})
	engine := ledger.NewEngine(store, store, store)

	const n = 200
	pairs := [][2]string{{"A", "B"}, {"B", "A"}, {"C", "D"}, {"D", "C"}}
	var wg sync.WaitGroup
	for _, p := range pairs {
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(from, to string) {
				defer wg.Done()
				if err := engine.Transfer(context.Background(), models.TransferRequest{FromID: from, ToID: to, Amount: dec("1.25")}); err != nil {
					t.Errorf("%s->%s: %v", from, to, err)
				}
			}(p[0], p[1])
		}
	}
	wg.Wait()

	var accounts []models.Account
	for _, id := range []string{"A", "B", "C", "D"} {
		acc, _ := store.GetByID(context.Background(), id)
		if acc.Balance.IsNegative() {
			t.Fatalf("negative balance: %+v", acc)
		}
		accounts = append(accounts, acc)
	}
	if total := ledger.ConservedTotal(accounts...); !total.Equal(dec("3000")) {
		t.Fatalf("total=%s want 3000", total)
	}
	assertBalances(t, store, map[string]string{"A": "1000", "B": "1000", "C": "500", "D": "500"})
	if got := len(store.Transactions()); got != len(pairs)*n {
		t.Fatalf("transactions=%d want %d", got, len(pairs)*n)
	}
}
