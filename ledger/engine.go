package ledger

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yashasviy/ledger-api/models"
)

// Engine executes transfers. It holds explicit references to its stores.
type Engine struct {
	accounts   AccountStore
	txlog      TransactionLog
	transactor Transactor

	now   func() time.Time
	newID func() string
}

func NewEngine(accounts AccountStore, txlog TransactionLog, transactor Transactor) *Engine {
	return &Engine{
		accounts:   accounts,
		txlog:      txlog,
		transactor: transactor,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// ValidateRequest checks the rules that need no stored state.
func ValidateRequest(req models.TransferRequest) error {
	if req.FromID == req.ToID {
		return ErrSelfTransfer
	}
	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	// Checked on digits and exponent only: comparing or rounding a value
	// like 1e20000000 would first expand it to millions of digits.
	if !withinLimits(req.Amount) {
		return ErrInvalidAmount
	}
	if !req.Amount.Equal(req.Amount.Truncate(Scale)) {
		return ErrInvalidAmount
	}
	return nil
}

func withinLimits(d decimal.Decimal) bool {
	exp := int64(d.Exponent())
	if exp < -maxFractionDigits {
		return false
	}
	return int64(d.NumDigits())+exp <= maxIntegerDigits
}

// Transfer moves req.Amount from req.FromID to req.ToID and records it.
//
// The request can be abandoned through ctx until the first write starts;
// from then on the writes and the commit are not cancellable.
func (e *Engine) Transfer(ctx context.Context, req models.TransferRequest) error {
	if err := ValidateRequest(req); err != nil {
		return err
	}
	amount := req.Amount.Round(Scale)

	err := e.transactor.WithinTransfer(ctx, []string{req.FromID, req.ToID}, func(ctx context.Context) error {
		from, fromErr := e.accounts.GetByID(ctx, req.FromID)
		to, toErr := e.accounts.GetByID(ctx, req.ToID)
		if fromErr != nil {
			return fromErr
		}
		if toErr != nil {
			return toErr
		}

		if from.Balance.LessThan(amount) {
			return ErrInsufficientFunds
		}
		newFrom := from.Balance.Sub(amount).Round(Scale)
		newTo := to.Balance.Add(amount).Round(Scale)

		if err := ctx.Err(); err != nil {
			return err
		}
		wctx := context.WithoutCancel(ctx)

		if err := e.accounts.SetBalance(wctx, from.ID, newFrom); err != nil {
			return err
		}
		if err := e.accounts.SetBalance(wctx, to.ID, newTo); err != nil {
			return err
		}
		return e.txlog.Append(wctx, models.Transaction{
			ID:            e.newID(),
			FromAccountID: from.ID,
			ToAccountID:   to.ID,
			Amount:        amount,
			CreatedAt:     e.now().UTC(),
		})
	})

	if errors.Is(err, ErrUnavailable) {
		log.Printf("[Ledger] transfer %s -> %s (%s) failed: %v", req.FromID, req.ToID, amount.StringFixed(Scale), err)
	}
	return err
}

// ConservedTotal is the sum that every successful transfer leaves unchanged.
func ConservedTotal(accounts ...models.Account) decimal.Decimal {
	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(a.Balance)
	}
	return total
}
