// Package ledger moves money between accounts.
//
// The Engine validates a transfer, then debits, credits and appends the
// Transaction record inside one unit of work supplied by a Transactor, so the
// three writes become visible together or not at all.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/yashasviy/ledger-api/models"
)

// AccountStore maps account ids to balances.
type AccountStore interface {
	// GetByID returns an *AccountNotFoundError when the id is unknown.
	GetByID(ctx context.Context, id string) (models.Account, error)
	// SetBalance overwrites the balance; *AccountNotFoundError when the id is unknown.
	SetBalance(ctx context.Context, id string, balance decimal.Decimal) error
}

// TransactionLog is the append-only store of completed transfers.
type TransactionLog interface {
	Append(ctx context.Context, txn models.Transaction) error
}

// Transactor runs fn as one atomic unit over the given accounts.
//
// Stores find the unit through the ctx handed to fn: writes made with that
// ctx commit together when fn returns nil and are discarded otherwise. Units
// touching a common account id are serialized; units over disjoint ids are not.
type Transactor interface {
	WithinTransfer(ctx context.Context, accountIDs []string, fn func(ctx context.Context) error) error
}

// Scale is the number of fractional digits money is kept at.
const Scale = 2

// MaxAmount is the largest amount a single transfer may move. Balances and
// amounts are stored as NUMERIC(12,2).
var MaxAmount = decimal.RequireFromString("9999999999.99")

const (
	maxIntegerDigits = 10
	// Written-out trailing zeros past this are refused rather than parsed.
	maxFractionDigits = 18
)
