package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrSelfTransfer      = errors.New("cannot transfer to the same account")
	ErrInvalidAmount     = errors.New("transfer amount must be between 0.01 and 9999999999.99 with at most 2 decimal places")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("account not found")

	// ErrUnavailable marks storage faults, as opposed to business-rule rejections.
	ErrUnavailable = errors.New("ledger storage unavailable")
)

// AccountNotFoundError names the account that could not be resolved.
type AccountNotFoundError struct {
	AccountID string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account %q not found", e.AccountID)
}

func (e *AccountNotFoundError) Is(target error) bool {
	return target == ErrAccountNotFound
}

// NotFound builds the error stores return for a missing account.
func NotFound(accountID string) error {
	return &AccountNotFoundError{AccountID: accountID}
}

// Unavailable wraps a storage fault so callers can tell it from a rejection.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// Kind returns the machine-readable kind of a ledger error.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSelfTransfer):
		return "self_transfer"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal"
	}
}

// IsRejection reports whether err is a business-rule rejection of the request.
func IsRejection(err error) bool {
	switch Kind(err) {
	case "self_transfer", "invalid_amount", "account_not_found", "insufficient_funds":
		return true
	}
	return false
}
