package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the balance view of a user, the unit the ledger moves money between
type Account struct {
	ID      string          `json:"id"`
	Balance decimal.Decimal `json:"balance"`
}

// User owns exactly one account; the account id is the user id
type User struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Birthdate    string          `json:"birthdate"`
	Balance      decimal.Decimal `json:"balance"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Account projects the balance view of the user
func (u User) Account() Account {
	return Account{ID: u.ID, Balance: u.Balance}
}

// Transaction represents a completed money movement. Once appended it is never modified.
type Transaction struct {
	ID            string          `json:"id"`
	FromAccountID string          `json:"fromAccountId"`
	ToAccountID   string          `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// TransferRequest is what the user sends in the API call
type TransferRequest struct {
	FromID string          `json:"fromId"`
	ToID   string          `json:"toId"`
	Amount decimal.Decimal `json:"amount"`
}
