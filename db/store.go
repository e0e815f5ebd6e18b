package db

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jackc/pgconn"
	"github.com/shopspring/decimal"

	"github.com/yashasviy/ledger-api/ledger"
	"github.com/yashasviy/ledger-api/models"
	"github.com/yashasviy/ledger-api/users"
)

const uniqueViolation = "23505"

// Store is the Postgres implementation of the ledger stores and the users repository.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type txKey struct{}

// executor is the open transfer transaction when ctx carries one, the pool otherwise.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) executor(ctx context.Context) executor {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// WithinTransfer runs fn inside one SQL transaction holding row locks on the accounts.
func (s *Store) WithinTransfer(ctx context.Context, accountIDs []string, fn func(ctx context.Context) error) error {
	// The transaction outlives ctx cancellation so an abandoned request rolls
	// back through the deferred Rollback and a started write phase can commit.
	tx, err := s.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return ledger.Unavailable("begin transfer", err)
	}
	defer tx.Rollback() // no-op if already committed

	ids := append([]string(nil), accountIDs...)
	sort.Strings(ids)
	for _, id := range ids {
		// Missing rows lock nothing; the lookup inside fn reports them.
		var locked string
		err := tx.QueryRowContext(ctx, "SELECT id FROM users WHERE id = $1 FOR UPDATE", id).Scan(&locked)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return ledger.Unavailable("lock account", err)
		}
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ledger.Unavailable("commit transfer", err)
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (models.Account, error) {
	acc := models.Account{ID: id}
	err := s.executor(ctx).QueryRowContext(ctx, "SELECT balance FROM users WHERE id = $1", id).Scan(&acc.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, ledger.NotFound(id)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.Account{}, ctxErr
		}
		return models.Account{}, ledger.Unavailable("get account", err)
	}
	return acc, nil
}

func (s *Store) SetBalance(ctx context.Context, id string, balance decimal.Decimal) error {
	result, err := s.executor(ctx).ExecContext(ctx, "UPDATE users SET balance = $1 WHERE id = $2", balance.StringFixed(ledger.Scale), id)
	if err != nil {
		return ledger.Unavailable("set balance", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return ledger.Unavailable("set balance", err)
	}
	if rows == 0 {
		return ledger.NotFound(id)
	}
	return nil
}

func (s *Store) Append(ctx context.Context, txn models.Transaction) error {
	_, err := s.executor(ctx).ExecContext(ctx,
		"INSERT INTO transactions (id, from_user_id, to_user_id, amount, created_at) VALUES ($1, $2, $3, $4, $5)",
		txn.ID, txn.FromAccountID, txn.ToAccountID, txn.Amount.StringFixed(ledger.Scale), txn.CreatedAt)
	if err != nil {
		return ledger.Unavailable("append transaction", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, u models.User) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username, password, birthdate, balance, created_at) VALUES ($1, $2, $3, $4, $5, $6)",
		u.ID, u.Username, u.PasswordHash, u.Birthdate, u.Balance.StringFixed(ledger.Scale), u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return users.ErrUsernameTaken
	}
	return err
}

func (s *Store) FindByUsername(ctx context.Context, username string) (models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, username, password, birthdate, balance, created_at FROM users WHERE username = $1", username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Birthdate, &u.Balance, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, users.ErrUserNotFound
	}
	return u, err
}

func (s *Store) List(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, username, birthdate, balance, created_at FROM users ORDER BY created_at, username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Birthdate, &u.Balance, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
