package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v4/stdlib"
)

// Open connects through the pgx driver and waits for the database to answer.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 30 * time.Second
	err = backoff.RetryNotify(func() error {
		return db.PingContext(ctx)
	}, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		log.Printf("Postgres not ready (%v), retrying in %v", err, wait)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func Initialize(ctx context.Context, db *sql.DB) error {
	// 1. Users table; the user row carries the account balance
	queryUsers := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password TEXT NOT NULL,
		birthdate TEXT NOT NULL,
		balance NUMERIC(12, 2) NOT NULL DEFAULT 100 CHECK (balance >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`

	if _, err := db.ExecContext(ctx, queryUsers); err != nil {
		return fmt.Errorf("create users table: %w", err)
	}

	// 2. Transactions table, append only
	queryTransactions := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		from_user_id TEXT NOT NULL REFERENCES users (id),
		to_user_id TEXT NOT NULL REFERENCES users (id),
		amount NUMERIC(12, 2) NOT NULL CHECK (amount > 0),
		created_at TIMESTAMPTZ NOT NULL
	);`

	if _, err := db.ExecContext(ctx, queryTransactions); err != nil {
		return fmt.Errorf("create transactions table: %w", err)
	}

	return nil
}
