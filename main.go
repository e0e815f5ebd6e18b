package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/yashasviy/ledger-api/api"
	"github.com/yashasviy/ledger-api/auth"
	"github.com/yashasviy/ledger-api/config"
	"github.com/yashasviy/ledger-api/db"
	"github.com/yashasviy/ledger-api/ledger"
	"github.com/yashasviy/ledger-api/memstore"
	"github.com/yashasviy/ledger-api/users"
)

// backend is what a storage choice has to provide to the service.
type backend interface {
	ledger.AccountStore
	ledger.TransactionLog
	ledger.Transactor
	users.Repository
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 1. Storage backend
	var store backend
	switch cfg.Backend {
	case config.BackendMemory:
		log.Println("Using in-memory ledger; balances are lost on exit")
		store = memstore.New()
	default:
		sqlDB, err := db.Open(ctx, cfg.DBURL)
		if err != nil {
			log.Fatalf("Postgres Connection Failed: %v", err)
		}
		defer sqlDB.Close()
		if err := db.Initialize(ctx, sqlDB); err != nil {
			log.Fatalf("Schema setup failed: %v", err)
		}
		log.Println("Postgres Connected!")
		store = db.NewStore(sqlDB)
	}

	// 2. Optional Redis for Idempotency-Key replay
	deps := api.Deps{RequestTimeout: cfg.RequestTimeout}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("Redis Connection Failed: %v; Idempotency-Key handling disabled", err)
		} else {
			log.Println("Redis Connected!")
			deps.Redis = rdb
		}
	}

	startingBalance, _ := cfg.Balance()
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL)
	deps.Engine = ledger.NewEngine(store, store, store)
	deps.Users = users.NewService(store, issuer, startingBalance)
	deps.Tokens = issuer

	// 3. Start Server
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: api.NewRouter(deps)}
	go func() {
		log.Printf("Ledger API running on port %s...", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
}
