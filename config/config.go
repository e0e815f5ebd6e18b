// Package config loads service settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/shopspring/decimal"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	Port            string        `env:"PORT,default=8080"`
	Backend         string        `env:"LEDGER_BACKEND,default=postgres"`
	DBURL           string        `env:"DB_URL"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	JWTSecret       string        `env:"JWT_SECRET,required"`
	JWTTTL          time.Duration `env:"JWT_TTL,default=1h"`
	StartingBalance string        `env:"STARTING_BALANCE,default=100.00"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT,default=5s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// LambdaConfig configures the transfer function running over DynamoDB.
type LambdaConfig struct {
	Table    string `env:"DYNAMO_TABLE,default=LedgerAccounts"`
	Endpoint string `env:"DYNAMO_ENDPOINT"`
	Region   string `env:"AWS_REGION,default=eu-west-3"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, envconfig.OsLookuper())
}

func load(ctx context.Context, l envconfig.Lookuper) (Config, error) {
	var c Config
	if err := envconfig.ProcessWith(ctx, &c, l); err != nil {
		return Config{}, err
	}
	return c, c.validate()
}

func LoadLambda(ctx context.Context) (LambdaConfig, error) {
	var c LambdaConfig
	err := envconfig.Process(ctx, &c)
	return c, err
}

func (c Config) validate() error {
	switch c.Backend {
	case BackendPostgres:
		if c.DBURL == "" {
			return errors.New("DB_URL is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.Backend)
	}
	if _, err := c.Balance(); err != nil {
		return err
	}
	return nil
}

// Balance parses the starting balance credited at signup.
func (c Config) Balance() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.StartingBalance)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("STARTING_BALANCE: %w", err)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, errors.New("STARTING_BALANCE must not be negative")
	}
	return d.Round(2), nil
}
