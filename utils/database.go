package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgxpool"

	"dicebot/ledger"
)

// OpenPostgres creates a tuned connection pool and waits for the database to
// accept connections.
func OpenPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 30
	config.MinConns = 4
	config.MaxConnLifetime = 45 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second
	config.ConnConfig.RuntimeParams = map[string]string{
		"application_name":                    "dicebot",
		"timezone":                            "UTC",
		"statement_timeout":                   "30s",
		"idle_in_transaction_session_timeout": "60s",
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// the database may still be starting next to us
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return struct{}{}, err
		}
		conn.Release()
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(5))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return pool, nil
}

// OpenLedger opens the ledger backend selected by cfg and applies its schema.
func OpenLedger(ctx context.Context, cfg Config, logger *log.Logger) (ledger.Ledger, error) {
	switch cfg.LedgerBackend() {
	case "postgres":
		pool, err := OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		pg := ledger.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		logger.Info("ledger ready", "backend", "postgres")
		return pg, nil
	case "sqlite":
		s, err := ledger.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("ledger ready", "backend", "sqlite", "path", cfg.SQLitePath)
		return s, nil
	default:
		logger.Warn("no DATABASE_URL or SQLITE_PATH set, balances live in memory and are lost on restart")
		return ledger.NewMemory(), nil
	}
}

// EnsureHouseAccount creates the account that collects project fees.
func EnsureHouseAccount(ctx context.Context, l ledger.Ledger, cfg Config) error {
	if cfg.HouseAccountID == "" {
		return nil
	}
	_, err := l.EnsurePlayer(ctx, ledger.NewPlayer{ID: cfg.HouseAccountID, Username: "House", Balance: 0})
	if err != nil {
		return fmt.Errorf("failed to ensure house account: %w", err)
	}
	return nil
}
