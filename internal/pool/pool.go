// Package pool provides scoped acquisition of database connections: before
// the first handout it verifies the target database exists (creating it
// with retry-with-backoff on transient errors), and every scoped acquisition
// is guaranteed to commit on success and roll back on error.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"

	"anacingest/internal/config"
	"anacingest/internal/ingesterr"
)

// Pool wraps a *sql.DB sized to the mono-process design: a small pool, size
// 2 by default, since the schema-evolution mutex is the real bottleneck,
// not the store.
type Pool struct {
	db     *sql.DB
	cfg    *config.Config
	logger *slog.Logger
}

// Open connects to DBHost (without selecting a database), ensures DBName
// exists, retrying up to three times with doubling backoff on transient
// errors, then opens the pool bound to that database.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Pool, error) {
	if err := ensureDatabaseExists(ctx, cfg, logger); err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("pool: open database connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.ConnectionPoolSize)
	db.SetMaxIdleConns(cfg.ConnectionPoolSize)
	db.SetConnMaxLifetime(time.Duration(cfg.WaitTimeoutSecs) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.ConnectTimeoutSecs)*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pool: ping database: %w", classifyConnErr(err))
	}

	return &Pool{db: db, cfg: cfg, logger: logger}, nil
}

// ensureDatabaseExists opens a connectionless-of-database DSN, issues CREATE
// DATABASE IF NOT EXISTS, and retries transient failures with doubling
// backoff (base 2s, up to 3 attempts), mirroring the original's
// connection-retry loop in DatabaseManager.
func ensureDatabaseExists(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	noDBDSN := fmt.Sprintf("%s:%s@tcp(%s:3306)/?timeout=%ds", cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.ConnectTimeoutSecs)

	operation := func() error {
		db, err := sql.Open("mysql", noDBDSN)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("pool: open admin connection: %w", err))
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return classifyConnErr(err)
		}

		stmt := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", cfg.DBName)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return classifyConnErr(err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.Multiplier = 2.0
	bo.MaxElapsedTime = 0
	boWithCtx := backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx)

	attempt := 0
	err := backoff.RetryNotify(operation, boWithCtx, func(err error, wait time.Duration) {
		attempt++
		logger.Warn("retrying database existence check", "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		return fmt.Errorf("pool: ensure database %q exists: %w", cfg.DBName, err)
	}
	return nil
}

// classifyConnErr marks transient-looking failures so backoff.Retry keeps
// retrying them, while leaving anything else (bad credentials, missing
// privileges) to fail permanently on the first attempt.
func classifyConnErr(err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return ingesterr.ConnectionLost(err)
	}
	return backoff.Permanent(err)
}

func isTransient(err error) bool {
	msg := err.Error()
	for _, marker := range []string{"connection refused", "broken pipe", "server has gone away", "EOF", "i/o timeout", "reset by peer"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// DB exposes the underlying *sql.DB for components (schema manager, loader)
// that need raw access beyond scoped acquisition.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// AcquireScoped runs fn with a transaction bound to the caller's scope.
// The transaction is committed if fn returns nil, and rolled back otherwise;
// either way the connection is released when AcquireScoped returns.
func (p *Pool) AcquireScoped(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pool: begin transaction: %w", classifyConnErr(err))
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("scoped operation failed: %w; rollback also failed: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pool: commit transaction: %w", classifyConnErr(err))
	}
	return nil
}

// Close releases all pooled connections.
func (p *Pool) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
