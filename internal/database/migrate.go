package database

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id            BIGSERIAL PRIMARY KEY,
		order_no      VARCHAR(64)  NOT NULL UNIQUE,
		name          VARCHAR(255) NOT NULL,
		amount        BIGINT       NOT NULL CHECK (amount > 0),
		currency      VARCHAR(10)  NOT NULL DEFAULT 'CNY',
		notify_url    TEXT         NOT NULL,
		status        VARCHAR(20)  NOT NULL DEFAULT 'pending'
		              CHECK (status IN ('pending', 'processing', 'paid')),
		payment_type  VARCHAR(32),
		trade_no      VARCHAR(64),
		notify_status VARCHAR(20)  NOT NULL DEFAULT 'none',
		paid_at       TIMESTAMPTZ,
		created_at    TIMESTAMPTZ  NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_status_created ON orders (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_notify_status ON orders (notify_status)`,
	`CREATE TABLE IF NOT EXISTS configs (
		key        VARCHAR(100) PRIMARY KEY,
		value      TEXT         NOT NULL,
		updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS notify_attempts (
		id          UUID         PRIMARY KEY,
		order_no    VARCHAR(64)  NOT NULL,
		attempt     INT          NOT NULL,
		http_status INT          NOT NULL DEFAULT 0,
		outcome     VARCHAR(20)  NOT NULL,
		error       TEXT         NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notify_attempts_order ON notify_attempts (order_no, created_at)`,
}

// Migrate creates the cashier schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}
