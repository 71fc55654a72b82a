package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDB creates a new PostgreSQL connection pool.
func NewDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// RunMigrations creates the schema. Every statement is idempotent.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS payment_sessions (
			session_id      TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			provider        TEXT NOT NULL,
			plan_id         TEXT NOT NULL,
			plan_name       TEXT NOT NULL,
			amount          NUMERIC(12, 2) NOT NULL,
			amount_minor    BIGINT NOT NULL,
			currency        TEXT NOT NULL,
			billing_cycle   TEXT NOT NULL,
			phone_sealed    TEXT NOT NULL DEFAULT '',
			nonce           TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'pending',
			provision_state TEXT NOT NULL DEFAULT 'none',
			subscription_id TEXT NOT NULL DEFAULT '',
			claimed_at      TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		ALTER TABLE payment_sessions ADD COLUMN IF NOT EXISTS nonce TEXT NOT NULL DEFAULT '';
		CREATE INDEX IF NOT EXISTS idx_payment_sessions_user_id ON payment_sessions(user_id);
		CREATE INDEX IF NOT EXISTS idx_payment_sessions_unprovisioned
			ON payment_sessions(updated_at) WHERE status = 'SUCCESS' AND provision_state <> 'done';

		CREATE TABLE IF NOT EXISTS subscriptions (
			id                 TEXT PRIMARY KEY,
			user_id            TEXT NOT NULL,
			plan_name          TEXT NOT NULL,
			status             TEXT NOT NULL,
			start_date         TIMESTAMPTZ NOT NULL,
			end_date           TIMESTAMPTZ NOT NULL,
			auto_renew         BOOLEAN NOT NULL DEFAULT TRUE,
			price              NUMERIC(12, 2) NOT NULL,
			currency           TEXT NOT NULL,
			billing_cycle      TEXT NOT NULL,
			features           TEXT[] NOT NULL DEFAULT '{}',
			last_payment_date  TIMESTAMPTZ NOT NULL,
			next_billing_date  TIMESTAMPTZ NOT NULL,
			payment_session_id TEXT NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions(user_id);

		CREATE TABLE IF NOT EXISTS webhook_events (
			delivery_key TEXT PRIMARY KEY,
			session_id   TEXT NOT NULL,
			status       TEXT NOT NULL,
			payload      JSONB NOT NULL,
			received_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_webhook_events_session_id ON webhook_events(session_id);
	`
	_, err := pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
