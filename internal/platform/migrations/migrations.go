// Package migrations applies the relational schema for the rewards core.
// Statements are idempotent so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		user_id TEXT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		membership_level TEXT NOT NULL DEFAULT '',
		cumulative_contribution BIGINT NOT NULL DEFAULT 0 CHECK (cumulative_contribution >= 0),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		idempotency_key TEXT NOT NULL UNIQUE,
		account_id TEXT NOT NULL REFERENCES accounts(user_id),
		amount_delta BIGINT NOT NULL,
		reason TEXT NOT NULL,
		balance_after BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ledger_entries_account
		ON ledger_entries (account_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS referral_edges (
		referee_id TEXT PRIMARY KEY,
		referrer_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		revoked_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_referral_edges_referrer
		ON referral_edges (referrer_id)`,
	`CREATE TABLE IF NOT EXISTS dividend_pools (
		id TEXT PRIMARY KEY,
		accumulated_balance BIGINT NOT NULL DEFAULT 0 CHECK (accumulated_balance >= 0),
		distribution_round BIGINT NOT NULL DEFAULT 0,
		last_distribution_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pool_accruals (
		id TEXT PRIMARY KEY,
		pool_id TEXT NOT NULL REFERENCES dividend_pools(id),
		idempotency_key TEXT NOT NULL UNIQUE,
		amount BIGINT NOT NULL CHECK (amount > 0),
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS distributions (
		pool_id TEXT NOT NULL REFERENCES dividend_pools(id),
		round BIGINT NOT NULL,
		snapshot_balance BIGINT NOT NULL,
		residual BIGINT NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		PRIMARY KEY (pool_id, round)
	)`,
	`CREATE TABLE IF NOT EXISTS distribution_shares (
		pool_id TEXT NOT NULL,
		round BIGINT NOT NULL,
		user_id TEXT NOT NULL,
		equity_share DOUBLE PRECISION NOT NULL CHECK (equity_share >= 0),
		PRIMARY KEY (pool_id, round, user_id),
		FOREIGN KEY (pool_id, round) REFERENCES distributions(pool_id, round)
	)`,
	`CREATE TABLE IF NOT EXISTS equity_holdings (
		pool_id TEXT NOT NULL REFERENCES dividend_pools(id),
		user_id TEXT NOT NULL,
		equity_share DOUBLE PRECISION NOT NULL CHECK (equity_share >= 0),
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (pool_id, user_id)
	)`,
}

// Apply runs every migration statement in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
