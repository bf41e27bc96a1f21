package db

import (
	"context"
	"fmt"
)

// Schema statements are idempotent so the engine can run them at startup
// without a separate migration step.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id UUID PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry DOUBLE PRECISION NOT NULL,
		stop DOUBLE PRECISION NOT NULL,
		target DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		position_size DOUBLE PRECISION NOT NULL,
		leverage DOUBLE PRECISION NOT NULL,
		close_price DOUBLE PRECISION,
		close_reason TEXT,
		pnl DOUBLE PRECISION,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades (symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades (status)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades (timestamp)`,

	`CREATE TABLE IF NOT EXISTS decision_trace (
		id UUID PRIMARY KEY,
		signal_id UUID NOT NULL,
		timestamp TIMESTAMPTZ NOT NULL,
		symbol TEXT NOT NULL,
		source TEXT NOT NULL,
		allowed BOOLEAN NOT NULL,
		block_level TEXT NOT NULL,
		reason TEXT NOT NULL,
		context JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decision_trace_timestamp ON decision_trace (timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_decision_trace_symbol ON decision_trace (symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_decision_trace_source ON decision_trace (source)`,
	`CREATE INDEX IF NOT EXISTS idx_decision_trace_allowed ON decision_trace (allowed)`,

	`CREATE TABLE IF NOT EXISTS system_state_snapshots (
		id UUID PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL,
		snapshot_data JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON system_state_snapshots (timestamp DESC)`,
}

// EnsureSchema creates the tables and indexes when they do not exist.
func EnsureSchema(ctx context.Context, q Querier) error {
	for _, stmt := range schemaStatements {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
