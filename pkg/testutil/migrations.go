package testutil

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// StockMigrations returns the DDL for the stock schema. The CHECK constraint
// names matter: the error mapper recognizes them when Postgres rejects a
// write, so tests exercise the same names production runs with.
func StockMigrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS items (
			id UUID PRIMARY KEY,
			code TEXT NOT NULL,
			name TEXT NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			min_stock_level NUMERIC(14,3) NOT NULL DEFAULT 0,
			is_controlled BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT items_code_key UNIQUE (code)
		)`,

		`CREATE TABLE IF NOT EXISTS batches (
			id UUID PRIMARY KEY,
			item_id UUID NOT NULL REFERENCES items(id),
			warehouse_id TEXT NOT NULL DEFAULT 'main',
			batch_number TEXT NOT NULL,
			expiry_date TIMESTAMPTZ NOT NULL,
			received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			quantity_on_hand NUMERIC(14,3) NOT NULL DEFAULT 0,
			reserved_quantity NUMERIC(14,3) NOT NULL DEFAULT 0,
			unit_cost NUMERIC(14,4) NOT NULL DEFAULT 0,
			quarantined BOOLEAN NOT NULL DEFAULT FALSE,
			unspecified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT batches_quantity_on_hand_non_negative CHECK (quantity_on_hand >= 0),
			CONSTRAINT batches_reserved_within_on_hand CHECK (reserved_quantity >= 0 AND reserved_quantity <= quantity_on_hand),
			CONSTRAINT batches_item_warehouse_batch_number_key UNIQUE (item_id, warehouse_id, batch_number)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_batches_item_eligibility
			ON batches (item_id, warehouse_id, expiry_date)
			WHERE NOT quarantined AND NOT unspecified`,

		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id UUID PRIMARY KEY,
			item_id UUID NOT NULL REFERENCES items(id),
			batch_id UUID NOT NULL REFERENCES batches(id),
			kind TEXT NOT NULL,
			quantity_delta NUMERIC(14,3) NOT NULL,
			reference_type TEXT NOT NULL,
			reference_id TEXT NOT NULL,
			performed_by TEXT,
			note TEXT,
			occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT ledger_entries_kind_valid CHECK (
				kind IN ('stock_in', 'dispense_outpatient', 'dispense_ward', 'transfer', 'return', 'adjustment')
			)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_ledger_reference ON ledger_entries (reference_type, reference_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_batch ON ledger_entries (batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_item ON ledger_entries (item_id)`,

		`CREATE TABLE IF NOT EXISTS reservations (
			id UUID PRIMARY KEY,
			item_id UUID NOT NULL REFERENCES items(id),
			batch_id UUID NOT NULL REFERENCES batches(id),
			quantity NUMERIC(14,3) NOT NULL,
			reference_type TEXT NOT NULL,
			reference_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT reservations_quantity_positive CHECK (quantity > 0),
			CONSTRAINT reservations_status_valid CHECK (
				status IN ('active', 'consumed', 'released', 'expired')
			)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_reservations_reference ON reservations (reference_type, reference_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_active_expiry ON reservations (expires_at) WHERE status = 'active'`,
	}
}

// ApplyMigrations runs the stock DDL against the test database
func ApplyMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range StockMigrations() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// TruncateAll clears every stock table between tests
func TruncateAll(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx,
		`TRUNCATE reservations, ledger_entries, batches, items CASCADE`)
	return err
}
