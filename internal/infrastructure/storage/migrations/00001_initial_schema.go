package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upInitialSchema, downInitialSchema)
}

// upInitialSchema creates the entity and audit tables.
// Amounts are stored as decimal strings and dates as YYYY-MM-DD so nothing
// is lost to floating point or time zones.
func upInitialSchema(ctx context.Context, tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE expenses (
			id              TEXT PRIMARY KEY,
			account_id      TEXT NOT NULL,
			date            TEXT NOT NULL,
			amount          TEXT NOT NULL,
			merchant        TEXT NOT NULL DEFAULT '',
			merchant_tokens TEXT NOT NULL DEFAULT '[]',
			category        TEXT NOT NULL DEFAULT '',
			type            TEXT NOT NULL DEFAULT 'business',
			status          TEXT NOT NULL DEFAULT 'pending',
			receipt_id      TEXT NOT NULL DEFAULT '',
			external_id     TEXT NOT NULL DEFAULT '',
			source          TEXT NOT NULL DEFAULT 'manual',
			miss_count      INTEGER NOT NULL DEFAULT 0,
			created_at      TIMESTAMP NOT NULL,
			updated_at      TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX idx_expenses_account_status ON expenses(account_id, status)`,
		`CREATE UNIQUE INDEX idx_expenses_external_id ON expenses(account_id, external_id) WHERE external_id != ''`,

		`CREATE TABLE receipts (
			id              TEXT PRIMARY KEY,
			account_id      TEXT NOT NULL,
			url             TEXT NOT NULL DEFAULT '',
			uploaded_at     TIMESTAMP NOT NULL,
			ocr_json        TEXT NOT NULL DEFAULT '{}',
			amount          TEXT NOT NULL,
			date            TEXT NOT NULL,
			merchant        TEXT NOT NULL DEFAULT '',
			merchant_tokens TEXT NOT NULL DEFAULT '[]',
			status          TEXT NOT NULL DEFAULT 'pending',
			expense_id      TEXT NOT NULL DEFAULT '',
			miss_count      INTEGER NOT NULL DEFAULT 0,
			created_at      TIMESTAMP NOT NULL,
			updated_at      TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX idx_receipts_account_status ON receipts(account_id, status)`,

		`CREATE TABLE audit_entries (
			seq             INTEGER PRIMARY KEY AUTOINCREMENT,
			id              TEXT NOT NULL UNIQUE,
			account_id      TEXT NOT NULL,
			timestamp       TIMESTAMP NOT NULL,
			actor           TEXT NOT NULL,
			action          TEXT NOT NULL,
			previous_status TEXT NOT NULL,
			new_status      TEXT NOT NULL,
			expense_id      TEXT NOT NULL DEFAULT '',
			receipt_id      TEXT NOT NULL DEFAULT '',
			score           REAL NOT NULL DEFAULT 0,
			ref_entry_id    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX idx_audit_account ON audit_entries(account_id, seq)`,
	}

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func downInitialSchema(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"audit_entries", "receipts", "expenses"} {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return err
		}
	}
	return nil
}
