package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upMatchRuns, downMatchRuns)
}

// upMatchRuns adds per-account matching pass history.
func upMatchRuns(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE match_runs (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id   TEXT NOT NULL,
			started_at   TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			status       TEXT NOT NULL DEFAULT 'running',
			matched      INTEGER NOT NULL DEFAULT 0,
			unmatched    INTEGER NOT NULL DEFAULT 0,
			reactivated  INTEGER NOT NULL DEFAULT 0,
			discarded    INTEGER NOT NULL DEFAULT 0,
			error        TEXT NOT NULL DEFAULT ''
		)
	`); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `CREATE INDEX idx_match_runs_account ON match_runs(account_id, id)`)
	return err
}

func downMatchRuns(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS match_runs`)
	return err
}
