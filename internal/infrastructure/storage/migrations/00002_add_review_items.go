package migrations

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upReviewItems, downReviewItems)
}

// upReviewItems adds the quarantine table for inputs the normalizer rejected.
func upReviewItems(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE review_items (
			id          TEXT PRIMARY KEY,
			account_id  TEXT NOT NULL,
			source      TEXT NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			receipt_url TEXT NOT NULL DEFAULT '',
			field       TEXT NOT NULL DEFAULT '',
			reason      TEXT NOT NULL,
			payload     TEXT NOT NULL,
			created_at  TIMESTAMP NOT NULL
		)
	`); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `CREATE INDEX idx_review_items_account ON review_items(account_id, created_at)`)
	return err
}

func downReviewItems(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS review_items`)
	return err
}
