package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	// Registers the Go migrations with goose
	_ "github.com/eshaffer321/receipt-reconciler/internal/infrastructure/storage/migrations"
)

// runMigrations applies every pending migration
func (s *Storage) runMigrations(ctx context.Context) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, nil)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	for _, r := range results {
		s.logger.Info("applied migration",
			slog.Int64("version", r.Source.Version),
			slog.Duration("duration", r.Duration),
		)
	}
	return nil
}

// SchemaVersion returns the current migration version
func (s *Storage) SchemaVersion(ctx context.Context) (int64, error) {
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, nil)
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}
