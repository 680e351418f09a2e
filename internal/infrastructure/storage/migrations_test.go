package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expectedMigrationCount is the number of migrations we expect to have
// Update this when adding new migrations
const expectedMigrationCount = 3

// TestMigrations_FreshDatabase tests running migrations on a fresh database
func TestMigrations_FreshDatabase(t *testing.T) {
	ctx := context.Background()
	tmpDB := createTempDB(t)
	defer os.Remove(tmpDB)

	store, err := NewStorage(ctx, tmpDB, nil)
	require.NoError(t, err)
	defer store.Close()

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(expectedMigrationCount), version)

	for _, table := range []string{"expenses", "receipts", "audit_entries", "review_items", "match_runs"} {
		var name string
		err := store.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

// TestMigrations_Idempotency tests that migrations can be run multiple times
func TestMigrations_Idempotency(t *testing.T) {
	ctx := context.Background()
	tmpDB := createTempDB(t)
	defer os.Remove(tmpDB)

	// Run migrations first time
	store, err := NewStorage(ctx, tmpDB, nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateExpense(ctx, newExpense("e1", "acct-1", "-10.00")))
	store.Close()

	// Run migrations second time (should be no-op)
	store, err = NewStorage(ctx, tmpDB, nil)
	require.NoError(t, err)
	defer store.Close()

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(expectedMigrationCount), version)

	e, err := store.GetExpense(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", e.AccountID)
}

// createTempDB creates a temporary database file for testing
func createTempDB(t *testing.T) string {
	tmpFile, err := os.CreateTemp("", "test_*.db")
	require.NoError(t, err)
	tmpFile.Close()
	return tmpFile.Name()
}
