package testdb

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/phrazzld/analyze/internal/platform/postgres"
)

// connectTimeout bounds the initial ping against the test database.
const connectTimeout = 10 * time.Second

// GetTestDB opens the configured test database and applies all migrations.
// The connection is closed when the test finishes. Tests are skipped when no
// database is configured, unless ANALYZE_REQUIRE_TEST_DB is set in CI.
func GetTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := GetTestDatabaseURL()
	if dbURL == "" {
		if requireDatabase() {
			t.Fatal("integration database required in CI: set ANALYZE_TEST_DB_URL or DATABASE_URL")
		}
		t.Skip("Skipping integration test - requires ANALYZE_TEST_DB_URL or DATABASE_URL")
	}

	ctx := context.Background()
	db, err := postgres.Open(ctx, dbURL, connectTimeout)
	if err != nil {
		t.Fatalf("failed to open test database %s: %v", maskDatabaseURL(dbURL), err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: failed to close test database: %v", err)
		}
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := postgres.Migrate(ctx, db, logger, "up"); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// WithTx runs fn inside a transaction that is always rolled back, so tests
// can write freely without affecting each other.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	// The transaction's context must outlive fn; a cancelled context rolls
	// the transaction back underneath the test.
	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("Warning: failed to roll back transaction: %v", err)
		}
	}()

	fn(t, tx)
}
