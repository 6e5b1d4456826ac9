package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/onnwee/chatmerge/db"
)

// SetupTestDB connects to TEST_PG_DSN and runs migrations.
// It skips the test if TEST_PG_DSN is not set. Rows whose provider starts
// with "test-" are removed on cleanup.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(ctx, database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		_, _ = database.ExecContext(ctx, `DELETE FROM platform_sessions WHERE provider LIKE 'test-%'`)
		database.Close()
	})
	return database
}
