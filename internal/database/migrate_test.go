package database_test

import (
	"context"
	"testing"

	"github.com/iliyamo/raffle-tickets/internal/database"
	"github.com/iliyamo/raffle-tickets/internal/testutil"
)

func TestMigrate_Idempotent(t *testing.T) {
	db := testutil.NewTestDB(t)
	ctx := context.Background()

	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 recorded migrations, got %d", n)
	}
	for _, table := range []string{"lot_inventory", "tickets", "reconciliations"} {
		if _, err := db.ExecContext(ctx, "SELECT 1 FROM "+table+" LIMIT 1"); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}
