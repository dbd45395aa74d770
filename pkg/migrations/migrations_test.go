package migrations

import (
	"context"
	"testing"

	"github.com/uptrace/bun/migrate"

	"github.com/autopool-labs/autopool-warehouse/pkg/migrations/warehousedb"
	mghelper "github.com/autopool-labs/autopool-warehouse/pkg/pgutil"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

func TestWarehouseDBMigrations_Apply(t *testing.T) {
	db, cleanup := mghelper.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, warehousedb.Migrations)

	// Initialize migration system
	err := migrator.Init(ctx)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	// Run all migrations up
	group, err := migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if group.IsZero() {
		t.Error("Expected migrations to run, but none were applied")
	}

	// Verify all expected tables exist
	expectedTables := []string{
		"blocks",
		"transactions",
		"tokens",
		"autopools",
		"destinations",
		"autopool_destinations",
		"destination_tokens",
		"deposits",
		"withdrawals",
		"share_transfers",
		"fee_collections",
		"incentive_swaps",
		"incentive_claims",
		"underlying_deposits",
		"underlying_withdrawals",
		"balance_updates",
		"destination_states",
		"autopool_destination_states",
		"autopool_states",
		"destination_token_values",
		"rebalance_plans",
		"dex_swap_steps",
		"rebalance_events",
		"asset_exposures",
		"swap_quotes",
		"sync_watermarks",
		"bun_migrations",
	}

	for _, table := range expectedTables {
		mghelper.AssertTableExists(t, db, table)
	}

	// Verify indexes on the hottest lookup columns
	mghelper.AssertIndexExists(t, db, "idx_transactions_block_number")
	mghelper.AssertIndexExists(t, db, "idx_deposits_block_number")
	mghelper.AssertIndexExists(t, db, "idx_rebalance_events_autopool_address")
	mghelper.AssertIndexExists(t, db, "idx_rebalance_plans_datetime_generated")

	// A freshly migrated database must pass the model-driven drift check the
	// daemon runs at startup
	if err := warehouse.VerifySchema(ctx, db, warehouse.Models()...); err != nil {
		t.Fatalf("VerifySchema() failed on freshly migrated database: %v", err)
	}
}

func TestMigrations_Idempotency(t *testing.T) {
	db, cleanup := mghelper.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, warehousedb.Migrations)

	err := migrator.Init(ctx)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	// Run migrations first time
	_, err = migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("First Migrate() failed: %v", err)
	}

	// Run migrations second time - should not fail
	group, err := migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Second Migrate() failed: %v", err)
	}

	// Should return zero group (no new migrations)
	if !group.IsZero() {
		t.Error("Expected no new migrations on second run")
	}

	mghelper.AssertTableExists(t, db, "blocks")
	mghelper.AssertTableExists(t, db, "rebalance_plans")
}

func TestMigrations_Rollback(t *testing.T) {
	db, cleanup := mghelper.SetupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	migrator := migrate.NewMigrator(db, warehousedb.Migrations)

	err := migrator.Init(ctx)
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	_, err = migrator.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}

	mghelper.AssertTableExists(t, db, "blocks")
	mghelper.AssertTableExists(t, db, "sync_watermarks")

	// Rollback last migration group (all migrations run in one group by Migrate())
	group, err := migrator.Rollback(ctx)
	if err != nil {
		t.Fatalf("Rollback() failed: %v", err)
	}
	if group.IsZero() {
		t.Error("Expected rollback to process a migration")
	}

	// Verify all tables are dropped (entire migration group is rolled back)
	mghelper.AssertTableNotExists(t, db, "sync_watermarks")
	mghelper.AssertTableNotExists(t, db, "rebalance_events")
	mghelper.AssertTableNotExists(t, db, "deposits")
	mghelper.AssertTableNotExists(t, db, "blocks")
}
