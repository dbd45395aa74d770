package warehousedb

import (
	"context"
	"log"

	"github.com/uptrace/bun"

	mghelper "github.com/autopool-labs/autopool-warehouse/pkg/pgutil/migrations"
	"github.com/autopool-labs/autopool-warehouse/pkg/warehouse"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		log.Println("creating sync watermarks table...")
		return mghelper.CreateSchema(ctx, db, &warehouse.SyncWatermark{})
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping sync watermarks table...")
		return mghelper.DropTables(ctx, db, &warehouse.SyncWatermark{})
	})
}
