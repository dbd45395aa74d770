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
		log.Println("creating quote snapshot tables...")
		return mghelper.CreateSchema(ctx, db,
			&warehouse.AssetExposure{},
			&warehouse.SwapQuote{},
		)
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping quote snapshot tables...")
		return mghelper.DropTables(ctx, db,
			&warehouse.SwapQuote{},
			&warehouse.AssetExposure{},
		)
	})
}
