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
		log.Println("creating state snapshot tables...")
		if err := mghelper.CreateSchema(ctx, db,
			&warehouse.DestinationState{},
			&warehouse.AutopoolDestinationState{},
			&warehouse.AutopoolState{},
			&warehouse.DestinationTokenValue{},
		); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, db, &warehouse.DestinationState{}, "block_number"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &warehouse.AutopoolState{}, "block_number")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping state snapshot tables...")
		return mghelper.DropTables(ctx, db,
			&warehouse.DestinationTokenValue{},
			&warehouse.AutopoolState{},
			&warehouse.AutopoolDestinationState{},
			&warehouse.DestinationState{},
		)
	})
}
