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
		log.Println("creating autopool and destination tables...")
		if err := mghelper.CreateSchema(ctx, db,
			&warehouse.Autopool{},
			&warehouse.Destination{},
			&warehouse.AutopoolDestination{},
			&warehouse.DestinationToken{},
		); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, db, &warehouse.AutopoolDestination{}, "autopool_address"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &warehouse.DestinationToken{}, "destination_address")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping autopool and destination tables...")
		return mghelper.DropTables(ctx, db,
			&warehouse.DestinationToken{},
			&warehouse.AutopoolDestination{},
			&warehouse.Destination{},
			&warehouse.Autopool{},
		)
	})
}
