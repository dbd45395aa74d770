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
		log.Println("creating rebalance plan and event tables...")
		if err := mghelper.CreateSchema(ctx, db,
			&warehouse.RebalancePlan{},
			&warehouse.DexSwapStep{},
			&warehouse.RebalanceEvent{},
		); err != nil {
			return err
		}
		if err := mghelper.CreateModelIndexes(ctx, db, &warehouse.RebalancePlan{}, "autopool_address", "datetime_generated"); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &warehouse.RebalanceEvent{}, "autopool_address", "block_number")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping rebalance plan and event tables...")
		return mghelper.DropTables(ctx, db,
			&warehouse.RebalanceEvent{},
			&warehouse.DexSwapStep{},
			&warehouse.RebalancePlan{},
		)
	})
}
