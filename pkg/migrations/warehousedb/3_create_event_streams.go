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
		log.Println("creating event stream tables...")
		eventModels := []any{
			&warehouse.Deposit{},
			&warehouse.Withdrawal{},
			&warehouse.ShareTransfer{},
			&warehouse.FeeCollection{},
			&warehouse.IncentiveSwap{},
			&warehouse.IncentiveClaim{},
			&warehouse.UnderlyingDeposit{},
			&warehouse.UnderlyingWithdrawal{},
			&warehouse.BalanceUpdate{},
		}
		if err := mghelper.CreateSchema(ctx, db, eventModels...); err != nil {
			return err
		}
		for _, model := range eventModels {
			if err := mghelper.CreateModelIndexes(ctx, db, model, "block_number"); err != nil {
				return err
			}
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping event stream tables...")
		return mghelper.DropTables(ctx, db,
			&warehouse.BalanceUpdate{},
			&warehouse.UnderlyingWithdrawal{},
			&warehouse.UnderlyingDeposit{},
			&warehouse.IncentiveClaim{},
			&warehouse.IncentiveSwap{},
			&warehouse.FeeCollection{},
			&warehouse.ShareTransfer{},
			&warehouse.Withdrawal{},
			&warehouse.Deposit{},
		)
	})
}
