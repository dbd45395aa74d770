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
		log.Println("creating blocks, transactions and tokens tables...")
		if err := mghelper.CreateSchema(ctx, db,
			&warehouse.Block{},
			&warehouse.Transaction{},
			&warehouse.Token{},
		); err != nil {
			return err
		}
		return mghelper.CreateModelIndexes(ctx, db, &warehouse.Transaction{}, "block_number")
	}, func(ctx context.Context, db *bun.DB) error {
		log.Println("dropping blocks, transactions and tokens tables...")
		return mghelper.DropTables(ctx, db,
			&warehouse.Transaction{},
			&warehouse.Token{},
			&warehouse.Block{},
		)
	})
}
