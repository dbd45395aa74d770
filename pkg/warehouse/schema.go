package warehouse

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/uptrace/bun"
)

// ErrSchemaDrift means the live table's columns no longer match the model.
// This is a deliberate fail-fast guard before any write, never a silent
// migration.
var ErrSchemaDrift = errors.New("schema drift detected")

// VerifySchema compares each model's fields against the live table columns
// and fails with a model-only vs store-only diff on any mismatch.
func VerifySchema(ctx context.Context, db *bun.DB, models ...any) error {
	for _, model := range models {
		typ := reflect.TypeOf(model)
		if typ.Kind() == reflect.Ptr {
			typ = typ.Elem()
		}
		table := db.Table(typ)

		modelCols := make(map[string]struct{}, len(table.Fields))
		for _, f := range table.Fields {
			modelCols[f.Name] = struct{}{}
		}

		var liveCols []string
		err := db.NewSelect().
			ColumnExpr("column_name").
			TableExpr("information_schema.columns").
			Where("table_schema = ?", "public").
			Where("table_name = ?", table.Name).
			Scan(ctx, &liveCols)
		if err != nil {
			return fmt.Errorf("failed to read live columns for %s: %w", table.Name, err)
		}
		if len(liveCols) == 0 {
			return fmt.Errorf("table %s: missing from database: %w", table.Name, ErrSchemaDrift)
		}

		liveSet := make(map[string]struct{}, len(liveCols))
		for _, c := range liveCols {
			liveSet[c] = struct{}{}
		}

		var modelOnly, storeOnly []string
		for c := range modelCols {
			if _, ok := liveSet[c]; !ok {
				modelOnly = append(modelOnly, c)
			}
		}
		for c := range liveSet {
			if _, ok := modelCols[c]; !ok {
				storeOnly = append(storeOnly, c)
			}
		}

		if len(modelOnly) > 0 || len(storeOnly) > 0 {
			sort.Strings(modelOnly)
			sort.Strings(storeOnly)
			return fmt.Errorf("table %s: model-only columns [%s], store-only columns [%s]: %w",
				table.Name,
				strings.Join(modelOnly, ", "),
				strings.Join(storeOnly, ", "),
				ErrSchemaDrift)
		}
	}
	return nil
}
