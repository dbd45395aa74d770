// Package warehousedb holds all the migrations for the warehouse database
package warehousedb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection of all migrations for the warehouse database
var Migrations = migrate.NewMigrations()
