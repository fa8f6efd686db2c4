package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds every registered migration; each file registers one, named after the file.
var Migrations = migrate.NewMigrations()
