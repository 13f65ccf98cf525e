package db

import "embed"

// sqlSchemas holds the golang-migrate files applied by ExecuteMigrations.
//
//go:embed migrations/*.sql
var sqlSchemas embed.FS
