// Package database implements the durable job store on database/sql.
//
// Two dialects are supported: PostgreSQL through the pgx stdlib driver for
// production and SQLite through the pure Go modernc driver for local runs
// and tests. Schema changes are embedded goose migrations, one directory per
// dialect.
package database
