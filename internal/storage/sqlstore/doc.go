// Package sqlstore implements the token store on a SQL database.
//
// Two dialects are supported through database/sql: SQLite (modernc.org/sqlite,
// pure Go, used for single-node deployments and tests) and PostgreSQL (pgx
// stdlib driver). Every row keeps its full JSON body next to the indexed
// columns; conditional writes guard on the indexed columns and check
// RowsAffected, so concurrent consumers never spend the same use twice.
//
// The package also provides a SQL-backed entity directory and audit writer
// sharing the same connection.
package sqlstore
