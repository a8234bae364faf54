// Package engine runs rewritten queries against relations registered as
// tables of an embedded SQL database.
//
// Two dialects are supported:
//   - sqlite: modernc.org/sqlite, pure Go, the default
//   - duckdb: github.com/marcboeker/go-duckdb, analytical, needs cgo
//
// Each relation is registered under its alias before a query runs. A
// relation already registered under the same alias is not copied again.
package engine
