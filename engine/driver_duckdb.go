//go:build cgo

package engine

import (
	_ "github.com/marcboeker/go-duckdb" // registers the "duckdb" database/sql driver
)
