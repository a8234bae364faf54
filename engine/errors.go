package engine

import "errors"

// Predefined errors
var (
	// ErrUnknownDialect is returned when the engine name is not sqlite or duckdb
	ErrUnknownDialect = errors.New("sheetsql engine: unknown dialect")

	// ErrClosed is returned when the engine has been closed
	ErrClosed = errors.New("sheetsql engine: engine is closed")

	// ErrDuplicateColumnName is returned when a relation repeats a column name
	ErrDuplicateColumnName = errors.New("sheetsql engine: duplicate column name")

	// ErrNoColumns is returned when a relation has no columns to register
	ErrNoColumns = errors.New("sheetsql engine: relation has no columns")
)
