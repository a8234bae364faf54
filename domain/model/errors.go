// Package model provides domain model for sheetsql
package model

import "errors"

var (
	// ErrInvalidSheetSpec is returned for a malformed "Sheet:header" spec
	ErrInvalidSheetSpec = errors.New("invalid sheet spec")

	// ErrMappingShape is returned when a mapping sheet lacks the required columns
	ErrMappingShape = errors.New("mapping sheet must have target and source expression columns")
)
