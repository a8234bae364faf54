package model

import "strings"

// Column is one (name, kind) pair of a relation schema.
type Column struct {
	Name string
	Kind Kind
}

// Relation is a materialized sheet: an ordered schema plus typed rows.
// A Relation is immutable after construction; accessors hand out shared
// slices that callers must treat as read-only.
type Relation struct {
	// name is the sheet name the relation was loaded from.
	name string
	// headerRow is the 1-based header row used for loading.
	headerRow int
	columns   []Column
	rows      [][]Value
	// sourceRows holds the 1-based sheet row of each row, when known.
	sourceRows []int
	index      map[string]int
	size       int64
}

// NewRelation creates new Relation. The columns and rows slices are owned
// by the relation afterwards.
func NewRelation(name string, headerRow int, columns []Column, rows [][]Value) *Relation {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c.Name] = i
	}

	var size int64
	for _, c := range columns {
		size += int64(len(c.Name)) + 16
	}
	for _, row := range rows {
		size += 24
		for _, v := range row {
			size += v.size()
		}
	}

	return &Relation{
		name:      name,
		headerRow: headerRow,
		columns:   columns,
		rows:      rows,
		index:     index,
		size:      size,
	}
}

// NewSheetRelation creates a Relation whose rows came from the given
// 1-based sheet rows. sourceRows must have one entry per row.
func NewSheetRelation(name string, headerRow int, columns []Column, rows [][]Value, sourceRows []int) *Relation {
	r := NewRelation(name, headerRow, columns, rows)
	if len(sourceRows) == len(rows) {
		r.sourceRows = sourceRows
	}
	return r
}

// Name return relation name.
func (r *Relation) Name() string {
	return r.name
}

// HeaderRow returns the 1-based header row the relation was loaded with.
func (r *Relation) HeaderRow() int {
	return r.headerRow
}

// Columns returns the schema.
func (r *Relation) Columns() []Column {
	return r.columns
}

// ColumnNames returns the ordered column names.
func (r *Relation) ColumnNames() []string {
	names := make([]string, len(r.columns))
	for i, c := range r.columns {
		names[i] = c.Name
	}
	return names
}

// ColumnIndex returns the position of the named column.
func (r *Relation) ColumnIndex(name string) (int, bool) {
	i, ok := r.index[name]
	return i, ok
}

// Rows returns all rows.
func (r *Relation) Rows() [][]Value {
	return r.rows
}

// SourceRow returns the 1-based sheet row that row i was read from. Rows
// without a recorded origin are assumed to follow the header contiguously.
func (r *Relation) SourceRow(i int) int {
	if i >= 0 && i < len(r.sourceRows) {
		return r.sourceRows[i]
	}
	return r.headerRow + i + 1
}

// Len returns the row count.
func (r *Relation) Len() int {
	return len(r.rows)
}

// Value returns the cell at row i in the named column.
func (r *Relation) Value(i int, column string) (Value, bool) {
	c, ok := r.index[column]
	if !ok || i < 0 || i >= len(r.rows) {
		return Null(), false
	}
	row := r.rows[i]
	if c >= len(row) {
		return Null(), true
	}
	return row[c], true
}

// SizeEstimate approximates the in-memory footprint in bytes.
func (r *Relation) SizeEstimate() int64 {
	return r.size
}

// Equal compares schema and rows.
func (r *Relation) Equal(r2 *Relation) bool {
	if r.name != r2.name || len(r.columns) != len(r2.columns) || len(r.rows) != len(r2.rows) {
		return false
	}
	for i, c := range r.columns {
		if c != r2.columns[i] {
			return false
		}
	}
	for i, row := range r.rows {
		if len(row) != len(r2.rows[i]) {
			return false
		}
		for j, v := range row {
			if !v.Equal(r2.rows[i][j]) {
				return false
			}
		}
	}
	return true
}

// FindColumns returns the columns whose name contains term, case-insensitively.
func (r *Relation) FindColumns(term string) []string {
	term = strings.ToLower(term)
	var found []string
	for _, c := range r.columns {
		if strings.Contains(strings.ToLower(c.Name), term) {
			found = append(found, c.Name)
		}
	}
	return found
}
