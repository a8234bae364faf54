package model

import (
	"fmt"
	"strings"
)

// Severity of a diagnostic.
type Severity int

const (
	// SeverityError marks a finding that makes the mapping unusable
	SeverityError Severity = iota
	// SeverityWarning marks a suspicious but usable entry
	SeverityWarning
)

// String returns "error" or "warning".
func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Diagnostic is a single validation finding for one mapping entry.
type Diagnostic struct {
	Severity Severity `json:"severity" yaml:"severity"`
	// Target is the target column of the entry.
	Target string `json:"target" yaml:"target"`
	// Token is the offending identifier, function or type name, if any.
	Token   string `json:"token,omitempty" yaml:"token,omitempty"`
	Message string `json:"message" yaml:"message"`
	// Row is the 1-based row in the mapping sheet; 0 when unknown.
	Row int `json:"row,omitempty" yaml:"row,omitempty"`
	// Col is the 1-based character offset within the expression; 0 when unknown.
	Col int `json:"col,omitempty" yaml:"col,omitempty"`
}

// String formats the diagnostic on one line.
func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(d.Severity.String())
	if d.Row > 0 {
		fmt.Fprintf(&b, " [row %d]", d.Row)
	}
	if d.Target != "" {
		fmt.Fprintf(&b, " %s", d.Target)
	}
	b.WriteString(": ")
	b.WriteString(d.Message)
	return b.String()
}

// HasErrors reports whether any diagnostic has error severity.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// CountSeverity returns the number of errors and warnings.
func CountSeverity(diags []Diagnostic) (errs, warns int) {
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs++
		} else {
			warns++
		}
	}
	return errs, warns
}

// MappingEntry is one row of a mapping sheet.
type MappingEntry struct {
	Target       string
	Expression   string
	DeclaredType string
	// Row is the 1-based row in the mapping sheet.
	Row int
}

// Mapping sheet column spellings, matched case-insensitively.
var (
	targetColumnNames     = []string{"template_column", "target", "target_column", "column"}
	expressionColumnNames = []string{"source_expression", "source", "expression", "expr"}
	typeColumnNames       = []string{"type", "declared_type", "data_type", "dtype"}
)

// Mapping column names written by scaffolding.
const (
	MappingTargetColumn     = "template_column"
	MappingExpressionColumn = "source_expression"
	MappingTypeColumn       = "type"
)

// ParseMapping reads mapping entries from a loaded mapping sheet. Rows
// with an empty target are skipped.
func ParseMapping(rel *Relation) ([]MappingEntry, error) {
	target := findColumn(rel, targetColumnNames)
	expr := findColumn(rel, expressionColumnNames)
	if target < 0 || expr < 0 {
		return nil, fmt.Errorf("%w (found %s)", ErrMappingShape, strings.Join(rel.ColumnNames(), ", "))
	}
	typ := findColumn(rel, typeColumnNames)

	entries := make([]MappingEntry, 0, rel.Len())
	for i, row := range rel.Rows() {
		name := strings.TrimSpace(cellText(row, target))
		if name == "" {
			continue
		}
		entry := MappingEntry{
			Target:     name,
			Expression: strings.TrimSpace(cellText(row, expr)),
			Row:        rel.SourceRow(i),
		}
		if typ >= 0 {
			entry.DeclaredType = strings.TrimSpace(cellText(row, typ))
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func findColumn(rel *Relation, candidates []string) int {
	for i, c := range rel.Columns() {
		for _, want := range candidates {
			if strings.EqualFold(strings.TrimSpace(c.Name), want) {
				return i
			}
		}
	}
	return -1
}

func cellText(row []Value, i int) string {
	if i >= len(row) || row[i].IsNull() {
		return ""
	}
	return row[i].String()
}
