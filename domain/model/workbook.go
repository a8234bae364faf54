package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Sheet describes one sheet of a workbook. It carries no cell data.
type Sheet struct {
	// Name is unique within the workbook.
	Name string
	// Rows is the raw row extent (last populated row).
	Rows int
	// Cols is the raw column extent.
	Cols int
}

// Workbook is an opened workbook: path, content fingerprint and ordered sheets.
type Workbook struct {
	path        string
	fingerprint string
	sheets      []Sheet
}

// NewWorkbook creates new Workbook.
func NewWorkbook(path, fingerprint string, sheets []Sheet) *Workbook {
	return &Workbook{
		path:        path,
		fingerprint: fingerprint,
		sheets:      append([]Sheet(nil), sheets...),
	}
}

// Path returns the workbook path.
func (w *Workbook) Path() string {
	return w.path
}

// Fingerprint returns the content fingerprint.
func (w *Workbook) Fingerprint() string {
	return w.fingerprint
}

// Sheets returns the sheets in workbook order.
func (w *Workbook) Sheets() []Sheet {
	return append([]Sheet(nil), w.sheets...)
}

// SheetNames returns the sheet names in workbook order.
func (w *Workbook) SheetNames() []string {
	names := make([]string, len(w.sheets))
	for i, s := range w.sheets {
		names[i] = s.Name
	}
	return names
}

// Sheet looks up a sheet by exact name.
func (w *Workbook) Sheet(name string) (Sheet, bool) {
	for _, s := range w.sheets {
		if s.Name == name {
			return s, true
		}
	}
	return Sheet{}, false
}

var nonWordPattern = regexp.MustCompile(`[^\w]+`)

// AliasFor builds a SQL-safe alias for a sheet name that does not collide,
// case-insensitively, with any alias in taken.
func AliasFor(name string, taken []string) string {
	alias := nonWordPattern.ReplaceAllString(strings.TrimSpace(name), "_")
	if alias == "" {
		alias = "t_sheet"
	} else if c := alias[0]; c != '_' && !isASCIILetter(c) {
		alias = "t_" + alias
	}

	used := make(map[string]struct{}, len(taken))
	for _, t := range taken {
		used[strings.ToLower(t)] = struct{}{}
	}
	if _, ok := used[strings.ToLower(alias)]; !ok {
		return alias
	}
	for n := 1; ; n++ {
		candidate := alias + "_" + strconv.Itoa(n)
		if _, ok := used[strings.ToLower(candidate)]; !ok {
			return candidate
		}
	}
}

// IsIdentifier reports whether s is non-empty and made of ASCII letters, digits and underscores.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !IsIdentByte(s[i]) {
			return false
		}
	}
	return true
}

// IsIdentByte reports whether c may appear in an identifier.
func IsIdentByte(c byte) bool {
	return c == '_' || isASCIILetter(c) || (c >= '0' && c <= '9')
}

// IsIdentStart reports whether c may begin a parameter name.
func IsIdentStart(c byte) bool {
	return c == '_' || isASCIILetter(c)
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

var strictSheetPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// IsStrictSheetName reports whether name is usable as a bare SQL identifier.
func IsStrictSheetName(name string) bool {
	return strictSheetPattern.MatchString(name)
}

// ParseSheetSpec splits "Sheet:3" into the sheet name and header row.
// "Sheet", "Sheet:" and "Sheet:auto" yield header row 0 (infer).
func ParseSheetSpec(spec string) (string, int, error) {
	spec = strings.TrimSpace(spec)
	i := strings.LastIndex(spec, ":")
	if i < 0 {
		return spec, 0, nil
	}
	name, hdr := strings.TrimSpace(spec[:i]), strings.TrimSpace(spec[i+1:])
	if name == "" {
		return "", 0, fmt.Errorf("%w: empty sheet name in %q", ErrInvalidSheetSpec, spec)
	}
	row, err := ParseHeaderRow(hdr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q: %w", ErrInvalidSheetSpec, spec, err)
	}
	return name, row, nil
}

// ParseHeaderRow parses a 1-based header row; "", "0" and "auto" mean infer.
func ParseHeaderRow(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "auto") {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("header row must be a positive integer or auto, got %q", s)
	}
	return n, nil
}
