// Package render writes query results and diagnostics for the terminal.
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/nao1215/sheetsql/domain/model"
)

// Format is a display format.
type Format string

const (
	// FormatTable draws a box table
	FormatTable Format = "table"
	// FormatCSV writes comma separated values
	FormatCSV Format = "csv"
	// FormatTSV writes tab separated values
	FormatTSV Format = "tsv"
	// FormatJSON writes one indented JSON array
	FormatJSON Format = "json"
	// FormatJSONL writes one JSON object per line
	FormatJSONL Format = "jsonl"
	// FormatMarkdown writes a markdown table
	FormatMarkdown Format = "markdown"
	// FormatVertical writes one block per record
	FormatVertical Format = "vertical"
)

// Formats lists every display format.
var Formats = []Format{FormatTable, FormatCSV, FormatTSV, FormatJSON, FormatJSONL, FormatMarkdown, FormatVertical}

// ParseFormat validates a format name. "md" is accepted for markdown.
func ParseFormat(name string) (Format, error) {
	n := Format(strings.ToLower(strings.TrimSpace(name)))
	if n == "md" {
		return FormatMarkdown, nil
	}
	if n == "" {
		return FormatTable, nil
	}
	for _, f := range Formats {
		if f == n {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown output format %q", name)
}

// Options control result rendering.
type Options struct {
	Format Format
	// Limit caps the rows written; 0 writes all of them.
	Limit int
	// MaxColWidth truncates cells in table and vertical output; 0 disables.
	MaxColWidth int
}

// Result writes columns and rows in the chosen format.
func Result(w io.Writer, columns []string, rows [][]model.Value, opts Options) error {
	total := len(rows)
	if opts.Limit > 0 && total > opts.Limit {
		rows = rows[:opts.Limit]
	}

	var err error
	switch opts.Format {
	case FormatCSV:
		err = renderDelimited(w, ',', columns, rows)
	case FormatTSV:
		err = renderDelimited(w, '\t', columns, rows)
	case FormatJSON:
		err = renderJSON(w, columns, rows, false)
	case FormatJSONL:
		err = renderJSON(w, columns, rows, true)
	case FormatMarkdown:
		renderMarkdown(w, columns, rows)
	case FormatVertical:
		renderVertical(w, columns, rows, opts.MaxColWidth)
		renderCount(w, len(rows), total)
	default:
		renderTable(w, columns, rows, opts.MaxColWidth)
		renderCount(w, len(rows), total)
	}
	return err
}

func renderCount(w io.Writer, shown, total int) {
	switch {
	case shown < total:
		_, _ = fmt.Fprintf(w, "(%d of %d rows)\n", shown, total)
	case total == 1:
		_, _ = fmt.Fprintln(w, "(1 row)")
	default:
		_, _ = fmt.Fprintf(w, "(%d rows)\n", total)
	}
}

// Truncate shortens s to width runes, marking the cut with "…".
func Truncate(s string, width int) string {
	if width <= 0 || utf8.RuneCountInString(s) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string([]rune(s)[:width-1]) + "…"
}

func newWriter(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	// keep column names as they appear in the sheet
	style.Format.Header = text.FormatDefault
	t.SetStyle(style)
	return t
}

func headerRow(columns []string) table.Row {
	row := make(table.Row, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	return row
}

func renderTable(w io.Writer, columns []string, rows [][]model.Value, width int) {
	t := newWriter(w)
	t.AppendHeader(headerRow(columns))
	for _, r := range rows {
		row := make(table.Row, len(columns))
		for i := range columns {
			row[i] = Truncate(cell(r, i).String(), width)
		}
		t.AppendRow(row)
	}
	t.Render()
}

func renderMarkdown(w io.Writer, columns []string, rows [][]model.Value) {
	t := newWriter(w)
	t.AppendHeader(headerRow(columns))
	for _, r := range rows {
		row := make(table.Row, len(columns))
		for i := range columns {
			row[i] = cell(r, i).String()
		}
		t.AppendRow(row)
	}
	t.RenderMarkdown()
}

func renderVertical(w io.Writer, columns []string, rows [][]model.Value, width int) {
	pad := 0
	for _, c := range columns {
		pad = max(pad, utf8.RuneCountInString(c))
	}
	for n, r := range rows {
		_, _ = fmt.Fprintf(w, "-[ RECORD %d ]%s\n", n+1, strings.Repeat("-", max(pad, 8)))
		for i, c := range columns {
			_, _ = fmt.Fprintf(w, "%-*s | %s\n", pad, c, Truncate(cell(r, i).String(), width))
		}
	}
}

func renderDelimited(w io.Writer, comma rune, columns []string, rows [][]model.Value) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(columns); err != nil {
		return err
	}
	record := make([]string, len(columns))
	for _, r := range rows {
		for i := range columns {
			record[i] = ""
			if v := cell(r, i); !v.IsNull() {
				record[i] = v.String()
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// jsonRow keeps the column order of the result.
type jsonRow struct {
	columns []string
	values  []model.Value
}

func (r jsonRow) MarshalJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(jsonValue(cell(r.values, i)))
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

func jsonValue(v model.Value) any {
	if v.Kind() == model.KindDate {
		return model.FormatDate(v.AsTime())
	}
	return v.Any()
}

func renderJSON(w io.Writer, columns []string, rows [][]model.Value, lines bool) error {
	enc := json.NewEncoder(w)
	if lines {
		for _, r := range rows {
			if err := enc.Encode(jsonRow{columns: columns, values: r}); err != nil {
				return err
			}
		}
		return nil
	}
	out := make([]jsonRow, len(rows))
	for i, r := range rows {
		out[i] = jsonRow{columns: columns, values: r}
	}
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func cell(row []model.Value, i int) model.Value {
	if i < len(row) {
		return row[i]
	}
	return model.Null()
}

// Table draws a plain string table, used for listings.
func Table(w io.Writer, header []string, rows [][]string) {
	t := newWriter(w)
	t.AppendHeader(headerRow(header))
	for _, r := range rows {
		row := make(table.Row, len(r))
		for i, c := range r {
			row[i] = c
		}
		t.AppendRow(row)
	}
	t.Render()
}
