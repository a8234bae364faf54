package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/sheetsql/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRows() ([]string, [][]model.Value) {
	columns := []string{"Region", "Amount", "Day"}
	rows := [][]model.Value{
		{model.String("East"), model.Int(10), model.Date(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))},
		{model.String("West, North"), model.Float(2.5), model.Null()},
		{model.String("South"), model.Int(7), model.Null()},
	}
	return columns, rows
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "md alias", input: "md", want: FormatMarkdown},
		{name: "upper case", input: "JSONL", want: FormatJSONL},
		{name: "unknown", input: "xml", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResult_CSV(t *testing.T) {
	t.Parallel()

	columns, rows := sampleRows()
	var buf bytes.Buffer
	require.NoError(t, Result(&buf, columns, rows, Options{Format: FormatCSV}))

	want := "Region,Amount,Day\nEast,10,2024-01-02\n\"West, North\",2.5,\nSouth,7,\n"
	assert.Equal(t, want, buf.String())
}

func TestResult_TSV(t *testing.T) {
	t.Parallel()

	columns, rows := sampleRows()
	var buf bytes.Buffer
	require.NoError(t, Result(&buf, columns, rows, Options{Format: FormatTSV, Limit: 1}))

	assert.Equal(t, "Region\tAmount\tDay\nEast\t10\t2024-01-02\n", buf.String())
}

func TestResult_JSON(t *testing.T) {
	t.Parallel()

	columns, rows := sampleRows()

	t.Run("array keeps column order", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, Result(&buf, columns, rows[:1], Options{Format: FormatJSON}))
		assert.Equal(t, "[\n  {\n    \"Region\": \"East\",\n    \"Amount\": 10,\n    \"Day\": \"2024-01-02\"\n  }\n]\n", buf.String())
	})

	t.Run("lines", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, Result(&buf, columns, rows[1:], Options{Format: FormatJSONL}))
		want := `{"Region":"West, North","Amount":2.5,"Day":null}` + "\n" +
			`{"Region":"South","Amount":7,"Day":null}` + "\n"
		assert.Equal(t, want, buf.String())
	})
}

func TestResult_Table(t *testing.T) {
	t.Parallel()

	columns, rows := sampleRows()

	t.Run("all rows", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, Result(&buf, columns, rows, Options{Format: FormatTable}))
		out := buf.String()
		assert.Contains(t, out, "Region")
		assert.Contains(t, out, "West, North")
		assert.Contains(t, out, "NULL")
		assert.True(t, strings.HasSuffix(out, "(3 rows)\n"))
	})

	t.Run("limit and truncation", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		require.NoError(t, Result(&buf, columns, rows, Options{Format: FormatTable, Limit: 2, MaxColWidth: 5}))
		out := buf.String()
		assert.Contains(t, out, "West…")
		assert.NotContains(t, out, "South")
		assert.True(t, strings.HasSuffix(out, "(2 of 3 rows)\n"))
	})
}

func TestResult_Markdown(t *testing.T) {
	t.Parallel()

	columns, rows := sampleRows()
	var buf bytes.Buffer
	require.NoError(t, Result(&buf, columns, rows[:1], Options{Format: FormatMarkdown}))
	out := buf.String()
	assert.Contains(t, out, "| Region | Amount | Day |")
	assert.Contains(t, out, "| East | 10 | 2024-01-02 |")
}

func TestResult_Vertical(t *testing.T) {
	t.Parallel()

	columns, rows := sampleRows()
	var buf bytes.Buffer
	require.NoError(t, Result(&buf, columns, rows[:1], Options{Format: FormatVertical}))
	out := buf.String()
	assert.Contains(t, out, "-[ RECORD 1 ]")
	assert.Contains(t, out, "Region | East\n")
	assert.Contains(t, out, "Amount | 10\n")
	assert.True(t, strings.HasSuffix(out, "(1 row)\n"))
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		width int
		want  string
	}{
		{name: "disabled", input: "abcdef", width: 0, want: "abcdef"},
		{name: "fits", input: "abc", width: 3, want: "abc"},
		{name: "cut", input: "abcdef", width: 4, want: "abc…"},
		{name: "multibyte", input: "日本語テキスト", width: 3, want: "日本…"},
		{name: "width one", input: "abc", width: 1, want: "…"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Truncate(tt.input, tt.width))
		})
	}
}

func TestDiagnostics(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		diags []model.Diagnostic
		want  []string
	}{
		{
			name: "errors and warnings",
			diags: []model.Diagnostic{
				{Severity: model.SeverityError, Target: "Total", Message: "unknown column Foo", Row: 2},
				{Severity: model.SeverityWarning, Target: "Name", Message: "unknown type text"},
			},
			want: []string{"error [row 2] Total: unknown column Foo", "warning Name: unknown type text", "1 error(s), 1 warning(s)"},
		},
		{
			name: "clean mapping",
			want: []string{"mapping is valid"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			Diagnostics(&buf, NewStyles(false), tt.diags)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}
