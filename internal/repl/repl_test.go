package repl

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nao1215/sheetsql"
	"github.com/nao1215/sheetsql/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeWorkbook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetName("Sheet1", "Sales"))
	sales := [][]any{
		{"Region", "Amount"},
		{"East", 10},
		{"West", 5},
	}
	for i, row := range sales {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sales", cell, &row))
	}

	_, err := f.NewSheet("Region List")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("Region List", "A1", &[]any{"Region", "Manager"}))
	require.NoError(t, f.SetSheetRow("Region List", "A2", &[]any{"East", "Kim"}))

	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

type testShell struct {
	*Shell
	out    *bytes.Buffer
	errOut *bytes.Buffer
}

func newTestShell(t *testing.T) *testShell {
	t.Helper()
	ws, err := sheetsql.NewWorkspace(sheetsql.WithSettings(sheetsql.SessionSettings{Format: "table"}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	var out, errOut bytes.Buffer
	return &testShell{Shell: New(ws, config.Default(), &out, &errOut), out: &out, errOut: &errOut}
}

// feed runs lines and returns what was written to stdout, clearing both buffers.
func (ts *testShell) feed(t *testing.T, lines ...string) string {
	t.Helper()
	ts.out.Reset()
	ts.errOut.Reset()
	for _, l := range lines {
		ts.Feed(context.Background(), l)
	}
	return ts.out.String()
}

func TestShell_QueryBuffering(t *testing.T) {
	t.Parallel()

	ts := newTestShell(t)
	ts.feed(t, `\load `+writeWorkbook(t))
	require.Empty(t, ts.errOut.String())

	ts.feed(t, "SELECT Region, Amount")
	assert.Equal(t, contPrompt, ts.Prompt())

	out := ts.feed(t, "FROM {Sales}", "ORDER BY Amount;")
	require.Empty(t, ts.errOut.String())
	assert.Contains(t, out, "East")
	assert.Contains(t, out, "West")
	assert.True(t, strings.HasSuffix(out, "(2 rows)\n"))
	assert.NotEqual(t, contPrompt, ts.Prompt())
}

func TestShell_Commands(t *testing.T) {
	t.Parallel()

	ts := newTestShell(t)
	path := writeWorkbook(t)

	out := ts.feed(t, `\load `+path)
	assert.Contains(t, out, "2 sheets")

	out = ts.feed(t, `\dt`)
	assert.Contains(t, out, "Sales")
	assert.Contains(t, out, "Region List")

	out = ts.feed(t, `\open "Region List" regions`)
	require.Empty(t, ts.errOut.String())
	assert.Contains(t, out, "bound Region List as regions")

	out = ts.feed(t, `\loaded`)
	assert.Contains(t, out, "regions")

	out = ts.feed(t, `\d regions`)
	assert.Contains(t, out, "Manager")
	assert.Contains(t, out, "string")

	out = ts.feed(t, `\columns Sales`)
	assert.Equal(t, "Region\nAmount\n", out)

	out = ts.feed(t, `\search manag`)
	assert.Contains(t, out, "Manager")

	t.Run("format and parameters", func(t *testing.T) {
		ts.feed(t, `\format csv`, `\set min=6`)
		require.Empty(t, ts.errOut.String())

		out := ts.feed(t, "SELECT Region FROM {Sales} WHERE Amount > :min;")
		require.Empty(t, ts.errOut.String())
		assert.Equal(t, "Region\nEast\n", out)

		out = ts.feed(t, `\params`)
		assert.Contains(t, out, "min")
		assert.Contains(t, out, "integer")
	})

	t.Run("display limit", func(t *testing.T) {
		ts.feed(t, `\limit 1`)
		out := ts.feed(t, "SELECT Region FROM {Sales} ORDER BY Region;")
		assert.Equal(t, "Region\nEast\n", out)
		ts.feed(t, `\limit 0`)
	})

	t.Run("saved queries", func(t *testing.T) {
		ts.feed(t, `\save west SELECT Region FROM {Sales} WHERE Region = 'West'`)
		require.Empty(t, ts.errOut.String())

		out := ts.feed(t, `\run west`)
		assert.Equal(t, "Region\nWest\n", out)

		out = ts.feed(t, `\lsq`)
		assert.Contains(t, out, "west")

		out = ts.feed(t, `\history`)
		assert.Contains(t, out, "WHERE Region = 'West'")
	})

	t.Run("toggles", func(t *testing.T) {
		out := ts.feed(t, `\timing`)
		assert.Contains(t, out, "timing is on")
		out = ts.feed(t, `\x`)
		assert.Contains(t, out, "expanded display is on")
		assert.True(t, ts.ws.Session().Settings().Vertical)
	})
}

func TestShell_Errors(t *testing.T) {
	t.Parallel()

	ts := newTestShell(t)

	tests := []struct {
		name string
		line string
		want string
	}{
		{name: "unknown command", line: `\nope`, want: "unknown command"},
		{name: "missing argument", line: `\open`, want: `usage: \open`},
		{name: "no workbook", line: `\dt`, want: "no workbook"},
		{name: "bad limit", line: `\limit -1`, want: "non-negative"},
		{name: "unsafe query", line: "DROP TABLE x;", want: "DROP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts.feed(t, tt.line)
			assert.Contains(t, ts.errOut.String(), tt.want)
		})
	}
}

func TestShell_Quit(t *testing.T) {
	t.Parallel()

	ts := newTestShell(t)
	assert.False(t, ts.Done())
	ts.feed(t, `\q`)
	assert.True(t, ts.Done())
}

func TestSplitArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{name: "empty", input: "", want: nil},
		{name: "plain", input: "a b  c", want: []string{"a", "b", "c"}},
		{name: "quoted", input: `"Region List" r`, want: []string{"Region List", "r"}},
		{name: "empty quotes", input: `""`, want: []string{""}},
		{name: "unterminated", input: `"abc`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := splitArgs(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
