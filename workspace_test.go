package sheetsql

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nao1215/sheetsql/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T, opts ...Option) (*Workspace, string) {
	t.Helper()
	ws, err := NewWorkspace(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	path := salesBook(t)
	_, err = ws.Open(context.Background(), path)
	require.NoError(t, err)
	return ws, path
}

func TestWorkspace_Query(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	ctx := context.Background()

	res, err := ws.Query(ctx, "SELECT Region, SUM(Amount) AS total FROM {Sales} GROUP BY Region ORDER BY Region")
	require.NoError(t, err)
	assert.Equal(t, []string{"Region", "total"}, res.Set.Columns)
	assert.Equal(t, [][]model.Value{
		{model.String("East"), model.Int(17)},
		{model.String("West"), model.Int(5)},
	}, res.Set.Rows)
	assert.Equal(t, []string{"Sales"}, res.Rewritten.Placeholders)
	assert.NotContains(t, res.SQL, "{")

	b, ok := ws.Session().Binding("Sales")
	require.True(t, ok, "placeholders bind sheets automatically")
	assert.Equal(t, 3, b.Key.HeaderRow)
	assert.Equal(t, res.Set.ID, ws.Session().LastResult())
	assert.Equal(t, res.SQL, ws.Session().LastQuery())
	assert.Len(t, ws.Session().History(), 1)

	last, ok := ws.LastResult()
	require.True(t, ok)
	assert.Same(t, res.Set, last)
}

func TestWorkspace_QueryParamsAndJoin(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	ctx := context.Background()
	require.NoError(t, ws.Session().SetParam("min", model.Int(6)))

	res, err := ws.Query(ctx, "SELECT Amount FROM {Sales} WHERE Amount > :min ORDER BY Amount")
	require.NoError(t, err)
	assert.Equal(t, [][]model.Value{{model.Int(7)}, {model.Int(10)}}, res.Set.Rows)
	assert.Equal(t, []string{"min"}, res.Rewritten.UsedParams)

	res, err = ws.Query(ctx,
		"SELECT s.Region, r.Manager FROM {Sales} s JOIN {Regions} r ON s.Region = r.Region WHERE s.Amount = 5")
	require.NoError(t, err)
	assert.Equal(t, [][]model.Value{{model.String("West"), model.String("Lee")}}, res.Set.Rows)
	assert.Len(t, ws.Session().Bindings(), 2)
}

func TestWorkspace_QueryLimit(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t, WithSettings(SessionSettings{Limit: 2}))

	res, err := ws.Query(context.Background(), "SELECT * FROM {Sales}")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Set.Len())
	assert.Contains(t, res.SQL, "LIMIT 2")
}

func TestWorkspace_QueryErrors(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	ctx := context.Background()

	_, err := ws.Query(ctx, "DROP TABLE Sales")
	assert.ErrorIs(t, err, ErrUnsafeQuery)

	_, err = ws.Query(ctx, "SELECT * FROM {Missing}")
	assert.ErrorIs(t, err, ErrResolution)

	_, err = ws.Query(ctx, "SELECT * FROM {Sales} WHERE Day > :since")
	assert.ErrorIs(t, err, ErrResolution)

	_, err = ws.Query(ctx, "SELECT no_such_column FROM {Sales}")
	var ee *EngineError
	require.True(t, errors.As(err, &ee))
	assert.ErrorIs(t, err, ErrEngine)

	_, ok := ws.LastResult()
	assert.False(t, ok)
}

func TestWorkspace_NoWorkbook(t *testing.T) {
	t.Parallel()

	ws, err := NewWorkspace()
	require.NoError(t, err)
	defer ws.Close()

	_, err = ws.Sheets(context.Background())
	assert.ErrorIs(t, err, ErrNoWorkbook)
	assert.ErrorIs(t, err, ErrLoad)

	_, err = ws.Bind(context.Background(), "Sales", "", 0)
	assert.ErrorIs(t, err, ErrNoWorkbook)
}

func TestWorkspace_BindAndRelation(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	ctx := context.Background()

	b, err := ws.Bind(ctx, "Regions", "r", 0)
	require.NoError(t, err)
	assert.Equal(t, "r", b.Alias)

	rel, err := ws.Relation(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, []string{"Region", "Manager"}, rel.ColumnNames())

	rel, err = ws.Relation(ctx, "Sales")
	require.NoError(t, err)
	assert.Equal(t, 3, rel.Len())
	_, bound := ws.Session().Binding("Sales")
	assert.False(t, bound, "Relation does not bind")

	hdr, err := ws.HeaderRow(ctx, "Sales")
	require.NoError(t, err)
	assert.Equal(t, 3, hdr.Row)
	assert.True(t, hdr.Inferred)

	assert.True(t, ws.Unbind("r"))
	assert.False(t, ws.Unbind("r"))
}

func TestWorkspace_CaseVariantColumns(t *testing.T) {
	t.Parallel()

	ws, err := NewWorkspace()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	path := filepath.Join(t.TempDir(), "codes.xlsx")
	writeWorkbook(t, path, map[string][][]any{
		"Codes": {
			{"ID", "id"},
			{1, 2},
			{3, 4},
		},
		"Regions": {
			{"Region", "Manager"},
			{"East", "Kim"},
		},
	}, "Codes", "Regions")

	ctx := context.Background()
	_, err = ws.Open(ctx, path)
	require.NoError(t, err)

	res, err := ws.Query(ctx, "SELECT * FROM {Codes}")
	require.NoError(t, err)
	assert.Equal(t, []string{"ID", "id_2"}, res.Set.Columns)
	assert.Len(t, res.Set.Rows, 2)

	res, err = ws.Query(ctx, "SELECT c.id_2, r.Manager FROM {Codes} c, {Regions} r ORDER BY c.id_2")
	require.NoError(t, err)
	assert.Len(t, res.Set.Rows, 2)
	assert.Len(t, ws.Session().Bindings(), 2)
}

func TestWorkspace_OpenDropsBindings(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	ctx := context.Background()
	_, err := ws.Bind(ctx, "Regions", "", 0)
	require.NoError(t, err)

	other := writeText(t, t.TempDir(), "other.csv", "a,b\n1,2\n")
	wb, err := ws.Open(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, wb.SheetNames())
	assert.Empty(t, ws.Session().Bindings())
}

func TestWorkspace_Reload(t *testing.T) {
	t.Parallel()

	ws, path := newTestWorkspace(t)
	ctx := context.Background()

	_, err := ws.Query(ctx, "SELECT * FROM {Sales}")
	require.NoError(t, err)

	writeWorkbook(t, path, map[string][][]any{
		"Sales":   {{"Region", "Amount"}, {"North", 1}},
		"Regions": {{"Region", "Manager"}},
	}, "Sales", "Regions")

	dropped, err := ws.ReloadWorkbook(ctx)
	require.NoError(t, err)
	assert.Empty(t, dropped)

	res, err := ws.Query(ctx, "SELECT Region, Amount FROM {Sales}")
	require.NoError(t, err)
	assert.Equal(t, [][]model.Value{{model.String("North"), model.Int(1)}}, res.Set.Rows)

	b, ok := ws.Session().Binding("Sales")
	require.True(t, ok)
	assert.Equal(t, 1, b.Key.HeaderRow)
}

func TestWorkspace_ReloadDropsMissingSheet(t *testing.T) {
	t.Parallel()

	ws, path := newTestWorkspace(t)
	ctx := context.Background()
	_, err := ws.Bind(ctx, "Regions", "", 0)
	require.NoError(t, err)

	writeWorkbook(t, path, map[string][][]any{
		"Sales": {{"Region", "Amount"}, {"North", 1}},
	}, "Sales")

	dropped, err := ws.Reload(ctx, "Regions")
	require.NoError(t, err)
	assert.Equal(t, []string{"Regions"}, dropped)
	assert.Empty(t, ws.Session().Bindings())
}

func TestWorkspace_ExportLast(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "out.csv")

	assert.Error(t, ws.ExportLast(ctx, out))

	_, err := ws.Query(ctx, "SELECT Region, Amount FROM {Sales} ORDER BY Amount")
	require.NoError(t, err)
	require.NoError(t, ws.ExportLast(ctx, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "Region,Amount\nWest,5\nEast,7\nEast,10\n", string(got))

	assert.Error(t, ws.ExportLast(ctx, filepath.Join(t.TempDir(), "out")))
}

// mappingBook writes a mapping workbook with an optional Template sheet.
func mappingBook(t *testing.T, rows [][]any, template []any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapping.xlsx")
	sheets := map[string][][]any{
		MappingSheet: append([][]any{{"template_column", "source_expression", "type"}}, rows...),
	}
	order := []string{MappingSheet}
	if template != nil {
		sheets[TemplateSheet] = [][]any{template}
		order = append(order, TemplateSheet)
	}
	writeWorkbook(t, path, sheets, order...)
	return path
}

func TestWorkspace_ValidateMapping(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	ctx := context.Background()
	mapping := mappingBook(t, [][]any{
		{"Total", "Amount", "integer"},
		{"Broken", "Foo", "string"},
	}, nil)

	_, err := ws.ValidateMapping(ctx, mapping, "")
	assert.ErrorIs(t, err, ErrNotBound)

	_, err = ws.Bind(ctx, "Sales", "", 0)
	require.NoError(t, err)
	diags, err := ws.ValidateMapping(ctx, mapping, MappingSheet)
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, "Broken", diags[0].Target)
	assert.Equal(t, 3, diags[0].Row)
}

func TestWorkspace_SetTemplate(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	ctx := context.Background()
	mapping := mappingBook(t, [][]any{
		{"Area", "Region", "string"},
		{"Total", "Amount", "integer"},
	}, []any{"Total", "Area"})

	require.NoError(t, ws.SetTemplate(ctx, mapping))
	assert.NotEmpty(t, ws.Session().Settings().Template)

	res, err := ws.Query(ctx, "SELECT Region, Amount FROM {Sales} ORDER BY Amount")
	require.NoError(t, err)
	require.NotNil(t, res.Report)
	assert.Zero(t, res.Report.ErrorCount())
	assert.Equal(t, []string{"Total", "Area"}, res.Set.Columns)
	assert.Equal(t, [][]model.Value{
		{model.Int(5), model.String("West")},
		{model.Int(7), model.String("East")},
		{model.Int(10), model.String("East")},
	}, res.Set.Rows)

	require.NoError(t, ws.SetTemplate(ctx, ""))
	res, err = ws.Query(ctx, "SELECT Region FROM {Sales} LIMIT 1")
	require.NoError(t, err)
	assert.Nil(t, res.Report)
	assert.Equal(t, []string{"Region"}, res.Set.Columns)

	assert.Error(t, ws.SetTemplate(ctx, filepath.Join(t.TempDir(), "missing.xlsx")))
}

func TestWorkspace_Search(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	ctx := context.Background()
	_, err := ws.Bind(ctx, "Sales", "", 0)
	require.NoError(t, err)

	hits, err := ws.Search(ctx, "REG")
	require.NoError(t, err)
	assert.Equal(t, []SearchHit{
		{Sheet: "Regions"},
		{Sheet: "Sales", Column: "Region"},
	}, hits)
}

func TestWorkspace_CacheAndRestart(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	ctx := context.Background()
	_, err := ws.Bind(ctx, "Sales", "", 0)
	require.NoError(t, err)
	_, err = ws.Bind(ctx, "Regions", "", 0)
	require.NoError(t, err)
	require.NoError(t, ws.Session().SetParam("p", model.Int(1)))

	assert.Len(t, ws.Stats(), 2)
	assert.Equal(t, 2, ws.ClearCache())
	assert.Empty(t, ws.Session().Bindings())
	assert.Len(t, ws.Session().Params(), 1)

	_, err = ws.Query(ctx, "SELECT * FROM {Sales}")
	require.NoError(t, err)
	assert.Equal(t, 1, ws.Restart())
	assert.Empty(t, ws.Session().Params())
	_, ok := ws.LastResult()
	assert.False(t, ok)
}

func TestWorkspace_Watch(t *testing.T) {
	t.Parallel()

	ws, _ := newTestWorkspace(t)
	ctx := context.Background()

	errDone := errors.New("done")
	var runs []int
	err := ws.Watch(ctx, "SELECT COUNT(*) AS n FROM {Sales}", 10*time.Millisecond, func(res *Result, err error) error {
		require.NoError(t, err)
		runs = append(runs, res.Set.Len())
		if len(runs) == 3 {
			return errDone
		}
		return nil
	})
	assert.ErrorIs(t, err, errDone)
	assert.Equal(t, []int{1, 1, 1}, runs)
	assert.Empty(t, ws.Session().History(), "watch runs are not recorded in history")

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	err = ws.Watch(cctx, "SELECT 1", time.Millisecond, func(*Result, error) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	assert.Error(t, ws.Watch(ctx, "SELECT 1", 0, nil))
}
