package sheetsql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nao1215/sheetsql/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transformSource() *model.Relation {
	day := func(d int) model.Value { return model.Date(time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)) }
	return model.NewRelation("Sales", 1,
		[]model.Column{
			{Name: "Region", Kind: model.KindString},
			{Name: "Amount", Kind: model.KindInteger},
			{Name: "Unit Price", Kind: model.KindFloat},
			{Name: "Day", Kind: model.KindDate},
		},
		[][]model.Value{
			{model.String(" east "), model.Int(10), model.Float(1.5), day(5)},
			{model.String("west"), model.Int(3), model.Null(), day(20)},
		},
	)
}

func column(t *testing.T, rel *model.Relation, name string) []model.Value {
	t.Helper()
	i, ok := rel.ColumnIndex(name)
	require.True(t, ok, "column %s", name)
	out := make([]model.Value, rel.Len())
	for r, row := range rel.Rows() {
		out[r] = row[i]
	}
	return out
}

func TestApplyMapping_Expressions(t *testing.T) {
	t.Parallel()

	entries := []model.MappingEntry{
		{Target: "Region", Expression: "upper(clean(Region))"},
		{Target: "Double", Expression: "Amount * 2", DeclaredType: "integer"},
		{Target: "Price", Expression: `col("Unit Price")`},
		{Target: "Bucket", Expression: `case_when(Amount > 5, "big", "small")`},
		{Target: "Month", Expression: `format_date(Day, "%Y/%m")`},
		{Target: "Age", Expression: "date_diff_days(Day, today())"},
		{Target: "Mixed", Expression: "Amount if Amount > 5 else 0.5"},
		{Target: "Skipped", Expression: ""},
	}
	opts := TransformOptions{
		AllowExpressions: true,
		Now:              func() time.Time { return time.Date(2024, 1, 25, 15, 0, 0, 0, time.UTC) },
	}

	out, report, err := ApplyMapping(context.Background(), transformSource(), entries, opts)
	require.NoError(t, err)
	assert.Zero(t, report.ErrorCount())
	assert.Equal(t, []string{"Skipped"}, report.Omitted)
	assert.Equal(t, 2, report.Rows)

	assert.Equal(t, []string{"Region", "Double", "Price", "Bucket", "Month", "Age", "Mixed"}, out.ColumnNames())
	assert.Equal(t, []model.Value{model.String("EAST"), model.String("WEST")}, column(t, out, "Region"))
	assert.Equal(t, []model.Value{model.Int(20), model.Int(6)}, column(t, out, "Double"))
	assert.Equal(t, []model.Value{model.Float(1.5), model.Null()}, column(t, out, "Price"))
	assert.Equal(t, []model.Value{model.String("big"), model.String("small")}, column(t, out, "Bucket"))
	assert.Equal(t, []model.Value{model.String("2024/01"), model.String("2024/01")}, column(t, out, "Month"))
	assert.Equal(t, []model.Value{model.Int(20), model.Int(5)}, column(t, out, "Age"))
	assert.Equal(t, []model.Value{model.Float(10), model.Float(0.5)}, column(t, out, "Mixed"))

	kinds := map[string]model.Kind{}
	for _, c := range out.Columns() {
		kinds[c.Name] = c.Kind
	}
	assert.Equal(t, model.KindInteger, kinds["Double"])
	assert.Equal(t, model.KindFloat, kinds["Mixed"])
	assert.Equal(t, model.KindString, kinds["Bucket"])
}

func TestApplyMapping_ExpressionsDisabled(t *testing.T) {
	t.Parallel()

	entries := []model.MappingEntry{
		{Target: "Region", Expression: "Region"},
		{Target: "Price", Expression: `col("Unit Price")`},
		{Target: "Source", Expression: `"upload"`},
		{Target: "Offset", Expression: "-3"},
		{Target: "Double", Expression: "Amount * 2"},
	}

	out, report, err := ApplyMapping(context.Background(), transformSource(), entries, TransformOptions{})
	require.NoError(t, err)

	assert.Equal(t, []model.Value{model.String(" east "), model.String("west")}, column(t, out, "Region"))
	assert.Equal(t, []model.Value{model.Float(1.5), model.Null()}, column(t, out, "Price"))
	assert.Equal(t, []model.Value{model.String("upload"), model.String("upload")}, column(t, out, "Source"))
	assert.Equal(t, []model.Value{model.Int(-3), model.Int(-3)}, column(t, out, "Offset"))
	assert.Equal(t, []model.Value{model.Null(), model.Null()}, column(t, out, "Double"))

	require.Len(t, report.Errors["Double"], 1)
	assert.Zero(t, report.Errors["Double"][0].Row)
	assert.Contains(t, report.Errors["Double"][0].Error, "expressions are disabled")

	_, _, err = ApplyMapping(context.Background(), transformSource(), entries, TransformOptions{FailOnError: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExpressionsDisabled)
}

func TestApplyMapping_CellErrors(t *testing.T) {
	t.Parallel()

	entries := []model.MappingEntry{
		{Target: "Bad", Expression: "to_int(Region) + 1"},
		{Target: "AsInt", Expression: "Region", DeclaredType: "integer"},
		{Target: "Ok", Expression: "Amount"},
	}

	out, report, err := ApplyMapping(context.Background(), transformSource(), entries, TransformOptions{AllowExpressions: true})
	require.NoError(t, err)
	assert.Equal(t, 4, report.ErrorCount())
	require.Len(t, report.Errors["Bad"], 2)
	assert.Equal(t, 1, report.Errors["Bad"][0].Row)
	assert.Equal(t, 2, report.Errors["Bad"][1].Row)
	assert.Contains(t, report.Errors["AsInt"][0].Error, "cannot convert")
	assert.Equal(t, []model.Value{model.Null(), model.Null()}, column(t, out, "Bad"))
	assert.Equal(t, []model.Value{model.Int(10), model.Int(3)}, column(t, out, "Ok"))

	_, _, err = ApplyMapping(context.Background(), transformSource(), entries,
		TransformOptions{AllowExpressions: true, FailOnError: true})
	var te *TransformError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "Bad", te.Target)
	assert.Equal(t, 1, te.Row)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestApplyMapping_FailOnValidationError(t *testing.T) {
	t.Parallel()

	entries := []model.MappingEntry{{Target: "X", Expression: "Foo", Row: 2}}
	_, report, err := ApplyMapping(context.Background(), transformSource(), entries,
		TransformOptions{AllowExpressions: true, FailOnError: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	require.Len(t, report.Diagnostics, 1)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, report.Diagnostics, ve.Diagnostics)
}

func TestApplyMapping_StepLimit(t *testing.T) {
	t.Parallel()

	entries := []model.MappingEntry{{Target: "Long", Expression: `len(concat(Region, Region, Region)) * 1000 * 1000`}}
	_, report, err := ApplyMapping(context.Background(), transformSource(), entries,
		TransformOptions{AllowExpressions: true, MaxExecutionSteps: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, report.ErrorCount())
}

func TestApplyMapping_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := ApplyMapping(ctx, transformSource(), []model.MappingEntry{{Target: "A", Expression: "Amount"}}, TransformOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReorderColumns(t *testing.T) {
	t.Parallel()

	rel := transformSource()
	out := ReorderColumns(rel, []string{"Amount", "Missing", "Region", "Amount"})

	assert.Equal(t, []string{"Amount", "Missing", "Region", "Unit Price", "Day"}, out.ColumnNames())
	assert.Equal(t, []model.Value{model.Int(10), model.Int(3)}, column(t, out, "Amount"))
	assert.Equal(t, []model.Value{model.Null(), model.Null()}, column(t, out, "Missing"))
	assert.Equal(t, 4, len(rel.Columns()), "source is not modified")
}
