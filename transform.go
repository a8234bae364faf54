package sheetsql

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nao1215/sheetsql/domain/model"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DefaultMaxExecutionSteps bounds the work of one expression on one row.
const DefaultMaxExecutionSteps = 100_000

// TransformOptions controls ApplyMapping.
type TransformOptions struct {
	// AllowExpressions enables evaluation of full expressions. When false
	// only bare column references, col("name") and literals are applied.
	AllowExpressions bool
	// FailOnError aborts on the first error diagnostic or cell failure.
	FailOnError bool
	// MaxExecutionSteps limits each evaluation; 0 uses the default.
	MaxExecutionSteps uint64
	// Now is the clock behind today(); nil uses time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

// CellError records one failed evaluation.
type CellError struct {
	// Row is the 1-based data row; 0 when the whole column failed.
	Row        int    `json:"row" yaml:"row"`
	Expression string `json:"expression" yaml:"expression"`
	Error      string `json:"error" yaml:"error"`
}

// TransformReport summarizes a mapping run.
type TransformReport struct {
	// Errors maps a target column to its failed cells.
	Errors map[string][]CellError `json:"errors,omitempty" yaml:"errors,omitempty"`
	// Omitted lists targets skipped for an empty expression.
	Omitted []string `json:"omitted,omitempty" yaml:"omitted,omitempty"`
	// Diagnostics are the validation findings for the mapping.
	Diagnostics []model.Diagnostic `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
	Rows        int                `json:"rows" yaml:"rows"`
}

// ErrorCount returns the number of failed cells.
func (r *TransformReport) ErrorCount() int {
	n := 0
	for _, errs := range r.Errors {
		n += len(errs)
	}
	return n
}

func (r *TransformReport) record(target string, e CellError) {
	if r.Errors == nil {
		r.Errors = make(map[string][]CellError)
	}
	r.Errors[target] = append(r.Errors[target], e)
}

// cellFunc computes one output cell for the current row.
type cellFunc func(thread *starlark.Thread) (model.Value, error)

type compiledEntry struct {
	entry model.MappingEntry
	kind  model.Kind
	typed bool
	eval  cellFunc
	err   error
}

// ApplyMapping produces one output column per entry by evaluating its
// expression on every row of rel. Cell failures become null and are
// collected in the report unless FailOnError is set.
func ApplyMapping(ctx context.Context, rel *model.Relation, entries []model.MappingEntry, opts TransformOptions) (*model.Relation, *TransformReport, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.MaxExecutionSteps == 0 {
		opts.MaxExecutionSteps = DefaultMaxExecutionSteps
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	report := &TransformReport{Diagnostics: ValidateMapping(entries, SourceSchemas(rel))}
	if opts.FailOnError && model.HasErrors(report.Diagnostics) {
		return nil, report, &ValidationError{Diagnostics: report.Diagnostics}
	}

	env := newRowEnv(rel)
	var compiled []*compiledEntry
	for _, entry := range entries {
		if entry.Expression == "" {
			report.Omitted = append(report.Omitted, entry.Target)
			continue
		}
		ce := &compiledEntry{entry: entry}
		ce.kind, ce.typed = model.ParseKind(entry.DeclaredType)
		if opts.AllowExpressions {
			ce.eval, ce.err = env.compile(entry)
		} else {
			ce.eval, ce.err = compileDirect(rel, entry)
		}
		if ce.err != nil {
			if opts.FailOnError {
				return nil, report, &TransformError{Target: entry.Target, Err: ce.err}
			}
			report.record(entry.Target, CellError{Expression: entry.Expression, Error: ce.err.Error()})
		}
		compiled = append(compiled, ce)
	}

	out := make([][]model.Value, rel.Len())
	for i, cells := range rel.Rows() {
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}
		env.set(cells)
		row := make([]model.Value, len(compiled))
		for j, ce := range compiled {
			if ce.err != nil {
				continue
			}
			v, err := ce.evaluate(env.thread(opts))
			if err != nil {
				if opts.FailOnError {
					return nil, report, &TransformError{Target: ce.entry.Target, Row: i + 1, Err: err}
				}
				report.record(ce.entry.Target, CellError{Row: i + 1, Expression: ce.entry.Expression, Error: err.Error()})
				continue
			}
			row[j] = v
		}
		out[i] = row
	}
	report.Rows = len(out)

	columns := make([]model.Column, len(compiled))
	for j, ce := range compiled {
		kind := ce.kind
		if !ce.typed {
			kind = unifyColumn(out, j)
		}
		columns[j] = model.Column{Name: ce.entry.Target, Kind: kind}
	}

	opts.Logger.Debug("applied mapping",
		"source", rel.Name(), "columns", len(columns), "rows", len(out), "errors", report.ErrorCount())
	return model.NewRelation(rel.Name(), rel.HeaderRow(), columns, out), report, nil
}

// evaluate runs the entry and coerces the result to its declared type.
func (ce *compiledEntry) evaluate(thread *starlark.Thread) (model.Value, error) {
	v, err := ce.eval(thread)
	if err != nil || !ce.typed || v.IsNull() || v.Kind() == ce.kind {
		return v, err
	}
	coerced := model.Coerce(v.String(), ce.kind)
	if coerced.IsNull() {
		return model.Null(), fmt.Errorf("cannot convert %q to %s", v.String(), ce.kind)
	}
	return coerced, nil
}

// unifyColumn picks the kind of an untyped output column and converts its
// cells when they disagree: integers widen to float, anything else to string.
func unifyColumn(rows [][]model.Value, j int) model.Kind {
	kind := model.KindNull
	for _, row := range rows {
		v := row[j]
		switch {
		case v.IsNull() || v.Kind() == kind:
		case kind == model.KindNull:
			kind = v.Kind()
		case kind.IsNumeric() && v.Kind().IsNumeric():
			kind = model.KindFloat
		default:
			kind = model.KindString
		}
	}
	if kind == model.KindNull {
		return model.KindString
	}
	for _, row := range rows {
		if v := row[j]; !v.IsNull() && v.Kind() != kind {
			row[j] = model.Coerce(v.String(), kind)
		}
	}
	return kind
}

// compileDirect accepts only a column reference, col("name") or a literal.
func compileDirect(rel *model.Relation, entry model.MappingEntry) (cellFunc, error) {
	expr, err := (&syntax.FileOptions{}).ParseExpr(entry.Target, entry.Expression, 0)
	if err != nil {
		return nil, err
	}

	column := func(name string) (cellFunc, error) {
		i, ok := rel.ColumnIndex(name)
		if !ok {
			return nil, fmt.Errorf("unknown column %q", name)
		}
		return func(thread *starlark.Thread) (model.Value, error) {
			row, err := rowFromThread(thread)
			if err != nil {
				return model.Null(), err
			}
			return row.cell(i), nil
		}, nil
	}
	constant := func(v model.Value) cellFunc {
		return func(*starlark.Thread) (model.Value, error) { return v, nil }
	}

	switch e := expr.(type) {
	case *syntax.Ident:
		switch e.Name {
		case "None":
			return constant(model.Null()), nil
		case "True", "False":
			return constant(model.Bool(e.Name == "True")), nil
		}
		return column(e.Name)
	case *syntax.Literal:
		return constant(literalValue(e)), nil
	case *syntax.UnaryExpr:
		if lit, ok := e.X.(*syntax.Literal); ok && e.Op == syntax.MINUS && lit.Token != syntax.STRING {
			v := literalValue(lit)
			if v.Kind() == model.KindInteger {
				return constant(model.Int(-v.AsInt())), nil
			}
			return constant(model.Float(-v.AsFloat())), nil
		}
	case *syntax.CallExpr:
		fn, ok := e.Fn.(*syntax.Ident)
		if ok && fn.Name == "col" && len(e.Args) == 1 {
			if lit, ok := e.Args[0].(*syntax.Literal); ok && lit.Token == syntax.STRING {
				name, _ := lit.Value.(string)
				return column(name)
			}
		}
	}
	return nil, ErrExpressionsDisabled
}

func literalValue(lit *syntax.Literal) model.Value {
	switch v := lit.Value.(type) {
	case string:
		return model.String(v)
	case int64:
		return model.Int(v)
	case float64:
		return model.Float(v)
	default:
		return model.ParseParam(lit.Raw)
	}
}

// rowEnv is the evaluation environment shared by all compiled entries.
// Compiled functions look names up in globals on every call, so set only
// has to refresh the map.
type rowEnv struct {
	rel     *model.Relation
	row     *rowValue
	globals starlark.StringDict
	// bound maps a global name to its column index.
	bound map[string]int
}

func newRowEnv(rel *model.Relation) *rowEnv {
	env := &rowEnv{
		rel:     rel,
		row:     &rowValue{rel: rel},
		globals: predeclared(),
		bound:   make(map[string]int),
	}
	env.globals["row"] = env.row
	for i, c := range rel.Columns() {
		if !model.IsIdentifier(c.Name) || !model.IsIdentStart(c.Name[0]) {
			continue
		}
		if _, taken := env.globals[c.Name]; taken {
			continue
		}
		if _, constant := expressionConstants[c.Name]; constant {
			continue
		}
		env.globals[c.Name] = starlark.None
		env.bound[c.Name] = i
	}
	if name := rel.Name(); model.IsIdentifier(name) && model.IsIdentStart(name[0]) {
		if _, taken := env.globals[name]; !taken {
			env.globals[name] = env.row
		}
	}
	return env
}

func (env *rowEnv) set(cells []model.Value) {
	env.row.cells = cells
	for name, i := range env.bound {
		env.globals[name] = toStarlark(env.row.cell(i))
	}
}

func (env *rowEnv) thread(opts TransformOptions) *starlark.Thread {
	thread := &starlark.Thread{
		Name:  "mapping",
		Print: func(*starlark.Thread, string) {},
	}
	thread.SetLocal(rowLocalKey, env.row)
	thread.SetLocal(clockLocalKey, opts.Now)
	thread.SetMaxExecutionSteps(opts.MaxExecutionSteps)
	return thread
}

func (env *rowEnv) compile(entry model.MappingEntry) (cellFunc, error) {
	fn, err := starlark.ExprFuncOptions(&syntax.FileOptions{}, entry.Target, entry.Expression, env.globals)
	if err != nil {
		return nil, err
	}
	return func(thread *starlark.Thread) (model.Value, error) {
		v, err := starlark.Call(thread, fn, nil, nil)
		if err != nil {
			return model.Null(), err
		}
		return fromStarlark(v), nil
	}, nil
}

// ReorderColumns returns rel with the columns named in order first, in that
// order, followed by its remaining columns. Names in order that rel lacks
// become all-null string columns.
func ReorderColumns(rel *model.Relation, order []string) *model.Relation {
	columns := rel.Columns()
	var (
		out   []model.Column
		index []int
		used  = make(map[int]bool, len(columns))
	)
	for _, name := range order {
		i, ok := rel.ColumnIndex(name)
		if ok && used[i] {
			continue
		}
		if ok {
			used[i] = true
			out = append(out, columns[i])
			index = append(index, i)
			continue
		}
		out = append(out, model.Column{Name: name, Kind: model.KindString})
		index = append(index, -1)
	}
	for i, c := range columns {
		if !used[i] {
			out = append(out, c)
			index = append(index, i)
		}
	}

	rows := make([][]model.Value, rel.Len())
	for r, cells := range rel.Rows() {
		row := make([]model.Value, len(index))
		for j, i := range index {
			if i >= 0 && i < len(cells) {
				row[j] = cells[i]
			}
		}
		rows[r] = row
	}
	return model.NewRelation(rel.Name(), rel.HeaderRow(), out, rows)
}
