package sheetsql

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/sheetsql/domain/model"
	"github.com/ncruces/go-strftime"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Function documents a built-in mapping function.
type Function struct {
	Name      string `json:"name" yaml:"name"`
	Signature string `json:"signature" yaml:"signature"`
	Summary   string `json:"summary" yaml:"summary"`
}

type builtinImpl func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

type builtinFunction struct {
	doc  Function
	impl builtinImpl
}

var builtins map[string]builtinFunction

func init() {
	list := []builtinFunction{
		{Function{"clean", "clean(s)", "trim and collapse whitespace"}, fnClean},
		{Function{"extract_number", "extract_number(s)", "first number in text, or None"}, fnExtractNumber},
		{Function{"format_date", `format_date(v, layout="%Y-%m-%d")`, "format a date with strftime directives"}, fnFormatDate},
		{Function{"date_diff_days", "date_diff_days(start, end)", "whole days from start to end"}, fnDateDiffDays},
		{Function{"coalesce", "coalesce(*values)", "first value that is not None"}, fnCoalesce},
		{Function{"case_when", "case_when(cond1, value1, ..., default)", "value of the first true condition"}, fnCaseWhen},
		{Function{"today", "today()", "current date"}, fnToday},
		{Function{"col", "col(name)", "value of a source column, for names that are not identifiers"}, fnCol},
		{Function{"upper", "upper(s)", "upper-case text"}, fnUpper},
		{Function{"lower", "lower(s)", "lower-case text"}, fnLower},
		{Function{"concat", "concat(*values)", "join values as text, skipping None"}, fnConcat},
		{Function{"to_int", "to_int(v)", "convert to integer, or None"}, fnToInt},
		{Function{"to_float", "to_float(v)", "convert to float, or None"}, fnToFloat},
		{Function{"to_str", "to_str(v)", "convert to text"}, fnToStr},
		{Function{"round", "round(v, n=0)", "round to n decimal places"}, fnRound},
		{Function{"abs", "abs(v)", "absolute value"}, fnAbs},
		{Function{"len", "len(v)", "length of text or list"}, fnLen},
	}
	builtins = make(map[string]builtinFunction, len(list))
	for _, f := range list {
		builtins[f.doc.Name] = f
	}
}

// Functions returns the documentation of every built-in mapping function,
// sorted by name.
func Functions() []Function {
	out := make([]Function, 0, len(builtins))
	for _, f := range builtins {
		out = append(out, f.doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsBuiltinFunction reports whether name is a built-in mapping function.
func IsBuiltinFunction(name string) bool {
	_, ok := builtins[name]
	return ok
}

// predeclared returns the built-ins as Starlark globals.
func predeclared() starlark.StringDict {
	env := make(starlark.StringDict, len(builtins))
	for name, f := range builtins {
		env[name] = starlark.NewBuiltin(name, f.impl)
	}
	return env
}

// Thread-local keys set by the transform for each row.
const (
	rowLocalKey   = "sheetsql.row"
	clockLocalKey = "sheetsql.clock"
)

func rowFromThread(thread *starlark.Thread) (*rowValue, error) {
	row, ok := thread.Local(rowLocalKey).(*rowValue)
	if !ok {
		return nil, fmt.Errorf("col: no current row")
	}
	return row, nil
}

func nowFromThread(thread *starlark.Thread) time.Time {
	if clock, ok := thread.Local(clockLocalKey).(func() time.Time); ok {
		return clock()
	}
	return time.Now()
}

func fnClean(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	if v == starlark.None {
		return starlark.String(""), nil
	}
	return starlark.String(strings.Join(strings.Fields(textOf(v)), " ")), nil
}

var numberPattern = regexp.MustCompile(`[-+]?\d*\.?\d+`)

func fnExtractNumber(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	if v == starlark.None {
		return starlark.None, nil
	}
	m := numberPattern.FindString(textOf(v))
	if m == "" {
		return starlark.None, nil
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return starlark.None, nil
	}
	return starlark.Float(f), nil
}

func fnFormatDate(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		v      starlark.Value
		layout = "%Y-%m-%d"
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "v", &v, "layout?", &layout); err != nil {
		return nil, err
	}
	if v == starlark.None {
		return starlark.String(""), nil
	}
	t, ok := timeOf(v)
	if !ok {
		return starlark.String(textOf(v)), nil
	}
	return starlark.String(strftime.Format(layout, t)), nil
}

func fnDateDiffDays(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var start, end starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &start, &end); err != nil {
		return nil, err
	}
	s, ok1 := timeOf(start)
	e, ok2 := timeOf(end)
	if !ok1 || !ok2 {
		return starlark.None, nil
	}
	return starlark.MakeInt64(int64(e.Sub(s).Hours() / 24)), nil
}

func fnCoalesce(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	for _, v := range args {
		if v != starlark.None {
			return v, nil
		}
	}
	return starlark.None, nil
}

func fnCaseWhen(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("%s: need at least a condition and a value", b.Name())
	}
	i := 0
	for ; i+1 < len(args); i += 2 {
		if args[i].Truth() {
			return args[i+1], nil
		}
	}
	if i < len(args) {
		return args[i], nil
	}
	return starlark.None, nil
}

func fnToday(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	now := nowFromThread(thread)
	return dateValue(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)), nil
}

func fnCol(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	row, err := rowFromThread(thread)
	if err != nil {
		return nil, err
	}
	v, _, err := row.Get(starlark.String(name))
	return v, err
}

func fnUpper(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return mapText(b, args, kwargs, strings.ToUpper)
}

func fnLower(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return mapText(b, args, kwargs, strings.ToLower)
}

func mapText(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, fn func(string) string) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	if v == starlark.None {
		return starlark.None, nil
	}
	return starlark.String(fn(textOf(v))), nil
}

func fnConcat(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	var sb strings.Builder
	for _, v := range args {
		if v != starlark.None {
			sb.WriteString(textOf(v))
		}
	}
	return starlark.String(sb.String()), nil
}

func fnToInt(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	out := model.Coerce(textOf(v), model.KindInteger)
	if v == starlark.None || out.IsNull() {
		return starlark.None, nil
	}
	return starlark.MakeInt64(out.AsInt()), nil
}

func fnToFloat(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	out := model.Coerce(textOf(v), model.KindFloat)
	if v == starlark.None || out.IsNull() {
		return starlark.None, nil
	}
	return starlark.Float(out.AsFloat()), nil
}

func fnToStr(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	if v == starlark.None {
		return starlark.String(""), nil
	}
	return starlark.String(textOf(v)), nil
}

func fnRound(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		v      starlark.Value
		digits = 0
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "v", &v, "n?", &digits); err != nil {
		return nil, err
	}
	if v == starlark.None {
		return starlark.None, nil
	}
	f, ok := starlark.AsFloat(v)
	if !ok {
		return nil, fmt.Errorf("%s: want a number, got %s", b.Name(), v.Type())
	}
	scale := math.Pow(10, float64(digits))
	rounded := math.Round(f*scale) / scale
	if digits <= 0 {
		return starlark.MakeInt64(int64(rounded)), nil
	}
	return starlark.Float(rounded), nil
}

func fnAbs(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case starlark.NoneType:
		return starlark.None, nil
	case starlark.Int:
		if x.Sign() < 0 {
			return starlark.MakeInt(0).Sub(x), nil
		}
		return x, nil
	case starlark.Float:
		return starlark.Float(math.Abs(float64(x))), nil
	default:
		return nil, fmt.Errorf("%s: want a number, got %s", b.Name(), v.Type())
	}
}

func fnLen(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case starlark.NoneType:
		return starlark.MakeInt(0), nil
	case starlark.String:
		return starlark.MakeInt(len([]rune(string(x)))), nil
	case starlark.Sequence:
		return starlark.MakeInt(x.Len()), nil
	default:
		return starlark.MakeInt(len([]rune(textOf(v)))), nil
	}
}

// textOf renders v the way a spreadsheet cell would show it.
func textOf(v starlark.Value) string {
	switch x := v.(type) {
	case starlark.String:
		return string(x)
	case starlark.NoneType:
		return ""
	case starlark.Float:
		return strconv.FormatFloat(float64(x), 'f', -1, 64)
	case dateValue:
		return model.FormatDate(time.Time(x))
	default:
		return v.String()
	}
}

func timeOf(v starlark.Value) (time.Time, bool) {
	switch x := v.(type) {
	case dateValue:
		return time.Time(x), true
	case starlark.String:
		return model.ParseDate(string(x))
	default:
		return time.Time{}, false
	}
}

// dateValue is a date or timestamp inside an expression.
type dateValue time.Time

var (
	_ starlark.Value      = dateValue{}
	_ starlark.Comparable = dateValue{}
)

func (d dateValue) String() string        { return model.FormatDate(time.Time(d)) }
func (d dateValue) Type() string          { return "date" }
func (d dateValue) Freeze()               {}
func (d dateValue) Truth() starlark.Bool  { return starlark.Bool(!time.Time(d).IsZero()) }
func (d dateValue) Hash() (uint32, error) { return uint32(time.Time(d).Unix()), nil }

func (d dateValue) CompareSameType(op syntax.Token, y starlark.Value, _ int) (bool, error) {
	a, b := time.Time(d), time.Time(y.(dateValue))
	switch op {
	case syntax.EQL:
		return a.Equal(b), nil
	case syntax.NEQ:
		return !a.Equal(b), nil
	case syntax.LT:
		return a.Before(b), nil
	case syntax.LE:
		return !a.After(b), nil
	case syntax.GT:
		return a.After(b), nil
	case syntax.GE:
		return !a.Before(b), nil
	default:
		return false, fmt.Errorf("unsupported comparison %s on dates", op)
	}
}

// toStarlark converts a cell to its expression value.
func toStarlark(v model.Value) starlark.Value {
	switch v.Kind() {
	case model.KindBool:
		return starlark.Bool(v.AsBool())
	case model.KindInteger:
		return starlark.MakeInt64(v.AsInt())
	case model.KindFloat:
		return starlark.Float(v.AsFloat())
	case model.KindString:
		return starlark.String(v.String())
	case model.KindDate:
		return dateValue(v.AsTime())
	default:
		return starlark.None
	}
}

// fromStarlark converts an expression result back to a cell.
func fromStarlark(v starlark.Value) model.Value {
	switch x := v.(type) {
	case starlark.NoneType:
		return model.Null()
	case starlark.Bool:
		return model.Bool(bool(x))
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return model.Int(i)
		}
		f, _ := starlark.AsFloat(x)
		return model.Float(f)
	case starlark.Float:
		return model.Float(float64(x))
	case starlark.String:
		return model.String(string(x))
	case dateValue:
		return model.Date(time.Time(x))
	default:
		return model.String(v.String())
	}
}

// rowValue exposes the current source row to expressions as row["name"]
// and through col("name").
type rowValue struct {
	rel   *model.Relation
	cells []model.Value
}

var (
	_ starlark.Mapping  = (*rowValue)(nil)
	_ starlark.HasAttrs = (*rowValue)(nil)
)

func (r *rowValue) String() string        { return "row" }
func (r *rowValue) Type() string          { return "row" }
func (r *rowValue) Freeze()               {}
func (r *rowValue) Truth() starlark.Bool  { return len(r.cells) > 0 }
func (r *rowValue) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: row") }

func (r *rowValue) cell(i int) model.Value {
	if i < 0 || i >= len(r.cells) {
		return model.Null()
	}
	return r.cells[i]
}

// Get returns the cell of the named column. Unknown names are errors.
func (r *rowValue) Get(k starlark.Value) (starlark.Value, bool, error) {
	name, ok := starlark.AsString(k)
	if !ok {
		return nil, false, fmt.Errorf("row key must be a column name, got %s", k.Type())
	}
	i, ok := r.rel.ColumnIndex(name)
	if !ok {
		return nil, false, fmt.Errorf("unknown column %q", name)
	}
	return toStarlark(r.cell(i)), true, nil
}

// Attr serves Relation.Column references.
func (r *rowValue) Attr(name string) (starlark.Value, error) {
	i, ok := r.rel.ColumnIndex(name)
	if !ok {
		return nil, nil
	}
	return toStarlark(r.cell(i)), nil
}

func (r *rowValue) AttrNames() []string {
	return r.rel.ColumnNames()
}
