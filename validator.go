package sheetsql

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nao1215/sheetsql/domain/model"
	"go.starlark.net/syntax"
)

// expression constants that never need a column.
var expressionConstants = map[string]struct{}{
	"True":  {},
	"False": {},
	"None":  {},
	"row":   {},
}

// ValidateMapping checks every entry against the source schemas and returns
// all findings. sources maps a relation name to its column names. Findings
// come out in entry order and in token order within an entry. It never
// stops early and has no side effects.
func ValidateMapping(entries []model.MappingEntry, sources map[string][]string) []model.Diagnostic {
	v := newMappingValidator(sources)
	seen := make(map[string]int, len(entries))

	var diags []model.Diagnostic
	for _, entry := range entries {
		if first, dup := seen[entry.Target]; dup {
			diags = append(diags, model.Diagnostic{
				Severity: model.SeverityError,
				Target:   entry.Target,
				Token:    entry.Target,
				Message:  fmt.Sprintf("duplicate target column %q (first defined on row %d)", entry.Target, first),
				Row:      entry.Row,
			})
		} else {
			seen[entry.Target] = entry.Row
		}
		diags = append(diags, v.entry(entry)...)
	}
	return diags
}

// ValidateMappingRelation parses a loaded mapping sheet and validates it.
func ValidateMappingRelation(mapping *model.Relation, sources map[string][]string) ([]model.Diagnostic, error) {
	entries, err := model.ParseMapping(mapping)
	if err != nil {
		return nil, err
	}
	return ValidateMapping(entries, sources), nil
}

// SourceSchemas builds the sources argument of ValidateMapping from relations.
func SourceSchemas(relations ...*model.Relation) map[string][]string {
	out := make(map[string][]string, len(relations))
	for _, rel := range relations {
		out[rel.Name()] = rel.ColumnNames()
	}
	return out
}

// isBareName reports whether a column can be referenced by its plain name
// in an expression rather than through col().
func isBareName(name string) bool {
	if !model.IsIdentifier(name) || !model.IsIdentStart(name[0]) || IsBuiltinFunction(name) {
		return false
	}
	if _, constant := expressionConstants[name]; constant {
		return false
	}
	expr, err := (&syntax.FileOptions{}).ParseExpr("", name, 0)
	if err != nil {
		return false
	}
	id, ok := expr.(*syntax.Ident)
	return ok && id.Name == name
}

type mappingValidator struct {
	relations map[string]map[string]struct{}
	columns   map[string]struct{}
}

func newMappingValidator(sources map[string][]string) *mappingValidator {
	v := &mappingValidator{
		relations: make(map[string]map[string]struct{}, len(sources)),
		columns:   make(map[string]struct{}),
	}
	for rel, cols := range sources {
		set := make(map[string]struct{}, len(cols))
		for _, c := range cols {
			set[c] = struct{}{}
			v.columns[c] = struct{}{}
		}
		v.relations[rel] = set
	}
	return v
}

// entryCheck accumulates the findings of one entry.
type entryCheck struct {
	*mappingValidator
	entry model.MappingEntry
	diags []model.Diagnostic
}

func (v *mappingValidator) entry(entry model.MappingEntry) []model.Diagnostic {
	c := &entryCheck{mappingValidator: v, entry: entry}

	if entry.DeclaredType != "" {
		if _, ok := model.ParseKind(entry.DeclaredType); !ok {
			c.warn(entry.DeclaredType, 0, fmt.Sprintf("unknown declared type %q", entry.DeclaredType))
		}
	}

	if strings.TrimSpace(entry.Expression) == "" {
		c.warn("", 0, "empty expression, column will be omitted")
		return c.diags
	}

	expr, err := (&syntax.FileOptions{}).ParseExpr(entry.Target, entry.Expression, 0)
	if err != nil {
		col := 0
		var se syntax.Error
		if errors.As(err, &se) {
			col = int(se.Pos.Col)
			err = fmt.Errorf("%s", se.Msg)
		}
		c.fail("", col, fmt.Sprintf("syntax error: %v", err))
		return c.diags
	}

	c.expr(expr, false)
	c.literalType(expr)

	sort.SliceStable(c.diags, func(i, j int) bool { return c.diags[i].Col < c.diags[j].Col })
	return c.diags
}

func (c *entryCheck) add(sev model.Severity, token string, col int, msg string) {
	c.diags = append(c.diags, model.Diagnostic{
		Severity: sev,
		Target:   c.entry.Target,
		Token:    token,
		Message:  msg,
		Row:      c.entry.Row,
		Col:      col,
	})
}

func (c *entryCheck) fail(token string, col int, msg string) {
	c.add(model.SeverityError, token, col, msg)
}

func (c *entryCheck) warn(token string, col int, msg string) {
	c.add(model.SeverityWarning, token, col, msg)
}

func startCol(e syntax.Node) int {
	start, _ := e.Span()
	return int(start.Col)
}

// expr walks e left to right. callee is set when e is the function of a call.
func (c *entryCheck) expr(e syntax.Expr, callee bool) {
	switch e := e.(type) {
	case *syntax.Literal:
	case *syntax.Ident:
		c.ident(e, callee)
	case *syntax.DotExpr:
		c.dot(e)
	case *syntax.CallExpr:
		c.call(e)
	case *syntax.BinaryExpr:
		c.expr(e.X, false)
		c.expr(e.Y, false)
	case *syntax.UnaryExpr:
		if e.Op == syntax.STAR || e.Op == syntax.STARSTAR {
			c.fail(e.Op.String(), startCol(e), "argument unpacking is not allowed")
			return
		}
		c.expr(e.X, false)
	case *syntax.CondExpr:
		c.expr(e.True, false)
		c.expr(e.Cond, false)
		c.expr(e.False, false)
	case *syntax.ParenExpr:
		c.expr(e.X, false)
	case *syntax.ListExpr:
		for _, x := range e.List {
			c.expr(x, false)
		}
	case *syntax.TupleExpr:
		for _, x := range e.List {
			c.expr(x, false)
		}
	case *syntax.IndexExpr:
		c.expr(e.X, false)
		c.expr(e.Y, false)
		if id, ok := e.X.(*syntax.Ident); ok && id.Name == "row" {
			c.columnLiteral(e.Y)
		}
	case *syntax.LambdaExpr:
		c.fail("lambda", startCol(e), "lambda expressions are not allowed")
	case *syntax.Comprehension:
		c.fail("for", startCol(e), "comprehensions are not allowed")
	case *syntax.DictExpr:
		c.fail("{", startCol(e), "dict literals are not allowed")
	case *syntax.SliceExpr:
		c.fail(":", startCol(e), "slicing is not allowed")
	default:
		c.fail("", startCol(e), fmt.Sprintf("unsupported construct %T", e))
	}
}

func (c *entryCheck) ident(id *syntax.Ident, callee bool) {
	name := id.Name
	col := int(id.NamePos.Col)
	if callee {
		if !IsBuiltinFunction(name) {
			c.fail(name, col, fmt.Sprintf("unknown function %q", name))
		}
		return
	}
	if _, ok := expressionConstants[name]; ok {
		return
	}
	if IsBuiltinFunction(name) {
		c.fail(name, col, fmt.Sprintf("function %q must be called; use col(%q) for a column of that name", name, name))
		return
	}
	if _, ok := c.columns[name]; ok {
		return
	}
	c.fail(name, col, fmt.Sprintf("unknown column %q", name))
}

func (c *entryCheck) dot(e *syntax.DotExpr) {
	rel, ok := e.X.(*syntax.Ident)
	if !ok {
		c.fail(e.Name.Name, int(e.Name.NamePos.Col), "attribute access is only allowed as Relation.Column")
		return
	}
	cols, ok := c.relations[rel.Name]
	if !ok {
		c.fail(rel.Name, int(rel.NamePos.Col), fmt.Sprintf("unknown relation %q", rel.Name))
		return
	}
	if _, ok := cols[e.Name.Name]; !ok {
		c.fail(e.Name.Name, int(e.Name.NamePos.Col),
			fmt.Sprintf("relation %q has no column %q", rel.Name, e.Name.Name))
	}
}

func (c *entryCheck) call(e *syntax.CallExpr) {
	fn, ok := e.Fn.(*syntax.Ident)
	if !ok {
		c.fail("", startCol(e.Fn), "only built-in functions can be called")
		for _, arg := range e.Args {
			c.arg(arg)
		}
		return
	}
	c.ident(fn, true)
	for _, arg := range e.Args {
		c.arg(arg)
	}
	if fn.Name == "col" && len(e.Args) > 0 {
		c.columnLiteral(e.Args[0])
	}
}

// arg checks one call argument; name=value keyword arguments check the value only.
func (c *entryCheck) arg(arg syntax.Expr) {
	if kw, ok := arg.(*syntax.BinaryExpr); ok && kw.Op == syntax.EQ {
		c.expr(kw.Y, false)
		return
	}
	c.expr(arg, false)
}

// columnLiteral checks a string literal naming a column, as in col("Unit Price").
func (c *entryCheck) columnLiteral(e syntax.Expr) {
	lit, ok := e.(*syntax.Literal)
	if !ok || lit.Token != syntax.STRING {
		return
	}
	name, _ := lit.Value.(string)
	if _, ok := c.columns[name]; !ok {
		c.fail(name, int(lit.TokenPos.Col), fmt.Sprintf("unknown column %q", name))
	}
}

// literalType warns when a bare literal cannot be coerced to the declared type.
func (c *entryCheck) literalType(e syntax.Expr) {
	kind, ok := model.ParseKind(c.entry.DeclaredType)
	if !ok {
		return
	}
	lit, ok := e.(*syntax.Literal)
	if !ok {
		return
	}
	var conflict bool
	switch lit.Token {
	case syntax.INT:
		conflict = kind == model.KindDate || kind == model.KindBool
	case syntax.FLOAT:
		conflict = kind == model.KindDate || kind == model.KindBool || kind == model.KindInteger
	case syntax.STRING:
		text, _ := lit.Value.(string)
		conflict = kind != model.KindString && model.Coerce(text, kind).IsNull()
	}
	if conflict {
		c.warn(lit.Raw, int(lit.TokenPos.Col),
			fmt.Sprintf("literal %s does not fit declared type %s", lit.Raw, kind))
	}
}
