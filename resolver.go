package sheetsql

import (
	"math"
	"strconv"
	"strings"

	"github.com/nao1215/sheetsql/domain/model"
)

// tokenKind classifies a span of query text.
type tokenKind int

const (
	// tokCode is plain SQL outside literals and comments
	tokCode tokenKind = iota
	// tokLiteral is a single-quoted string or a comment, copied verbatim
	tokLiteral
	// tokQuoted is a double-quoted identifier
	tokQuoted
	// tokPlaceholder is {Identifier}
	tokPlaceholder
	// tokParam is :identifier
	tokParam
)

type token struct {
	kind tokenKind
	text string
	name string
}

// scanQuery walks query once, left to right, and emits spans. Placeholders
// and parameters are only recognized in code, never inside string literals,
// quoted identifiers or comments. "::" is a cast, not a parameter.
func scanQuery(query string, emit func(token)) {
	n := len(query)
	start, i := 0, 0
	flush := func(end int) {
		if end > start {
			emit(token{kind: tokCode, text: query[start:end]})
		}
	}
	span := func(kind tokenKind, end int, name string) {
		flush(i)
		emit(token{kind: kind, text: query[i:end], name: name})
		i, start = end, end
	}

	for i < n {
		c := query[i]
		switch {
		case c == '\'':
			span(tokLiteral, skipQuoted(query, i, '\''), "")
		case c == '"':
			end := skipQuoted(query, i, '"')
			name := ""
			if end-i >= 2 && query[end-1] == '"' {
				name = strings.ReplaceAll(query[i+1:end-1], `""`, `"`)
			}
			span(tokQuoted, end, name)
		case c == '-' && i+1 < n && query[i+1] == '-':
			end := n
			if nl := strings.IndexByte(query[i:], '\n'); nl >= 0 {
				end = i + nl
			}
			span(tokLiteral, end, "")
		case c == '/' && i+1 < n && query[i+1] == '*':
			end := n
			if close := strings.Index(query[i+2:], "*/"); close >= 0 {
				end = i + 2 + close + 2
			}
			span(tokLiteral, end, "")
		case c == '{':
			j := i + 1
			for j < n && model.IsIdentByte(query[j]) {
				j++
			}
			if j > i+1 && j < n && query[j] == '}' {
				span(tokPlaceholder, j+1, query[i+1:j])
				continue
			}
			i++
		case c == ':':
			if i+1 < n && query[i+1] == ':' {
				i += 2
				continue
			}
			if i+1 < n && model.IsIdentStart(query[i+1]) {
				j := i + 2
				for j < n && model.IsIdentByte(query[j]) {
					j++
				}
				span(tokParam, j, query[i+1:j])
				continue
			}
			i++
		default:
			i++
		}
	}
	flush(n)
}

// skipQuoted returns the index just past the quoted run opening at i.
// A doubled quote is an escape. An unterminated run extends to the end.
func skipQuoted(s string, i int, quote byte) int {
	for j := i + 1; j < len(s); j++ {
		if s[j] != quote {
			continue
		}
		if j+1 < len(s) && s[j+1] == quote {
			j++
			continue
		}
		return j + 1
	}
	return len(s)
}

// Rewritten is the result of a successful rewrite.
type Rewritten struct {
	// Query is the final text handed to the engine.
	Query string
	// UsedParams lists substituted parameters in order of first use.
	UsedParams []string
	// Placeholders lists resolved sheet names in order of first use.
	Placeholders []string
}

// Rewrite substitutes sheet placeholders and parameters in query.
//
// {Name} becomes the alias bound to sheet Name, quoted when needed. A
// double-quoted identifier spelling a bound sheet name that is not itself a
// plain identifier ("Sales Data") is replaced the same way, wherever it
// appears: a column alias such as AS "Sales Data" is rewritten too, so
// such aliases should use a different spelling. :name becomes the SQL
// literal of params[name].
//
// Resolution is all-or-nothing: if any placeholder is unbound or any
// parameter is missing, Rewrite returns the zero Rewritten and a
// *ResolutionError listing every unresolved token.
func Rewrite(query string, bindings map[string]string, params map[string]model.Value) (Rewritten, error) {
	var (
		b        strings.Builder
		out      Rewritten
		unknown  []string
		missing  []string
		resolved = map[string]struct{}{}
		used     = map[string]struct{}{}
	)
	b.Grow(len(query))

	scanQuery(query, func(t token) {
		switch t.kind {
		case tokPlaceholder:
			alias, ok := bindings[t.name]
			if !ok {
				unknown = appendOnce(unknown, t.name)
				return
			}
			b.WriteString(QuoteIdent(alias))
			if _, seen := resolved[t.name]; !seen {
				resolved[t.name] = struct{}{}
				out.Placeholders = append(out.Placeholders, t.name)
			}
		case tokQuoted:
			alias, ok := bindings[t.name]
			if !ok || model.IsIdentifier(t.name) {
				b.WriteString(t.text)
				return
			}
			b.WriteString(QuoteIdent(alias))
			if _, seen := resolved[t.name]; !seen {
				resolved[t.name] = struct{}{}
				out.Placeholders = append(out.Placeholders, t.name)
			}
		case tokParam:
			v, ok := params[t.name]
			if !ok {
				missing = appendOnce(missing, t.name)
				return
			}
			b.WriteString(SQLLiteral(v))
			if _, seen := used[t.name]; !seen {
				used[t.name] = struct{}{}
				out.UsedParams = append(out.UsedParams, t.name)
			}
		default:
			b.WriteString(t.text)
		}
	})

	if len(unknown) > 0 || len(missing) > 0 {
		return Rewritten{}, &ResolutionError{UnknownPlaceholders: unknown, MissingParams: missing}
	}
	out.Query = b.String()
	return out, nil
}

// Placeholders lists the {Name} tokens of query in order of first appearance.
func Placeholders(query string) []string {
	var names []string
	scanQuery(query, func(t token) {
		if t.kind == tokPlaceholder {
			names = appendOnce(names, t.name)
		}
	})
	return names
}

// ParamNames lists the :name tokens of query in order of first appearance.
func ParamNames(query string) []string {
	var names []string
	scanQuery(query, func(t token) {
		if t.kind == tokParam {
			names = appendOnce(names, t.name)
		}
	})
	return names
}

func appendOnce(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// reservedWords are aliases that must be quoted to be used as table names.
var reservedWords = map[string]struct{}{
	"all": {}, "and": {}, "as": {}, "by": {}, "case": {}, "cast": {}, "default": {},
	"distinct": {}, "else": {}, "end": {}, "except": {}, "from": {}, "group": {},
	"having": {}, "in": {}, "intersect": {}, "is": {}, "join": {}, "like": {},
	"limit": {}, "not": {}, "null": {}, "offset": {}, "on": {}, "or": {},
	"order": {}, "select": {}, "table": {}, "then": {}, "union": {}, "user": {},
	"using": {}, "values": {}, "when": {}, "where": {}, "with": {},
}

// QuoteIdent returns name as a SQL identifier, double-quoting it when it is
// not a plain identifier, starts with a digit, or is a reserved word.
func QuoteIdent(name string) string {
	_, reserved := reservedWords[strings.ToLower(name)]
	if model.IsIdentifier(name) && model.IsIdentStart(name[0]) && !reserved {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteString returns s as a single-quoted SQL string literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// SQLLiteral renders v as a SQL literal. Numbers are unquoted (negative
// ones parenthesized so they never form "--"), strings and dates are
// single-quoted, booleans are TRUE/FALSE and null is NULL.
func SQLLiteral(v model.Value) string {
	switch v.Kind() {
	case model.KindNull:
		return "NULL"
	case model.KindBool:
		if v.AsBool() {
			return "TRUE"
		}
		return "FALSE"
	case model.KindInteger:
		s := strconv.FormatInt(v.AsInt(), 10)
		if v.AsInt() < 0 {
			return "(" + s + ")"
		}
		return s
	case model.KindFloat:
		f := v.AsFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return QuoteString(strconv.FormatFloat(f, 'g', -1, 64))
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		if f < 0 {
			return "(" + s + ")"
		}
		return s
	default:
		return QuoteString(v.String())
	}
}
