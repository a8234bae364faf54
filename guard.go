package sheetsql

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/nao1215/sheetsql/domain/model"
)

// ErrNoPlaceholder indicates a query without a {Sheet} placeholder in strict mode.
var ErrNoPlaceholder = errors.New("sheetsql: strict mode requires at least one {Sheet} placeholder")

// readOnlyStarts are the statements a query may begin with.
var readOnlyStarts = map[string]struct{}{
	"SELECT":    {},
	"WITH":      {},
	"VALUES":    {},
	"EXPLAIN":   {},
	"DESCRIBE":  {},
	"SHOW":      {},
	"SUMMARIZE": {},
	"FROM":      {},
}

// forbiddenWords may not appear anywhere outside literals and comments.
var forbiddenWords = map[string]struct{}{
	"CREATE": {}, "ALTER": {}, "DROP": {}, "TRUNCATE": {}, "DELETE": {},
	"UPDATE": {}, "INSERT": {}, "MERGE": {}, "GRANT": {}, "REVOKE": {},
	"COMMIT": {}, "ROLLBACK": {}, "SAVEPOINT": {}, "ATTACH": {}, "DETACH": {},
	"COPY": {}, "VACUUM": {}, "CALL": {}, "INSTALL": {}, "LOAD": {},
	"BEGIN": {}, "TRANSACTION": {},
}

// skeleton is query with literals, comments and quoted identifiers blanked.
type skeleton struct {
	text         string
	placeholders int
	comments     bool
}

func skeletonOf(query string) skeleton {
	var (
		b  strings.Builder
		sk skeleton
	)
	scanQuery(query, func(t token) {
		switch t.kind {
		case tokCode:
			b.WriteString(t.text)
		case tokLiteral:
			if strings.HasPrefix(t.text, "--") || strings.HasPrefix(t.text, "/*") {
				sk.comments = true
			}
			b.WriteString(" '' ")
		case tokPlaceholder:
			sk.placeholders++
			b.WriteString(" _ ")
		default:
			b.WriteString(" _ ")
		}
	})
	sk.text = strings.TrimRight(strings.TrimSpace(b.String()), "; \t\r\n")
	return sk
}

func (sk skeleton) words() []string {
	return strings.FieldsFunc(sk.text, func(r rune) bool {
		return r > 0x7f || !model.IsIdentByte(byte(r))
	})
}

// CheckQuery accepts a single read-only statement. With strict set the
// query must also reference at least one {Sheet} placeholder. It returns an
// error wrapping ErrUnsafeQuery or ErrNoPlaceholder.
func CheckQuery(query string, strict bool) error {
	sk := skeletonOf(query)
	words := sk.words()
	if len(words) == 0 {
		return fmt.Errorf("%w: empty query", ErrUnsafeQuery)
	}
	if strings.Contains(sk.text, ";") {
		return fmt.Errorf("%w: multiple statements", ErrUnsafeQuery)
	}

	first := strings.ToUpper(words[0])
	_, ok := readOnlyStarts[first]
	if first == "PRAGMA" && len(words) > 1 && strings.EqualFold(words[1], "table_info") {
		ok = true
	}
	if !ok {
		return fmt.Errorf("%w: statement starts with %s", ErrUnsafeQuery, first)
	}
	for _, w := range words {
		if _, bad := forbiddenWords[strings.ToUpper(w)]; bad {
			return fmt.Errorf("%w: %s is not allowed", ErrUnsafeQuery, strings.ToUpper(w))
		}
	}

	if strict && sk.placeholders == 0 {
		return ErrNoPlaceholder
	}
	return nil
}

var trailingLimit = regexp.MustCompile(`(?i)\bLIMIT\s+[^\s;]+(\s+OFFSET\s+[^\s;]+)?$`)

// WrapLimit caps a SELECT or WITH query at n rows:
//
//	SELECT * FROM (<query>) AS sheetsql_sub LIMIT n
//
// Queries that already end with a LIMIT, other statements and n <= 0 are
// returned unchanged.
func WrapLimit(query string, n int) string {
	if n <= 0 {
		return query
	}
	sk := skeletonOf(query)
	words := sk.words()
	if len(words) == 0 {
		return query
	}
	if first := strings.ToUpper(words[0]); first != "SELECT" && first != "WITH" {
		return query
	}
	if trailingLimit.MatchString(sk.text) {
		return query
	}

	inner := strings.TrimRight(strings.TrimSpace(query), "; \t\r\n")
	if sk.comments {
		inner = "\n" + inner + "\n"
	}
	return "SELECT * FROM (" + inner + ") AS sheetsql_sub LIMIT " + strconv.Itoa(n)
}
