package sheetsql

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		query  string
		strict bool
		want   error
	}{
		{name: "select", query: "SELECT * FROM {Sales}"},
		{name: "lower case with trailing semicolon", query: "select 1;"},
		{name: "cte", query: "WITH t AS (SELECT 1 AS x) SELECT x FROM t"},
		{name: "pragma table_info", query: "PRAGMA table_info(s1)"},
		{name: "duckdb summarize", query: "SUMMARIZE {Sales}"},
		{name: "keyword in a literal", query: "SELECT * FROM {Sales} WHERE note = 'DROP TABLE x'"},
		{name: "keyword in a comment", query: "SELECT 1 -- delete me later"},
		{name: "keyword as a quoted identifier", query: `SELECT "update" FROM {Sales}`},
		{name: "strict with placeholder", query: "SELECT * FROM {Sales}", strict: true},
		{name: "empty", query: "  ", want: ErrUnsafeQuery},
		{name: "delete", query: "DELETE FROM {Sales}", want: ErrUnsafeQuery},
		{name: "multiple statements", query: "SELECT 1; DROP TABLE s1", want: ErrUnsafeQuery},
		{name: "other pragma", query: "PRAGMA writable_schema = 1", want: ErrUnsafeQuery},
		{name: "write inside a cte", query: "WITH t AS (INSERT INTO x VALUES (1)) SELECT 1", want: ErrUnsafeQuery},
		{name: "attach", query: "SELECT 1 FROM x; ATTACH 'other.db' AS o", want: ErrUnsafeQuery},
		{name: "strict without placeholder", query: "SELECT 1", strict: true, want: ErrNoPlaceholder},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := CheckQuery(tt.query, tt.strict)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWrapLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		n     int
		want  string
	}{
		{
			name:  "select",
			query: "SELECT * FROM s1",
			n:     10,
			want:  "SELECT * FROM (SELECT * FROM s1) AS sheetsql_sub LIMIT 10",
		},
		{
			name:  "trailing semicolon",
			query: "SELECT 1;",
			n:     5,
			want:  "SELECT * FROM (SELECT 1) AS sheetsql_sub LIMIT 5",
		},
		{
			name:  "trailing comment",
			query: "SELECT 1 -- note",
			n:     5,
			want:  "SELECT * FROM (\nSELECT 1 -- note\n) AS sheetsql_sub LIMIT 5",
		},
		{
			name:  "existing limit",
			query: "SELECT * FROM s1 LIMIT 3 OFFSET 1",
			n:     10,
			want:  "SELECT * FROM s1 LIMIT 3 OFFSET 1",
		},
		{
			name:  "limit inside a literal does not count",
			query: "SELECT 'LIMIT 3'",
			n:     2,
			want:  "SELECT * FROM (SELECT 'LIMIT 3') AS sheetsql_sub LIMIT 2",
		},
		{
			name:  "not a select",
			query: "EXPLAIN SELECT 1",
			n:     10,
			want:  "EXPLAIN SELECT 1",
		},
		{
			name:  "disabled",
			query: "SELECT 1",
			n:     0,
			want:  "SELECT 1",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, WrapLimit(tt.query, tt.n))
		})
	}
}
