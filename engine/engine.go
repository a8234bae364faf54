package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nao1215/sheetsql/domain/model"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

// Dialect names an embedded database.
type Dialect string

const (
	// DialectSQLite is the pure Go SQLite engine
	DialectSQLite Dialect = "sqlite"
	// DialectDuckDB is the DuckDB engine
	DialectDuckDB Dialect = "duckdb"
)

// ParseDialect validates an engine name.
func ParseDialect(name string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(name))); d {
	case DialectSQLite, DialectDuckDB:
		return d, nil
	case "":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("%w: %q (want sqlite or duckdb)", ErrUnknownDialect, name)
	}
}

// ResultSet is the outcome of one query.
type ResultSet struct {
	// ID is the result handle recorded by the session.
	ID      string
	Columns []string
	Rows    [][]model.Value
	Elapsed time.Duration
}

// NewResultSet wraps the rows of rel as a result.
func NewResultSet(rel *model.Relation) *ResultSet {
	return &ResultSet{
		ID:      uuid.NewString(),
		Columns: rel.ColumnNames(),
		Rows:    rel.Rows(),
	}
}

// Len returns the number of rows.
func (r *ResultSet) Len() int {
	return len(r.Rows)
}

// Relation converts the result into a relation, inferring each column's
// kind from its values.
func (r *ResultSet) Relation(name string) *model.Relation {
	columns := make([]model.Column, len(r.Columns))
	for j, c := range r.Columns {
		kind := model.KindNull
		for _, row := range r.Rows {
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
			kind = model.KindString
		}
		columns[j] = model.Column{Name: c, Kind: kind}
	}
	return model.NewRelation(name, 1, columns, r.Rows)
}

// Engine executes queries over registered relations.
type Engine interface {
	// Execute registers tables under their aliases and runs query.
	Execute(ctx context.Context, query string, tables map[string]*model.Relation) (*ResultSet, error)
	// Explain returns the engine's plan for query.
	Explain(ctx context.Context, query string, tables map[string]*model.Relation) (*ResultSet, error)
	// Dialect reports the underlying database.
	Dialect() Dialect
	// Close releases the database.
	Close() error
}

// SQLEngine is an Engine over a database/sql handle.
type SQLEngine struct {
	mu         sync.Mutex
	db         *sql.DB
	dialect    Dialect
	registered map[string]*model.Relation
	logger     *slog.Logger
	closed     bool
}

var _ Engine = (*SQLEngine)(nil)

// Option configures an SQLEngine.
type Option func(*SQLEngine)

// WithLogger sets the logger for registration and query timing.
func WithLogger(logger *slog.Logger) Option {
	return func(e *SQLEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Open creates an in-memory database of the given dialect.
func Open(dialect Dialect, opts ...Option) (*SQLEngine, error) {
	var dsn string
	switch dialect {
	case DialectSQLite:
		dsn = ":memory:"
	case DialectDuckDB:
		dsn = ""
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	// An in-memory database lives in a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect, err)
	}
	return NewFromDB(db, dialect, opts...), nil
}

// NewFromDB wraps an existing handle. The engine owns db afterwards.
func NewFromDB(db *sql.DB, dialect Dialect, opts ...Option) *SQLEngine {
	e := &SQLEngine{
		db:         db,
		dialect:    dialect,
		registered: make(map[string]*model.Relation),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dialect reports the underlying database.
func (e *SQLEngine) Dialect() Dialect {
	return e.dialect
}

// Execute registers tables and runs query, returning every row.
func (e *SQLEngine) Execute(ctx context.Context, query string, tables map[string]*model.Relation) (*ResultSet, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if err := e.register(ctx, tables); err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rs, err := collect(rows)
	if err != nil {
		return nil, err
	}
	rs.Elapsed = time.Since(start)
	e.logger.Debug("query executed", "dialect", e.dialect, "rows", len(rs.Rows), "elapsed", rs.Elapsed)
	return rs, nil
}

// Explain runs the dialect's plan statement for query.
func (e *SQLEngine) Explain(ctx context.Context, query string, tables map[string]*model.Relation) (*ResultSet, error) {
	prefix := "EXPLAIN "
	if e.dialect == DialectSQLite {
		prefix = "EXPLAIN QUERY PLAN "
	}
	return e.Execute(ctx, prefix+query, tables)
}

// Close releases the database.
func (e *SQLEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

func collect(rows *sql.Rows) (*ResultSet, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	rs := &ResultSet{ID: uuid.NewString(), Columns: columns}
	scan := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range scan {
		dest[i] = &scan[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]model.Value, len(columns))
		for i, v := range scan {
			row[i] = model.ValueOf(v)
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, rows.Err()
}

// register makes the table set match tables: new or changed relations are
// (re)created, relations already registered under the same alias are kept,
// and aliases no longer present are dropped.
func (e *SQLEngine) register(ctx context.Context, tables map[string]*model.Relation) error {
	aliases := make([]string, 0, len(tables))
	for alias := range tables {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	var stale []string
	for alias := range e.registered {
		if _, ok := tables[alias]; !ok {
			stale = append(stale, alias)
		}
	}
	sort.Strings(stale)

	var pending []string
	for _, alias := range aliases {
		if e.registered[alias] != tables[alias] {
			pending = append(pending, alias)
		}
	}
	if len(pending) == 0 && len(stale) == 0 {
		return nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, alias := range stale {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(alias)); err != nil {
			return errors.Join(fmt.Errorf("failed to drop table %s: %w", alias, err), tx.Rollback())
		}
	}
	for _, alias := range pending {
		if err := e.createTable(ctx, tx, alias, tables[alias]); err != nil {
			return errors.Join(fmt.Errorf("failed to register table %s: %w", alias, err), tx.Rollback())
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit table registration: %w", err)
	}

	for _, alias := range stale {
		delete(e.registered, alias)
	}
	for _, alias := range pending {
		e.registered[alias] = tables[alias]
		e.logger.Debug("registered table", "alias", alias, "rows", tables[alias].Len())
	}
	return nil
}

func (e *SQLEngine) createTable(ctx context.Context, tx *sql.Tx, alias string, rel *model.Relation) error {
	columns := rel.Columns()
	if len(columns) == 0 {
		return ErrNoColumns
	}

	seen := make(map[string]struct{}, len(columns))
	defs := make([]string, len(columns))
	for i, c := range columns {
		lower := strings.ToLower(c.Name)
		if _, dup := seen[lower]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateColumnName, c.Name)
		}
		seen[lower] = struct{}{}
		defs[i] = quoteIdent(c.Name) + " " + columnType(e.dialect, c.Kind)
	}

	table := quoteIdent(alias)
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return err
	}
	if rel.Len() == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, placeholders))
	if err != nil {
		return err
	}
	defer stmt.Close()

	args := make([]any, len(columns))
	for _, row := range rel.Rows() {
		for i := range columns {
			args[i] = nil
			if i < len(row) {
				args[i] = e.arg(row[i])
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// arg converts a cell into a driver argument. SQLite has no date type, so
// dates travel as ISO text.
func (e *SQLEngine) arg(v model.Value) any {
	if v.Kind() == model.KindDate && e.dialect == DialectSQLite {
		return model.FormatDate(v.AsTime())
	}
	if v.Kind() == model.KindBool && e.dialect == DialectSQLite {
		if v.AsBool() {
			return int64(1)
		}
		return int64(0)
	}
	return v.Any()
}

// columnType maps a column kind to the dialect's SQL type.
func columnType(dialect Dialect, kind model.Kind) string {
	if dialect == DialectDuckDB {
		switch kind {
		case model.KindInteger:
			return "BIGINT"
		case model.KindFloat:
			return "DOUBLE"
		case model.KindBool:
			return "BOOLEAN"
		case model.KindDate:
			return "TIMESTAMP"
		default:
			return "VARCHAR"
		}
	}
	switch kind {
	case model.KindInteger, model.KindBool:
		return "INTEGER"
	case model.KindFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
