package sheetsql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nao1215/sheetsql/domain/model"
	"github.com/nao1215/sheetsql/engine"
)

// Mapping workbook sheet names.
const (
	// MappingSheet holds template_column / source_expression / type rows.
	MappingSheet = "Mapping"
	// TemplateSheet optionally fixes the output column order in its header row.
	TemplateSheet = "Template"
)

// Result is the outcome of Workspace.Query.
type Result struct {
	Set *engine.ResultSet
	// SQL is the text sent to the engine.
	SQL       string
	Rewritten Rewritten
	// Report is set when a mapping template was applied to the rows.
	Report  *TransformReport
	Elapsed time.Duration
}

// SearchHit is one match of Workspace.Search. Column is empty for a sheet match.
type SearchHit struct {
	Sheet  string `json:"sheet" yaml:"sheet"`
	Column string `json:"column,omitempty" yaml:"column,omitempty"`
}

// Workspace ties the catalog, loader, cache, session and SQL engine together
// around one open workbook. It is driven by one goroutine at a time.
type Workspace struct {
	mu   sync.Mutex
	path string
	last *engine.ResultSet

	cache   *Cache
	catalog *Catalog
	loader  *Loader
	session *Session
	engine  engine.Engine

	transform TransformOptions
	logger    *slog.Logger
}

type workspaceConfig struct {
	cache     *Cache
	open      OpenFunc
	engine    engine.Engine
	dialect   engine.Dialect
	loader    LoaderOptions
	settings  SessionSettings
	transform TransformOptions
	logger    *slog.Logger
}

// Option configures a Workspace.
type Option func(*workspaceConfig)

// WithCache shares an existing cache.
func WithCache(cache *Cache) Option {
	return func(c *workspaceConfig) { c.cache = cache }
}

// WithOpenFunc replaces how workbooks are opened.
func WithOpenFunc(open OpenFunc) Option {
	return func(c *workspaceConfig) { c.open = open }
}

// WithEngine uses e instead of opening an in-memory engine. The workspace
// closes it on Close.
func WithEngine(e engine.Engine) Option {
	return func(c *workspaceConfig) { c.engine = e }
}

// WithDialect selects the in-memory engine opened by NewWorkspace.
func WithDialect(d engine.Dialect) Option {
	return func(c *workspaceConfig) { c.dialect = d }
}

// WithLoaderOptions tunes sheet loading.
func WithLoaderOptions(opts LoaderOptions) Option {
	return func(c *workspaceConfig) { c.loader = opts }
}

// WithSettings sets the initial session settings.
func WithSettings(settings SessionSettings) Option {
	return func(c *workspaceConfig) { c.settings = settings }
}

// WithTransformOptions sets how mapping templates are applied.
func WithTransformOptions(opts TransformOptions) Option {
	return func(c *workspaceConfig) { c.transform = opts }
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(c *workspaceConfig) { c.logger = logger }
}

// NewWorkspace builds a workspace. Without WithEngine it opens an in-memory
// sqlite database.
func NewWorkspace(opts ...Option) (*Workspace, error) {
	cfg := workspaceConfig{
		dialect:   engine.DialectSQLite,
		transform: TransformOptions{FailOnError: true},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.cache == nil {
		cfg.cache = NewCache()
	}
	if cfg.engine == nil {
		e, err := engine.Open(cfg.dialect, engine.WithLogger(cfg.logger))
		if err != nil {
			return nil, err
		}
		cfg.engine = e
	}
	cfg.loader.Logger = cfg.logger
	cfg.transform.Logger = cfg.logger

	catalog := NewCatalog(cfg.open)
	return &Workspace{
		cache:     cfg.cache,
		catalog:   catalog,
		loader:    NewLoader(catalog, cfg.cache, cfg.loader),
		session:   NewSession(cfg.cache, cfg.settings),
		engine:    cfg.engine,
		transform: cfg.transform,
		logger:    cfg.logger,
	}, nil
}

// Session returns the workspace session.
func (w *Workspace) Session() *Session { return w.session }

// Cache returns the relation cache.
func (w *Workspace) Cache() *Cache { return w.cache }

// Loader returns the sheet loader.
func (w *Workspace) Loader() *Loader { return w.loader }

// Engine returns the SQL engine.
func (w *Workspace) Engine() engine.Engine { return w.engine }

// Open makes path the current workbook. Bindings of a previously open
// workbook are dropped.
func (w *Workspace) Open(ctx context.Context, path string) (*model.Workbook, error) {
	src, err := w.catalog.Open(ctx, path)
	if err != nil {
		return nil, newLoadError(path, "", err)
	}
	wb := src.Workbook()

	w.mu.Lock()
	changed := w.path != "" && w.path != wb.Path()
	w.path = wb.Path()
	w.mu.Unlock()

	if changed {
		for _, b := range w.session.Bindings() {
			w.session.UnbindSheet(b.Sheet)
		}
	}
	w.logger.Debug("opened workbook", "path", wb.Path(), "sheets", len(wb.Sheets()))
	return wb, nil
}

// Path returns the path of the current workbook.
func (w *Workspace) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.path
}

func (w *Workspace) requirePath() (string, error) {
	path := w.Path()
	if path == "" {
		return "", newLoadError("", "", ErrNoWorkbook)
	}
	return path, nil
}

// Workbook describes the current workbook.
func (w *Workspace) Workbook(ctx context.Context) (*model.Workbook, error) {
	path, err := w.requirePath()
	if err != nil {
		return nil, err
	}
	src, err := w.catalog.Open(ctx, path)
	if err != nil {
		return nil, newLoadError(path, "", err)
	}
	return src.Workbook(), nil
}

// Sheets lists the sheets of the current workbook.
func (w *Workspace) Sheets(ctx context.Context) ([]model.Sheet, error) {
	wb, err := w.Workbook(ctx)
	if err != nil {
		return nil, err
	}
	return wb.Sheets(), nil
}

// Bind loads sheet and binds it under alias. header 0 uses the session's
// header override or default for the sheet.
func (w *Workspace) Bind(ctx context.Context, sheet, alias string, header int) (Binding, error) {
	path, err := w.requirePath()
	if err != nil {
		return Binding{}, err
	}
	if header <= 0 {
		header = w.session.HeaderFor(sheet)
	}
	_, key, err := w.loader.Load(ctx, path, sheet, header)
	if err != nil {
		return Binding{}, err
	}
	return w.session.BindSheet(sheet, alias, key)
}

// Unbind removes the binding of a sheet or alias.
func (w *Workspace) Unbind(name string) bool {
	b, ok := w.session.Lookup(name)
	if !ok {
		return false
	}
	return w.session.UnbindSheet(b.Sheet)
}

// Relation returns the relation bound under a sheet name or alias, loading
// an unbound sheet of the current workbook.
func (w *Workspace) Relation(ctx context.Context, name string) (*model.Relation, error) {
	if b, ok := w.session.Lookup(name); ok {
		if rel, ok := w.cache.Get(b.Key); ok {
			return rel, nil
		}
		name = b.Sheet
	}
	path, err := w.requirePath()
	if err != nil {
		return nil, err
	}
	rel, _, err := w.loader.Load(ctx, path, name, w.session.HeaderFor(name))
	return rel, err
}

// SetHeaderOverride pins the header row of sheet (row <= 0 returns to
// inference) and rebinds the sheet when it is bound.
func (w *Workspace) SetHeaderOverride(ctx context.Context, sheet string, row int) error {
	w.session.SetHeaderOverride(sheet, row)
	b, ok := w.session.Binding(sheet)
	if !ok {
		return nil
	}
	_, err := w.Bind(ctx, sheet, b.Alias, 0)
	return err
}

// HeaderRow reports the header row sheet loads with and whether it was inferred.
func (w *Workspace) HeaderRow(ctx context.Context, sheet string) (HeaderInspection, error) {
	path, err := w.requirePath()
	if err != nil {
		return HeaderInspection{}, err
	}
	return w.loader.InspectHeader(ctx, path, sheet, w.session.HeaderFor(sheet))
}

// Reload re-reads the workbook and invalidates sheet, or the whole workbook
// when sheet is empty or the file changed. Bound sheets are reloaded under
// their aliases; bindings that can no longer be loaded are dropped and
// returned.
func (w *Workspace) Reload(ctx context.Context, sheet string) ([]string, error) {
	path, err := w.requirePath()
	if err != nil {
		return nil, err
	}
	if b, ok := w.session.Lookup(sheet); ok {
		sheet = b.Sheet
	}
	n, err := w.loader.Invalidate(ctx, path, sheet)
	if err != nil {
		return nil, err
	}
	w.logger.Info("reloaded", "path", path, "sheet", sheet, "invalidated", n)
	return w.rebind(ctx), nil
}

// ReloadWorkbook reloads every sheet of the current workbook.
func (w *Workspace) ReloadWorkbook(ctx context.Context) ([]string, error) {
	return w.Reload(ctx, "")
}

// rebind reloads bindings whose cache entry is gone, then prunes the rest.
func (w *Workspace) rebind(ctx context.Context) []string {
	for _, b := range w.session.Bindings() {
		if w.cache.Contains(b.Key) {
			continue
		}
		if _, err := w.Bind(ctx, b.Sheet, b.Alias, 0); err != nil {
			w.logger.Warn("dropping binding", "sheet", b.Sheet, "error", err)
		}
	}
	return w.session.Sync()
}

// autoBind binds placeholders that name a sheet of the current workbook.
func (w *Workspace) autoBind(ctx context.Context, query string) error {
	names := Placeholders(query)
	if len(names) == 0 || w.Path() == "" {
		return nil
	}
	wb, err := w.Workbook(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, bound := w.session.Binding(name); bound {
			continue
		}
		if _, ok := wb.Sheet(name); !ok {
			continue
		}
		if _, err := w.Bind(ctx, name, "", 0); err != nil {
			return err
		}
	}
	return nil
}

// prepare guards, auto-binds and rewrites query text.
func (w *Workspace) prepare(ctx context.Context, text string) (Rewritten, error) {
	text = strings.TrimSpace(text)
	settings := w.session.Settings()
	if err := CheckQuery(text, settings.Strict); err != nil {
		return Rewritten{}, err
	}
	if err := w.autoBind(ctx, text); err != nil {
		return Rewritten{}, err
	}
	return Rewrite(text, w.session.AliasMap(), w.session.Params())
}

// Query rewrites and runs text against the bound sheets. Placeholders
// naming unbound sheets of the current workbook are bound first. The
// session's display limit caps plain SELECTs, and its mapping template, if
// any, is applied to the rows.
func (w *Workspace) Query(ctx context.Context, text string) (*Result, error) {
	w.session.AddHistory(text)
	return w.run(ctx, text)
}

func (w *Workspace) run(ctx context.Context, text string) (*Result, error) {
	rw, err := w.prepare(ctx, text)
	if err != nil {
		return nil, err
	}
	settings := w.session.Settings()
	sql := WrapLimit(rw.Query, settings.Limit)
	w.session.RecordQuery(sql)

	start := time.Now()
	rs, err := w.engine.Execute(ctx, sql, w.session.Relations())
	if err != nil {
		return nil, &EngineError{Query: sql, Err: err}
	}
	res := &Result{Set: rs, SQL: sql, Rewritten: rw}

	if settings.Template != "" {
		rel, report, err := w.ApplyTemplate(ctx, settings.Template, rs.Relation("result"))
		if err != nil {
			return nil, err
		}
		res.Set = engine.NewResultSet(rel)
		res.Set.Elapsed = rs.Elapsed
		res.Report = report
	}
	res.Elapsed = time.Since(start)

	w.mu.Lock()
	w.last = res.Set
	w.mu.Unlock()
	w.session.RecordResult(res.Set.ID)

	w.logger.Debug("query", "sql", sql, "rows", res.Set.Len(), "elapsed", res.Elapsed)
	return res, nil
}

// Explain returns the engine plan of text after rewriting.
func (w *Workspace) Explain(ctx context.Context, text string) (*Result, error) {
	rw, err := w.prepare(ctx, text)
	if err != nil {
		return nil, err
	}
	rs, err := w.engine.Explain(ctx, rw.Query, w.session.Relations())
	if err != nil {
		return nil, &EngineError{Query: rw.Query, Err: err}
	}
	return &Result{Set: rs, SQL: rw.Query, Rewritten: rw, Elapsed: rs.Elapsed}, nil
}

// LastResult returns the rows of the last successful Query.
func (w *Workspace) LastResult() (*engine.ResultSet, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last, w.last != nil
}

// ExportLast writes the last result to path, inferring the format from
// its extension.
func (w *Workspace) ExportLast(ctx context.Context, path string) error {
	rs, ok := w.LastResult()
	if !ok {
		return errors.New("sheetsql: no result to export")
	}
	opts, err := model.ExportOptionsForPath(path)
	if err != nil {
		return err
	}
	return Export(ctx, path, rs.Relation("result"), opts)
}

// WatchFunc receives each run of a watched query. Returning an error stops Watch.
type WatchFunc func(res *Result, err error) error

// Watch runs text now and then every interval until ctx is done or fn
// returns an error. Changes to the workbook file are picked up before the
// next run.
func (w *Workspace) Watch(ctx context.Context, text string, interval time.Duration, fn WatchFunc) error {
	if interval <= 0 {
		return fmt.Errorf("sheetsql: watch interval must be positive, got %s", interval)
	}

	var dirty atomic.Bool
	if path := w.Path(); path != "" {
		stop, err := w.watchFile(ctx, path, &dirty)
		if err != nil {
			w.logger.Warn("file watching disabled", "path", path, "error", err)
		} else {
			defer stop()
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if dirty.Swap(false) {
			if _, err := w.ReloadWorkbook(ctx); err != nil {
				w.logger.Warn("reload failed", "error", err)
			}
		}
		if err := fn(w.run(ctx, text)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// watchFile marks dirty whenever path is written or replaced. The directory
// is watched so editors that replace the file are noticed.
func (w *Workspace) watchFile(ctx context.Context, path string, dirty *atomic.Bool) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					w.logger.Debug("workbook changed", "path", path, "op", event.Op.String())
					dirty.Store(true)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("watcher error", "error", err)
			}
		}
	}()

	return func() {
		_ = watcher.Close()
		<-done
	}, nil
}

// sources maps every bound sheet name and alias to its columns.
func (w *Workspace) sources() map[string][]string {
	out := make(map[string][]string)
	for _, b := range w.session.Bindings() {
		rel, ok := w.cache.Get(b.Key)
		if !ok {
			continue
		}
		out[b.Sheet] = rel.ColumnNames()
		out[b.Alias] = rel.ColumnNames()
	}
	return out
}

// loadMapping reads mapping entries from sheet of the workbook at path. An
// empty sheet uses MappingSheet when present, else the first sheet.
func (w *Workspace) loadMapping(ctx context.Context, path, sheet string) ([]model.MappingEntry, error) {
	if sheet == "" {
		src, err := w.catalog.Open(ctx, path)
		if err != nil {
			return nil, newLoadError(path, "", err)
		}
		wb := src.Workbook()
		if _, ok := wb.Sheet(MappingSheet); ok {
			sheet = MappingSheet
		} else if names := wb.SheetNames(); len(names) > 0 {
			sheet = names[0]
		}
	}
	rel, _, err := w.loader.Load(ctx, path, sheet, 0)
	if err != nil {
		return nil, err
	}
	entries, err := model.ParseMapping(rel)
	if err != nil {
		return nil, newLoadError(path, sheet, err)
	}
	return entries, nil
}

// ValidateMapping checks a mapping sheet against every bound relation.
func (w *Workspace) ValidateMapping(ctx context.Context, mappingPath, mappingSheet string) ([]model.Diagnostic, error) {
	entries, err := w.loadMapping(ctx, mappingPath, mappingSheet)
	if err != nil {
		return nil, err
	}
	sources := w.sources()
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: bind the source sheets before validating a mapping", ErrNotBound)
	}
	return ValidateMapping(entries, sources), nil
}

// ApplyTemplate maps rel through the Mapping sheet of the workbook at
// mappingPath. When the workbook has a Template sheet, its header row fixes
// the output column order; mapped columns it does not name follow in
// mapping order.
func (w *Workspace) ApplyTemplate(ctx context.Context, mappingPath string, rel *model.Relation) (*model.Relation, *TransformReport, error) {
	entries, err := w.loadMapping(ctx, mappingPath, "")
	if err != nil {
		return nil, nil, err
	}
	out, report, err := ApplyMapping(ctx, rel, entries, w.transform)
	if err != nil {
		return nil, report, err
	}

	src, err := w.catalog.Open(ctx, mappingPath)
	if err != nil {
		return nil, report, newLoadError(mappingPath, "", err)
	}
	if _, ok := src.Workbook().Sheet(TemplateSheet); !ok {
		return out, report, nil
	}
	tmpl, _, err := w.loader.Load(ctx, mappingPath, TemplateSheet, 1)
	if err != nil {
		return nil, report, err
	}
	return ReorderColumns(out, tmpl.ColumnNames()), report, nil
}

// SetTemplate makes the mapping workbook at path apply to every query
// result; an empty path turns templating off. The workbook is re-read so
// edits made since it was last used take effect.
func (w *Workspace) SetTemplate(ctx context.Context, path string) error {
	if path == "" {
		w.session.UpdateSettings(func(s *SessionSettings) { s.Template = "" })
		return nil
	}
	if _, err := w.loader.Invalidate(ctx, path, ""); err != nil {
		return err
	}
	if _, err := w.loadMapping(ctx, path, ""); err != nil {
		return err
	}
	abs := catalogKey(path)
	w.session.UpdateSettings(func(s *SessionSettings) { s.Template = abs })
	return nil
}

// Search finds sheets of the current workbook and columns of bound
// relations whose names contain term, case-insensitively.
func (w *Workspace) Search(ctx context.Context, term string) ([]SearchHit, error) {
	wb, err := w.Workbook(ctx)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(term)

	var hits []SearchHit
	for _, name := range wb.SheetNames() {
		if strings.Contains(strings.ToLower(name), lower) {
			hits = append(hits, SearchHit{Sheet: name})
		}
	}
	bindings := w.session.Bindings()
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Sheet < bindings[j].Sheet })
	for _, b := range bindings {
		rel, ok := w.cache.Get(b.Key)
		if !ok {
			continue
		}
		for _, c := range rel.FindColumns(term) {
			hits = append(hits, SearchHit{Sheet: b.Sheet, Column: c})
		}
	}
	return hits, nil
}

// Stats returns cache statistics.
func (w *Workspace) Stats() []CacheStat {
	return w.cache.Stats()
}

// ClearCache empties the cache and drops every binding that depended on it.
func (w *Workspace) ClearCache() int {
	n := w.cache.Clear()
	w.session.Sync()
	w.logger.Info("cache cleared", "entries", n)
	return n
}

// Restart resets the session and clears the cache.
func (w *Workspace) Restart() int {
	w.session.Reset()
	w.mu.Lock()
	w.last = nil
	w.mu.Unlock()
	return w.ClearCache()
}

// Close releases the engine and every open workbook.
func (w *Workspace) Close() error {
	return errors.Join(w.engine.Close(), w.catalog.Close())
}
