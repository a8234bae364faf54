package sheetsql

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nao1215/sheetsql/domain/model"
	"golang.org/x/sync/singleflight"
)

// LoaderOptions tunes sheet materialization. Zero values take defaults.
type LoaderOptions struct {
	// HeaderScanRows is how many leading rows header inference samples.
	HeaderScanRows int
	// TypeSampleRows is how many data rows column kind inference samples.
	TypeSampleRows int
	// ChunkSize is the number of rows read between cancellation checks.
	ChunkSize int
	// MemoryLimit aborts loads once the heap exceeds it. Nil disables the check.
	MemoryLimit *MemoryLimit
	// Logger receives debug output. Nil discards.
	Logger *slog.Logger
}

func (o LoaderOptions) withDefaults() LoaderOptions {
	if o.HeaderScanRows <= 0 {
		o.HeaderScanRows = model.DefaultHeaderScanRows
	}
	if o.TypeSampleRows <= 0 {
		o.TypeSampleRows = model.DefaultTypeSampleRows
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Loader turns sheets into typed relations, serving repeats from the Cache.
type Loader struct {
	catalog *Catalog
	cache   *Cache
	opts    LoaderOptions
	flight  singleflight.Group
}

// NewLoader creates a loader over catalog and cache.
func NewLoader(catalog *Catalog, cache *Cache, opts LoaderOptions) *Loader {
	return &Loader{
		catalog: catalog,
		cache:   cache,
		opts:    opts.withDefaults(),
	}
}

// Cache returns the cache the loader populates.
func (l *Loader) Cache() *Cache {
	return l.cache
}

// Catalog returns the catalog the loader reads from.
func (l *Loader) Catalog() *Catalog {
	return l.catalog
}

// Load materializes sheet of the workbook at path. header is a 1-based
// override; 0 infers it and a negative row is rejected. Loading the same cache key twice returns the
// cached relation without re-reading the file.
func (l *Loader) Load(ctx context.Context, path, sheet string, header int) (*model.Relation, CacheKey, error) {
	src, err := l.catalog.Open(ctx, path)
	if err != nil {
		return nil, CacheKey{}, newLoadError(path, sheet, err)
	}
	wb := src.Workbook()

	row, _, err := l.resolveHeader(ctx, src, sheet, header)
	if err != nil {
		return nil, CacheKey{}, err
	}
	key := CacheKey{Fingerprint: wb.Fingerprint(), Sheet: sheet, HeaderRow: row}

	if rel, ok := l.cache.Get(key); ok {
		l.opts.Logger.Debug("cache hit", "sheet", sheet, "header_row", row)
		return rel, key, nil
	}

	flightKey := fmt.Sprintf("%s\x00%s\x00%d", key.Fingerprint, key.Sheet, key.HeaderRow)
	var v any
	for attempt := 0; attempt < 2; attempt++ {
		v, err, _ = l.flight.Do(flightKey, func() (any, error) {
			if rel, ok := l.cache.Get(key); ok {
				return rel, nil
			}
			rel, err := l.materialize(ctx, src, sheet, row)
			if err != nil {
				return nil, err
			}
			l.cache.Put(key, rel)
			return rel, nil
		})
		// A shared call can fail with the cancellation of another caller.
		if err == nil || ctx.Err() != nil || !errors.Is(err, context.Canceled) {
			break
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, CacheKey{}, err
		}
		return nil, CacheKey{}, newLoadError(wb.Path(), sheet, err)
	}
	return v.(*model.Relation), key, nil
}

// Reload re-reads the workbook from disk, drops stale cache entries and
// loads sheet again. Relations handed out earlier are not modified.
func (l *Loader) Reload(ctx context.Context, path, sheet string, header int) (*model.Relation, CacheKey, error) {
	if _, err := l.Invalidate(ctx, path, sheet); err != nil {
		return nil, CacheKey{}, err
	}
	return l.Load(ctx, path, sheet, header)
}

// Invalidate re-opens the workbook at path and removes cached data made
// stale by it: the whole workbook when its content changed, otherwise only
// sheet (every header variant). An empty sheet invalidates the workbook.
// It returns the number of entries removed.
func (l *Loader) Invalidate(ctx context.Context, path, sheet string) (int, error) {
	prev, next, err := l.catalog.Reopen(ctx, path)
	if err != nil {
		return 0, newLoadError(path, sheet, err)
	}

	var n int
	switch {
	case prev != nil && prev.Fingerprint() != next.Fingerprint():
		n = l.cache.InvalidateWorkbook(prev.Fingerprint())
	case sheet == "":
		n = l.cache.InvalidateWorkbook(next.Fingerprint())
	default:
		n = l.cache.InvalidateSheet(next.Fingerprint(), sheet)
	}
	l.opts.Logger.Debug("invalidated", "path", next.Path(), "sheet", sheet, "entries", n)
	return n, nil
}

// HeaderInspection explains how a header row was chosen.
type HeaderInspection struct {
	Sheet    string
	Row      int
	Inferred bool
	// Sample holds the scanned leading rows and Scores their label scores.
	Sample []model.Record
	Scores []int
}

// InspectHeader resolves the header row of sheet and returns the sample it
// was inferred from.
func (l *Loader) InspectHeader(ctx context.Context, path, sheet string, header int) (HeaderInspection, error) {
	src, err := l.catalog.Open(ctx, path)
	if err != nil {
		return HeaderInspection{}, newLoadError(path, sheet, err)
	}
	row, inferred, err := l.resolveHeader(ctx, src, sheet, header)
	if err != nil {
		return HeaderInspection{}, err
	}
	sample, err := ReadRows(ctx, src, sheet, 1, l.opts.HeaderScanRows)
	if err != nil {
		return HeaderInspection{}, newLoadError(path, sheet, err)
	}
	return HeaderInspection{
		Sheet:    sheet,
		Row:      row,
		Inferred: inferred,
		Sample:   sample,
		Scores:   model.HeaderScores(sample, l.opts.HeaderScanRows),
	}, nil
}

// resolveHeader picks the override when given, else the remembered or
// freshly inferred header row, and checks it against the sheet extent.
func (l *Loader) resolveHeader(ctx context.Context, src Source, sheet string, override int) (int, bool, error) {
	wb := src.Workbook()
	meta, ok := wb.Sheet(sheet)
	if !ok {
		return 0, false, newLoadError(wb.Path(), sheet,
			fmt.Errorf("%w (available: %s)", ErrSheetNotFound, strings.Join(wb.SheetNames(), ", ")))
	}

	if override < 0 {
		return 0, false, newLoadError(wb.Path(), sheet,
			fmt.Errorf("%w: row %d", ErrHeaderOutOfRange, override))
	}
	row, inferred := override, false
	if override == 0 {
		inferred = true
		if cached, ok := l.cache.HeaderRow(wb.Fingerprint(), sheet); ok {
			row = cached
		} else {
			sample, err := ReadRows(ctx, src, sheet, 1, l.opts.HeaderScanRows)
			if err != nil {
				return 0, false, newLoadError(wb.Path(), sheet, err)
			}
			row = model.InferHeaderRow(sample, l.opts.HeaderScanRows)
			l.cache.SetHeaderRow(wb.Fingerprint(), sheet, row)
			l.opts.Logger.Debug("inferred header row", "sheet", sheet, "row", row)
		}
	}

	if row > meta.Rows {
		return 0, false, newLoadError(wb.Path(), sheet,
			fmt.Errorf("%w: row %d, sheet has %d row(s)", ErrHeaderOutOfRange, row, meta.Rows))
	}
	return row, inferred, nil
}

// materialize reads the header row and every row after it in batches,
// then infers column kinds and coerces cells. Nothing is cached here.
func (l *Loader) materialize(ctx context.Context, src Source, sheet string, headerRow int) (*model.Relation, error) {
	meta, _ := src.Workbook().Sheet(sheet)

	var (
		header  model.Header
		records []model.Record
		origins []int
		batches int
	)
	err := src.ScanRows(ctx, sheet, headerRow, l.opts.ChunkSize, func(first int, rows []model.Record) error {
		batches++
		for i, r := range rows {
			if first+i == headerRow {
				header = model.NewHeader(r)
				continue
			}
			if populatedWidth(r) == 0 {
				continue
			}
			records = append(records, r)
			origins = append(origins, first+i)
		}
		if l.opts.MemoryLimit.CheckMemoryUsage() == MemoryStatusExceeded {
			return l.opts.MemoryLimit.CreateMemoryError("loading sheet " + sheet)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	names := model.ColumnNames(header, meta.Cols)
	columns := model.InferColumns(names, records, l.opts.TypeSampleRows)

	rows := make([][]model.Value, len(records))
	for i, r := range records {
		row := make([]model.Value, len(columns))
		for j, c := range columns {
			row[j] = model.Coerce(r.Cell(j), c.Kind)
		}
		rows[i] = row
	}

	l.opts.Logger.Debug("materialized sheet",
		"sheet", sheet, "header_row", headerRow, "rows", len(rows), "columns", len(columns), "batches", batches)
	return model.NewSheetRelation(sheet, headerRow, columns, rows, origins), nil
}
