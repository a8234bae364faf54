package sheetsql

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nao1215/sheetsql/domain/model"
)

// OpenFunc opens a workbook source. OpenWorkbook is the default.
type OpenFunc func(ctx context.Context, path string) (Source, error)

// Catalog keeps one open Source per workbook path. A workbook stays
// identical (same fingerprint) until Reopen is called for its path.
type Catalog struct {
	mu      sync.Mutex
	sources map[string]Source
	open    OpenFunc
}

// NewCatalog creates an empty catalog. A nil open uses OpenWorkbook.
func NewCatalog(open OpenFunc) *Catalog {
	if open == nil {
		open = OpenWorkbook
	}
	return &Catalog{
		sources: make(map[string]Source),
		open:    open,
	}
}

// Open returns the source for path, opening it on first use.
func (c *Catalog) Open(ctx context.Context, path string) (Source, error) {
	key := catalogKey(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	if src, ok := c.sources[key]; ok {
		return src, nil
	}
	src, err := c.open(ctx, key)
	if err != nil {
		return nil, err
	}
	c.sources[key] = src
	return src, nil
}

// Reopen re-reads path from disk and returns the previous and new workbook
// descriptions. prev is nil when path was not open.
func (c *Catalog) Reopen(ctx context.Context, path string) (prev, next *model.Workbook, err error) {
	key := catalogKey(path)

	src, err := c.open(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	old, ok := c.sources[key]
	c.sources[key] = src
	c.mu.Unlock()

	if ok {
		prev = old.Workbook()
		err = old.Close()
	}
	return prev, src.Workbook(), err
}

// Workbooks lists open workbooks ordered by path.
func (c *Catalog) Workbooks() []*model.Workbook {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*model.Workbook, 0, len(c.sources))
	for _, src := range c.sources {
		out = append(out, src.Workbook())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// Close closes every open source.
func (c *Catalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for key, src := range c.sources {
		errs = append(errs, src.Close())
		delete(c.sources, key)
	}
	return errors.Join(errs...)
}

func catalogKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
