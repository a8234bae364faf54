package sheetsql

import (
	"sort"
	"sync"
	"time"

	"github.com/nao1215/sheetsql/domain/model"
)

// CacheKey identifies one materialization of a sheet.
type CacheKey struct {
	Fingerprint string
	Sheet       string
	HeaderRow   int
}

// CacheEntry is a stored relation. Entries are replaced, never mutated.
type CacheEntry struct {
	Key      CacheKey
	Relation *model.Relation
	LoadedAt time.Time
	Rows     int
	Bytes    int64
}

// CacheStat is the per-entry summary shown by \dt+ and \stats.
type CacheStat struct {
	Sheet       string    `json:"sheet" yaml:"sheet"`
	HeaderRow   int       `json:"header_row" yaml:"header_row"`
	Fingerprint string    `json:"fingerprint" yaml:"fingerprint"`
	Rows        int       `json:"rows" yaml:"rows"`
	Columns     int       `json:"columns" yaml:"columns"`
	Bytes       int64     `json:"bytes" yaml:"bytes"`
	LoadedAt    time.Time `json:"loaded_at" yaml:"loaded_at"`
}

type sheetKey struct {
	fingerprint string
	sheet       string
}

// Cache holds materialized relations and per-sheet metadata for the life
// of the process. It has no eviction: entries leave only through Invalidate,
// InvalidateSheet, InvalidateWorkbook or Clear. All methods are safe for
// concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[CacheKey]*CacheEntry
	headers map[sheetKey]int
	now     func() time.Time
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[CacheKey]*CacheEntry),
		headers: make(map[sheetKey]int),
		now:     time.Now,
	}
}

// Get returns the cached relation for key.
func (c *Cache) Get(key CacheKey) (*model.Relation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return entry.Relation, true
}

// Contains reports whether key is cached.
func (c *Cache) Contains(key CacheKey) bool {
	_, ok := c.Get(key)
	return ok
}

// Put stores rel under key, replacing any previous entry.
func (c *Cache) Put(key CacheKey, rel *model.Relation) *CacheEntry {
	entry := &CacheEntry{
		Key:      key,
		Relation: rel,
		LoadedAt: c.now(),
		Rows:     rel.Len(),
		Bytes:    rel.SizeEstimate(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	return entry
}

// Invalidate removes key. A missing key is a no-op and reports false.
func (c *Cache) Invalidate(key CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// InvalidateSheet removes every header variant of one sheet along with its
// remembered header row.
func (c *Cache) InvalidateSheet(fingerprint, sheet string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.headers, sheetKey{fingerprint: fingerprint, sheet: sheet})
	return c.removeLocked(func(k CacheKey) bool {
		return k.Fingerprint == fingerprint && k.Sheet == sheet
	})
}

// InvalidateWorkbook removes every entry and metadata of a workbook.
func (c *Cache) InvalidateWorkbook(fingerprint string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.headers {
		if k.fingerprint == fingerprint {
			delete(c.headers, k)
		}
	}
	return c.removeLocked(func(k CacheKey) bool {
		return k.Fingerprint == fingerprint
	})
}

// Clear removes everything and reports how many entries were dropped.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[CacheKey]*CacheEntry)
	c.headers = make(map[sheetKey]int)
	return n
}

func (c *Cache) removeLocked(match func(CacheKey) bool) int {
	n := 0
	for k := range c.entries {
		if match(k) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// SetHeaderRow remembers the inferred header row of a sheet.
func (c *Cache) SetHeaderRow(fingerprint, sheet string, row int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[sheetKey{fingerprint: fingerprint, sheet: sheet}] = row
}

// HeaderRow returns the remembered inferred header row of a sheet.
func (c *Cache) HeaderRow(fingerprint, sheet string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.headers[sheetKey{fingerprint: fingerprint, sheet: sheet}]
	return row, ok
}

// Entries returns a snapshot of all entries ordered like Stats.
func (c *Cache) Entries() []CacheEntry {
	c.mu.RLock()
	out := make([]CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Sheet != b.Sheet {
			return a.Sheet < b.Sheet
		}
		if a.HeaderRow != b.HeaderRow {
			return a.HeaderRow < b.HeaderRow
		}
		return a.Fingerprint < b.Fingerprint
	})
	return out
}

// Stats returns row count and size estimate per entry.
func (c *Cache) Stats() []CacheStat {
	entries := c.Entries()
	stats := make([]CacheStat, len(entries))
	for i, e := range entries {
		stats[i] = CacheStat{
			Sheet:       e.Key.Sheet,
			HeaderRow:   e.Key.HeaderRow,
			Fingerprint: e.Key.Fingerprint,
			Rows:        e.Rows,
			Columns:     len(e.Relation.Columns()),
			Bytes:       e.Bytes,
			LoadedAt:    e.LoadedAt,
		}
	}
	return stats
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
