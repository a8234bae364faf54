package sheetsql

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nao1215/sheetsql/domain/model"
)

// maxHistory is the number of queries a session remembers.
const maxHistory = 1000

// Binding ties a sheet to the alias queries use for it.
type Binding struct {
	Sheet string   `json:"sheet" yaml:"sheet"`
	Alias string   `json:"alias" yaml:"alias"`
	Key   CacheKey `json:"-" yaml:"-"`
}

// SavedQuery is a named query text.
type SavedQuery struct {
	Name string `json:"name" yaml:"name"`
	Text string `json:"text" yaml:"text"`
}

// SessionSettings are the display and behavior switches of a session.
// Reset keeps them.
type SessionSettings struct {
	Format        string `json:"format" yaml:"format"`
	Limit         int    `json:"limit" yaml:"limit"`
	MaxColWidth   int    `json:"max_col_width" yaml:"max_col_width"`
	Vertical      bool   `json:"vertical" yaml:"vertical"`
	DefaultHeader int    `json:"default_header" yaml:"default_header"`
	Strict        bool   `json:"strict" yaml:"strict"`
	Timing        bool   `json:"timing" yaml:"timing"`
	Color         bool   `json:"color" yaml:"color"`
	ShowSQL       bool   `json:"show_sql" yaml:"show_sql"`
	Template      string `json:"template,omitempty" yaml:"template,omitempty"`
}

// SessionSnapshot is a point-in-time copy of a session for display.
type SessionSnapshot struct {
	Bindings        []Binding         `json:"bindings" yaml:"bindings"`
	Params          map[string]string `json:"params" yaml:"params"`
	LastQuery       string            `json:"last_query,omitempty" yaml:"last_query,omitempty"`
	LastResult      string            `json:"last_result,omitempty" yaml:"last_result,omitempty"`
	HeaderOverrides map[string]int    `json:"header_overrides,omitempty" yaml:"header_overrides,omitempty"`
	SavedQueries    []SavedQuery      `json:"saved_queries,omitempty" yaml:"saved_queries,omitempty"`
	History         int               `json:"history" yaml:"history"`
	Settings        SessionSettings   `json:"settings" yaml:"settings"`
}

// Session tracks what one interactive user has bound and set. Bound aliases
// only refer to relations present in the cache; Sync drops the rest.
type Session struct {
	mu sync.Mutex

	cache      *Cache
	bindings   map[string]Binding
	order      []string
	params     map[string]model.Value
	lastQuery  string
	lastResult string

	settings  SessionSettings
	overrides map[string]int
	saved     map[string]string
	history   []string
}

// NewSession creates an empty session over cache.
func NewSession(cache *Cache, settings SessionSettings) *Session {
	return &Session{
		cache:     cache,
		bindings:  make(map[string]Binding),
		params:    make(map[string]model.Value),
		settings:  settings,
		overrides: make(map[string]int),
		saved:     make(map[string]string),
	}
}

// BindSheet binds sheet under alias. An empty alias is derived from the
// sheet name and made unique. An explicit alias already used by another
// sheet is an error. key must be cached.
func (s *Session) BindSheet(sheet, alias string, key CacheKey) (Binding, error) {
	if !s.cache.Contains(key) {
		return Binding{}, newLoadError("", sheet, ErrNotCached)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	alias = strings.TrimSpace(alias)
	if alias == "" {
		if prev, ok := s.bindings[sheet]; ok {
			alias = prev.Alias
		} else {
			alias = model.AliasFor(sheet, s.aliasesLocked(sheet))
		}
	} else {
		for _, b := range s.bindings {
			if b.Sheet != sheet && strings.EqualFold(b.Alias, alias) {
				return Binding{}, fmt.Errorf("%w: %q is bound to sheet %q", ErrAliasInUse, alias, b.Sheet)
			}
		}
	}

	if _, ok := s.bindings[sheet]; !ok {
		s.order = append(s.order, sheet)
	}
	b := Binding{Sheet: sheet, Alias: alias, Key: key}
	s.bindings[sheet] = b
	return b, nil
}

// aliasesLocked lists aliases of every sheet except skip.
func (s *Session) aliasesLocked(skip string) []string {
	taken := make([]string, 0, len(s.bindings))
	for name, b := range s.bindings {
		if name != skip {
			taken = append(taken, b.Alias)
		}
	}
	return taken
}

// UnbindSheet removes the binding of sheet and reports whether it existed.
func (s *Session) UnbindSheet(sheet string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unbindLocked(sheet)
}

func (s *Session) unbindLocked(sheet string) bool {
	if _, ok := s.bindings[sheet]; !ok {
		return false
	}
	delete(s.bindings, sheet)
	for i, name := range s.order {
		if name == sheet {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Binding returns the binding of sheet.
func (s *Session) Binding(sheet string) (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[sheet]
	return b, ok
}

// Lookup finds a binding by sheet name or alias.
func (s *Session) Lookup(name string) (Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bindings[name]; ok {
		return b, true
	}
	for _, b := range s.bindings {
		if strings.EqualFold(b.Alias, name) {
			return b, true
		}
	}
	return Binding{}, false
}

// Bindings returns all bindings in the order they were made.
func (s *Session) Bindings() []Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Binding, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.bindings[name])
	}
	return out
}

// AliasMap returns sheet name to alias, the bindings argument of Rewrite.
func (s *Session) AliasMap() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.bindings))
	for name, b := range s.bindings {
		out[name] = b.Alias
	}
	return out
}

// Relations returns alias to cached relation for every live binding.
func (s *Session) Relations() map[string]*model.Relation {
	bindings := s.Bindings()
	out := make(map[string]*model.Relation, len(bindings))
	for _, b := range bindings {
		if rel, ok := s.cache.Get(b.Key); ok {
			out[b.Alias] = rel
		}
	}
	return out
}

// SetParam sets or overwrites a parameter.
func (s *Session) SetParam(name string, value model.Value) error {
	if !model.IsIdentifier(name) || !model.IsIdentStart(name[0]) {
		return fmt.Errorf("%w: %q", ErrInvalidParam, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params[name] = value
	return nil
}

// UnsetParam removes a parameter and reports whether it existed.
func (s *Session) UnsetParam(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.params[name]; !ok {
		return false
	}
	delete(s.params, name)
	return true
}

// Params returns a copy of the parameter set.
func (s *Session) Params() map[string]model.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.Value, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// RecordQuery stores the last rewritten query.
func (s *Session) RecordQuery(query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastQuery = query
}

// LastQuery returns the last rewritten query.
func (s *Session) LastQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery
}

// RecordResult stores the handle of the last result.
func (s *Session) RecordResult(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastResult = handle
}

// LastResult returns the handle of the last result.
func (s *Session) LastResult() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

// Reset clears bindings, parameters and the last query and result. Settings,
// header overrides, saved queries and history are kept and the cache is
// not touched.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings = make(map[string]Binding)
	s.order = nil
	s.params = make(map[string]model.Value)
	s.lastQuery = ""
	s.lastResult = ""
}

// Sync drops bindings whose relation is no longer cached and returns the
// affected sheet names in binding order.
func (s *Session) Sync() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped []string
	for _, name := range append([]string(nil), s.order...) {
		if !s.cache.Contains(s.bindings[name].Key) {
			s.unbindLocked(name)
			dropped = append(dropped, name)
		}
	}
	return dropped
}

// Settings returns the current settings.
func (s *Session) Settings() SessionSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// UpdateSettings applies fn to the settings.
func (s *Session) UpdateSettings(fn func(*SessionSettings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.settings)
}

// SetHeaderOverride pins the header row of sheet; row <= 0 clears it.
func (s *Session) SetHeaderOverride(sheet string, row int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row <= 0 {
		delete(s.overrides, sheet)
		return
	}
	s.overrides[sheet] = row
}

// HeaderFor returns the header row to load sheet with: its override, else
// the session default (0 infers).
func (s *Session) HeaderFor(sheet string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.overrides[sheet]; ok {
		return row
	}
	return s.settings.DefaultHeader
}

// SaveQuery stores text under name, replacing any previous query.
func (s *Session) SaveQuery(name, text string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("sheetsql: saved query name cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[name] = text
	return nil
}

// SavedQuery returns the query saved under name.
func (s *Session) SavedQuery(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.saved[name]
	return text, ok
}

// SavedQueries returns saved queries sorted by name.
func (s *Session) SavedQueries() []SavedQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savedLocked()
}

func (s *Session) savedLocked() []SavedQuery {
	out := make([]SavedQuery, 0, len(s.saved))
	for name, text := range s.saved {
		out = append(out, SavedQuery{Name: name, Text: text})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddHistory appends a query as the user typed it.
func (s *Session) AddHistory(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, text)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}

// History returns the remembered queries, oldest first.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// Snapshot copies the session state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := SessionSnapshot{
		Bindings:        make([]Binding, 0, len(s.order)),
		Params:          make(map[string]string, len(s.params)),
		LastQuery:       s.lastQuery,
		LastResult:      s.lastResult,
		HeaderOverrides: make(map[string]int, len(s.overrides)),
		SavedQueries:    s.savedLocked(),
		History:         len(s.history),
		Settings:        s.settings,
	}
	for _, name := range s.order {
		snap.Bindings = append(snap.Bindings, s.bindings[name])
	}
	for k, v := range s.params {
		snap.Params[k] = SQLLiteral(v)
	}
	for k, v := range s.overrides {
		snap.HeaderOverrides[k] = v
	}
	return snap
}
