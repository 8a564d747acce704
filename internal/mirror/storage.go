package mirror

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

// Package kinds.
const (
	TypePlugin = "wordpress-plugin"
	TypeTheme  = "wordpress-theme"
)

// Record is the ledger entry of one mirrored package.
type Record struct {
	Slug    string   `json:"slug"`
	Vendor  string   `json:"vendor"`
	Ref     string   `json:"ref"`
	Version string   `json:"version"`
	Tags    []string `json:"tags"`
	Git     string   `json:"git"`
	Aliases []string `json:"aliases"`
	Type    string   `json:"type"`
}

// Key returns the canonical key "vendor/slug".
func (r Record) Key() string {
	return r.Vendor + "/" + r.Slug
}

// Matches reports whether an index key resolves to this record, checking
// the canonical key first and then the aliases.
func (r Record) Matches(key string) bool {
	if key == r.Key() {
		return true
	}
	for _, alias := range r.Aliases {
		if alias == key {
			return true
		}
	}
	return false
}

// HasTag reports whether version has already been captured.
func (r Record) HasTag(version string) bool {
	for _, tag := range r.Tags {
		if tag == version {
			return true
		}
	}
	return false
}

// Kind returns the short package kind, e.g. "plugin" for
// "wordpress-plugin".
func (r Record) Kind() string {
	if i := strings.LastIndex(r.Type, "-"); i >= 0 {
		return r.Type[i+1:]
	}
	return r.Type
}

// WithCapture returns a copy of r that records a successful capture of
// version at commit ref.
func (r Record) WithCapture(version, ref string) Record {
	out := r.clone()
	out.Version = version
	if ref != "" {
		out.Ref = ref
	}
	if !out.HasTag(version) {
		out.Tags = append(out.Tags, version)
	}
	return out
}

// WithGit returns a copy of r whose destination repository is url.
func (r Record) WithGit(url string) Record {
	out := r.clone()
	out.Git = url
	return out
}

func (r Record) clone() Record {
	out := r
	out.Tags = slices.Clone(r.Tags)
	out.Aliases = slices.Clone(r.Aliases)
	return out
}

// merge folds the tags and aliases of other into r. Fields r leaves
// empty are taken from other.
func (r Record) merge(other Record) Record {
	out := r.clone()
	out.Tags = appendMissing(out.Tags, other.Tags...)
	out.Aliases = appendMissing(out.Aliases, other.Aliases...)
	if out.Ref == "" {
		out.Ref = other.Ref
	}
	if out.Version == "" {
		out.Version = other.Version
	}
	if out.Git == "" {
		out.Git = other.Git
	}
	if out.Type == "" {
		out.Type = other.Type
	}
	return out
}

func appendMissing(list []string, items ...string) []string {
	for _, item := range items {
		if !slices.Contains(list, item) {
			list = append(list, item)
		}
	}
	return list
}

// normalize makes sure the canonical key is one of the aliases and that
// the slices encode as arrays rather than null.
func (r Record) normalize() Record {
	out := r.clone()
	if out.Tags == nil {
		out.Tags = []string{}
	}
	key := out.Key()
	for _, alias := range out.Aliases {
		if alias == key {
			return out
		}
	}
	out.Aliases = append(out.Aliases, key)
	return out
}

// Ledger is an immutable snapshot of the mirrored state. Methods that
// change it return a new Ledger.
type Ledger struct {
	records map[string]Record
}

// NewLedger returns a ledger holding records.
func NewLedger(records ...Record) *Ledger {
	l := &Ledger{records: make(map[string]Record, len(records))}
	for _, r := range records {
		r = r.normalize()
		l.records[r.Key()] = r
	}
	return l
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	return len(l.records)
}

// Get returns the record with canonical key.
func (l *Ledger) Get(key string) (Record, bool) {
	r, ok := l.records[key]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// Keys returns the canonical keys in sorted order.
func (l *Ledger) Keys() []string {
	keys := make([]string, 0, len(l.records))
	for key := range l.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Records returns all records in key order.
func (l *Ledger) Records() []Record {
	keys := l.Keys()
	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		out = append(out, l.records[key].clone())
	}
	return out
}

// Find returns the record an index key resolves to.
func (l *Ledger) Find(indexKey string) (Record, bool) {
	if r, ok := l.Get(indexKey); ok {
		return r, true
	}
	for _, key := range l.Keys() {
		if r := l.records[key]; r.Matches(indexKey) {
			return r.clone(), true
		}
	}
	return Record{}, false
}

// With returns a copy of l with r added or replaced.
func (l *Ledger) With(r Record) *Ledger {
	out := &Ledger{records: make(map[string]Record, len(l.records)+1)}
	for key, rec := range l.records {
		out.records[key] = rec
	}
	r = r.normalize()
	out.records[r.Key()] = r
	return out
}

// Without returns a copy of l without the record with canonical key.
func (l *Ledger) Without(key string) *Ledger {
	out := &Ledger{records: make(map[string]Record, len(l.records))}
	for k, rec := range l.records {
		if k != key {
			out.records[k] = rec
		}
	}
	return out
}

// MarshalJSON encodes the ledger as an object keyed by canonical key.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.records)
}

// UnmarshalJSON decodes a ledger written by MarshalJSON. A record stored
// under a key other than its own "vendor/slug" is moved to that key, with
// the old key kept as an alias; records that end up on the same key are
// merged, the one already stored there taking precedence.
func (l *Ledger) UnmarshalJSON(data []byte) error {
	var records map[string]Record
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	var moved []string
	l.records = make(map[string]Record, len(records))
	for key, r := range records {
		if key != r.Key() {
			moved = append(moved, key)
			continue
		}
		l.records[key] = r.normalize()
	}
	sort.Strings(moved)
	for _, key := range moved {
		r := records[key]
		slog.Warn("ledger key does not match record identity, re-keying", "key", key, "package", r.Key())
		r.Aliases = appendMissing(slices.Clone(r.Aliases), key)
		r = r.normalize()
		if cur, ok := l.records[r.Key()]; ok {
			r = cur.merge(r)
		}
		l.records[r.Key()] = r
	}
	return nil
}

// checkMonotonic fails when after drops a record or a captured tag that
// before has.
func checkMonotonic(before, after *Ledger) error {
	for key, old := range before.records {
		cur, ok := after.records[key]
		if !ok {
			return errors.Newf("ledger update drops package %s", key)
		}
		for _, tag := range old.Tags {
			if !cur.HasTag(tag) {
				return errors.Newf("ledger update drops tag %s of %s", tag, key)
			}
		}
	}
	return nil
}

// LedgerStore reads and writes the ledger file as a whole.
//
// The store does not lock against concurrent writers; Run holds the data
// directory lock for the whole run instead.
type LedgerStore struct {
	path string
}

// NewLedgerStore returns a store for the file at path.
func NewLedgerStore(path string) *LedgerStore {
	return &LedgerStore{path: path}
}

// Path returns the ledger file path.
func (s *LedgerStore) Path() string {
	return s.path
}

// Load reads the ledger. A missing or empty file is an empty ledger.
func (s *LedgerStore) Load() (*Ledger, error) {
	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		return NewLedger(), nil
	case err != nil:
		return nil, errors.Wrap(err, "LedgerStore.Load")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return NewLedger(), nil
	}

	l := NewLedger()
	if err := json.Unmarshal(data, l); err != nil {
		return nil, errors.Wrap(err, "LedgerStore.Load: "+s.path)
	}
	return l, nil
}

// Save replaces the ledger file with l.
func (s *LedgerStore) Save(l *Ledger) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return errors.Wrap(err, "LedgerStore.Save")
	}
	data = append(data, '\n')
	if err := writeFileAtomic(s.path, data, 0600); err != nil {
		return errors.Wrap(err, "LedgerStore.Save: "+s.path)
	}
	return nil
}

// Update loads the latest ledger, applies fn and saves the result. The
// update is rejected when it would drop a package or a captured tag.
func (s *LedgerStore) Update(fn func(*Ledger) (*Ledger, error)) (*Ledger, error) {
	before, err := s.Load()
	if err != nil {
		return nil, err
	}
	after, err := fn(before)
	if err != nil {
		return nil, err
	}
	if err := checkMonotonic(before, after); err != nil {
		return nil, err
	}
	if err := s.Save(after); err != nil {
		return nil, err
	}
	return after, nil
}
