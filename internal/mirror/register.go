package mirror

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/mirrorctl/pkgmirror/internal/composer"
)

// MissingPackages returns the index keys, in index order, that are
// neither a ledger key nor an alias of any record.
func MissingPackages(idx *composer.Index, ledger *Ledger) []string {
	var missing []string
	for _, key := range idx.Keys() {
		if _, ok := ledger.Find(key); !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// DeclaredType returns the package type of the first listed version of
// key, or "" when the index does not declare one.
func DeclaredType(idx *composer.Index, key string) string {
	vs, ok := idx.Get(key)
	if !ok || vs.Len() == 0 {
		return ""
	}
	v, _ := vs.Get(vs.Labels()[0])
	return v.Type
}

// NewRecord returns an empty record for slug published under indexKey.
// The index key and the canonical key are both aliases.
func NewRecord(indexKey, vendor, slug, kind string) (Record, error) {
	if vendor == "" || slug == "" {
		return Record{}, errors.Newf("package %s: vendor and slug must not be empty", indexKey)
	}
	if kind != TypePlugin && kind != TypeTheme {
		return Record{}, errors.Newf("package %s: unsupported type %q", indexKey, kind)
	}
	rec := Record{
		Slug:    slug,
		Vendor:  vendor,
		Tags:    []string{},
		Aliases: []string{indexKey},
		Type:    kind,
	}
	return rec.normalize(), nil
}

// NewRecordFromIndex builds the record of an index key without asking
// anything: vendor and slug are split from the key and the type is the
// declared one.
func NewRecordFromIndex(idx *composer.Index, key string) (Record, error) {
	vendor, slug, ok := strings.Cut(key, "/")
	if !ok {
		return Record{}, errors.Newf("package key %q is not vendor/slug", key)
	}
	return NewRecord(key, vendor, slug, DeclaredType(idx, key))
}

// Register adds records to the ledger. Existing records are left as
// they are.
func Register(store *LedgerStore, records ...Record) (*Ledger, error) {
	return store.Update(func(l *Ledger) (*Ledger, error) {
		for _, rec := range records {
			if _, ok := l.Get(rec.Key()); ok {
				continue
			}
			l = l.With(rec)
		}
		return l, nil
	})
}

// FilterKeys returns the ledger keys starting with prefix. The prefix "/"
// or "" matches everything.
func FilterKeys(ledger *Ledger, prefix string) []string {
	keys := ledger.Keys()
	if prefix == "" || prefix == "/" {
		return keys
	}
	out := keys[:0]
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	return out
}
