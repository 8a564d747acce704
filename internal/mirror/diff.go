package mirror

import (
	"github.com/mirrorctl/pkgmirror/internal/composer"
)

// PendingVersion is one version of a package that has not been captured.
type PendingVersion struct {
	Label    string
	IndexKey string
	Version  composer.Version
}

// Update lists the pending versions of one ledger package in capture
// order.
type Update struct {
	Key      string
	Record   Record
	Versions []PendingVersion
}

// Labels returns the pending version labels in capture order.
func (u Update) Labels() []string {
	labels := make([]string, len(u.Versions))
	for i, v := range u.Versions {
		labels[i] = v.Label
	}
	return labels
}

// Pending returns, per ledger package, the versions listed in idx under
// the package's canonical key or any alias that are not yet in its tags.
//
// Versions are returned in reverse order of appearance in idx. Upstreams
// list newest first, so captures run oldest first. A label listed under
// more than one matching key is returned once. Packages with nothing
// pending are omitted. Pending performs no I/O.
func Pending(idx *composer.Index, ledger *Ledger) []Update {
	var updates []Update
	for _, rec := range ledger.Records() {
		var found []PendingVersion
		seen := make(map[string]bool)

		for _, key := range idx.Keys() {
			if !rec.Matches(key) {
				continue
			}
			vs, _ := idx.Get(key)
			for _, label := range vs.Labels() {
				if rec.HasTag(label) || seen[label] {
					continue
				}
				seen[label] = true
				v, _ := vs.Get(label)
				found = append(found, PendingVersion{Label: label, IndexKey: key, Version: v})
			}
		}
		if len(found) == 0 {
			continue
		}

		for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
			found[i], found[j] = found[j], found[i]
		}
		updates = append(updates, Update{Key: rec.Key(), Record: rec, Versions: found})
	}
	return updates
}
