package mirror

import (
	"github.com/mirrorctl/pkgmirror/internal/versions"
)

// NeedsUpdate reports whether version of the package key is worth
// fetching: the package is unknown to the ledger, or version is newer
// than the last captured one.
func NeedsUpdate(ledger *Ledger, key, version string) bool {
	rec, ok := ledger.Find(key)
	if !ok || rec.Version == "" {
		return true
	}
	return versions.IsNewer(version, rec.Version)
}
