package archive

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// ErrAmbiguousLayout is returned by FindRoot when an unpacked artifact
// does not have exactly one usable top-level directory.
var ErrAmbiguousLayout = errors.New("ambiguous artifact layout")

// ignoredRoots are top-level directories some archivers add next to the
// real content.
var ignoredRoots = map[string]bool{
	"__MACOSX": true,
}

// FindRoot returns the directory under dest that holds the package.
//
// The directory named slug is preferred. Otherwise the sole top-level
// directory is used. Top-level files are ignored.
func FindRoot(dest, slug string) (string, error) {
	expected := filepath.Join(dest, slug)
	if st, err := os.Stat(expected); err == nil && st.IsDir() {
		return expected, nil
	}

	entries, err := os.ReadDir(dest)
	if err != nil {
		return "", errors.Wrap(err, "archive: read unpacked tree")
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !ignoredRoots[e.Name()] {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) != 1 {
		return "", errors.Wrapf(ErrAmbiguousLayout,
			"expected directory %q or a single top-level directory, found %d", slug, len(dirs))
	}
	return filepath.Join(dest, dirs[0]), nil
}
