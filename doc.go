/*
Package pkgmirror is a tool for mirroring composer-style package indexes of
WordPress plugins and themes into private git repositories.

pkgmirror aggregates the configured upstream indexes, compares them with a
local ledger of captured versions and turns every new version into a commit
and tag of the package's destination repository. Features include:
  - Basic-auth sources with credentials encrypted at rest
  - Automatic provisioning of destination repositories
  - Artifact checksum verification
  - Oldest-first capture with no-op detection
  - Atomic ledger updates with file locking
  - Generation of a composer repository index for the mirror

The main packages are:

	github.com/mirrorctl/pkgmirror/internal/composer - Package index format and ordered in-memory index
	github.com/mirrorctl/pkgmirror/internal/mirror   - Aggregation, diffing, capture pipeline and ledger storage
	github.com/mirrorctl/pkgmirror/internal/gitrepo  - Git command runner
	github.com/mirrorctl/pkgmirror/internal/hosting  - Destination repository hosting API
	github.com/mirrorctl/pkgmirror/cmd/pkgmirror     - Command-line interface
*/
package pkgmirror
