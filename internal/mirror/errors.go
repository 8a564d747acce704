package mirror

import "github.com/cockroachdb/errors"

var (
	// ErrConfig marks configuration failures. They abort the whole run.
	ErrConfig = errors.New("configuration error")

	// ErrFetch marks failed artifact downloads.
	ErrFetch = errors.New("fetch failed")

	// ErrLocked is returned when another run holds the data directory lock.
	ErrLocked = errors.New("another run holds the lock")
)
