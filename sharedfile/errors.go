package sharedfile

import "gitlab.com/NebulousLabs/errors"

var (
	// ErrInvalidRange is returned by Read when the requested interval is
	// not covered by complete.
	ErrInvalidRange = errors.New("sharedfile: requested range is not available")

	// ErrTryAgainLater is returned by Read while a move is in progress.
	ErrTryAgainLater = errors.New("sharedfile: move in progress, try again later")

	// ErrNotFound is returned when no SharedFile is registered under the
	// requested identifier or path.
	ErrNotFound = errors.New("sharedfile: not found")

	// ErrAllLocationsFailed is returned by Read when the primary location
	// and every alternate location failed to open or read.
	ErrAllLocationsFailed = errors.New("sharedfile: all known locations failed")
)
