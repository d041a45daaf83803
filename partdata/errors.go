package partdata

import "gitlab.com/NebulousLabs/errors"

// Errors returned to callers are the "programmer error" and "try again"
// kinds that surface past the core boundary. Hash failures and disk
// errors never appear here; they are delivered as events instead.
var (
	// ErrLockViolation is returned when a write targets bytes outside the
	// LockedRange that authorized it.
	ErrLockViolation = errors.New("partdata: write outside locked range")

	// ErrInvalidRange is returned when a write targets bytes outside the
	// part's legal interval.
	ErrInvalidRange = errors.New("partdata: invalid range")

	// ErrNotRunning is returned when a write is attempted while the part
	// is not in the Running state. Hash submissions and allocations are
	// not checked against the state.
	ErrNotRunning = errors.New("partdata: not running")

	// ErrDontDownload is returned when a write targets an interval marked
	// dontDownload; GetLock does not check that list.
	ErrDontDownload = errors.New("partdata: range is marked dont-download")

	// ErrNoFreeSpace is returned by GetLock when a UsedRange has no bytes
	// left that are neither complete nor already locked.
	ErrNoFreeSpace = errors.New("partdata: used range has no free space left")

	// ErrDestroyed is returned by any call made after the part has been
	// destroyed (canceled or completed).
	ErrDestroyed = errors.New("partdata: part has been destroyed")

	// ErrUnknownSidecarVersion is returned by Load when the sidecar's
	// version byte is not one this build understands.
	ErrUnknownSidecarVersion = errors.New("partdata: unknown sidecar version")

	// ErrCorruptSidecar is returned by Load when the primary and backup
	// sidecars both fail to parse.
	ErrCorruptSidecar = errors.New("partdata: sidecar file is corrupt")
)
