// Package iothread implements the single background worker that serially
// executes hashing and move jobs on behalf of PartData/SharedFile.
package iothread

import "github.com/alosarv/hydra/crypto"

// HashJob describes a byte range to verify against a reference digest. For
// a plain file this is Paths[0][Begin, End]; for a PartialTorrent chunk
// that straddles a sub-file boundary, Paths holds the files in order and
// Begin/End are relative to the first/last file respectively.
type HashJob struct {
	Paths []string
	Begin uint64
	End   uint64

	// Reference is the digest to compare against. If HasReference is
	// false, this is an identification job: only Computed is reported,
	// used by SharedFile when it must derive a file's identity hash.
	Reference    crypto.Hash
	HasReference bool

	// LeafSize is the Merkle leaf size used to recompute the digest.
	// Zero means "hash the whole range as one leaf".
	LeafSize int
}

// HashOutcome is the tri-state result a HashJob reports: verified,
// failed, or a fatal error.
type HashOutcome int

const (
	HashVerified HashOutcome = iota
	HashFailed
	HashFatalError
)

// HashResult is delivered to the submitter's callback once a HashJob has
// been processed.
type HashResult struct {
	Job      HashJob
	Outcome  HashOutcome
	Computed crypto.Hash
	Err      error
}

// MoveJob describes a file to relocate from Src to Dest once a download
// completes.
type MoveJob struct {
	Src  string
	Dest string
}

// MoveResult is delivered to the submitter's callback once a MoveJob has
// been processed. FinalDest may differ from the job's Dest if a
// disambiguating "_" prefix had to be applied.
type MoveResult struct {
	Job       MoveJob
	FinalDest string
	Err       error
}

// AllocJob describes a request to preallocate size bytes on disk at path,
// so that subsequent positioned writes are never sparse.
type AllocJob struct {
	Path string
	Size uint64
}

// AllocResult is delivered once an AllocJob has been processed.
type AllocResult struct {
	Job AllocJob
	Err error
}
