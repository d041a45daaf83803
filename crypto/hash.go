// Package crypto treats the hashing primitive used to verify downloaded
// bytes as an opaque, fixed-width digest, without prescribing MD4 vs SHA1
// vs any other specific algorithm. HashSize matches
// the 32-byte output of the default digester (sha256), which ChunkDigest
// always builds its tree with via NewDigester.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"

	"gitlab.com/NebulousLabs/merkletree"
)

// HashSize is the width, in bytes, of a Hash produced by the default
// digester (NewDigester()).
const HashSize = 32

// Hash is an opaque fixed-width digest. Two Hashes are equal iff the bytes
// they verify are, with overwhelming probability, identical.
type Hash [HashSize]byte

// String renders h as hex, for logging.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero value, i.e. no digest has been set.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// NewDigester returns the default hash.Hash used to build a Merkle chunk
// digest: sha256. Swapping this for another 32-byte digester does not
// change any other behaviour in this module, consistent with the
// hash-primitive-is-opaque non-goal.
func NewDigester() hash.Hash {
	return sha256.New()
}

// ChunkDigest computes the reference digest for a chunk given its raw
// bytes, by pushing leaves of leafSize bytes into a merkletree.Tree and
// taking the root. When the chunk is smaller than leafSize it is pushed as
// a single leaf.
func ChunkDigest(data []byte, leafSize int) Hash {
	if leafSize <= 0 || leafSize > len(data) {
		leafSize = len(data)
	}
	tree := merkletree.New(NewDigester())
	for len(data) > 0 {
		n := leafSize
		if n > len(data) {
			n = len(data)
		}
		tree.Push(data[:n])
		data = data[n:]
	}
	var h Hash
	copy(h[:], tree.Root())
	return h
}
