// Package chunkmap implements the per-chunk-size availability and
// use-count bookkeeping a PartData consults when deciding what a peer
// should download next.
//
// In the original C++ source the chunk size was a template parameter of
// ChunkMap; here it becomes a runtime value, with one Map instance per
// chunk size a PartData has seen.
package chunkmap

import (
	"gitlab.com/NebulousLabs/demotemutex"
	"gitlab.com/NebulousLabs/fastrand"

	"github.com/alosarv/hydra/crypto"
	"github.com/alosarv/hydra/rangeset"
)

// Progress describes how much of a single chunk has been downloaded.
type Progress int

const (
	// Empty means no bytes of the chunk are complete.
	Empty Progress = iota
	// Partial means some, but not all, bytes of the chunk are complete.
	Partial
	// Full means the chunk is entirely complete (whether or not it has
	// been verified yet).
	Full
)

// Chunk holds the per-chunk availability metadata.
type Chunk struct {
	Availability int
	UseCount     int
	Progress     Progress

	referenceHash    crypto.Hash
	hasReferenceHash bool
}

// ReferenceHash returns the chunk's registered reference digest, if any.
func (c Chunk) ReferenceHash() (crypto.Hash, bool) {
	return c.referenceHash, c.hasReferenceHash
}

// Map is the availability/use-count table for every chunk of one chunk
// size belonging to a single PartData. It is safe for concurrent use; the
// read path (PickChunk, called on every getRange) is expected to vastly
// outnumber the write path (availability/progress updates), so the table
// is guarded by a demoted mutex rather than a plain RWMutex.
type Map struct {
	mu        demotemutex.DemoteMutex
	chunkSize uint64
	totalSize uint64
	chunks    []Chunk
}

// New builds a Map for the given chunk size over a file of totalSize
// bytes. Chunk rows are created eagerly; at realistic chunk sizes
// (commonly >= 9500 bytes for ed2k, >= 16KiB for BitTorrent) the memory
// cost of one row per chunk is negligible.
func New(chunkSize, totalSize uint64) *Map {
	if chunkSize == 0 {
		panic("chunkmap: chunkSize must be nonzero")
	}
	count := (totalSize + chunkSize - 1) / chunkSize
	return &Map{
		chunkSize: chunkSize,
		totalSize: totalSize,
		chunks:    make([]Chunk, count),
	}
}

// ChunkSize returns the chunk size this Map was built for.
func (m *Map) ChunkSize() uint64 { return m.chunkSize }

// ChunkCount returns the number of chunks this Map covers.
func (m *Map) ChunkCount() uint64 { return uint64(len(m.chunks)) }

// ChunkRange returns the byte range covered by the chunk at index.
func (m *Map) ChunkRange(index uint64) rangeset.Range {
	begin := index * m.chunkSize
	end := begin + m.chunkSize - 1
	if end > m.totalSize-1 {
		end = m.totalSize - 1
	}
	return rangeset.Range{Begin: begin, End: end}
}

// SetReferenceHash registers the reference digest for the chunk at index.
func (m *Map) SetReferenceHash(index uint64, h crypto.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[index].referenceHash = h
	m.chunks[index].hasReferenceHash = true
}

// ReferenceHash returns the reference digest for the chunk at index.
func (m *Map) ReferenceHash(index uint64) (crypto.Hash, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chunks[index].ReferenceHash()
}

// SetProgress updates the completion state cached for the chunk at index.
func (m *Map) SetProgress(index uint64, p Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[index].Progress = p
}

// Progress returns the cached completion state for the chunk at index.
func (m *Map) Progress(index uint64) Progress {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chunks[index].Progress
}

// PartStatus returns a bitmap, one entry per chunk, true where the chunk
// is Full. This mirrors m_partStatus in the original source.
func (m *Map) PartStatus() []bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]bool, len(m.chunks))
	for i, c := range m.chunks {
		out[i] = c.Progress == Full
	}
	return out
}

// IncUseCount increments the use count for the chunk at index, called when
// a UsedRange is acquired over it.
func (m *Map) IncUseCount(index uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[index].UseCount++
}

// DecUseCount decrements the use count for the chunk at index, called when
// a UsedRange referencing it is dropped.
func (m *Map) DecUseCount(index uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chunks[index].UseCount > 0 {
		m.chunks[index].UseCount--
	}
}

// OnAvailabilityChanged applies delta (+1 for a peer gaining the chunk, -1
// for losing it) to every chunk bitmap marks true.
func (m *Map) OnAvailabilityChanged(bitmap []bool, delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, has := range bitmap {
		if i >= len(m.chunks) {
			break
		}
		if has {
			m.chunks[i].Availability += delta
		}
	}
}

// AddFullSource applies +1 availability to every chunk, the O(1) fast path
// for a peer known to have the entire file.
func (m *Map) AddFullSource() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.chunks {
		m.chunks[i].Availability++
	}
}

// DelFullSource applies -1 availability to every chunk.
func (m *Map) DelFullSource() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.chunks {
		if m.chunks[i].Availability > 0 {
			m.chunks[i].Availability--
		}
	}
}

// PickChunk selects the chunk a peer should download next. When bitmap is
// non-nil, only chunks it marks available are candidates. Already-Full
// chunks are never candidates. Among eligible chunks, ties are broken by:
// partially-completed first, then lowest use count, then random among the
// remainder, favouring "lowest use count, then random" over "always
// random".
//
// When avoidUsed is true, PickChunk first restricts the candidate set to
// chunks with a zero use count, falling back to the full candidate set
// only if none are unused.
func (m *Map) PickChunk(bitmap []bool, avoidUsed bool) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []uint64
	for i, c := range m.chunks {
		if c.Progress == Full {
			continue
		}
		if bitmap != nil && (i >= len(bitmap) || !bitmap[i]) {
			continue
		}
		candidates = append(candidates, uint64(i))
	}
	if len(candidates) == 0 {
		return 0, false
	}

	if avoidUsed {
		var unused []uint64
		for _, idx := range candidates {
			if m.chunks[idx].UseCount == 0 {
				unused = append(unused, idx)
			}
		}
		if len(unused) > 0 {
			candidates = unused
		}
	}

	minAvail := m.chunks[candidates[0]].Availability
	for _, idx := range candidates[1:] {
		if a := m.chunks[idx].Availability; a < minAvail {
			minAvail = a
		}
	}
	var rarest []uint64
	for _, idx := range candidates {
		if m.chunks[idx].Availability == minAvail {
			rarest = append(rarest, idx)
		}
	}

	var partial []uint64
	for _, idx := range rarest {
		if m.chunks[idx].Progress == Partial {
			partial = append(partial, idx)
		}
	}
	pool := rarest
	if len(partial) > 0 {
		pool = partial
	}

	minUse := m.chunks[pool[0]].UseCount
	for _, idx := range pool[1:] {
		if u := m.chunks[idx].UseCount; u < minUse {
			minUse = u
		}
	}
	var leastUsed []uint64
	for _, idx := range pool {
		if m.chunks[idx].UseCount == minUse {
			leastUsed = append(leastUsed, idx)
		}
	}

	return leastUsed[fastrand.Intn(len(leastUsed))], true
}
