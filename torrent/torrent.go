// Package torrent implements PartialTorrent, the virtual container that
// composes several PartData downloads into one multi-file unit sharing a
// single chunk space. It exposes the same getRange/getLock/write surface
// PartData does, routing bytes to whichever child file(s) a torrent-wide
// byte range covers, and owns the extra bookkeeping
// (CacheFile) boundary-crossing chunks need to be hashed as one contiguous
// unit.
package torrent

import (
	"sync"

	"gitlab.com/NebulousLabs/errors"

	"github.com/alosarv/hydra/chunkmap"
	"github.com/alosarv/hydra/crypto"
	"github.com/alosarv/hydra/iothread"
	"github.com/alosarv/hydra/partdata"
	"github.com/alosarv/hydra/rangeset"
)

// Errors returned by PartialTorrent operations.
var (
	ErrDestroyed     = errors.New("torrent: destroyed")
	ErrNoSuchFile    = errors.New("torrent: no such internal file")
	ErrNoFreeSpace   = errors.New("torrent: no free space in range")
	ErrLockViolation = errors.New("torrent: write outside locked range")
)

// State mirrors partdata.State at the torrent-wide level, since
// PartialTorrent exposes the same interface as PartData.
type State int

const (
	Running State = iota
	Paused
	Stopped
)

// InternalFile is one sub-file of a PartialTorrent: a contiguous slice of
// the torrent's flat byte space backed by its own PartData, which keeps
// its own destination and therefore its own lifecycle once complete -
// children may retain their files after the torrent completes.
type InternalFile struct {
	Offset uint64
	Length uint64
	PD     *partdata.PartData
}

// end returns the last torrent-wide byte offset this file covers.
func (f *InternalFile) end() uint64 {
	return f.Offset + f.Length - 1
}

// PartialTorrent composes N InternalFiles into one chunked byte space. Chunks
// that fall wholly inside one sub-file route straight through to that
// child's own PartData; chunks that straddle a sub-file boundary, or that
// lie inside a sub-file smaller than the chunk size, are mirrored into a
// CacheFile so they can be verified as one contiguous read.
type PartialTorrent struct {
	mu sync.Mutex

	size      uint64
	chunkSize uint64
	files     []*InternalFile
	cacheDir  string
	io        *iothread.IOThread

	cm *chunkmap.Map

	locked       *rangeset.List
	verified     *rangeset.List
	corrupt      *rangeset.List
	dontDownload *rangeset.List

	caches       map[uint64]*CacheFile // keyed by chunk index
	nextCacheTie int

	state State

	events *eventBus

	destroyed bool
}

// NewPartialTorrent builds a PartialTorrent over files, which must be given
// in ascending torrent-order and already carry non-overlapping Offset/Length
// pairs covering [0, size-1] contiguously. cacheDir holds the CacheFiles
// created for boundary-crossing chunks.
func NewPartialTorrent(io *iothread.IOThread, cacheDir string, chunkSize uint64, files []*InternalFile) (*PartialTorrent, error) {
	if len(files) == 0 {
		return nil, errors.New("torrent: at least one internal file is required")
	}
	if chunkSize == 0 {
		return nil, errors.New("torrent: chunkSize must be nonzero")
	}

	var size uint64
	for i, f := range files {
		if f.Offset != size {
			return nil, errors.New("torrent: internal files must be contiguous and ordered")
		}
		if f.Length == 0 {
			return nil, errors.New("torrent: internal file length must be nonzero")
		}
		size += f.Length
		_ = i
	}

	pt := &PartialTorrent{
		size:         size,
		chunkSize:    chunkSize,
		files:        files,
		cacheDir:     cacheDir,
		io:           io,
		cm:           chunkmap.New(chunkSize, size),
		locked:       rangeset.NewList(),
		verified:     rangeset.NewList(),
		corrupt:      rangeset.NewList(),
		dontDownload: rangeset.NewList(),
		caches:       make(map[uint64]*CacheFile),
		state:        Running,
		events:       newEventBus(),
	}
	pt.refreshChunkProgress_locked()
	return pt, nil
}

// Size returns the torrent's total byte count across every sub-file.
func (pt *PartialTorrent) Size() uint64 {
	return pt.size
}

// ChunkSize returns the chunk size the torrent's chunk map was built with.
func (pt *PartialTorrent) ChunkSize() uint64 {
	return pt.chunkSize
}

// ChunkCount returns the number of torrent-wide chunks.
func (pt *PartialTorrent) ChunkCount() uint64 {
	return pt.cm.ChunkCount()
}

// Files returns the sub-files composing this torrent, in torrent order.
func (pt *PartialTorrent) Files() []*InternalFile {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	out := make([]*InternalFile, len(pt.files))
	copy(out, pt.files)
	return out
}

// State returns the torrent's current lifecycle state.
func (pt *PartialTorrent) State() State {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.state
}

// Subscribe registers fn to receive every event this torrent emits.
func (pt *PartialTorrent) Subscribe(fn func(Event)) Subscription {
	return pt.events.Subscribe(fn)
}

// Unsubscribe removes a previously registered handler.
func (pt *PartialTorrent) Unsubscribe(s Subscription) {
	pt.events.Unsubscribe(s)
}

// AddHashSet registers the reference digest for every torrent-wide chunk.
// The hash set applies to the flattened byte space, not to any single
// sub-file.
func (pt *PartialTorrent) AddHashSet(hashes map[uint64]crypto.Hash) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	for index, h := range hashes {
		pt.cm.SetReferenceHash(index, h)
	}
}

// filesInRange_locked returns every InternalFile intersecting [begin, end],
// in torrent order.
func (pt *PartialTorrent) filesInRange_locked(begin, end uint64) []*InternalFile {
	var out []*InternalFile
	for _, f := range pt.files {
		if f.end() < begin || f.Offset > end {
			continue
		}
		out = append(out, f)
	}
	return out
}

// isBoundaryChunk_locked reports whether the chunk at index needs a
// CacheFile: it either spans more than one sub-file, or lies wholly
// inside a single sub-file shorter than the chunk size.
func (pt *PartialTorrent) isBoundaryChunk_locked(index uint64) bool {
	rng := pt.cm.ChunkRange(index)
	covering := pt.filesInRange_locked(rng.Begin, rng.End)
	if len(covering) != 1 {
		return true
	}
	return covering[0].Length < pt.chunkSize
}

// applyDontDownload_locked intersects bitmap (nil meaning "every chunk
// eligible") with the complement of dontDownload, so that GetRange never
// hands out a chunk overlapping a sub-file the caller excluded via
// ExcludeFile.
func (pt *PartialTorrent) applyDontDownload_locked(bitmap []bool) []bool {
	if pt.dontDownload.Len() == 0 && bitmap == nil {
		return nil
	}
	count := pt.cm.ChunkCount()
	out := make([]bool, count)
	for i := uint64(0); i < count; i++ {
		has := bitmap == nil || (i < uint64(len(bitmap)) && bitmap[i])
		if has && pt.dontDownload.Contains(pt.cm.ChunkRange(i)) {
			has = false
		}
		out[i] = has
	}
	return out
}

// refreshChunkProgress_locked recomputes each chunk's cached Progress field
// from its covering child PartData's own complete ranges, translated into
// torrent-wide coordinates.
func (pt *PartialTorrent) refreshChunkProgress_locked() {
	for i := uint64(0); i < pt.cm.ChunkCount(); i++ {
		rng := pt.cm.ChunkRange(i)
		switch {
		case pt.chunkComplete_locked(rng):
			pt.cm.SetProgress(i, chunkmap.Full)
		case pt.chunkPartial_locked(rng):
			pt.cm.SetProgress(i, chunkmap.Partial)
		default:
			pt.cm.SetProgress(i, chunkmap.Empty)
		}
	}
}

// chunkComplete_locked reports whether every byte of rng is complete in its
// covering child PartData(s); CacheFile contents are not consulted.
func (pt *PartialTorrent) chunkComplete_locked(rng rangeset.Range) bool {
	for _, f := range pt.filesInRange_locked(rng.Begin, rng.End) {
		lo, hi, ok := clampToFile(f, rng)
		if !ok {
			continue
		}
		if !containsFullLocal(f.PD.Complete(), lo-f.Offset, hi-f.Offset) {
			return false
		}
	}
	return true
}

// chunkPartial_locked reports whether any byte of rng is complete.
func (pt *PartialTorrent) chunkPartial_locked(rng rangeset.Range) bool {
	for _, f := range pt.filesInRange_locked(rng.Begin, rng.End) {
		lo, hi, ok := clampToFile(f, rng)
		if !ok {
			continue
		}
		if containsAnyLocal(f.PD.Complete(), lo-f.Offset, hi-f.Offset) {
			return true
		}
	}
	return false
}

// clampToFile intersects rng with f's coverage, returning torrent-wide
// coordinates and ok=false if they do not overlap.
func clampToFile(f *InternalFile, rng rangeset.Range) (lo, hi uint64, ok bool) {
	lo, hi = rng.Begin, rng.End
	if lo < f.Offset {
		lo = f.Offset
	}
	if hi > f.end() {
		hi = f.end()
	}
	if lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}

func containsFullLocal(ranges []rangeset.Range, begin, end uint64) bool {
	list := rangeset.NewList(ranges...)
	return list.ContainsFull(rangeset.Range{Begin: begin, End: end})
}

func containsAnyLocal(ranges []rangeset.Range, begin, end uint64) bool {
	list := rangeset.NewList(ranges...)
	return list.Contains(rangeset.Range{Begin: begin, End: end})
}

// Destroy tears down every child PartData and releases cache files.
// Cancellation deletes every outstanding cache rather than keeping it
// around for a resume that will never come.
func (pt *PartialTorrent) Destroy() {
	pt.mu.Lock()
	if pt.destroyed {
		pt.mu.Unlock()
		return
	}
	pt.destroyed = true
	files := append([]*InternalFile{}, pt.files...)
	caches := pt.caches
	pt.caches = make(map[uint64]*CacheFile)
	pt.mu.Unlock()

	for _, f := range files {
		f.PD.Cancel()
	}
	for _, c := range caches {
		c.Delete()
	}
	pt.events.emit(Event{Kind: EventDestroy})
}
