package torrent

import (
	"github.com/alosarv/hydra/chunkmap"
	"github.com/alosarv/hydra/iothread"
	"github.com/alosarv/hydra/rangeset"
)

// tryVerifyChunk submits a hash check for the torrent-wide chunk at index
// once its covering bytes are all complete. Boundary-crossing chunks are
// hashed through the CacheFile's single contiguous path; chunks that lie
// wholly inside one sub-file delegate to that child's own per-chunk
// verification and are not re-verified here, since a non-boundary
// chunk's correctness is already the covering PartData's responsibility.
func (pt *PartialTorrent) tryVerifyChunk(index uint64) {
	pt.mu.Lock()
	if pt.destroyed {
		pt.mu.Unlock()
		return
	}
	if !pt.isBoundaryChunk_locked(index) {
		pt.mu.Unlock()
		return
	}
	rng := pt.cm.ChunkRange(index)
	ref, hasRef := pt.cm.ReferenceHash(index)
	cache, ok := pt.caches[index]
	if !ok || !cache.ContainsFull(rng.Length()) {
		pt.mu.Unlock()
		return
	}
	pt.mu.Unlock()

	pt.events.emit(Event{Kind: EventVerifying, ChunkIndex: index})

	job := iothread.HashJob{
		Paths:        []string{cache.Path()},
		Begin:        0,
		End:          rng.Length() - 1,
		Reference:    ref,
		HasReference: hasRef,
	}
	pt.io.SubmitHash(job, func(res iothread.HashResult) {
		pt.onChunkHashResult(index, rng, cache, res)
	})
}

func (pt *PartialTorrent) onChunkHashResult(index uint64, rng rangeset.Range, cache *CacheFile, res iothread.HashResult) {
	pt.mu.Lock()
	if pt.destroyed {
		pt.mu.Unlock()
		return
	}

	switch res.Outcome {
	case iothread.HashVerified:
		pt.cm.SetProgress(index, chunkmap.Full)
		pt.verified.Insert(rng)
		pt.corrupt.Erase(rng)
		delete(pt.caches, index)
		pt.mu.Unlock()

		cache.Delete()
		pt.events.emit(Event{Kind: EventVerified, ChunkIndex: index})
		pt.checkTorrentComplete()
		return

	case iothread.HashFailed:
		pt.corrupt.Insert(rng)
		delete(pt.caches, index)
		files := pt.filesInRange_locked(rng.Begin, rng.End)
		pt.mu.Unlock()

		for _, f := range files {
			lo, hi, ok := clampToFile(f, rng)
			if !ok {
				continue
			}
			f.PD.MarkIncomplete(lo-f.Offset, hi-f.Offset)
		}
		cache.Delete()

		pt.mu.Lock()
		pt.refreshChunkProgress_locked()
		pt.mu.Unlock()

		pt.events.emit(Event{Kind: EventCorruption, ChunkIndex: index, Err: res.Err})
		return

	default: // HashFatalError
		pt.mu.Unlock()
		pt.events.emit(Event{Kind: EventCorruption, ChunkIndex: index, Err: res.Err})
	}
}

// checkTorrentComplete emits EventComplete once every chunk is Full and
// every boundary chunk has a verified CacheFile result (or has already been
// cleared by onChunkHashResult), mirroring partdata's own completion check
// but over the torrent's flattened chunk space.
func (pt *PartialTorrent) checkTorrentComplete() {
	pt.mu.Lock()
	if pt.destroyed {
		pt.mu.Unlock()
		return
	}
	for i := uint64(0); i < pt.cm.ChunkCount(); i++ {
		if pt.cm.Progress(i) != chunkmap.Full {
			pt.mu.Unlock()
			return
		}
	}
	if len(pt.caches) > 0 {
		pt.mu.Unlock()
		return
	}
	pt.mu.Unlock()
	pt.events.emit(Event{Kind: EventComplete})
}
