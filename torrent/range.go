package torrent

import (
	"sync"

	"github.com/alosarv/hydra/rangeset"
)

// UsedRange is a soft reservation over one torrent-wide chunk, the
// torrent-level analogue of partdata.UsedRange.
type UsedRange struct {
	mu       sync.Mutex
	pt       *PartialTorrent
	rng      rangeset.Range
	chunkIdx uint64
	released bool
}

// Range returns the byte interval this UsedRange covers.
func (u *UsedRange) Range() rangeset.Range {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rng
}

// Release drops the reservation, decrementing the chunk's use count.
func (u *UsedRange) Release() {
	u.mu.Lock()
	if u.released {
		u.mu.Unlock()
		return
	}
	u.released = true
	idx := u.chunkIdx
	u.mu.Unlock()
	u.pt.cm.DecUseCount(idx)
}

// LockedRange is an exclusive write reservation over a sub-interval of a
// torrent-level UsedRange.
type LockedRange struct {
	mu       sync.Mutex
	pt       *PartialTorrent
	used     *UsedRange
	rng      rangeset.Range
	released bool
}

// Range returns the byte interval this LockedRange exclusively owns.
func (l *LockedRange) Range() rangeset.Range {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng
}

// Release drops the lock.
func (l *LockedRange) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	rng := l.rng
	l.mu.Unlock()

	l.pt.mu.Lock()
	l.pt.locked.Erase(rng)
	l.pt.mu.Unlock()
}

// GetRange selects a torrent-wide chunk the peer has (per bitmap) and
// returns a UsedRange over it, delegating the selection policy to the same
// chunkmap.PickChunk rarest-first/least-used tie-break every PartData
// uses, applied here to the flattened multi-file byte space.
func (pt *PartialTorrent) GetRange(bitmap []bool) (*UsedRange, bool, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	if pt.destroyed {
		return nil, false, ErrDestroyed
	}

	effective := pt.applyDontDownload_locked(bitmap)
	index, found := pt.cm.PickChunk(effective, true)
	if !found {
		return nil, false, nil
	}
	rng := pt.cm.ChunkRange(index)
	pt.cm.IncUseCount(index)
	return &UsedRange{pt: pt, rng: rng, chunkIdx: index}, true, nil
}

// GetLock reserves the largest free sub-interval of u not yet locked,
// clamped to prefSize bytes (0 means unclamped).
func (u *UsedRange) GetLock(prefSize uint64) (*LockedRange, error) {
	u.mu.Lock()
	rng := u.rng
	released := u.released
	u.mu.Unlock()
	if released {
		return nil, ErrDestroyed
	}

	pt := u.pt
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.destroyed {
		return nil, ErrDestroyed
	}

	free := rangeset.NewList(rng).Subtract(pt.locked)
	if len(free) == 0 {
		return nil, ErrNoFreeSpace
	}
	best := free[0]
	for _, r := range free[1:] {
		if r.Length() > best.Length() {
			best = r
		}
	}
	if prefSize > 0 && best.Length() > prefSize {
		best = rangeset.Range{Begin: best.Begin, End: best.Begin + prefSize - 1}
	}
	pt.locked.Insert(best)

	return &LockedRange{pt: pt, used: u, rng: best}, nil
}

// Write routes data at the torrent-wide offset to whichever child
// PartData(s) the interval covers, mirroring into a CacheFile as well
// when the covering chunk is a boundary chunk.
func (l *LockedRange) Write(offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	l.mu.Lock()
	rng := l.rng
	released := l.released
	l.mu.Unlock()
	if released {
		return ErrLockViolation
	}
	end := offset + uint64(len(data)) - 1
	if offset < rng.Begin || end > rng.End {
		return ErrLockViolation
	}
	return l.pt.routeWrite(offset, data)
}

// routeWrite splits [offset, offset+len(data)-1] across every InternalFile
// it overlaps, and - for chunks flagged as boundary-crossing - additionally
// mirrors the bytes into that chunk's CacheFile.
func (pt *PartialTorrent) routeWrite(offset uint64, data []byte) error {
	end := offset + uint64(len(data)) - 1

	pt.mu.Lock()
	files := pt.filesInRange_locked(offset, end)
	pt.mu.Unlock()

	for _, f := range files {
		lo, hi, ok := clampToFile(f, rangeset.Range{Begin: offset, End: end})
		if !ok {
			continue
		}
		slice := data[lo-offset : hi-offset+1]
		if err := f.PD.WriteRange(lo-f.Offset, slice); err != nil {
			return err
		}
	}

	if err := pt.mirrorToCaches(offset, end, data); err != nil {
		return err
	}

	pt.mu.Lock()
	pt.refreshChunkProgress_locked()
	pt.mu.Unlock()
	pt.checkTorrentComplete()
	return nil
}

// mirrorToCaches writes data into the CacheFile of every boundary-crossing
// chunk [offset, end] overlaps, creating the CacheFile on first touch.
func (pt *PartialTorrent) mirrorToCaches(offset, end uint64, data []byte) error {
	first := offset / pt.chunkSize
	last := end / pt.chunkSize

	for idx := first; idx <= last; idx++ {
		pt.mu.Lock()
		boundary := pt.isBoundaryChunk_locked(idx)
		chunkRng := pt.cm.ChunkRange(idx)
		if !boundary {
			pt.mu.Unlock()
			continue
		}
		cache, ok := pt.caches[idx]
		if !ok {
			var err error
			cache, err = newCacheFile(pt.cacheDir, idx, pt.nextCacheTie)
			if err != nil {
				pt.mu.Unlock()
				return err
			}
			pt.nextCacheTie++
			pt.caches[idx] = cache
		}
		pt.mu.Unlock()

		lo, hi, ok := clampRanges(chunkRng, offset, end)
		if !ok {
			continue
		}
		slice := data[lo-offset : hi-offset+1]
		if err := cache.WriteAt(lo-chunkRng.Begin, slice); err != nil {
			return err
		}
		pt.tryVerifyChunk(idx)
	}
	return nil
}

func clampRanges(chunkRng rangeset.Range, offset, end uint64) (lo, hi uint64, ok bool) {
	lo, hi = offset, end
	if lo < chunkRng.Begin {
		lo = chunkRng.Begin
	}
	if hi > chunkRng.End {
		hi = chunkRng.End
	}
	if lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}
