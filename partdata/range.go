package partdata

import (
	"sync"

	"github.com/alosarv/hydra/rangeset"
)

// UsedRange is a soft reservation over a chunk-sized region of a PartData,
// acquired via GetRange. Multiple UsedRanges may coexist over the same
// chunk; they serialise the actual bytes they write via LockedRange. The
// Go idiom for an RAII destructor is an explicit Release call: the
// zero-cost alternative of a finalizer is deliberately not used, since
// release timing must be deterministic.
type UsedRange struct {
	mu       sync.Mutex
	pd       *PartData
	rng      rangeset.Range
	hasChunk bool
	chunkSz  uint64
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
// Calling Release more than once is a no-op.
func (u *UsedRange) Release() {
	u.mu.Lock()
	if u.released {
		u.mu.Unlock()
		return
	}
	u.released = true
	hasChunk, sz, idx := u.hasChunk, u.chunkSz, u.chunkIdx
	u.mu.Unlock()

	if !hasChunk {
		return
	}
	u.pd.mu.Lock()
	cs, ok := u.pd.chunkSets[sz]
	u.pd.mu.Unlock()
	if ok {
		cs.m.DecUseCount(idx)
	}
}

// LockedRange is an exclusive write reservation over a sub-interval of a
// UsedRange. No two LockedRanges of the same PartData ever overlap.
type LockedRange struct {
	mu       sync.Mutex
	pd       *PartData
	used     *UsedRange // kept alive so the chunk's use count outlives the lock
	rng      rangeset.Range
	released bool
}

// Range returns the byte interval this LockedRange exclusively owns.
func (l *LockedRange) Range() rangeset.Range {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng
}

// Release drops the lock, removing its interval from the part's locked
// list. Calling Release more than once is a no-op.
func (l *LockedRange) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	rng := l.rng
	l.mu.Unlock()

	l.pd.mu.Lock()
	l.pd.locked.Erase(rng)
	l.pd.mu.Unlock()
}

// Write delegates to PartData.doWrite after checking that
// [offset, offset+len(data)-1] lies entirely inside the lock.
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
	return l.pd.doWrite(offset, data)
}

// WriteRange writes data at begin directly through doWrite, bypassing the
// locked-range ownership check LockedRange.Write enforces. It exists for
// composing callers that already serialise their own access to this
// PartData - namely PartialTorrent, which is the sole writer of its child
// PartDatas and enforces exclusivity at the torrent's own locked-range
// level when it routes bytes to each child file.
func (pd *PartData) WriteRange(begin uint64, data []byte) error {
	return pd.doWrite(begin, data)
}

// GetRange selects a chunk of the given chunkSize the peer has (per
// bitmap) and returns a UsedRange over it, preferring rarest-first, then
// partially-completed, then least-used. A nil bitmap degrades to picking
// the rarest globally-available chunk. Returns
// ok=false if no eligible chunk remains (every chunk this peer has is
// already Full).
func (pd *PartData) GetRange(chunkSize uint64, bitmap []bool) (ur *UsedRange, ok bool, err error) {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	if pd.destroyed {
		return nil, false, ErrDestroyed
	}
	cs := pd.ensureChunkSet_locked(chunkSize)

	index, found := cs.m.PickChunk(bitmap, true)
	if !found {
		return nil, false, nil
	}

	chunkRange := cs.m.ChunkRange(index)
	remaining, hasGap := pd.remainingInRange_locked(chunkRange)
	if !hasGap {
		remaining = chunkRange
	}

	cs.m.IncUseCount(index)
	return &UsedRange{
		pd:       pd,
		rng:      remaining,
		hasChunk: true,
		chunkSz:  chunkSize,
		chunkIdx: index,
	}, true, nil
}

// remainingInRange_locked returns the first sub-interval of rng not yet in
// complete, and false if rng is entirely complete.
func (pd *PartData) remainingInRange_locked(rng rangeset.Range) (rangeset.Range, bool) {
	gaps := rangeset.NewList(rng).Subtract(pd.complete)
	if len(gaps) == 0 {
		return rangeset.Range{}, false
	}
	// Prefer the first gap; callers that need the largest contiguous
	// free interval use GetLock, which performs its own search.
	return gaps[0], true
}

// GetLock finds the largest contiguous sub-interval of u not yet in
// complete or locked, clamps it to prefSize bytes (0 means unclamped),
// reserves it exclusively, and returns a handle.
func (u *UsedRange) GetLock(prefSize uint64) (*LockedRange, error) {
	u.mu.Lock()
	rng := u.rng
	released := u.released
	u.mu.Unlock()
	if released {
		return nil, ErrNoFreeSpace
	}

	pd := u.pd
	pd.mu.Lock()
	defer pd.mu.Unlock()

	if pd.destroyed {
		return nil, ErrDestroyed
	}

	blocked := pd.complete.Clone()
	for _, r := range pd.locked.Ranges() {
		blocked.Insert(r)
	}
	free := rangeset.NewList(rng).Subtract(blocked)
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
	pd.locked.Insert(best)

	return &LockedRange{pd: pd, used: u, rng: best}, nil
}
