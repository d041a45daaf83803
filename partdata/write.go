package partdata

import (
	"os"
	"sort"

	"gitlab.com/NebulousLabs/errors"

	"github.com/alosarv/hydra/chunkmap"
	"github.com/alosarv/hydra/iothread"
	"github.com/alosarv/hydra/rangeset"
)

// doWrite performs the actual buffered write. LockedRange.Write calls this
// after checking that the interval lies inside a held lock; WriteRange
// calls it directly without that check.
func (pd *PartData) doWrite(begin uint64, data []byte) error {
	pd.mu.Lock()

	if pd.destroyed {
		pd.mu.Unlock()
		return ErrDestroyed
	}
	if pd.state != Running {
		pd.mu.Unlock()
		return ErrNotRunning
	}
	end := begin + uint64(len(data)) - 1
	if end > pd.size-1 {
		pd.mu.Unlock()
		return ErrInvalidRange
	}
	wRange := rangeset.Range{Begin: begin, End: end}
	if pd.dontDownload.Contains(wRange) {
		pd.mu.Unlock()
		return ErrDontDownload
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	pd.buffer[begin] = buf
	pd.complete.Insert(wRange)
	pd.downloaded += uint64(len(data))

	newlyFull := pd.advanceChunkProgress_locked(wRange)
	shouldFlush := pd.bufferedBytes_locked() >= pd.flushThreshold || len(newlyFull) > 0

	pd.mu.Unlock()

	pd.events.emit(Event{Kind: EventDataAdded, Range: toEventRange(wRange)})

	if shouldFlush {
		pd.flushBuffer()
	}
	for _, nf := range newlyFull {
		pd.submitChunkHash(nf.chunkSize, nf.index)
	}
	pd.mu.Lock()
	pd.checkCompletion_locked()
	pd.mu.Unlock()
	return nil
}

func (pd *PartData) bufferedBytes_locked() int {
	n := 0
	for _, b := range pd.buffer {
		n += len(b)
	}
	return n
}

type chunkRef struct {
	chunkSize uint64
	index     uint64
}

// advanceChunkProgress_locked updates every registered chunkSize's Progress
// rows against the newly-written range, returning the chunks that just
// transitioned to Full and have a registered reference hash.
func (pd *PartData) advanceChunkProgress_locked(wRange rangeset.Range) []chunkRef {
	var newlyFull []chunkRef
	for chunkSize, cs := range pd.chunkSets {
		firstIdx := wRange.Begin / chunkSize
		lastIdx := wRange.End / chunkSize
		for idx := firstIdx; idx <= lastIdx; idx++ {
			chunkRange := cs.m.ChunkRange(idx)
			before := cs.m.Progress(idx)
			switch {
			case pd.complete.ContainsFull(chunkRange):
				cs.m.SetProgress(idx, chunkmap.Full)
				if before != chunkmap.Full {
					if _, ok := cs.m.ReferenceHash(idx); ok {
						newlyFull = append(newlyFull, chunkRef{chunkSize, idx})
					}
				}
			case pd.complete.Contains(chunkRange):
				cs.m.SetProgress(idx, chunkmap.Partial)
			}
		}
	}
	return newlyFull
}

// flushBuffer writes every pending buffer entry to disk in begin-sorted
// order using positioned writes, then clears the buffer and emits a
// DataFlushed event per entry.
func (pd *PartData) flushBuffer() {
	pd.mu.Lock()
	if len(pd.buffer) == 0 {
		pd.mu.Unlock()
		return
	}
	if pd.preallocate && !pd.allocated && !pd.allocInProgress {
		pd.allocInProgress = true
		location := pd.location
		size := pd.size
		pd.mu.Unlock()
		pd.io.SubmitAlloc(iothread.AllocJob{Path: location, Size: size}, func(res iothread.AllocResult) {
			pd.mu.Lock()
			pd.allocInProgress = false
			if res.Err == nil {
				pd.allocated = true
			}
			pd.mu.Unlock()
			if res.Err == nil {
				pd.flushBuffer()
			}
		})
		return
	}

	begins := make([]uint64, 0, len(pd.buffer))
	for b := range pd.buffer {
		begins = append(begins, b)
	}
	sort.Slice(begins, func(i, j int) bool { return begins[i] < begins[j] })

	entries := make(map[uint64][]byte, len(pd.buffer))
	for b, data := range pd.buffer {
		entries[b] = data
	}
	pd.buffer = make(map[uint64][]byte)
	location := pd.location
	pd.mu.Unlock()

	f, err := os.OpenFile(location, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		pd.mu.Lock()
		for b, data := range entries {
			pd.buffer[b] = data
		}
		pd.mu.Unlock()
		pd.autoPause(errors.AddContext(err, "unable to open part file for flush"))
		return
	}
	defer f.Close()

	var flushed []rangeset.Range
	for i, begin := range begins {
		data := entries[begin]
		if _, err := f.WriteAt(data, int64(begin)); err != nil {
			pd.mu.Lock()
			for _, b := range begins[i:] {
				pd.buffer[b] = entries[b]
			}
			pd.mu.Unlock()
			pd.autoPause(errors.AddContext(err, "unable to flush buffered write"))
			return
		}
		flushed = append(flushed, rangeset.Range{Begin: begin, End: begin + uint64(len(data)) - 1})
	}
	if err := f.Sync(); err != nil {
		pd.autoPause(errors.AddContext(err, "unable to sync part file"))
		return
	}

	for _, r := range flushed {
		pd.events.emit(Event{Kind: EventDataFlushed, Range: toEventRange(r)})
	}
}
