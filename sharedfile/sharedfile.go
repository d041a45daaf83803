// Package sharedfile implements the file identity layer: SharedFile wraps
// either a completed on-disk file or an in-progress PartData, owns
// metadata association and duplicate detection, and performs the
// move-to-destination step's bookkeeping once PartData reports
// completion. FilesList is the owning collection every SharedFile lives
// in: peers resolve a SharedFile through FilesList by its opaque ID
// rather than holding a pointer to it directly.
package sharedfile

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"gitlab.com/NebulousLabs/monitor"

	"github.com/alosarv/hydra/iothread"
	"github.com/alosarv/hydra/partdata"
	"github.com/alosarv/hydra/rangeset"
)

// ID is the opaque identifier peers and the upload component hold instead
// of a raw *SharedFile pointer.
type ID uint64

// SharedFile is either:
//   - a full file on disk (partial == nil), or
//   - an in-progress download (partial != nil), wrapping a *partdata.PartData.
//
// Invariant: a SharedFile with no partial has a readable on-disk file
// whose size matches meta.Size.
type SharedFile struct {
	mu sync.Mutex

	id       ID
	location string
	altLocs  []string

	partial *partdata.PartData

	meta    Metadata
	hasMeta bool

	moving    bool
	destroyed bool

	io      *iothread.IOThread
	metaDb  MetaDb
	events  *eventBus
	upload  *monitor.Monitor
	partSub partdata.Subscription
}

// newBase constructs the shared plumbing every SharedFile variant needs.
func newBase(id ID, location string, io *iothread.IOThread, metaDb MetaDb) *SharedFile {
	return &SharedFile{
		id:       id,
		location: location,
		io:       io,
		metaDb:   metaDb,
		events:   newEventBus(),
		upload:   monitor.NewMonitor(),
	}
}

// FromFile constructs a SharedFile around a complete file already on
// disk. It looks up metadata by name+size+mtime; on a miss, it submits
// an identification HashWork and re-queries by the computed digest once
// the job completes.
func FromFile(id ID, path string, io *iothread.IOThread, metaDb MetaDb) (*SharedFile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, ErrInvalidRange
	}

	sf := newBase(id, path, io, metaDb)
	name := filepath.Base(path)
	size := uint64(fi.Size())
	modTime := fi.ModTime().Unix()

	if m, ok := metaDb.LookupByNameSizeModTime(name, size, modTime); ok {
		sf.mu.Lock()
		sf.meta = m
		sf.hasMeta = true
		sf.mu.Unlock()
		sf.events.emit(Event{Kind: EventAdded})
		sf.events.emit(Event{Kind: EventMetaDataAdded})
		return sf, nil
	}

	sf.meta = Metadata{Name: name, Size: size, ModTime: modTime}
	sf.events.emit(Event{Kind: EventAdded})

	io.SubmitHash(iothread.HashJob{
		Paths:        []string{path},
		Begin:        0,
		End:          size - 1,
		HasReference: false,
	}, func(res iothread.HashResult) {
		sf.onIdentified(res)
	})
	return sf, nil
}

func (sf *SharedFile) onIdentified(res iothread.HashResult) {
	if res.Err != nil {
		return
	}
	sf.mu.Lock()
	if m, ok := sf.metaDb.LookupByHash(res.Computed); ok {
		sf.meta = m
	} else {
		sf.meta.Hash = res.Computed
		sf.meta.HasHash = true
		sf.metaDb.Insert(sf.meta)
	}
	sf.hasMeta = true
	sf.mu.Unlock()
	sf.events.emit(Event{Kind: EventMetaDataAdded})
}

// FromPartData constructs a SharedFile around an in-progress download.
// Its metadata holds the destination's base name and the part's size; no
// digest is derived or looked up in the MetaDb, so Metadata reports false
// while the download is partial. EventMetaDataAdded is emitted once the
// whole file is verified. The SharedFile transitions to non-partial when
// the PartData reports EventDlFinished.
func FromPartData(id ID, pd *partdata.PartData, destination string, io *iothread.IOThread, metaDb MetaDb) *SharedFile {
	sf := newBase(id, pd.Location(), io, metaDb)
	sf.partial = pd
	sf.meta = Metadata{Name: filepath.Base(destination), Size: pd.Size()}

	sf.partSub = pd.Subscribe(func(e partdata.Event) {
		sf.onPartDataEvent(destination, e)
	})

	sf.events.emit(Event{Kind: EventAdded})
	return sf
}

func (sf *SharedFile) onPartDataEvent(destination string, e partdata.Event) {
	switch e.Kind {
	case partdata.EventMoving:
		sf.setMoving(true)
	case partdata.EventAutoPaused:
		sf.setMoving(false)
	case partdata.EventVerified:
		sf.mu.Lock()
		complete := sf.partial.Verified()
		full := sf.partial.Size()
		sf.mu.Unlock()
		if len(complete) == 1 && complete[0].Begin == 0 && complete[0].End == full-1 {
			sf.events.emit(Event{Kind: EventMetaDataAdded})
		}
	case partdata.EventDlFinished:
		sf.mu.Lock()
		sf.location = destination
		sf.partial = nil
		sf.moving = false
		sf.mu.Unlock()
		sf.events.emit(Event{Kind: EventDlComplete})
	}
}

// ID returns the opaque identifier FilesList registered this SharedFile
// under.
func (sf *SharedFile) ID() ID { return sf.id }

// Location returns the file's current on-disk path.
func (sf *SharedFile) Location() string {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.location
}

// IsPartial reports whether this SharedFile still wraps an in-progress
// PartData.
func (sf *SharedFile) IsPartial() bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.partial != nil
}

// PartData returns the wrapped PartData, or nil once the download has
// completed.
func (sf *SharedFile) PartData() *partdata.PartData {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.partial
}

// Metadata returns a snapshot of the file's identity record.
func (sf *SharedFile) Metadata() (Metadata, bool) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.meta, sf.hasMeta
}

// Subscribe registers fn to be called for every SharedFile event.
func (sf *SharedFile) Subscribe(fn func(Event)) Subscription {
	return sf.events.Subscribe(fn)
}

// Unsubscribe removes a previously registered subscription.
func (sf *SharedFile) Unsubscribe(s Subscription) {
	sf.events.Unsubscribe(s)
}

// AddAltLocation registers an alternate on-disk path Read may fall back
// to if the primary location's I/O fails.
func (sf *SharedFile) AddAltLocation(path string) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.altLocs = append(sf.altLocs, path)
}

// Read rejects reads during a move, rejects partial reads outside the
// completed range, revalidates the on-disk modification time against
// metadata (triggering a rehash on mismatch), and falls back to
// alternate locations on I/O failure. Uploaded bytes are added to the
// metadata counter and to this SharedFile's own upload-bandwidth monitor
// on success.
func (sf *SharedFile) Read(begin, end uint64) ([]byte, error) {
	sf.mu.Lock()
	if sf.moving {
		sf.mu.Unlock()
		return nil, ErrTryAgainLater
	}
	partial := sf.partial
	location := sf.location
	alts := append([]string(nil), sf.altLocs...)
	sf.mu.Unlock()

	if partial != nil {
		complete := partial.Complete()
		if !containsFull(complete, begin, end) {
			return nil, ErrInvalidRange
		}
	}

	sf.checkModTime(location, partial)

	locations := append([]string{location}, alts...)
	for _, loc := range locations {
		data, err := readRange(loc, begin, end)
		if err == nil {
			sf.mu.Lock()
			sf.meta.Uploaded += uint64(len(data))
			sf.mu.Unlock()
			sf.upload.Increment(uint64(len(data)))
			return data, nil
		}
	}
	return nil, ErrAllLocationsFailed
}

func readRange(path string, begin, end uint64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, end-begin+1)
	if _, err := f.ReadAt(buf, int64(begin)); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// checkModTime verifies the on-disk modification date against metadata;
// on mismatch, partial files trigger a rehash of completed chunks, full
// files invalidate metadata and re-enter hashing.
func (sf *SharedFile) checkModTime(location string, partial *partdata.PartData) {
	fi, err := os.Stat(location)
	if err != nil {
		return
	}
	actual := fi.ModTime().Unix()

	sf.mu.Lock()
	recorded := sf.meta.ModTime
	sf.mu.Unlock()
	if recorded == actual {
		return
	}

	if partial != nil {
		partial.VerifyAgainstDisk(recorded, actual)
		return
	}

	sf.mu.Lock()
	sf.hasMeta = false
	sf.meta.HasHash = false
	size := sf.meta.Size
	sf.mu.Unlock()

	sf.io.SubmitHash(iothread.HashJob{
		Paths:        []string{location},
		Begin:        0,
		End:          size - 1,
		HasReference: false,
	}, func(res iothread.HashResult) {
		if res.Err == nil {
			sf.mu.Lock()
			sf.meta.Hash = res.Computed
			sf.meta.HasHash = true
			sf.meta.ModTime = actual
			sf.hasMeta = true
			sf.mu.Unlock()
			sf.metaDb.Insert(sf.meta)
			sf.events.emit(Event{Kind: EventMetaDataAdded})
		}
	})
}

func containsFull(ranges []rangeset.Range, begin, end uint64) bool {
	for _, r := range ranges {
		if r.Begin <= begin && r.End >= end {
			return true
		}
	}
	return false
}

// setMoving marks whether a move is currently in flight, gating Read's
// TryAgainLater error.
func (sf *SharedFile) setMoving(v bool) {
	sf.mu.Lock()
	sf.moving = v
	sf.mu.Unlock()
}

// destroy tears down the SharedFile: unsubscribes from its PartData (if
// any) and emits Destroy. Called by FilesList on explicit removal or
// duplicate resolution.
func (sf *SharedFile) destroy() {
	sf.mu.Lock()
	if sf.destroyed {
		sf.mu.Unlock()
		return
	}
	sf.destroyed = true
	pd := sf.partial
	sub := sf.partSub
	sf.mu.Unlock()

	if pd != nil {
		pd.Unsubscribe(sub)
	}
	sf.events.emit(Event{Kind: EventDestroy})
}
