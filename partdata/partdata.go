// Package partdata implements PartData, the central per-download state
// machine: completed/locked/corrupt/verified/dontDownload byte ranges,
// availability-driven chunk selection, write buffering, hash-triggered
// completion, and sidecar persistence.
package partdata

import (
	"sync"

	"gitlab.com/NebulousLabs/errors"

	"github.com/alosarv/hydra/chunkmap"
	"github.com/alosarv/hydra/crypto"
	"github.com/alosarv/hydra/iothread"
	"github.com/alosarv/hydra/rangeset"
)

// State is one of the four states a PartData can occupy. Destruction is
// not a State: a destroyed PartData is simply gone,
// tracked here only by the destroyed bool so that late callbacks can detect
// it and become no-ops.
type State int

const (
	Running State = iota
	Paused
	Stopped
	AutoPaused
)

// String renders the state name, used in sidecar logs and the api package.
func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Stopped:
		return "Stopped"
	case AutoPaused:
		return "AutoPaused"
	default:
		return "Unknown"
	}
}

// chunkSet is the per-chunkSize bookkeeping a PartData keeps: the
// availability/use-count table, whose per-chunk rows also hold the
// reference hashes, plus its chunkSize for persistence iteration
// convenience.
type chunkSet struct {
	chunkSize uint64
	m         *chunkmap.Map
}

// PartData is the central per-download state machine. The zero value is
// not usable; construct with New or Load.
type PartData struct {
	mu sync.Mutex

	size        uint64
	location    string
	destination string

	complete     *rangeset.List
	locked       *rangeset.List
	corrupt      *rangeset.List
	verified     *rangeset.List
	dontDownload *rangeset.List

	buffer map[uint64][]byte

	chunkSets map[uint64]*chunkSet // keyed by chunkSize

	downloaded uint64
	state      State

	preallocate     bool
	allocated       bool
	allocInProgress bool
	flushThreshold  int

	io *iothread.IOThread

	events *eventBus

	canComplete []CanCompleteVoter

	destroyed      bool
	completing     bool
	completionGen  int
	fullHashCancel func()

	onDestroyed func(*PartData) // invoked once, after a successful doComplete or Cancel
}

// Config bundles the constructor-time parameters a PartData needs beyond
// size/location/destination.
type Config struct {
	// Preallocate, when true, causes flushBuffer to submit a background
	// AllocJob the first time it needs to extend the file, instead of
	// relying on a lazy sparse write.
	Preallocate bool

	// FlushThreshold is the number of buffered bytes that triggers an
	// immediate flush; 0 uses DefaultFlushThreshold.
	FlushThreshold int

	// OnDestroyed, if set, is invoked exactly once when this PartData is
	// torn down (by Cancel or by a successful completion), so that the
	// owning SharedFile/FilesList can remove it from its arena.
	OnDestroyed func(*PartData)
}

// DefaultFlushThreshold is used when Config.FlushThreshold is zero.
const DefaultFlushThreshold = 1 << 20 // 1 MiB

// New creates a fresh PartData for a download of the given size, writing
// into location, eventually moved to destination on completion. This is
// the FilesList.createDownload lifecycle entry point.
func New(io *iothread.IOThread, location, destination string, size uint64, cfg Config) (*PartData, error) {
	if size == 0 {
		return nil, errors.New("partdata: size must be nonzero")
	}
	threshold := cfg.FlushThreshold
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	pd := &PartData{
		size:           size,
		location:       location,
		destination:    destination,
		complete:       rangeset.NewList(),
		locked:         rangeset.NewList(),
		corrupt:        rangeset.NewList(),
		verified:       rangeset.NewList(),
		dontDownload:   rangeset.NewList(),
		buffer:         make(map[uint64][]byte),
		chunkSets:      make(map[uint64]*chunkSet),
		state:          Running,
		preallocate:    cfg.Preallocate,
		flushThreshold: threshold,
		io:             io,
		events:         newEventBus(),
		onDestroyed:    cfg.OnDestroyed,
	}
	pd.events.emit(Event{Kind: EventAdded})
	return pd, nil
}

// Size returns the total byte count of the file this part downloads.
func (pd *PartData) Size() uint64 {
	return pd.size
}

// Location returns the current on-disk path of the temp file.
func (pd *PartData) Location() string {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.location
}

// Destination returns the final path this part is moved to on completion.
func (pd *PartData) Destination() string {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.destination
}

// State returns the part's current lifecycle state.
func (pd *PartData) State() State {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.state
}

// Downloaded returns the cumulative count of bytes ever written,
// including bytes later found corrupt.
func (pd *PartData) Downloaded() uint64 {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.downloaded
}

// Complete returns a snapshot of the completed-range list.
func (pd *PartData) Complete() []rangeset.Range {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.complete.Ranges()
}

// Verified returns a snapshot of the verified-range list.
func (pd *PartData) Verified() []rangeset.Range {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.verified.Ranges()
}

// Corrupt returns a snapshot of the corrupt-range list.
func (pd *PartData) Corrupt() []rangeset.Range {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.corrupt.Ranges()
}

// Locked returns a snapshot of the currently locked-range list.
func (pd *PartData) Locked() []rangeset.Range {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.locked.Ranges()
}

// Subscribe registers fn to receive every event this part emits from now
// on, returning a handle to later Unsubscribe.
func (pd *PartData) Subscribe(fn func(Event)) Subscription {
	return pd.events.Subscribe(fn)
}

// Unsubscribe removes a previously registered handler.
func (pd *PartData) Unsubscribe(s Subscription) {
	pd.events.Unsubscribe(s)
}

// OnCanComplete registers a veto hook consulted once the part's bytes are
// fully verified; returning false postpones completion indefinitely until
// some future verification event retriggers the check.
func (pd *PartData) OnCanComplete(voter CanCompleteVoter) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.canComplete = append(pd.canComplete, voter)
}

// AddHashSet registers the reference digests for every chunk of the given
// chunkSize. First registration for a new chunkSize causes the ChunkMap
// rows for that size to be instantiated.
func (pd *PartData) AddHashSet(chunkSize uint64, hashes map[uint64]crypto.Hash) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	cs := pd.ensureChunkSet_locked(chunkSize)
	for index, h := range hashes {
		cs.m.SetReferenceHash(index, h)
	}
	pd.refreshChunkProgress_locked(cs)
}

func (pd *PartData) ensureChunkSet_locked(chunkSize uint64) *chunkSet {
	cs, ok := pd.chunkSets[chunkSize]
	if ok {
		return cs
	}
	cs = &chunkSet{chunkSize: chunkSize, m: chunkmap.New(chunkSize, pd.size)}
	pd.chunkSets[chunkSize] = cs
	pd.refreshChunkProgress_locked(cs)
	return cs
}

// refreshChunkProgress_locked recomputes every chunk's Progress field for cs
// against the current complete list, used when a chunkSize is first seen
// (so chunks already downloaded under another chunkSize are recognised) and
// after sidecar load.
func (pd *PartData) refreshChunkProgress_locked(cs *chunkSet) {
	for i := uint64(0); i < cs.m.ChunkCount(); i++ {
		rng := cs.m.ChunkRange(i)
		switch {
		case pd.complete.ContainsFull(rng):
			cs.m.SetProgress(i, chunkmap.Full)
		case pd.complete.Contains(rng):
			cs.m.SetProgress(i, chunkmap.Partial)
		default:
			cs.m.SetProgress(i, chunkmap.Empty)
		}
	}
}

// MarkIncomplete erases [begin, end] from the completed-range list and
// resets every chunk it touches back to Partial or Empty, so a later
// GetRange can hand those bytes out again. PartialTorrent calls this on a
// child PartData when a boundary chunk spanning it fails verification at
// the torrent level, since the child's own chunk maps have no way to learn
// about a failure detected through a sibling file's bytes.
func (pd *PartData) MarkIncomplete(begin, end uint64) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	rng := rangeset.Range{Begin: begin, End: end}
	pd.complete.Erase(rng)
	for chunkSize, cs := range pd.chunkSets {
		firstIdx := begin / chunkSize
		lastIdx := end / chunkSize
		for idx := firstIdx; idx <= lastIdx; idx++ {
			chunkRange := cs.m.ChunkRange(idx)
			switch {
			case pd.complete.ContainsFull(chunkRange):
				cs.m.SetProgress(idx, chunkmap.Full)
			case pd.complete.Contains(chunkRange):
				cs.m.SetProgress(idx, chunkmap.Partial)
			default:
				cs.m.SetProgress(idx, chunkmap.Empty)
			}
		}
	}
}

// AddSourceMask registers a peer's per-chunk availability bitmap for
// chunkSize, instantiating the ChunkMap rows for that size on first use.
func (pd *PartData) AddSourceMask(chunkSize uint64, bitmap []bool) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	cs := pd.ensureChunkSet_locked(chunkSize)
	cs.m.OnAvailabilityChanged(bitmap, 1)
}

// RemoveSourceMask reverses a previous AddSourceMask, e.g. when a peer
// disconnects.
func (pd *PartData) RemoveSourceMask(chunkSize uint64, bitmap []bool) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	cs, ok := pd.chunkSets[chunkSize]
	if !ok {
		return
	}
	cs.m.OnAvailabilityChanged(bitmap, -1)
}

// AddFullSource is the O(1) fast path for a peer known to hold the entire
// file at chunkSize.
func (pd *PartData) AddFullSource(chunkSize uint64) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	cs := pd.ensureChunkSet_locked(chunkSize)
	cs.m.AddFullSource()
}

// DelFullSource reverses AddFullSource.
func (pd *PartData) DelFullSource(chunkSize uint64) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	cs, ok := pd.chunkSets[chunkSize]
	if !ok {
		return
	}
	cs.m.DelFullSource()
}

func toEventRange(r rangeset.Range) Range {
	return Range{Begin: r.Begin, End: r.End}
}
