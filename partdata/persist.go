package partdata

import (
	"bytes"
	"encoding/binary"
	"io/ioutil"
	"os"

	"gitlab.com/NebulousLabs/encoding"
	"gitlab.com/NebulousLabs/errors"

	"github.com/alosarv/hydra/chunkmap"
	"github.com/alosarv/hydra/crypto"
	"github.com/alosarv/hydra/iothread"
	"github.com/alosarv/hydra/rangeset"
)

const (
	sidecarSuffix  = ".dat"
	backupSuffix   = ".bak"
	tempSuffix     = ".tmp"
	sidecarVersion = 1
)

type opcode uint8

const (
	opDownloaded  opcode = 1
	opDestination opcode = 2
	opCompleted   opcode = 3
	opVerified    opcode = 4
	opHashSet     opcode = 5
	opState       opcode = 6
)

// hashSetWire is the HASHSET tag's payload. Its internal layout is left
// unspecified beyond "HASHSET(RangeList<digest>)", so unlike the other
// tags, which follow a literal RangeList/String wire form exactly, this
// one is encoded with the generic gitlab.com/NebulousLabs/encoding codec.
type hashSetWire struct {
	ChunkSize uint64
	Indices   []uint64
	Hashes    [][crypto.HashSize]byte
}

// Save writes the sidecar file at location+".dat". The previous sidecar,
// if any, is preserved as ".bak" before
// the new one is written, and the write itself goes to a temp file first,
// renamed into place, so a crash mid-write never corrupts the primary.
func (pd *PartData) Save() error {
	pd.mu.Lock()
	payload := pd.encodeSidecar_locked()
	location := pd.location
	pd.mu.Unlock()

	primary := location + sidecarSuffix
	backup := primary + backupSuffix
	tmp := primary + tempSuffix

	if err := ioutil.WriteFile(tmp, payload, 0644); err != nil {
		return errors.AddContext(err, "unable to write sidecar temp file")
	}
	if _, err := os.Stat(primary); err == nil {
		// Best-effort: keep the previous good sidecar as a recovery
		// fallback. A failure here is not fatal to the save itself.
		data, err := ioutil.ReadFile(primary)
		if err == nil {
			ioutil.WriteFile(backup, data, 0644)
		}
	}
	if err := os.Rename(tmp, primary); err != nil {
		return errors.AddContext(err, "unable to rename sidecar into place")
	}
	return nil
}

func (pd *PartData) encodeSidecar_locked() []byte {
	var buf bytes.Buffer
	buf.WriteByte(sidecarVersion)

	writeTag(&buf, opDownloaded, encodeUint64(pd.downloaded))
	writeTag(&buf, opDestination, encodeString(pd.destination))
	writeTag(&buf, opCompleted, encodeRangeList(pd.complete))
	writeTag(&buf, opVerified, encodeRangeList(pd.verified))
	writeTag(&buf, opState, []byte{byte(pd.state)})

	for chunkSize, cs := range pd.chunkSets {
		wire := hashSetWire{ChunkSize: chunkSize}
		for i := uint64(0); i < cs.m.ChunkCount(); i++ {
			if h, ok := cs.m.ReferenceHash(i); ok {
				wire.Indices = append(wire.Indices, i)
				wire.Hashes = append(wire.Hashes, [crypto.HashSize]byte(h))
			}
		}
		if len(wire.Indices) == 0 {
			continue
		}
		writeTag(&buf, opHashSet, encoding.Marshal(wire))
	}
	return buf.Bytes()
}

func writeTag(buf *bytes.Buffer, op opcode, payload []byte) {
	buf.WriteByte(byte(op))
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	buf.Write(lenBuf[:])
	buf.Write(payload)
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func encodeString(s string) []byte {
	return []byte(s)
}

func encodeRangeList(l *rangeset.List) []byte {
	ranges := l.Ranges()
	buf := make([]byte, 2+16*len(ranges))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(ranges)))
	for i, r := range ranges {
		off := 2 + i*16
		binary.LittleEndian.PutUint64(buf[off:off+8], r.Begin)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], r.End)
	}
	return buf
}

func decodeRangeList(payload []byte) (*rangeset.List, error) {
	if len(payload) < 2 {
		return nil, errors.New("partdata: truncated range list payload")
	}
	count := binary.LittleEndian.Uint16(payload[0:2])
	need := 2 + int(count)*16
	if len(payload) < need {
		return nil, errors.New("partdata: truncated range list payload")
	}
	l := rangeset.NewList()
	for i := 0; i < int(count); i++ {
		off := 2 + i*16
		begin := binary.LittleEndian.Uint64(payload[off : off+8])
		end := binary.LittleEndian.Uint64(payload[off+8 : off+16])
		l.Insert(rangeset.Range{Begin: begin, End: end})
	}
	return l, nil
}

// Load reconstructs a PartData from its sidecar, falling back to the
// ".bak" copy if the primary fails to parse. size and
// location describe the physical part file this sidecar belongs to; io is
// the worker the loaded part will use for subsequent jobs. When neither
// copy can be used, Load returns ErrUnknownSidecarVersion if either one
// carries a version byte this build does not understand, and
// ErrCorruptSidecar otherwise.
func Load(io *iothread.IOThread, location string, size uint64, cfg Config) (*PartData, error) {
	primary := location + sidecarSuffix
	data, err := ioutil.ReadFile(primary)
	pd, parseErr := parseSidecarInto(io, location, size, cfg, data)
	if err == nil && parseErr == nil {
		return pd, nil
	}

	backup := primary + backupSuffix
	backupData, backupErr := ioutil.ReadFile(backup)
	if backupErr != nil {
		if parseErr == ErrUnknownSidecarVersion {
			return nil, ErrUnknownSidecarVersion
		}
		return nil, ErrCorruptSidecar
	}
	pd, backupParseErr := parseSidecarInto(io, location, size, cfg, backupData)
	if backupParseErr != nil {
		if parseErr == ErrUnknownSidecarVersion || backupParseErr == ErrUnknownSidecarVersion {
			return nil, ErrUnknownSidecarVersion
		}
		return nil, ErrCorruptSidecar
	}
	return pd, nil
}

func parseSidecarInto(io *iothread.IOThread, location string, size uint64, cfg Config, data []byte) (*PartData, error) {
	if len(data) < 1 {
		return nil, ErrCorruptSidecar
	}
	if data[0] != sidecarVersion {
		return nil, ErrUnknownSidecarVersion
	}

	threshold := cfg.FlushThreshold
	if threshold <= 0 {
		threshold = DefaultFlushThreshold
	}
	pd := &PartData{
		size:           size,
		location:       location,
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

	rest := data[1:]
	for len(rest) > 0 {
		if len(rest) < 3 {
			return nil, ErrCorruptSidecar
		}
		op := opcode(rest[0])
		length := binary.LittleEndian.Uint16(rest[1:3])
		rest = rest[3:]
		if len(rest) < int(length) {
			return nil, ErrCorruptSidecar
		}
		payload := rest[:length]
		rest = rest[length:]

		switch op {
		case opDownloaded:
			if len(payload) != 8 {
				return nil, ErrCorruptSidecar
			}
			pd.downloaded = binary.LittleEndian.Uint64(payload)
		case opDestination:
			pd.destination = string(payload)
		case opCompleted:
			l, err := decodeRangeList(payload)
			if err != nil {
				return nil, err
			}
			pd.complete = l
		case opVerified:
			l, err := decodeRangeList(payload)
			if err != nil {
				return nil, err
			}
			pd.verified = l
		case opState:
			if len(payload) != 1 {
				return nil, ErrCorruptSidecar
			}
			pd.state = State(payload[0])
		case opHashSet:
			var wire hashSetWire
			if err := encoding.Unmarshal(payload, &wire); err != nil {
				return nil, errors.AddContext(err, "unable to decode hash set")
			}
			cs := pd.ensureChunkSet_locked(wire.ChunkSize)
			for i, idx := range wire.Indices {
				cs.m.SetReferenceHash(idx, crypto.Hash(wire.Hashes[i]))
			}
			pd.refreshChunkProgress_locked(cs)
		default:
			// Unknown opcode from a future version; tag framing lets us
			// skip it safely.
		}
	}

	for _, cs := range pd.chunkSets {
		pd.refreshChunkProgress_locked(cs)
	}
	return pd, nil
}

// VerifyAgainstDisk checks the sidecar's recorded modification time
// against disk: if it does not match the
// part file's current one, every completed chunk that has a reference
// hash has its verified mark cleared and is re-hashed before being trusted. Callers should invoke this once after
// Load, passing the mtime recorded alongside the sidecar by their own
// bookkeeping (FilesList), since the sidecar wire format does not itself
// carry a dedicated mtime tag.
func (pd *PartData) VerifyAgainstDisk(recordedModTime, actualModTime int64) {
	if recordedModTime == actualModTime {
		return
	}
	pd.mu.Lock()
	defer pd.mu.Unlock()
	for chunkSize, cs := range pd.chunkSets {
		for i := uint64(0); i < cs.m.ChunkCount(); i++ {
			if cs.m.Progress(i) != chunkmap.Full {
				continue
			}
			if _, ok := cs.m.ReferenceHash(i); !ok {
				continue
			}
			pd.verified.Erase(cs.m.ChunkRange(i))
			go pd.submitChunkHash(chunkSize, i)
		}
	}
}
