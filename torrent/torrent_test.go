package torrent

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alosarv/hydra/build"
	"github.com/alosarv/hydra/crypto"
	"github.com/alosarv/hydra/iothread"
	"github.com/alosarv/hydra/partdata"
)

func newTestTorrent(t *testing.T, lengths []uint64, chunkSize uint64) (*PartialTorrent, string) {
	t.Helper()
	dir := build.TempDir("torrent", t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	io := iothread.New(nil, 0, 0)
	t.Cleanup(func() { io.Close() })

	var files []*InternalFile
	var offset uint64
	for i, length := range lengths {
		location := filepath.Join(dir, "part", filepathName(i))
		dest := filepath.Join(dir, "dest", filepathName(i))
		pd, err := partdata.New(io, location, dest, length, partdata.Config{})
		if err != nil {
			t.Fatal(err)
		}
		files = append(files, &InternalFile{Offset: offset, Length: length, PD: pd})
		offset += length
	}

	cacheDir := filepath.Join(dir, "cache")
	pt, err := NewPartialTorrent(io, cacheDir, chunkSize, files)
	if err != nil {
		t.Fatal(err)
	}
	return pt, dir
}

func filepathName(i int) string {
	return string(rune('a'+i)) + ".bin"
}

func waitForTorrentEvent(t *testing.T, ch <-chan Event, want EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Kind == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %v", want)
		}
	}
}

// A two-file torrent where the chunk size divides each sub-file evenly:
// every chunk lies wholly inside one sub-file, so no CacheFile is ever
// created and each child completes under its own steam.
func TestNonBoundaryChunksRouteToChildrenOnly(t *testing.T) {
	const chunkSize = 1024
	pt, _ := newTestTorrent(t, []uint64{1024, 1024}, chunkSize)

	dataA := bytes.Repeat([]byte("A"), chunkSize)
	dataB := bytes.Repeat([]byte("B"), chunkSize)

	for i, data := range [][]byte{dataA, dataB} {
		ref := crypto.ChunkDigest(data, 0)
		pt.AddHashSet(map[uint64]crypto.Hash{uint64(i): ref})
	}

	for i, data := range [][]byte{dataA, dataB} {
		ur, ok, err := pt.GetRange([]bool{true, true})
		if err != nil || !ok {
			t.Fatalf("GetRange %d failed: ok=%v err=%v", i, ok, err)
		}
		lr, err := ur.GetLock(0)
		if err != nil {
			t.Fatalf("GetLock failed: %v", err)
		}
		if err := lr.Write(lr.Range().Begin, data); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		lr.Release()
		ur.Release()
	}

	pt.mu.Lock()
	numCaches := len(pt.caches)
	pt.mu.Unlock()
	if numCaches != 0 {
		t.Fatalf("expected no cache files for non-boundary chunks, got %d", numCaches)
	}
}

// A torrent where chunkSize straddles the boundary between two sub-files:
// the single chunk covering both requires a CacheFile, and verifying it
// drives EventVerified then EventComplete.
func TestBoundaryChunkUsesCacheFileAndVerifies(t *testing.T) {
	const chunkSize = 2048
	pt, _ := newTestTorrent(t, []uint64{1024, 1024}, chunkSize)

	events := make(chan Event, 32)
	pt.Subscribe(func(e Event) { events <- e })

	full := bytes.Repeat([]byte("Q"), int(chunkSize))
	ref := crypto.ChunkDigest(full, 0)
	pt.AddHashSet(map[uint64]crypto.Hash{0: ref})

	ur, ok, err := pt.GetRange([]bool{true})
	if err != nil || !ok {
		t.Fatalf("GetRange failed: ok=%v err=%v", ok, err)
	}
	lr, err := ur.GetLock(0)
	if err != nil {
		t.Fatalf("GetLock failed: %v", err)
	}
	if err := lr.Write(0, full); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	lr.Release()
	ur.Release()

	waitForTorrentEvent(t, events, EventVerified)
	waitForTorrentEvent(t, events, EventComplete)
}

// ExcludeFile keeps GetRange from ever handing out a chunk wholly inside
// the excluded sub-file.
func TestExcludeFileRemovesChunkFromSelection(t *testing.T) {
	const chunkSize = 1024
	pt, _ := newTestTorrent(t, []uint64{1024, 1024}, chunkSize)

	if err := pt.ExcludeFile(0); err != nil {
		t.Fatalf("ExcludeFile failed: %v", err)
	}

	ur, ok, err := pt.GetRange([]bool{true, true})
	if err != nil || !ok {
		t.Fatalf("GetRange failed: ok=%v err=%v", ok, err)
	}
	if ur.Range().Begin != 1024 {
		t.Fatalf("expected only the second chunk to be selectable, got range %v", ur.Range())
	}
}

func TestWriteOutsideTorrentLockFails(t *testing.T) {
	pt, _ := newTestTorrent(t, []uint64{1024}, 1024)
	ur, ok, err := pt.GetRange([]bool{true})
	if err != nil || !ok {
		t.Fatalf("GetRange failed: ok=%v err=%v", ok, err)
	}
	lr, err := ur.GetLock(100)
	if err != nil {
		t.Fatalf("GetLock failed: %v", err)
	}
	if err := lr.Write(200, []byte("x")); err != ErrLockViolation {
		t.Fatalf("expected ErrLockViolation, got %v", err)
	}
}

// A boundary chunk that fails verification must become re-selectable: its
// CacheFile is discarded, its covering children's completed ranges are
// rolled back, and a second, correct write drives the torrent to
// completion.
func TestBoundaryChunkCorruptionRecovers(t *testing.T) {
	const chunkSize = 2048
	pt, _ := newTestTorrent(t, []uint64{1024, 1024}, chunkSize)

	events := make(chan Event, 32)
	pt.Subscribe(func(e Event) { events <- e })

	full := bytes.Repeat([]byte("Q"), int(chunkSize))
	ref := crypto.ChunkDigest(full, 0)
	pt.AddHashSet(map[uint64]crypto.Hash{0: ref})

	ur, ok, err := pt.GetRange([]bool{true})
	if err != nil || !ok {
		t.Fatalf("GetRange failed: ok=%v err=%v", ok, err)
	}
	lr, err := ur.GetLock(0)
	if err != nil {
		t.Fatalf("GetLock failed: %v", err)
	}
	bad := bytes.Repeat([]byte("X"), int(chunkSize))
	if err := lr.Write(0, bad); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	lr.Release()
	ur.Release()

	waitForTorrentEvent(t, events, EventCorruption)

	pt.mu.Lock()
	numCaches := len(pt.caches)
	pt.mu.Unlock()
	if numCaches != 0 {
		t.Fatalf("expected corrupt chunk's cache file to be discarded, got %d remaining", numCaches)
	}

	for _, f := range pt.Files() {
		if len(f.PD.Complete()) != 0 {
			t.Fatalf("expected child's completed range rolled back, got %v", f.PD.Complete())
		}
	}

	ur2, ok, err := pt.GetRange([]bool{true})
	if err != nil || !ok {
		t.Fatalf("expected corrupt chunk to be re-selectable: ok=%v err=%v", ok, err)
	}
	lr2, err := ur2.GetLock(0)
	if err != nil {
		t.Fatalf("GetLock failed: %v", err)
	}
	if err := lr2.Write(0, full); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	lr2.Release()
	ur2.Release()

	waitForTorrentEvent(t, events, EventVerified)
	waitForTorrentEvent(t, events, EventComplete)
}

func TestCancelDestroysChildrenAndCaches(t *testing.T) {
	const chunkSize = 2048
	pt, _ := newTestTorrent(t, []uint64{1024, 1024}, chunkSize)

	full := bytes.Repeat([]byte("Z"), int(chunkSize))
	ur, _, _ := pt.GetRange([]bool{true})
	lr, _ := ur.GetLock(1024)
	lr.Write(0, full[:1024])
	lr.Release()
	ur.Release()

	pt.mu.Lock()
	var cachePath string
	for _, c := range pt.caches {
		cachePath = c.Path()
	}
	pt.mu.Unlock()

	pt.Cancel()

	if cachePath != "" {
		if _, err := os.Stat(cachePath); !os.IsNotExist(err) {
			t.Fatalf("expected cache file removed on cancel")
		}
	}
}
