package partdata

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alosarv/hydra/build"
	"github.com/alosarv/hydra/crypto"
	"github.com/alosarv/hydra/iothread"
)

func newTestPartData(t *testing.T, size uint64) (*PartData, string) {
	t.Helper()
	dir := build.TempDir("partdata", t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	location := filepath.Join(dir, "download.part")
	dest := filepath.Join(dir, "dest", "download.bin")
	io := iothread.New(nil, 0, 0)
	t.Cleanup(func() { io.Close() })

	pd, err := New(io, location, dest, size, Config{})
	if err != nil {
		t.Fatal(err)
	}
	return pd, dest
}

func waitForEvent(t *testing.T, ch <-chan Event, want EventKind) Event {
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

// Scenario A - single-chunk file, successful download.
func TestScenarioASingleChunkSuccess(t *testing.T) {
	const size = 1024
	pd, dest := newTestPartData(t, size)

	events := make(chan Event, 32)
	pd.Subscribe(func(e Event) { events <- e })

	data := bytes.Repeat([]byte("A"), size)
	ref := crypto.ChunkDigest(data, 0)
	pd.AddHashSet(size, map[uint64]crypto.Hash{0: ref})

	ur, ok, err := pd.GetRange(size, []bool{true})
	if err != nil || !ok {
		t.Fatalf("GetRange failed: ok=%v err=%v", ok, err)
	}
	lr, err := ur.GetLock(0)
	if err != nil {
		t.Fatalf("GetLock failed: %v", err)
	}
	if err := lr.Write(0, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	lr.Release()
	ur.Release()

	waitForEvent(t, events, EventVerified)
	waitForEvent(t, events, EventComplete)

	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected file at destination: %v", err)
	}
}

// Scenario B - corruption and recovery.
func TestScenarioBCorruptionAndRecovery(t *testing.T) {
	const size = 2048
	const chunkSize = 1024
	pd, dest := newTestPartData(t, size)

	events := make(chan Event, 32)
	pd.Subscribe(func(e Event) { events <- e })

	d0 := bytes.Repeat([]byte("A"), chunkSize)
	d1 := bytes.Repeat([]byte("B"), chunkSize)
	pd.AddHashSet(chunkSize, map[uint64]crypto.Hash{
		0: crypto.ChunkDigest(d0, 0),
		1: crypto.ChunkDigest(d1, 0),
	})

	urA, _, _ := pd.GetRange(chunkSize, []bool{true, false})
	lrA, _ := urA.GetLock(0)
	lrA.Write(lrA.Range().Begin, bytes.Repeat([]byte("X"), chunkSize))
	lrA.Release()
	urA.Release()

	urB, _, _ := pd.GetRange(chunkSize, []bool{false, true})
	lrB, _ := urB.GetLock(0)
	lrB.Write(lrB.Range().Begin, d1)
	lrB.Release()
	urB.Release()

	waitForEvent(t, events, EventCorruption)

	corrupt := pd.Corrupt()
	if len(corrupt) != 1 || corrupt[0].Begin != 0 || corrupt[0].End != chunkSize-1 {
		t.Fatalf("expected corrupt=[0,%d], got %v", chunkSize-1, corrupt)
	}

	ur2, ok, err := pd.GetRange(chunkSize, []bool{true, true})
	if err != nil || !ok {
		t.Fatalf("second GetRange failed: ok=%v err=%v", ok, err)
	}
	lr2, err := ur2.GetLock(0)
	if err != nil {
		t.Fatalf("GetLock after corruption failed: %v", err)
	}
	if err := lr2.Write(0, d0); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}
	lr2.Release()
	ur2.Release()

	waitForEvent(t, events, EventComplete)
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("expected file at destination: %v", err)
	}
}

// Scenario C - concurrent peers, no overlap.
func TestScenarioCConcurrentPeersNoOverlap(t *testing.T) {
	const size = 3 * 1024
	const chunkSize = 1024
	pd, _ := newTestPartData(t, size)
	bitmap := []bool{true, true, true}
	pd.AddSourceMask(chunkSize, make([]bool, 3))
	seen := map[uint64]bool{}
	for i := 0; i < 3; i++ {
		ur, ok, err := pd.GetRange(chunkSize, bitmap)
		if err != nil || !ok {
			t.Fatalf("GetRange %d failed: ok=%v err=%v", i, ok, err)
		}
		r := ur.Range()
		idx := r.Begin / chunkSize
		if seen[idx] {
			t.Fatalf("chunk %d picked twice", idx)
		}
		seen[idx] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct chunks, got %d", len(seen))
	}
}

// Scenario D - pause during write.
func TestScenarioDPauseDuringWrite(t *testing.T) {
	const size = 1024
	pd, _ := newTestPartData(t, size)

	ur, ok, err := pd.GetRange(size, []bool{true})
	if err != nil || !ok {
		t.Fatalf("GetRange failed: ok=%v err=%v", ok, err)
	}
	lr, err := ur.GetLock(512)
	if err != nil {
		t.Fatalf("GetLock failed: %v", err)
	}

	pd.Pause()
	if err := lr.Write(0, bytes.Repeat([]byte("Z"), 512)); err != ErrNotRunning {
		t.Fatalf("expected ErrNotRunning while paused, got %v", err)
	}

	locked := pd.Locked()
	if len(locked) != 1 {
		t.Fatalf("expected lock to still be held, got %v", locked)
	}

	pd.Resume()
	if err := lr.Write(0, bytes.Repeat([]byte("Z"), 512)); err != nil {
		t.Fatalf("write after resume failed: %v", err)
	}
}

func TestPauseResumeIdempotent(t *testing.T) {
	pd, _ := newTestPartData(t, 1024)
	pd.Pause()
	pd.Pause()
	if pd.State() != Paused {
		t.Fatalf("expected Paused, got %v", pd.State())
	}
	pd.Resume()
	pd.Resume()
	if pd.State() != Running {
		t.Fatalf("expected Running, got %v", pd.State())
	}
}

func TestCancelRemovesFiles(t *testing.T) {
	pd, _ := newTestPartData(t, 1024)
	loc := pd.Location()
	os.WriteFile(loc, []byte("partial"), 0644)

	pd.Cancel()
	if _, err := os.Stat(loc); !os.IsNotExist(err) {
		t.Fatalf("expected part file removed")
	}
	pd.Cancel() // idempotent, should not panic
}

func TestWriteOutsideLockFails(t *testing.T) {
	pd, _ := newTestPartData(t, 1024)
	ur, ok, err := pd.GetRange(1024, []bool{true})
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

func TestSaveLoadRoundTrip(t *testing.T) {
	const size = 2048
	const chunkSize = 1024
	pd, dest := newTestPartData(t, size)
	_ = dest

	d0 := bytes.Repeat([]byte("A"), chunkSize)
	ref := crypto.ChunkDigest(d0, 0)
	pd.AddHashSet(chunkSize, map[uint64]crypto.Hash{0: ref})

	ur, _, _ := pd.GetRange(chunkSize, []bool{true, false})
	lr, _ := ur.GetLock(0)
	lr.Write(0, d0)
	lr.Release()
	ur.Release()

	waitUntilVerified(t, pd, rangeTuple{0, chunkSize - 1})

	if err := pd.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	io2 := iothread.New(nil, 0, 0)
	defer io2.Close()
	loaded, err := Load(io2, pd.Location(), size, Config{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Downloaded() != uint64(chunkSize) {
		t.Fatalf("expected downloaded=%d, got %d", chunkSize, loaded.Downloaded())
	}
	gotVerified := loaded.Verified()
	if len(gotVerified) != 1 || gotVerified[0].Begin != 0 || gotVerified[0].End != chunkSize-1 {
		t.Fatalf("expected verified=[0,%d], got %v", chunkSize-1, gotVerified)
	}
}

type rangeTuple struct{ begin, end uint64 }

func waitUntilVerified(t *testing.T, pd *PartData, want rangeTuple) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v := pd.Verified()
		for _, r := range v {
			if r.Begin == want.begin && r.End == want.end {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for verified range [%d,%d]", want.begin, want.end)
}
