package sharedfile

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

func newTestFilesList(t *testing.T) (*FilesList, string) {
	t.Helper()
	dir := build.TempDir("sharedfile", t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	io := iothread.New(nil, 0, 0)
	t.Cleanup(func() { io.Close() })

	fl, err := NewFilesList(io, NewMemMetaDb(), filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fl.Close() })
	return fl, dir
}

func waitForSFEvent(t *testing.T, ch <-chan Event, want EventKind) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Kind == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %v", want)
		}
	}
}

func TestAddFileComputesIdentity(t *testing.T) {
	fl, dir := newTestFilesList(t)

	path := filepath.Join(dir, "movie.bin")
	data := bytes.Repeat([]byte("Q"), 4096)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	sf, err := fl.AddFile(path)
	if err != nil {
		t.Fatalf("AddFile failed: %v", err)
	}

	events := make(chan Event, 8)
	sf.Subscribe(func(e Event) { events <- e })
	waitForSFEvent(t, events, EventMetaDataAdded)

	meta, ok := sf.Metadata()
	if !ok || !meta.HasHash {
		t.Fatalf("expected identified metadata, got %+v ok=%v", meta, ok)
	}
	want := crypto.ChunkDigest(data, 0)
	if meta.Hash != want {
		t.Fatalf("expected hash %v, got %v", want, meta.Hash)
	}
}

func TestReadRejectsIncompleteRange(t *testing.T) {
	fl, dir := newTestFilesList(t)

	location := filepath.Join(dir, "dl.part")
	dest := filepath.Join(dir, "dl.bin")
	sf, err := fl.CreateDownload(location, dest, 1024, partdata.Config{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := sf.Read(0, 1023); err != ErrInvalidRange {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func TestReadServesCompletedRange(t *testing.T) {
	fl, dir := newTestFilesList(t)

	location := filepath.Join(dir, "dl.part")
	dest := filepath.Join(dir, "dl.bin")
	const size = 1024
	sf, err := fl.CreateDownload(location, dest, size, partdata.Config{})
	if err != nil {
		t.Fatal(err)
	}

	pd := sf.PartData()
	data := bytes.Repeat([]byte("R"), size)
	ref := crypto.ChunkDigest(data, 0)
	pd.AddHashSet(size, map[uint64]crypto.Hash{0: ref})

	ur, ok, err := pd.GetRange(size, []bool{true})
	if err != nil || !ok {
		t.Fatalf("GetRange failed: ok=%v err=%v", ok, err)
	}
	lr, err := ur.GetLock(0)
	if err != nil {
		t.Fatal(err)
	}
	if err := lr.Write(0, data); err != nil {
		t.Fatal(err)
	}
	lr.Release()
	ur.Release()

	events := make(chan Event, 8)
	sf.Subscribe(func(e Event) { events <- e })
	waitForSFEvent(t, events, EventDlComplete)

	got, err := sf.Read(0, size-1)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read back mismatched data")
	}

	meta, _ := sf.Metadata()
	if meta.Uploaded != size {
		t.Fatalf("expected uploaded=%d, got %d", size, meta.Uploaded)
	}
}

func TestDuplicateCompleteCancelsPartial(t *testing.T) {
	fl, dir := newTestFilesList(t)

	data := bytes.Repeat([]byte("D"), 2048)
	digest := crypto.ChunkDigest(data, 0)

	completePath := filepath.Join(dir, "complete.bin")
	if err := os.WriteFile(completePath, data, 0644); err != nil {
		t.Fatal(err)
	}

	location := filepath.Join(dir, "dup.part")
	dest := filepath.Join(dir, "dup.bin")
	partialSF, err := fl.CreateDownload(location, dest, uint64(len(data)), partdata.Config{})
	if err != nil {
		t.Fatal(err)
	}
	partialSF.mu.Lock()
	partialSF.meta.Hash = digest
	partialSF.meta.HasHash = true
	partialSF.hasMeta = true
	partialSF.mu.Unlock()
	fl.resolveDuplicate(partialSF)

	completeSF, err := fl.AddFile(completePath)
	if err != nil {
		t.Fatal(err)
	}
	completeSF.mu.Lock()
	completeSF.meta.Hash = digest
	completeSF.meta.HasHash = true
	completeSF.hasMeta = true
	completeSF.mu.Unlock()
	fl.resolveDuplicate(completeSF)

	if _, ok := fl.Get(partialSF.ID()); ok {
		t.Fatalf("expected the partial duplicate to be destroyed")
	}
	if _, ok := fl.Get(completeSF.ID()); !ok {
		t.Fatalf("expected the complete copy to remain registered")
	}
}
