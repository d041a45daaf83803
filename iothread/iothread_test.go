package iothread

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alosarv/hydra/build"
	"github.com/alosarv/hydra/crypto"
)

func newTestThread(t *testing.T) *IOThread {
	t.Helper()
	return New(nil, 0, 0)
}

func TestHashVerifiedMatch(t *testing.T) {
	dir := build.TempDir("iothread", t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "file.bin")
	data := []byte("AAAAAAAAAAAAAAAA")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	ref := crypto.ChunkDigest(data, 0)

	it := newTestThread(t)
	defer it.Close()

	done := make(chan HashResult, 1)
	it.SubmitHash(HashJob{
		Paths: []string{path}, Begin: 0, End: uint64(len(data) - 1),
		Reference: ref, HasReference: true,
	}, func(r HashResult) { done <- r })

	select {
	case r := <-done:
		if r.Outcome != HashVerified {
			t.Fatalf("expected HashVerified, got %v (err=%v)", r.Outcome, r.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hash result")
	}
}

func TestHashFailedMismatch(t *testing.T) {
	dir := build.TempDir("iothread", t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "file.bin")
	if err := os.WriteFile(path, []byte("AAAA"), 0644); err != nil {
		t.Fatal(err)
	}
	var wrongRef crypto.Hash
	wrongRef[0] = 1

	it := newTestThread(t)
	defer it.Close()

	done := make(chan HashResult, 1)
	it.SubmitHash(HashJob{
		Paths: []string{path}, Begin: 0, End: 3,
		Reference: wrongRef, HasReference: true,
	}, func(r HashResult) { done <- r })

	r := <-done
	if r.Outcome != HashFailed {
		t.Fatalf("expected HashFailed, got %v", r.Outcome)
	}
}

func TestMoveRenameSameVolume(t *testing.T) {
	dir := build.TempDir("iothread", t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "src.bin")
	dest := filepath.Join(dir, "sub", "dest.bin")
	if err := os.WriteFile(src, []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}

	it := newTestThread(t)
	defer it.Close()

	done := make(chan MoveResult, 1)
	it.SubmitMove(MoveJob{Src: src, Dest: dest}, func(r MoveResult) { done <- r })
	r := <-done
	if r.Err != nil {
		t.Fatalf("unexpected error: %v", r.Err)
	}
	if r.FinalDest != dest {
		t.Fatalf("got final dest %q, want %q", r.FinalDest, dest)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source should no longer exist")
	}
}

func TestMoveDisambiguatesExistingDest(t *testing.T) {
	dir := build.TempDir("iothread", t.Name())
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "src.bin")
	dest := filepath.Join(dir, "dest.bin")
	if err := os.WriteFile(src, []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	it := newTestThread(t)
	defer it.Close()

	done := make(chan MoveResult, 1)
	it.SubmitMove(MoveJob{Src: src, Dest: dest}, func(r MoveResult) { done <- r })
	r := <-done
	if r.Err != nil {
		t.Fatalf("unexpected error: %v", r.Err)
	}
	wantDest := filepath.Join(dir, "_dest.bin")
	if r.FinalDest != wantDest {
		t.Fatalf("got final dest %q, want %q", r.FinalDest, wantDest)
	}
}

func TestPauseBlocksWorker(t *testing.T) {
	it := newTestThread(t)
	defer it.Close()

	pauser := it.Pause()
	done := make(chan AllocResult, 1)
	dir := build.TempDir("iothread", t.Name())
	os.MkdirAll(dir, 0700)
	path := filepath.Join(dir, "alloc.bin")
	it.SubmitAlloc(AllocJob{Path: path, Size: 8}, func(r AllocResult) { done <- r })

	select {
	case <-done:
		t.Fatal("alloc job ran while paused")
	case <-time.After(100 * time.Millisecond):
	}

	pauser.Release()
	select {
	case r := <-done:
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("alloc job never ran after resume")
	}
}
