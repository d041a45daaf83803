package chunkmap

import "testing"

func TestPickChunkRarestFirst(t *testing.T) {
	m := New(1024, 3*1024)
	bitmap := []bool{true, true, true}
	m.OnAvailabilityChanged([]bool{true, false, false}, 1)
	m.OnAvailabilityChanged([]bool{true, true, false}, 1)
	// availability: chunk0=2, chunk1=1, chunk2=0
	idx, ok := m.PickChunk(bitmap, false)
	if !ok || idx != 2 {
		t.Fatalf("expected rarest chunk 2, got %d (ok=%v)", idx, ok)
	}
}

func TestPickChunkSkipsFull(t *testing.T) {
	m := New(1024, 2*1024)
	m.SetProgress(0, Full)
	idx, ok := m.PickChunk(nil, false)
	if !ok || idx != 1 {
		t.Fatalf("expected only remaining chunk 1, got %d (ok=%v)", idx, ok)
	}
}

func TestPickChunkNoneAvailable(t *testing.T) {
	m := New(1024, 1024)
	m.SetProgress(0, Full)
	if _, ok := m.PickChunk(nil, false); ok {
		t.Fatal("expected no candidate chunk")
	}
}

func TestPickChunkPrefersPartial(t *testing.T) {
	m := New(1024, 2*1024)
	m.SetProgress(0, Partial)
	idx, ok := m.PickChunk(nil, false)
	if !ok || idx != 0 {
		t.Fatalf("expected partial chunk 0 preferred, got %d", idx)
	}
}

func TestPickChunkAvoidUsed(t *testing.T) {
	m := New(1024, 2*1024)
	m.IncUseCount(0)
	idx, ok := m.PickChunk(nil, true)
	if !ok || idx != 1 {
		t.Fatalf("expected unused chunk 1 preferred, got %d", idx)
	}
}

func TestUseCountRoundtrip(t *testing.T) {
	m := New(1024, 1024)
	m.IncUseCount(0)
	m.IncUseCount(0)
	m.DecUseCount(0)
	if got := m.chunks[0].UseCount; got != 1 {
		t.Fatalf("got use count %d, want 1", got)
	}
	m.DecUseCount(0)
	m.DecUseCount(0) // must not go negative
	if got := m.chunks[0].UseCount; got != 0 {
		t.Fatalf("got use count %d, want 0", got)
	}
}

func TestFullSourceAppliesToEveryChunk(t *testing.T) {
	m := New(1024, 3*1024)
	m.AddFullSource()
	for i := uint64(0); i < m.ChunkCount(); i++ {
		if m.chunks[i].Availability != 1 {
			t.Fatalf("chunk %d availability = %d, want 1", i, m.chunks[i].Availability)
		}
	}
	m.DelFullSource()
	for i := uint64(0); i < m.ChunkCount(); i++ {
		if m.chunks[i].Availability != 0 {
			t.Fatalf("chunk %d availability = %d, want 0", i, m.chunks[i].Availability)
		}
	}
}

func TestChunkRangeClampsToFileSize(t *testing.T) {
	m := New(1024, 1500)
	r := m.ChunkRange(1)
	if r.Begin != 1024 || r.End != 1499 {
		t.Fatalf("got %v, want [1024, 1499]", r)
	}
}
