package sharedfile

import (
	"sync"

	"github.com/alosarv/hydra/crypto"
)

// Metadata is the identity record a SharedFile associates with a file: its
// name, size, modification time at the point it was last hashed, digest,
// and cumulative uploaded byte count.
type Metadata struct {
	Name     string
	Size     uint64
	ModTime  int64
	Hash     crypto.Hash
	HasHash  bool
	Uploaded uint64
}

// MetaDb is the external identity-store collaborator this module expects:
// lookup by name+size+mtime, lookup by digest, insert, remove. The store
// itself is out of scope; this module only defines the interface
// FilesList consumes, plus a minimal in-memory
// implementation for tests and standalone use.
type MetaDb interface {
	LookupByNameSizeModTime(name string, size uint64, modTime int64) (Metadata, bool)
	LookupByHash(h crypto.Hash) (Metadata, bool)
	Insert(m Metadata) error
	Remove(h crypto.Hash) error
}

type nameSizeModTimeKey struct {
	name    string
	size    uint64
	modTime int64
}

// memMetaDb is a process-local MetaDb, sufficient for a single hydrad
// instance; it keeps no file on disk of its own.
type memMetaDb struct {
	mu      sync.Mutex
	byHash  map[crypto.Hash]Metadata
	byNSMT  map[nameSizeModTimeKey]crypto.Hash
}

// NewMemMetaDb returns an in-memory MetaDb.
func NewMemMetaDb() MetaDb {
	return &memMetaDb{
		byHash: make(map[crypto.Hash]Metadata),
		byNSMT: make(map[nameSizeModTimeKey]crypto.Hash),
	}
}

func (d *memMetaDb) LookupByNameSizeModTime(name string, size uint64, modTime int64) (Metadata, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.byNSMT[nameSizeModTimeKey{name, size, modTime}]
	if !ok {
		return Metadata{}, false
	}
	m, ok := d.byHash[h]
	return m, ok
}

func (d *memMetaDb) LookupByHash(h crypto.Hash) (Metadata, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.byHash[h]
	return m, ok
}

func (d *memMetaDb) Insert(m Metadata) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !m.HasHash {
		return nil
	}
	d.byHash[m.Hash] = m
	d.byNSMT[nameSizeModTimeKey{m.Name, m.Size, m.ModTime}] = m.Hash
	return nil
}

func (d *memMetaDb) Remove(h crypto.Hash) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m, ok := d.byHash[h]; ok {
		delete(d.byNSMT, nameSizeModTimeKey{m.Name, m.Size, m.ModTime})
	}
	delete(d.byHash, h)
	return nil
}
