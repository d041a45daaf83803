package torrent

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/alosarv/hydra/rangeset"
)

// CacheFile mirrors the bytes of a single boundary-crossing chunk into its
// own temp file, so the chunk can be hashed as one contiguous read without
// opening every sub-file it straddles. Exactly one
// CacheFile exists per boundary-crossing chunk, covering all its sub-file slices; its
// filename encodes the chunk index and an incrementing tie-breaker to keep
// names unique across re-creations of the same chunk index.
type CacheFile struct {
	mu      sync.Mutex
	path    string
	chunk   uint64
	written *rangeset.List
}

func newCacheFile(dir string, chunkIndex uint64, tie int) (*CacheFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("chunk-%d-%d.cache", chunkIndex, tie)
	return &CacheFile{
		path:    filepath.Join(dir, name),
		chunk:   chunkIndex,
		written: rangeset.NewList(),
	}, nil
}

// Path returns the cache file's on-disk location.
func (c *CacheFile) Path() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.path
}

// ChunkIndex returns the torrent-wide chunk index this cache mirrors.
func (c *CacheFile) ChunkIndex() uint64 {
	return c.chunk
}

// WriteAt mirrors data at localOffset (relative to the start of the
// chunk, not the torrent) into the cache file.
func (c *CacheFile) WriteAt(localOffset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	c.mu.Lock()
	path := c.path
	c.mu.Unlock()

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteAt(data, int64(localOffset)); err != nil {
		return err
	}

	c.mu.Lock()
	c.written.Insert(rangeset.Range{Begin: localOffset, End: localOffset + uint64(len(data)) - 1})
	c.mu.Unlock()
	return nil
}

// ContainsFull reports whether the cache holds every byte of [0, length-1].
func (c *CacheFile) ContainsFull(length uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if length == 0 {
		return true
	}
	return c.written.ContainsFull(rangeset.Range{Begin: 0, End: length - 1})
}

// Delete removes the cache file from disk. Callers keep a paused
// sub-file's cache until resume, and delete it on cancel or once the
// torrent marks the covering chunk complete.
func (c *CacheFile) Delete() error {
	c.mu.Lock()
	path := c.path
	c.mu.Unlock()
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
