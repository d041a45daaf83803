package sharedfile

import (
	"path/filepath"
	"sync"

	"gitlab.com/NebulousLabs/bolt"
	"gitlab.com/NebulousLabs/encoding"
	"gitlab.com/NebulousLabs/errors"

	"github.com/alosarv/hydra/crypto"
	"github.com/alosarv/hydra/iothread"
	"github.com/alosarv/hydra/partdata"
)

var bucketPathIndex = []byte("PathIndex")

// FilesList is the owning collection every SharedFile lives in: it scans
// the temp and shared directories, creates new downloads, and resolves
// duplicate-digest detection across every registered SharedFile. Its
// bolt.DB-backed path->identifier index exists purely to make startup
// scanning fast; it is separate from the out-of-scope MetaDb identity
// store.
type FilesList struct {
	mu sync.Mutex

	db     *bolt.DB
	io     *iothread.IOThread
	metaDb MetaDb

	nextID uint64
	byID   map[ID]*SharedFile
	byHash map[crypto.Hash]ID
}

// NewFilesList opens (creating if necessary) the path index at indexPath
// and returns an empty FilesList.
func NewFilesList(io *iothread.IOThread, metaDb MetaDb, indexPath string) (*FilesList, error) {
	db, err := bolt.Open(indexPath, 0600, nil)
	if err != nil {
		return nil, errors.AddContext(err, "unable to open files list index")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPathIndex)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.AddContext(err, "unable to initialize files list index")
	}

	return &FilesList{
		db:     db,
		io:     io,
		metaDb: metaDb,
		byID:   make(map[ID]*SharedFile),
		byHash: make(map[crypto.Hash]ID),
	}, nil
}

// Close releases the index database.
func (fl *FilesList) Close() error {
	return fl.db.Close()
}

// Get resolves an opaque ID to its SharedFile, the lookup peers and the
// upload component use instead of holding a SharedFile pointer directly.
func (fl *FilesList) Get(id ID) (*SharedFile, bool) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	sf, ok := fl.byID[id]
	return sf, ok
}

// All returns every currently registered SharedFile.
func (fl *FilesList) All() []*SharedFile {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	out := make([]*SharedFile, 0, len(fl.byID))
	for _, sf := range fl.byID {
		out = append(out, sf)
	}
	return out
}

func (fl *FilesList) register(sf *SharedFile) {
	fl.mu.Lock()
	fl.byID[sf.id] = sf
	fl.mu.Unlock()

	fl.indexPath(sf.location, sf.id)
	sf.Subscribe(func(e Event) { fl.onEvent(sf, e) })
}

func (fl *FilesList) onEvent(sf *SharedFile, e Event) {
	switch e.Kind {
	case EventMetaDataAdded:
		fl.resolveDuplicate(sf)
	case EventDlComplete:
		fl.indexPath(sf.Location(), sf.id)
	case EventDestroy:
		fl.mu.Lock()
		delete(fl.byID, sf.id)
		if m, ok := sf.Metadata(); ok && m.HasHash {
			delete(fl.byHash, m.Hash)
		}
		fl.mu.Unlock()
	}
}

// resolveDuplicate enforces the duplicate-detection rule: after metadata
// becomes available, if another SharedFile shares a file-hash digest, the
// current one is destroyed; if the duplicate was partial and this one is
// a complete copy, the duplicate's download is cancelled and the duplicate
// SharedFile is destroyed, leaving this one registered under the digest.
// The partial SharedFile does not take over this one's location.
func (fl *FilesList) resolveDuplicate(sf *SharedFile) {
	meta, ok := sf.Metadata()
	if !ok || !meta.HasHash {
		return
	}

	fl.mu.Lock()
	existingID, found := fl.byHash[meta.Hash]
	fl.mu.Unlock()

	if !found {
		fl.mu.Lock()
		fl.byHash[meta.Hash] = sf.id
		fl.mu.Unlock()
		return
	}
	if existingID == sf.id {
		return
	}

	existing, ok := fl.Get(existingID)
	if !ok {
		fl.mu.Lock()
		fl.byHash[meta.Hash] = sf.id
		fl.mu.Unlock()
		return
	}

	if existing.IsPartial() && !sf.IsPartial() {
		if pd := existing.PartData(); pd != nil {
			pd.Cancel()
		}
		existing.destroy()
		fl.mu.Lock()
		fl.byHash[meta.Hash] = sf.id
		fl.mu.Unlock()
		return
	}

	sf.destroy()
}

func (fl *FilesList) indexPath(path string, id ID) error {
	return fl.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPathIndex)
		return b.Put([]byte(path), encoding.Marshal(uint64(id)))
	})
}

// LookupPath returns the ID indexed for path, if any, letting a scan skip
// files it has already seen.
func (fl *FilesList) LookupPath(path string) (ID, bool) {
	var id uint64
	var found bool
	fl.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketPathIndex).Get([]byte(path))
		if v == nil {
			return nil
		}
		found = true
		return encoding.Unmarshal(v, &id)
	})
	return ID(id), found
}

func (fl *FilesList) allocID() ID {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	fl.nextID++
	return ID(fl.nextID)
}

// AddFile registers a complete on-disk file with the list.
func (fl *FilesList) AddFile(path string) (*SharedFile, error) {
	if id, ok := fl.LookupPath(path); ok {
		if sf, ok := fl.Get(id); ok {
			return sf, nil
		}
	}
	sf, err := FromFile(fl.allocID(), path, fl.io, fl.metaDb)
	if err != nil {
		return nil, err
	}
	fl.register(sf)
	return sf, nil
}

// CreateDownload builds a fresh PartData for a new in-progress download
// and wraps it in a SharedFile.
func (fl *FilesList) CreateDownload(location, destination string, size uint64, cfg partdata.Config) (*SharedFile, error) {
	pd, err := partdata.New(fl.io, location, destination, size, cfg)
	if err != nil {
		return nil, err
	}
	sf := FromPartData(fl.allocID(), pd, destination, fl.io, fl.metaDb)
	fl.register(sf)
	return sf, nil
}

// LoadDownload resumes a previously persisted download from its sidecar
// file.
func (fl *FilesList) LoadDownload(location, destination string, size uint64, cfg partdata.Config) (*SharedFile, error) {
	pd, err := partdata.Load(fl.io, location, size, cfg)
	if err != nil {
		return nil, err
	}
	sf := FromPartData(fl.allocID(), pd, destination, fl.io, fl.metaDb)
	fl.register(sf)
	return sf, nil
}

// Scan walks dir non-recursively, registering every regular file not
// already indexed as a complete SharedFile.
func (fl *FilesList) Scan(dir string) ([]*SharedFile, error) {
	entries, err := readDirNames(dir)
	if err != nil {
		return nil, err
	}
	var added []*SharedFile
	for _, name := range entries {
		path := filepath.Join(dir, name)
		if _, ok := fl.LookupPath(path); ok {
			continue
		}
		sf, err := fl.AddFile(path)
		if err != nil {
			continue
		}
		added = append(added, sf)
	}
	return added, nil
}
