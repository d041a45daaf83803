package iothread

import (
	"io"
	"os"

	"gitlab.com/NebulousLabs/errors"

	"github.com/alosarv/hydra/crypto"
)

// processHash reads the bytes named by job sequentially, switching to the
// next path when the current one is exhausted, and compares their digest
// against job.Reference.
func (t *IOThread) processHash(job HashJob) HashResult {
	r, closeAll, err := t.openMultiFileRange(job)
	if err != nil {
		return HashResult{Job: job, Outcome: HashFatalError, Err: err}
	}
	defer closeAll()

	digest, err := t.hashReader(r, job.LeafSize)
	if err != nil {
		return HashResult{Job: job, Outcome: HashFatalError, Err: err}
	}

	if !job.HasReference {
		return HashResult{Job: job, Outcome: HashVerified, Computed: digest}
	}
	if digest == job.Reference {
		return HashResult{Job: job, Outcome: HashVerified, Computed: digest}
	}
	return HashResult{Job: job, Outcome: HashFailed, Computed: digest}
}

// hashReader drains r through a Merkle tree built over job.LeafSize chunks
// and returns the root, rate-limited by the thread's configured disk
// bandwidth.
func (t *IOThread) hashReader(r io.Reader, leafSize int) (crypto.Hash, error) {
	limited := t.limitReader(r)
	data, err := io.ReadAll(limited)
	if err != nil {
		return crypto.Hash{}, err
	}
	return crypto.ChunkDigest(data, leafSize), nil
}

// openMultiFileRange opens job.Paths and wraps them as a single io.Reader
// spanning [job.Begin, job.End], where Begin is relative to the first path
// and End is relative to the last path; every path in between is read in
// full. The returned close function must always be called.
func (t *IOThread) openMultiFileRange(job HashJob) (io.Reader, func(), error) {
	if len(job.Paths) == 0 {
		return nil, func() {}, errors.New("hash job has no paths")
	}
	var readers []io.Reader
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	for i, path := range job.Paths {
		f, err := os.Open(path)
		if err != nil {
			closeAll()
			return nil, func() {}, errors.AddContext(err, "unable to open "+path)
		}
		files = append(files, f)

		switch {
		case len(job.Paths) == 1:
			if _, err := f.Seek(int64(job.Begin), io.SeekStart); err != nil {
				closeAll()
				return nil, func() {}, err
			}
			readers = append(readers, io.LimitReader(f, int64(job.End-job.Begin+1)))
		case i == 0:
			if _, err := f.Seek(int64(job.Begin), io.SeekStart); err != nil {
				closeAll()
				return nil, func() {}, err
			}
			readers = append(readers, f)
		case i == len(job.Paths)-1:
			readers = append(readers, io.LimitReader(f, int64(job.End+1)))
		default:
			readers = append(readers, f)
		}
	}
	return io.MultiReader(readers...), closeAll, nil
}
