package iothread

import (
	"io"
	"os"
	"path/filepath"

	"gitlab.com/NebulousLabs/errors"
)

// processMove moves a completed download into place: when the source
// and destination share a volume, rename; otherwise copy then
// remove. If dest already exists, an underscore is prepended until a free
// path is found. Missing parent directories are created.
func (t *IOThread) processMove(job MoveJob) MoveResult {
	dest := job.Dest
	for {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
		dest = filepath.Join(filepath.Dir(dest), "_"+filepath.Base(dest))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return MoveResult{Job: job, Err: errors.AddContext(err, "unable to create destination directory")}
	}

	if err := os.Rename(job.Src, dest); err == nil {
		if t.log != nil {
			t.log.Printf("Moved %s -> %s", job.Src, dest)
		}
		return MoveResult{Job: job, FinalDest: dest}
	}

	// Cross-device rename is not supported by the OS; fall back to a
	// ratelimited copy followed by removing the source.
	if err := t.copyFile(job.Src, dest); err != nil {
		return MoveResult{Job: job, Err: errors.AddContext(err, "unable to copy file to destination")}
	}
	if err := os.Remove(job.Src); err != nil {
		return MoveResult{Job: job, Err: errors.AddContext(err, "unable to remove source after copy")}
	}
	return MoveResult{Job: job, FinalDest: dest}
}

func (t *IOThread) copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	w := t.limitWriter(out)
	if _, err := io.Copy(w, in); err != nil {
		return err
	}
	return out.Sync()
}

// processAlloc preallocates size bytes at path by truncating the file to
// that length, giving the file its full size without writing the bytes
// before it (a sparse allocation on filesystems that support it).
func (t *IOThread) processAlloc(job AllocJob) AllocResult {
	f, err := os.OpenFile(job.Path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return AllocResult{Job: job, Err: err}
	}
	defer f.Close()

	if job.Size == 0 {
		return AllocResult{Job: job}
	}
	if err := f.Truncate(int64(job.Size)); err != nil {
		return AllocResult{Job: job, Err: err}
	}
	return AllocResult{Job: job}
}
