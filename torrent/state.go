package torrent

import "github.com/alosarv/hydra/rangeset"

// Pause cascades to every child PartData, leaving their buffers and
// completed ranges intact.
func (pt *PartialTorrent) Pause() {
	pt.mu.Lock()
	if pt.destroyed || pt.state == Paused {
		pt.mu.Unlock()
		return
	}
	pt.state = Paused
	files := append([]*InternalFile{}, pt.files...)
	pt.mu.Unlock()

	for _, f := range files {
		f.PD.Pause()
	}
}

// Stop cascades to every child PartData, dropping their source tables.
func (pt *PartialTorrent) Stop() {
	pt.mu.Lock()
	if pt.destroyed || pt.state == Stopped {
		pt.mu.Unlock()
		return
	}
	pt.state = Stopped
	files := append([]*InternalFile{}, pt.files...)
	pt.mu.Unlock()

	for _, f := range files {
		f.PD.Stop()
	}
}

// Resume cascades to every child PartData still Paused or Stopped.
func (pt *PartialTorrent) Resume() {
	pt.mu.Lock()
	if pt.destroyed || pt.state == Running {
		pt.mu.Unlock()
		return
	}
	pt.state = Running
	files := append([]*InternalFile{}, pt.files...)
	pt.mu.Unlock()

	for _, f := range files {
		f.PD.Resume()
	}
}

// Cancel destroys the torrent and every child PartData: cancelling the
// container cancels its children, since they have no independent
// existence as downloads.
func (pt *PartialTorrent) Cancel() {
	pt.Destroy()
}

// ExcludeFile marks sub-file i as not-to-be-downloaded by mirroring its
// byte range into the torrent-wide dontDownload list. The child PartData's
// own dontDownload list is left unchanged.
func (pt *PartialTorrent) ExcludeFile(i int) error {
	pt.mu.Lock()
	if i < 0 || i >= len(pt.files) {
		pt.mu.Unlock()
		return ErrNoSuchFile
	}
	f := pt.files[i]
	pt.dontDownload.Insert(rangeset.Range{Begin: f.Offset, End: f.end()})
	pt.mu.Unlock()
	return nil
}

// IncludeFile reverses a previous ExcludeFile.
func (pt *PartialTorrent) IncludeFile(i int) error {
	pt.mu.Lock()
	if i < 0 || i >= len(pt.files) {
		pt.mu.Unlock()
		return ErrNoSuchFile
	}
	f := pt.files[i]
	pt.dontDownload.Erase(rangeset.Range{Begin: f.Offset, End: f.end()})
	pt.mu.Unlock()
	return nil
}
