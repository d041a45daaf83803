package partdata

import (
	"os"

	"github.com/alosarv/hydra/iothread"
)

// Pause transitions Running -> Paused. Sources are kept; writes are
// rejected until Resume. Idempotent: pausing an already-Paused part is a
// no-op.
func (pd *PartData) Pause() {
	pd.mu.Lock()
	if pd.destroyed || pd.state == Paused {
		pd.mu.Unlock()
		return
	}
	pd.state = Paused
	pd.mu.Unlock()
	pd.events.emit(Event{Kind: EventPaused})
}

// Stop transitions Running -> Stopped. Sources are dropped (the caller is
// expected to also drop its UsedRanges/peer registrations); writes are
// rejected until Resume. Idempotent.
func (pd *PartData) Stop() {
	pd.mu.Lock()
	if pd.destroyed || pd.state == Stopped {
		pd.mu.Unlock()
		return
	}
	pd.state = Stopped
	pd.chunkSets = make(map[uint64]*chunkSet)
	pd.mu.Unlock()
	pd.events.emit(Event{Kind: EventStopped})
}

// Resume transitions Paused or Stopped back to Running. Idempotent: resuming
// an already-Running part is a no-op.
func (pd *PartData) Resume() {
	pd.mu.Lock()
	if pd.destroyed || pd.state == Running {
		pd.mu.Unlock()
		return
	}
	pd.state = Running
	pd.mu.Unlock()
	pd.events.emit(Event{Kind: EventResumed})
}

// Cancel destroys the part, removing its physical temp file and sidecar.
// Pending HashWorks are invalidated; their results, if they arrive late,
// are silently dropped. Cancel after completion, or a second Cancel, is
// a no-op.
func (pd *PartData) Cancel() {
	pd.mu.Lock()
	if pd.destroyed {
		pd.mu.Unlock()
		return
	}
	pd.destroyed = true
	pd.cancelFullFileHash_locked()
	location := pd.location
	onDestroyed := pd.onDestroyed
	pd.mu.Unlock()

	os.Remove(location)
	os.Remove(location + sidecarSuffix)
	os.Remove(location + sidecarSuffix + backupSuffix)

	pd.events.emit(Event{Kind: EventCanceled})
	pd.events.emit(Event{Kind: EventDestroy})
	if onDestroyed != nil {
		onDestroyed(pd)
	}
}

// autoPause implements the "Running -> AutoPaused" transition a disk
// error triggers: buffers are retained, the user is notified
// via an event, and the part may later be resumed explicitly.
func (pd *PartData) autoPause(err error) {
	pd.mu.Lock()
	if pd.destroyed || pd.state == AutoPaused {
		pd.mu.Unlock()
		return
	}
	pd.state = AutoPaused
	pd.mu.Unlock()
	pd.events.emit(Event{Kind: EventAutoPaused, Err: err})
}

// startCompleting_locked polls every registered CanCompleteVoter; if none
// veto, it marks the part as completing and kicks off doComplete
// asynchronously (the move itself goes through IOThread, so it must not
// run with pd.mu held). Must be called with pd.mu held.
func (pd *PartData) startCompleting_locked() {
	for _, voter := range pd.canComplete {
		if !voter() {
			return
		}
	}
	pd.completing = true
	go pd.doComplete()
}

// doComplete hands the location/destination pair to the move pipeline by
// submitting the MoveWork to IOThread itself; SharedFile does not submit
// the move. SharedFile is a thin identity wrapper that simply relays
// doComplete's outcome; SharedFile registers as a subscriber to
// EventComplete/EventDlFinished instead of calling back into PartData
// synchronously, keeping the two ends from holding pointers into each
// other during the move.
func (pd *PartData) doComplete() {
	pd.mu.Lock()
	location := pd.location
	destination := pd.destination
	pd.mu.Unlock()

	pd.events.emit(Event{Kind: EventMoving})

	pd.io.SubmitMove(iothread.MoveJob{Src: location, Dest: destination}, func(res iothread.MoveResult) {
		pd.mu.Lock()
		if pd.destroyed {
			pd.mu.Unlock()
			return
		}
		if res.Err != nil {
			pd.completing = false
			pd.mu.Unlock()
			pd.events.emit(Event{Kind: EventAutoPaused, Err: res.Err})
			return
		}
		pd.destroyed = true
		sidecar := location + sidecarSuffix
		onDestroyed := pd.onDestroyed
		pd.mu.Unlock()

		os.Remove(sidecar)
		os.Remove(sidecar + backupSuffix)

		pd.events.emit(Event{Kind: EventComplete})
		pd.events.emit(Event{Kind: EventDlFinished})
		pd.events.emit(Event{Kind: EventDestroy})
		if onDestroyed != nil {
			onDestroyed(pd)
		}
	})
}
