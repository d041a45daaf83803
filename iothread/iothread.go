package iothread

import (
	"io"
	"sync"

	"gitlab.com/NebulousLabs/ratelimit"
	"gitlab.com/NebulousLabs/threadgroup"

	"github.com/alosarv/hydra/persist"
)

// job is the internal queue element; exactly one of hash, move and alloc is
// non-nil, and its matching callback may be nil. Wrapping all job kinds in
// a single struct lets one worker goroutine serially execute hashing,
// moving, and allocation with a single select loop.
type job struct {
	hash      *HashJob
	hashDone  func(HashResult)
	move      *MoveJob
	moveDone  func(MoveResult)
	alloc     *AllocJob
	allocDone func(AllocResult)
	cancelled *bool
}

// IOThread is the single background worker that executes hashing, moving,
// and allocation jobs on behalf of every PartData/SharedFile in a process.
// It is a shared, pausable resource.
type IOThread struct {
	tg     threadgroup.ThreadGroup
	log    *persist.Logger
	queue  chan job
	limit  *ratelimit.RateLimit
	pauseMu sync.Mutex
	paused  chan struct{} // non-nil and closed-when-resumed while paused
}

// New starts an IOThread backed by log, with disk I/O throttled to
// readBPS/writeBPS bytes per second (0 means unlimited).
func New(log *persist.Logger, readBPS, writeBPS int64) *IOThread {
	t := &IOThread{
		log:   log,
		queue: make(chan job, 64),
		limit: ratelimit.NewRateLimit(readBPS, writeBPS, 0),
	}
	go t.loop()
	return t
}

// Close stops the worker and refuses new jobs. It waits only until jobs
// already submitted have entered the queue: jobs still queued when the
// worker stops may be dropped without their callbacks being invoked, and a
// job already running is not waited for.
func (t *IOThread) Close() error {
	return t.tg.Stop()
}

func (t *IOThread) loop() {
	for {
		select {
		case <-t.tg.StopChan():
			return
		case j := <-t.queue:
			t.awaitResume()
			t.run(j)
		}
	}
}

func (t *IOThread) run(j job) {
	if j.cancelled != nil && *j.cancelled {
		return
	}
	switch {
	case j.hash != nil:
		result := t.processHash(*j.hash)
		if j.hashDone != nil {
			j.hashDone(result)
		}
	case j.move != nil:
		result := t.processMove(*j.move)
		if j.moveDone != nil {
			j.moveDone(result)
		}
	case j.alloc != nil:
		result := t.processAlloc(*j.alloc)
		if j.allocDone != nil {
			j.allocDone(result)
		}
	}
}

// SubmitHash enqueues job and invokes callback with the result once
// processed. The returned cancel function, if called before the job
// starts, causes it to be silently dropped instead of executed: pending
// work observes an invalidation flag and exits without firing a result.
func (t *IOThread) SubmitHash(hj HashJob, callback func(HashResult)) (cancel func()) {
	if err := t.tg.Add(); err != nil {
		callback(HashResult{Job: hj, Outcome: HashFatalError, Err: err})
		return func() {}
	}
	cancelled := new(bool)
	go func() {
		defer t.tg.Done()
		t.queue <- job{hash: &hj, hashDone: callback, cancelled: cancelled}
	}()
	return func() { *cancelled = true }
}

// SubmitMove enqueues job and invokes callback with the result once
// processed. Move jobs are not cancellable once submitted.
func (t *IOThread) SubmitMove(mj MoveJob, callback func(MoveResult)) {
	if err := t.tg.Add(); err != nil {
		callback(MoveResult{Job: mj, Err: err})
		return
	}
	go func() {
		defer t.tg.Done()
		t.queue <- job{move: &mj, moveDone: callback}
	}()
}

// SubmitAlloc enqueues job and invokes callback with the result once
// processed.
func (t *IOThread) SubmitAlloc(aj AllocJob, callback func(AllocResult)) {
	if err := t.tg.Add(); err != nil {
		callback(AllocResult{Job: aj, Err: err})
		return
	}
	go func() {
		defer t.tg.Done()
		t.queue <- job{alloc: &aj, allocDone: callback}
	}()
}

// Pauser releases a temporary IOThread pause when dropped.
type Pauser struct {
	t *IOThread
}

// Release resumes the worker. Calling it more than once is a no-op.
func (p *Pauser) Release() {
	if p == nil || p.t == nil {
		return
	}
	p.t.resume()
	p.t = nil
}

// Pause blocks the worker from starting any new job until the returned
// Pauser is released, used by startup-scan operations to keep disk head
// contention low.
func (t *IOThread) Pause() *Pauser {
	t.pauseMu.Lock()
	defer t.pauseMu.Unlock()
	if t.paused == nil {
		t.paused = make(chan struct{})
	}
	return &Pauser{t: t}
}

func (t *IOThread) resume() {
	t.pauseMu.Lock()
	defer t.pauseMu.Unlock()
	if t.paused != nil {
		close(t.paused)
		t.paused = nil
	}
}

func (t *IOThread) awaitResume() {
	t.pauseMu.Lock()
	ch := t.paused
	t.pauseMu.Unlock()
	if ch != nil {
		<-ch
	}
}

// SetLimits adjusts the disk bandwidth cap; 0 means unlimited.
func (t *IOThread) SetLimits(readBPS, writeBPS int64) {
	t.limit.SetLimits(readBPS, writeBPS, 0)
}

func (t *IOThread) limitReader(r io.Reader) io.Reader {
	return t.limit.NewReader(r)
}

func (t *IOThread) limitWriter(w io.Writer) io.Writer {
	return t.limit.NewWriter(w)
}
