package partdata

import "sync"

// EventKind tags the payload carried by an Event.
type EventKind int

const (
	EventAdded EventKind = iota
	EventDataAdded
	EventDataFlushed
	EventVerifying
	EventVerified
	EventCorruption
	EventMoving
	EventComplete
	EventDlFinished
	EventCanceled
	EventPaused
	EventStopped
	EventResumed
	EventAutoPaused
	EventDestroy
)

// Event is delivered to every subscriber of a PartData, in the order it
// was emitted: submission order within this component.
type Event struct {
	Kind EventKind

	// Range is populated for DataAdded, DataFlushed, Verified, and
	// Corruption events.
	Range Range

	// ChunkSize/ChunkIndex identify the chunk a Verified or Corruption
	// event refers to.
	ChunkSize  uint64
	ChunkIndex uint64

	// Err carries the failure reason for AutoPaused events.
	Err error
}

// Range is a re-export of rangeset.Range sized for event payloads without
// forcing every subscriber to import rangeset directly.
type Range struct {
	Begin, End uint64
}

// Subscription is an opaque handle returned by Subscribe; pass it to
// Unsubscribe to stop receiving events. The zero value refers to no
// subscription.
type Subscription uint64

// eventBus is a subscription-list multiplexer, the Go replacement for a
// boost::signal event table: handlers are kept
// alongside the owning entity (here, embedded in PartData) and identified by
// an opaque handle rather than a raw pointer into the handler.
type eventBus struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[uint64]func(Event)
	order    []uint64
}

func newEventBus() *eventBus {
	return &eventBus{handlers: make(map[uint64]func(Event))}
}

// Subscribe registers fn to receive every future event, in the order
// events are emitted relative to each other (not relative to other
// subscribers).
func (b *eventBus) Subscribe(fn func(Event)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = fn
	b.order = append(b.order, id)
	return Subscription(id)
}

// Unsubscribe removes a previously registered handler. Unsubscribing an
// unknown or already-removed handle is a no-op.
func (b *eventBus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, uint64(s))
	for i, id := range b.order {
		if id == uint64(s) {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// emit delivers e to every subscriber, in subscription order. Called with
// the owning PartData's lock NOT held, since handlers may call back into
// the PartData.
func (b *eventBus) emit(e Event) {
	b.mu.Lock()
	ids := append([]uint64{}, b.order...)
	b.mu.Unlock()

	for _, id := range ids {
		b.mu.Lock()
		fn, ok := b.handlers[id]
		b.mu.Unlock()
		if ok {
			fn(e)
		}
	}
}

// CanCompleteVoter is polled once a part's bytes are fully verified; any
// voter returning false vetoes completion for this round.
type CanCompleteVoter func() bool
