package events

import (
	"sync"
	"sync/atomic"

	"megaluck/core/types"
)

const defaultSubscriberBuffer = 64

// Broadcaster fans rendered events out to live subscribers. Slow subscribers
// lose events rather than stalling the emitting transition.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[uint64]chan *types.Event
	next    uint64
	buffer  int
	dropped atomic.Uint64
}

// NewBroadcaster returns a broadcaster whose subscriber channels hold buffer
// events. A non-positive buffer selects the default.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broadcaster{subs: make(map[uint64]chan *types.Event), buffer: buffer}
}

// Emit implements Emitter. Untyped events are ignored.
func (b *Broadcaster) Emit(evt Event) {
	typed, ok := evt.(Typed)
	if !ok {
		return
	}
	rendered := typed.Event()
	if rendered == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- rendered:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The returned cancel func closes the
// channel and is safe to call more than once.
func (b *Broadcaster) Subscribe() (<-chan *types.Event, func()) {
	ch := make(chan *types.Event, b.buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}
