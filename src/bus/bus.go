// Package bus is the per-shard fan-out channel for live dispatch frames.
// One publisher (the shard dispatcher), many subscribers (client sessions).
// Each subscriber reads from a shared bounded ring through its own cursor; a
// subscriber that falls more than the ring capacity behind loses the oldest
// frames and its next Recv reports how many were dropped. The gateway
// contract requires monotonic sequencing, so a lagged client must be closed
// rather than allowed to skip ahead silently.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"manifold/src/wire"
)

// DefaultCapacity is the ring size used when none is configured. Sized for a
// few seconds of peak event rate on a busy shard.
const DefaultCapacity = 1024

// ErrClosed is returned by Recv once the bus is closed and drained.
var ErrClosed = errors.New("bus: closed")

// LaggedError reports that the subscriber fell behind and Missed frames were
// dropped for it. The subscriber's cursor has been advanced past the gap.
type LaggedError struct {
	Missed int64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("bus: subscriber lagged, %d frames dropped", e.Missed)
}

// Message is a raw dispatch frame plus the scanned position of its upstream
// sequence number, carried along so clients can splice in their own.
type Message struct {
	Frame    []byte
	Sequence *wire.SequenceInfo
}

// Bus is a bounded, lossy-per-subscriber broadcast channel.
type Bus struct {
	mu     sync.Mutex
	ring   []Message
	head   int64 // absolute index of the next slot to write
	subs   map[*Subscriber]struct{}
	closed bool
}

// New creates a bus with the given ring capacity. Non-positive capacities
// fall back to DefaultCapacity.
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		ring: make([]Message, capacity),
		subs: make(map[*Subscriber]struct{}),
	}
}

// Publish appends a message to the ring and wakes subscribers. It never
// blocks: slow subscribers lose the oldest entries instead.
func (b *Bus) Publish(m Message) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.ring[b.head%int64(len(b.ring))] = m
	b.head++
	b.wakeLocked()
	b.mu.Unlock()
}

// Subscribe registers a new subscriber starting at the current head: it sees
// every message published after this call and nothing before it.
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscriber{
		bus:    b,
		cursor: b.head,
		notify: make(chan struct{}, 1),
	}
	if !b.closed {
		b.subs[s] = struct{}{}
	}
	return s
}

// Close shuts the bus down. Subscribers drain what they can still read and
// then observe ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	b.wakeLocked()
	b.mu.Unlock()
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) wakeLocked() {
	for s := range b.subs {
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

// Subscriber is a single consumer's view of the bus. Not safe for concurrent
// use by multiple goroutines; each client session owns exactly one.
type Subscriber struct {
	bus    *Bus
	cursor int64
	notify chan struct{}
	closed bool
}

// Recv returns the next message. It blocks until one is available, the
// context is done, or the bus closes. A ring overrun surfaces as a
// *LaggedError with the cursor already advanced past the gap, so the caller
// decides whether to continue (clients must not).
func (s *Subscriber) Recv(ctx context.Context) (Message, error) {
	b := s.bus
	for {
		b.mu.Lock()
		if s.closed {
			b.mu.Unlock()
			return Message{}, ErrClosed
		}
		if oldest := b.head - int64(len(b.ring)); s.cursor < oldest {
			missed := oldest - s.cursor
			s.cursor = oldest
			b.mu.Unlock()
			return Message{}, &LaggedError{Missed: missed}
		}
		if s.cursor < b.head {
			m := b.ring[s.cursor%int64(len(b.ring))]
			s.cursor++
			b.mu.Unlock()
			return m, nil
		}
		if b.closed {
			b.mu.Unlock()
			return Message{}, ErrClosed
		}
		b.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Close releases the subscription. Safe to call more than once.
func (s *Subscriber) Close() {
	b := s.bus
	b.mu.Lock()
	if !s.closed {
		s.closed = true
		delete(b.subs, s)
	}
	b.mu.Unlock()
}
