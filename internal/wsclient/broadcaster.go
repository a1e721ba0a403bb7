package wsclient

import (
	"sync"
	"sync/atomic"
)

const (
	defaultStreamBuffer = 100
	defaultErrBuffer    = 10
)

// subscriberEntry is one live Stream's delivery channels. trySend never
// blocks: a full channel means the subscriber is lagging, and that is
// reported on errCh rather than stalling the broadcaster.
type subscriberEntry[T any] struct {
	ch        chan T
	errCh     chan error
	closed    atomic.Bool
	closeOnce sync.Once
}

func (s *subscriberEntry[T]) trySend(msg T) {
	if s.closed.Load() {
		return
	}
	select {
	case s.ch <- msg:
	default:
		s.notifyLag(1)
	}
}

func (s *subscriberEntry[T]) notifyLag(count int) {
	if count <= 0 {
		return
	}
	select {
	case s.errCh <- LaggedError{Count: count}:
	default:
	}
}

func (s *subscriberEntry[T]) close() {
	if s.closed.Swap(true) {
		return
	}
	s.closeOnce.Do(func() {
		close(s.ch)
		close(s.errCh)
	})
}

// Broadcaster fans out values of type T to any number of independent
// subscribers, each with its own bounded buffer. A value a slow
// subscriber cannot accept is dropped for that subscriber only; the
// broadcaster and every other subscriber are unaffected.
type Broadcaster[T any] struct {
	bufSize int
	mu      sync.Mutex
	subs    map[int]*subscriberEntry[T]
	nextID  int
	closed  bool
}

// NewBroadcaster creates a broadcaster whose subscribers get a channel
// of the given capacity. bufSize <= 0 falls back to defaultStreamBuffer.
func NewBroadcaster[T any](bufSize int) *Broadcaster[T] {
	if bufSize <= 0 {
		bufSize = defaultStreamBuffer
	}
	return &Broadcaster[T]{bufSize: bufSize, subs: make(map[int]*subscriberEntry[T])}
}

// Subscribe returns a new, independent Stream. Every call returns a
// fresh handle; no two callers ever share a receiver.
func (b *Broadcaster[T]) Subscribe() *Stream[T] {
	entry := &subscriberEntry[T]{
		ch:    make(chan T, b.bufSize),
		errCh: make(chan error, defaultErrBuffer),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		entry.close()
		return &Stream[T]{C: entry.ch, Err: entry.errCh, closeF: func() {}}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = entry
	b.mu.Unlock()

	return &Stream[T]{
		C:   entry.ch,
		Err: entry.errCh,
		closeF: func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			entry.close()
		},
	}
}

// Publish delivers msg to every current subscriber without blocking.
func (b *Broadcaster[T]) Publish(msg T) {
	b.mu.Lock()
	entries := make([]*subscriberEntry[T], 0, len(b.subs))
	for _, e := range b.subs {
		entries = append(entries, e)
	}
	b.mu.Unlock()

	for _, e := range entries {
		e.trySend(msg)
	}
}

// Close closes every live subscription. Subsequent Subscribe calls
// return an already-closed Stream.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.subs = make(map[int]*subscriberEntry[T])
	b.mu.Unlock()

	for _, e := range subs {
		e.close()
	}
}
