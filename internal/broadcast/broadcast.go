// Package broadcast fans events out to any number of subscribers without
// letting a slow subscriber stall the publisher.
package broadcast

import (
	"sync"
	"sync/atomic"
)

type subscriber[T any] struct {
	ch      chan T
	dropped atomic.Int32
}

// Hub delivers every published value to each subscriber channel with a
// non-blocking send. A subscriber whose buffer is full misses the value.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   map[*subscriber[T]]struct{}
	closed bool
}

func New[T any]() *Hub[T] {
	return &Hub[T]{subs: map[*subscriber[T]]struct{}{}}
}

// Subscribe returns a channel buffered to size and a function that
// unsubscribes and closes it. On a closed hub the channel is already closed.
func (h *Hub[T]) Subscribe(size int) (<-chan T, func()) {
	s := &subscriber[T]{ch: make(chan T, size)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	h.subs[s] = struct{}{}

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.ch)
			}
		})
	}
}

// Publish never blocks. It reports how many subscribers dropped the value.
func (h *Hub[T]) Publish(v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for s := range h.subs {
		select {
		case s.ch <- v:
		default:
			s.dropped.Add(1)
			dropped++
		}
	}
	return dropped
}

// Close closes every subscriber channel. Later publishes are discarded.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
}

// Dropped sums values missed by current subscribers.
func (h *Hub[T]) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for s := range h.subs {
		n += int(s.dropped.Load())
	}
	return n
}
