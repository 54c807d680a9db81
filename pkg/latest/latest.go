// Package latest holds single-value hand-off primitives: readers only ever
// see the most recent value, never a backlog.
package latest

import "sync"

// Cell stores the most recent value written to it.
type Cell[T any] struct {
	mu    sync.RWMutex
	value T
	set   bool
}

// Store overwrites the current value
func (c *Cell[T]) Store(v T) {
	c.mu.Lock()
	c.value = v
	c.set = true
	c.mu.Unlock()
}

// Load returns the current value and whether one was ever stored
func (c *Cell[T]) Load() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.set
}

// Slot is a one-element queue that drops the queued value when a newer one
// arrives. The zero value is not usable; call NewSlot.
type Slot[T any] struct {
	mu sync.Mutex
	ch chan T
}

// NewSlot creates an empty slot
func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{ch: make(chan T, 1)}
}

// Offer queues v, replacing any value not yet taken. It never blocks.
func (s *Slot[T]) Offer(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.ch:
	default:
	}
	s.ch <- v
}

// TryTake returns the queued value if there is one
func (s *Slot[T]) TryTake() (T, bool) {
	select {
	case v := <-s.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// C exposes the receive side for select loops
func (s *Slot[T]) C() <-chan T {
	return s.ch
}

// Signal is a level-triggered notification that coalesces repeated raises.
type Signal struct {
	ch chan struct{}
}

// NewSignal creates a cleared signal
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Raise sets the signal; raising an already set signal is a no-op
func (s *Signal) Raise() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Clear resets the signal and reports whether it was set
func (s *Signal) Clear() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// C is readable once per Raise
func (s *Signal) C() <-chan struct{} {
	return s.ch
}
