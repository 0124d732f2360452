// Package event provides a typed, synchronous publish/subscribe list.
package event

import (
	"sync"
)

// Feed delivers values of type T to its subscribers. Emit calls every handler
// synchronously on the emitting goroutine, in subscription order. The zero
// value is ready to use.
type Feed[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription[T]
	closed bool
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it. The returned
// function may be called any number of times. Subscribing to a closed feed is a
// no-op.
func (f *Feed[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || fn == nil {
		return func() {}
	}

	f.nextID++
	id := f.nextID
	f.subs = append(f.subs, subscription[T]{id: id, fn: fn})

	return func() { f.remove(id) }
}

func (f *Feed[T]) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i:i], f.subs[i+1:]...)
			return
		}
	}
}

// Emit sends v to all current subscribers. Handlers run without the feed lock
// held, so they may subscribe or unsubscribe freely.
func (f *Feed[T]) Emit(v T) {
	f.mu.Lock()
	if f.closed || len(f.subs) == 0 {
		f.mu.Unlock()
		return
	}
	targets := make([]func(T), len(f.subs))
	for i, s := range f.subs {
		targets[i] = s.fn
	}
	f.mu.Unlock()

	for _, fn := range targets {
		fn(v)
	}
}

// Len returns the number of subscribers.
func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close drops every subscriber. Later Emit and Subscribe calls do nothing.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.subs = nil
}
