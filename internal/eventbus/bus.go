// Package eventbus is a typed, synchronous publish/subscribe helper.
//
// Listeners run on the publisher's goroutine, in subscription order, outside
// the bus lock. A listener may unsubscribe itself while being called.
package eventbus

import "sync"

// Bus fans events of type E out to subscribers.
type Bus[E any] struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]func(E)
	order     []int
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus[E]) Subscribe(fn func(E)) (unsubscribe func()) {
	b.mu.Lock()
	if b.listeners == nil {
		b.listeners = make(map[int]func(E))
	}
	id := b.next
	b.next++
	b.listeners[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish calls every listener with e.
func (b *Bus[E]) Publish(e E) {
	b.mu.RLock()
	fns := make([]func(E), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.listeners[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// Len returns the number of subscribers.
func (b *Bus[E]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
