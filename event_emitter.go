package eqws

import (
	"sync"
)

type callback[T any] func(T)

type listener[V any] struct {
	id   uint64
	fn   callback[V]
	once bool
}

// EventEmitterCallback is a simple event emitter. It maps events (of type K) to
// callbacks receiving a value of type V.
// Listeners are invoked outside the lock, so they may subscribe or unsubscribe
// from within a callback.
type EventEmitterCallback[K comparable, V any] struct {
	listeners map[K][]listener[V]
	nextID    uint64
	lock      sync.RWMutex
}

// NewEventEmitter creates a new EventEmitterCallback and returns a pointer to it.
func NewEventEmitter[K comparable, V any]() *EventEmitterCallback[K, V] {
	return &EventEmitterCallback[K, V]{
		listeners: make(map[K][]listener[V]),
	}
}

// On registers a new listener for the given event. The returned function removes it.
func (e *EventEmitterCallback[K, V]) On(event K, fn callback[V]) (off func()) {
	return e.add(event, fn, false)
}

// Once registers a listener that is removed right before its first invocation.
func (e *EventEmitterCallback[K, V]) Once(event K, fn callback[V]) (off func()) {
	return e.add(event, fn, true)
}

func (e *EventEmitterCallback[K, V]) add(event K, fn callback[V], once bool) func() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners[event] = append(e.listeners[event], listener[V]{id: id, fn: fn, once: once})

	return func() { e.remove(event, id) }
}

// remove reports whether the listener was still registered.
func (e *EventEmitterCallback[K, V]) remove(event K, id uint64) bool {
	e.lock.Lock()
	defer e.lock.Unlock()

	current := e.listeners[event]
	for i, l := range current {
		if l.id != id {
			continue
		}
		next := make([]listener[V], 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, event)
		} else {
			e.listeners[event] = next
		}
		return true
	}
	return false
}

// Off removes every listener of the given event.
func (e *EventEmitterCallback[K, V]) Off(event K) {
	e.lock.Lock()
	defer e.lock.Unlock()

	delete(e.listeners, event)
}

// Emit triggers all listeners registered for the given event synchronously, in
// registration order. It reports whether there was at least one listener.
func (e *EventEmitterCallback[K, V]) Emit(event K, data V) bool {
	e.lock.RLock()
	listeners := e.listeners[event]
	e.lock.RUnlock()

	if len(listeners) == 0 {
		return false
	}

	for _, l := range listeners {
		if l.once && !e.remove(event, l.id) {
			continue
		}
		l.fn(data)
	}

	return true
}

func (e *EventEmitterCallback[K, V]) ListenerCount(event K) int {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return len(e.listeners[event])
}

// Close removes all listeners to prevent memory leaks.
func (e *EventEmitterCallback[K, V]) Close() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.listeners = make(map[K][]listener[V])
}
