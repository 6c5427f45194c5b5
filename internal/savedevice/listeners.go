package savedevice

import (
	"sync"
)

// listenerBufferSize bounds how far a subscriber may lag before it starts
// missing events.
const listenerBufferSize = 100

// listeners fans values out to any number of subscriber channels.
type listeners[T any] struct {
	mu     sync.RWMutex
	chans  []chan T
	closed bool
}

func newListeners[T any]() *listeners[T] {
	return &listeners[T]{
		chans: make([]chan T, 0),
	}
}

// Subscribe returns a new buffered channel. After close it returns an
// already closed channel.
func (l *listeners[T]) Subscribe() chan T {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan T, listenerBufferSize)
	if l.closed {
		close(ch)
		return ch
	}
	l.chans = append(l.chans, ch)
	return ch
}

func (l *listeners[T]) Unsubscribe(ch chan T) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, c := range l.chans {
		if c == ch {
			close(ch)
			l.chans = append(l.chans[:i], l.chans[i+1:]...)
			return
		}
	}
}

// Broadcast never blocks. Subscribers with a full buffer miss the value.
func (l *listeners[T]) Broadcast(value T) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, ch := range l.chans {
		select {
		case ch <- value:
		default:
		}
	}
}

func (l *listeners[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chans)
}

// close closes every subscriber channel so range loops terminate.
func (l *listeners[T]) close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	l.closed = true
	for _, ch := range l.chans {
		close(ch)
	}
	l.chans = nil
}
