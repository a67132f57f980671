package transport

import (
	"context"
	"sync"
)

// Listener is called once when a Future completes.
type Listener func(f *Future)

// Future is the result of an asynchronous operation: a connect, a bind, a
// write, a close or a group shutdown.
//
// Listeners run on the goroutine that completes the future, which for
// channel operations is the channel's event loop. They must not block.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	err       error
	listeners []Listener
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// AddListener registers l. If the future is already complete l runs
// immediately on the calling goroutine.
func (f *Future) AddListener(l Listener) {
	f.mu.Lock()
	if !f.completed {
		f.listeners = append(f.listeners, l)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	l(f)
}

// Done is closed when the future completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// IsDone returns true once the future completed, successfully or not.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true

	default:
		return false
	}
}

// IsSuccess returns true if the future completed without error.
func (f *Future) IsSuccess() bool {
	return f.IsDone() && f.Err() == nil
}

// Err returns the cause of failure. It is nil while the future is pending.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.err
}

// Await blocks until the future completes or ctx is done.
func (f *Future) Await(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()

	case <-ctx.Done():
		return ctx.Err()
	}
}

// complete marks the future done. Only the first call has any effect, it
// returns false for every later one.
func (f *Future) complete(err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}

	f.completed = true
	f.err = err
	listeners := f.listeners
	f.listeners = nil
	close(f.done)
	f.mu.Unlock()

	for _, l := range listeners {
		l(f)
	}

	return true
}
