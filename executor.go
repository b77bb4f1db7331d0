package eqws

import (
	"sync"
)

// executor runs tasks one at a time on a single goroutine. Posting never
// blocks, so tasks may post further tasks. Every accepted task runs, even
// after stop.
type executor struct {
	mu      sync.Mutex
	tasks   []func()
	closed  bool
	started bool

	wake chan struct{}
	done chan struct{}
}

func newExecutor() *executor {
	return &executor{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// post queues fn. It returns false once the executor has been stopped.
func (e *executor) post(fn func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.tasks = append(e.tasks, fn)
	e.mu.Unlock()

	e.signal()
	return true
}

func (e *executor) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// running reports whether run has been called.
func (e *executor) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

func (e *executor) drain() ([]func(), bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tasks := e.tasks
	e.tasks = nil
	return tasks, e.closed
}

// run processes tasks until the executor is stopped and its queue is empty.
func (e *executor) run() {
	defer close(e.done)

	e.mu.Lock()
	e.started = true
	e.mu.Unlock()

	for {
		tasks, closed := e.drain()
		for _, fn := range tasks {
			fn()
		}
		if len(tasks) > 0 {
			continue
		}
		if closed {
			return
		}
		<-e.wake
	}
}

// stop refuses new tasks; run returns once the accepted ones are done.
func (e *executor) stop() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.signal()
}
