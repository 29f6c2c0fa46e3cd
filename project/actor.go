package project

import (
	"context"
	"sync"
)

// actor runs closures one at a time on a single goroutine. Work that completes
// asynchronously holds the actor busy until its continuation has been posted, so
// waitIdle returns only at quiescence.
type actor struct {
	mu      sync.Mutex
	queue   []func()
	busy    int
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
	waiters []chan struct{}
}

func newActor() *actor {
	a := &actor{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *actor) run() {
	defer close(a.stopped)
	for range a.wake {
		for {
			a.mu.Lock()
			if len(a.queue) == 0 {
				a.mu.Unlock()
				break
			}
			fn := a.queue[0]
			a.queue[0] = nil
			a.queue = a.queue[1:]
			a.mu.Unlock()

			fn()
			a.release()
		}

		a.mu.Lock()
		done := a.closed && len(a.queue) == 0
		a.mu.Unlock()
		if done {
			return
		}
	}
}

// post enqueues fn. It reports false once the actor has been stopped.
func (a *actor) post(fn func()) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	a.queue = append(a.queue, fn)
	a.busy++
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

// hold marks asynchronous work in flight. Each hold must be paired with release.
func (a *actor) hold() {
	a.mu.Lock()
	a.busy++
	a.mu.Unlock()
}

func (a *actor) release() {
	a.mu.Lock()
	a.busy--
	var waiters []chan struct{}
	if a.busy == 0 {
		waiters = a.waiters
		a.waiters = nil
	}
	a.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// call runs fn on the actor goroutine and waits for it to finish.
func (a *actor) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !a.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrDisposed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrDisposed
		}
	}
}

// waitIdle blocks until no closures are queued and no asynchronous work is held.
func (a *actor) waitIdle(ctx context.Context) error {
	a.mu.Lock()
	if a.busy == 0 {
		a.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	a.waiters = append(a.waiters, w)
	a.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopped:
		return ErrDisposed
	}
}

// idle reports whether the actor is currently quiescent.
func (a *actor) idle() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy == 0
}

// stop drains queued closures and terminates the actor goroutine.
func (a *actor) stop() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	<-a.stopped
}
