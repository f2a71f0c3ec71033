// Package transferpool bounds how many data-connection transfers run at
// once across an entire Server, per spec.md §4.D's replacement for the
// distilled spec's "action queue": a buffered channel used as a counting
// semaphore, released back to the caller rather than run on its behalf,
// since each transfer already runs inline on its own session's goroutine.
package transferpool

import "context"

// Pool caps concurrent transfers at a fixed size.
type Pool struct {
	slots chan struct{}
}

// New returns a Pool allowing up to size concurrent transfers. A size of
// 0 or less means unlimited.
func New(size int) *Pool {
	if size <= 0 {
		return &Pool{}
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) error {
	if p.slots == nil {
		return nil
	}
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot acquired with Acquire.
func (p *Pool) Release() {
	if p.slots == nil {
		return
	}
	<-p.slots
}
