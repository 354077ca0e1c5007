// Package workers tracks units of background work so a component can
// spawn them freely and still drain them on shutdown with a bound. It
// deliberately exposes nothing about how the work runs; callers that want
// a pool or a different scheduler can swap the implementation without
// touching protocol logic.
package workers

import (
	"sync"
	"time"
)

// Group tracks spawned tasks. The zero value is ready to use.
type Group struct {
	wg sync.WaitGroup
}

// Go runs fn on its own goroutine and tracks it until it returns.
func (g *Group) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Drain waits up to timeout for all tracked tasks to finish and reports
// whether they did. A zero or negative timeout waits forever.
func (g *Group) Drain(timeout time.Duration) bool {
	if timeout <= 0 {
		g.wg.Wait()
		return true
	}
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
