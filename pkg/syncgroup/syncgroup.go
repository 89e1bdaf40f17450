package syncgroup

import "sync"

// Group wraps sync.WaitGroup so Add and Done cannot be mismatched: every
// goroutine goes through Go, which pairs them.
type Group struct {
	wg sync.WaitGroup
}

// New creates an empty group.
func New() *Group {
	return &Group{}
}

// Go runs fn in a new goroutine tracked by the group.
func (g *Group) Go(fn func()) {
	if fn == nil {
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Wait blocks until every tracked goroutine has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
