package sigchan

// Chan is a non-blocking wake-up channel. Emit never blocks: if a signal
// is already pending, the new one coalesces with it.
type Chan struct {
	c chan struct{}
}

// New creates a signal channel with the given pending capacity.
func New(bufferSize int) *Chan {
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit posts a signal, dropping it if one is already pending.
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C returns the receive side for use in select.
func (c *Chan) C() <-chan struct{} {
	return c.c
}
