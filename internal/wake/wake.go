// Package wake provides a coalescing wakeup signal usable as one branch of
// a Go select alongside socket-fed channels. It replaces the original
// implementation's loopback-socket wake mechanism: Go's select already
// multiplexes channels natively, so there is no raw file descriptor to
// write a byte into, only a channel to signal.
package wake

// Chan is a single-slot wakeup signal. Multiple calls to Wake before the
// signal is consumed coalesce into one pending wakeup.
type Chan struct {
	ch chan struct{}
}

// New returns a ready-to-use wake signal.
func New() *Chan {
	return &Chan{ch: make(chan struct{}, 1)}
}

// Wake posts a wakeup. It never blocks: if a wakeup is already pending,
// this call is a no-op.
func (c *Chan) Wake() {
	select {
	case c.ch <- struct{}{}:
	default:
	}
}

// C returns the channel to select on. A receive consumes the pending
// wakeup, if any.
func (c *Chan) C() <-chan struct{} {
	return c.ch
}
