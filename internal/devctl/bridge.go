package devctl

import (
	"sync"

	"github.com/zet017/zet017tcp/internal/protocol"
)

// commandKind selects the operation the worker performs on behalf of a
// foreground caller.
type commandKind int

const (
	cmdSetConfig commandKind = iota
	cmdStart
	cmdStop
)

// bridgeState is the rendezvous state machine between a foreground caller
// and the worker: idle → requested (caller) → processing (worker) →
// completed (worker) → idle (caller).
type bridgeState int

const (
	bridgeIdle bridgeState = iota
	bridgeRequested
	bridgeProcessing
	bridgeCompleted
)

// commandBridge carries one request at a time from a foreground caller to
// the worker. The caller blocks on cond until the worker reports
// completion; concurrent callers serialize by waiting for idle.
type commandBridge struct {
	mu   sync.Mutex
	cond *sync.Cond

	state  bridgeState
	kind   commandKind
	record protocol.InfoRecord
	result error
}

// submit posts one command and blocks until the worker completes it.
func (d *Device) submit(kind commandKind, rec *protocol.InfoRecord) error {
	b := &d.bridge
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.state != bridgeIdle {
		if !d.running.Load() {
			return protocol.ErrDisconnected
		}
		b.cond.Wait()
	}
	if !d.running.Load() {
		return protocol.ErrDisconnected
	}

	b.kind = kind
	if rec != nil {
		b.record = *rec
	}
	b.result = nil
	b.state = bridgeRequested
	d.wakeCh.Wake()

	for b.state != bridgeCompleted {
		b.cond.Wait()
	}
	b.state = bridgeIdle
	b.cond.Broadcast()
	return b.result
}

// failPending completes an in-flight request with a disconnect error. The
// worker calls this on exit so no caller stays blocked on the bridge.
func (d *Device) failPending() {
	b := &d.bridge
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == bridgeRequested || b.state == bridgeProcessing {
		b.result = protocol.ErrDisconnected
		b.state = bridgeCompleted
	}
	b.cond.Broadcast()
}
