package main

import (
	"fmt"
	"log/slog"
)

// dispatcher filters characteristic writes down to keystroke requests.
//
// Trigger policy: a write qualifies when the payload is non-empty and its
// first byte is non-zero. Anything else is dropped without a word to the
// peer: GATT writes are fire-and-forget, and a zero byte is the documented
// way to probe the characteristic without waking anything.
type dispatcher struct {
	log  *slog.Logger
	emit *emitter
}

// handleWrite runs on the stack's callback context. Validation is
// synchronous; the key emission itself happens on the emitter's worker.
func (d *dispatcher) handleWrite(payload []byte, from string) {
	if len(payload) == 0 {
		d.log.Debug("empty write ignored", "from", from)
		return
	}
	if payload[0] == 0x00 {
		d.log.Debug("zero trigger byte ignored", "from", from)
		return
	}
	d.log.Info("wake trigger received", "from", from, "trigger", fmt.Sprintf("0x%02x", payload[0]))
	if !d.emit.submit() {
		d.log.Warn("keystroke already queued, trigger coalesced", "from", from)
	}
}
