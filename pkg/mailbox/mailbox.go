// Package mailbox implements the single-slot handoff from the foreground
// to the interrupt service routine: the pending scheduler operation and
// its operands. It is intentionally a single slot — issuing a second
// foreground request before the ISR has drained the first silently
// overwrites it, per the caller contract described in scheduler.Control's
// package doc. Well-formed callers issue one request per critical
// section; this package does not detect or prevent the misuse.
package mailbox

import (
	"sync/atomic"

	"github.com/butter-bot-machines/timermux/pkg/feed"
)

// Op names the pending operation.
type Op uint32

const (
	// None means the mailbox is empty.
	None Op = iota
	Attach
	Detach
	ChangeDelay
	AttachInSync
	ManualFire
)

// Request is the mailbox's payload. The subject/reference/newDelay fields
// are plain (non-atomic) on purpose: the foreground writes them before
// storing the tag, and the ISR reads them only after swapping the tag out
// to None, which establishes the same publication order an explicit
// release/acquire pair would.
type Request struct {
	Subject   *feed.Timer
	Reference *feed.Timer
	NewDelay  uint32
}

// Mailbox is the one-slot request handoff.
type Mailbox struct {
	tag atomic.Uint32
	req Request
}

// Post writes req and the operation tag. Must only be called from the
// foreground.
func (m *Mailbox) Post(op Op, req Request) {
	m.req = req
	m.tag.Store(uint32(op))
}

// Drain atomically takes and clears the pending operation. Must only be
// called from the ISR. Returns (None, Request{}) if nothing was pending.
func (m *Mailbox) Drain() (Op, Request) {
	op := Op(m.tag.Swap(uint32(None)))
	if op == None {
		return None, Request{}
	}
	return op, m.req
}
