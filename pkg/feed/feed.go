package feed

import "github.com/butter-bot-machines/timermux/pkg/counter"

// compareSetter is the slice of counter.Counter the feed actually needs;
// kept narrow so feed tests can pass a trivial fake instead of a full
// counter.Counter.
type compareSetter interface {
	SetCompare(value uint32)
}

// Feed is the sorted schedule of attached timers: a sentinel head with
// real timers linked through Timer.next, ordered by modular distance from
// "now" at the time of the last mutation. The hardware compare register
// always mirrors the head's target while the feed is non-empty.
type Feed struct {
	head    Timer // sentinel; only its next field is ever used
	cnt     compareSetter
	mask    uint32
	modulus uint32
}

// New creates an empty feed bound to cnt, with arithmetic performed modulo
// 2^bits.
func New(cnt compareSetter, bits uint8) *Feed {
	return &Feed{
		cnt:     cnt,
		mask:    counter.Mask(bits),
		modulus: counter.Modulus(bits),
	}
}

// Mask returns the modulus-1 this feed computes with.
func (f *Feed) Mask() uint32 { return f.mask }

// Head returns the first attached timer, or nil if the feed is empty.
func (f *Feed) Head() *Timer { return f.head.next }

// Empty reports whether the feed has no attached timers.
func (f *Feed) Empty() bool { return f.head.next == nil }

// dist is the modular distance of x ahead of now: how many ticks from now
// until the counter reaches x.
func (f *Feed) dist(now, x uint32) uint32 {
	return (x - now) & f.mask
}

// sooner reports whether x is modularly sooner than y, relative to now.
// This relation is only meaningful for one now snapshot at a time — it is
// not a stable total order independent of time.
func (f *Feed) sooner(now, x, y uint32) bool {
	return f.dist(now, x) < f.dist(now, y)
}

// findInsertionPredecessor scans from start forward while the next
// record's target is modularly sooner than target, and returns the last
// predecessor whose successor should receive the new record.
func (f *Feed) findInsertionPredecessor(start *Timer, now, target uint32) *Timer {
	pred := start
	for pred.next != nil && f.sooner(now, pred.next.target, target) {
		pred = pred.next
	}
	return pred
}

// insertAfter splices t between pred and pred.next, marks it attached,
// and refreshes the compare register if t lands at the head.
func (f *Feed) insertAfter(pred, t *Timer) {
	t.next = pred.next
	pred.next = t
	t.attached = true
	if pred == &f.head {
		f.cnt.SetCompare(t.target)
	}
}

// Insert sets t's target and attaches it at the position that target
// implies, relative to now. t must not already be attached.
func (f *Feed) Insert(now uint32, t *Timer, target uint32) {
	t.target = target
	pred := f.findInsertionPredecessor(&f.head, now, target)
	f.insertAfter(pred, t)
}

// Remove detaches t if it is attached. If t was the head, the compare
// register is refreshed to the new head's target, or to now-1 — the
// maximum future distance — if the feed becomes empty.
func (f *Feed) Remove(now uint32, t *Timer) {
	if !t.attached {
		return
	}
	pred := &f.head
	for pred.next != nil && pred.next != t {
		pred = pred.next
	}
	if pred.next != t {
		return
	}
	wasHead := pred == &f.head
	pred.next = t.next
	t.next = nil
	t.attached = false

	if wasHead {
		if f.head.next != nil {
			f.cnt.SetCompare(f.head.next.target)
		} else {
			f.cnt.SetCompare(now - 1)
		}
	}
}

// UpdateTarget repositions t for newTarget while preserving the feed's
// sort order: t is unlinked and reinserted at the position its new target
// implies. A fused single-pass search (walk once, compare t's own
// candidate slot against its already-mutated target) is what the original
// source does, but that scan stops the moment it reaches t's current
// position and so never reorders it past whatever used to follow it —
// fine for small delay changes, silently wrong for a delay lengthened
// enough to jump multiple timers. Remove-then-Insert costs one extra
// O(n) pass and is never wrong. The compare register is refreshed
// whenever t moved to or away from the head, by virtue of Remove and
// Insert each refreshing it for their own half of the move.
func (f *Feed) UpdateTarget(now uint32, t *Timer, newTarget uint32) {
	if !t.attached {
		t.target = newTarget
		return
	}
	f.Remove(now, t)
	f.Insert(now, t, newTarget)
}

// SyncNext returns the smallest target strictly greater than now that is
// congruent to start modulo delay — the closed-form replacement for the
// "add delay until it's in the future" loop the design notes flag as
// O(past_gap/delay).
func SyncNext(mask uint32, start, now, delay uint32) uint32 {
	diff := (now - start) & mask
	sub := diff % delay
	incr := delay - sub
	return (now + incr) & mask
}
