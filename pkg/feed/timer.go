// Package feed implements the timer record and the sorted schedule of
// attached timers (an intrusive, singly linked list ordered by firing
// deadline in counter-modular order). Timer and Feed live in one package
// because the feed must reposition a timer's private scheduling fields
// directly — the Go equivalent of the original C++ TimerArrayControl being
// a friend of Timer, without exporting that mutable state to callers.
package feed

// Timer is one logical timer. The application owns the Timer it
// constructs; the scheduler never allocates or frees one.
type Timer struct {
	// Delay is the nominal period between firings, in ticks. Always > 0
	// once constructed.
	Delay uint32

	// Periodic, if true, means the timer reschedules itself after every
	// firing instead of detaching.
	Periodic bool

	fire func() // invoked when the timer fires; captures plain or context callbacks uniformly

	target   uint32 // counter value the timer is next due at; meaningful only while attached
	attached bool
	next     *Timer // successor in whichever feed this timer is attached to, if any
}

// NewTimer constructs a plain one-shot or periodic timer. It starts
// unattached.
func NewTimer(delay uint32, periodic bool, callback func()) *Timer {
	if delay == 0 {
		delay = 1
	}
	return &Timer{
		Delay:    delay,
		Periodic: periodic,
		fire:     callback,
	}
}

// NewContextTimer constructs a timer whose callback receives an
// application-supplied context reference. This is the tagged-callback
// variant called for in the design notes: ctx is closed over once here so
// Timer's memory layout stays uniform regardless of which constructor was
// used.
func NewContextTimer[T any](delay uint32, periodic bool, ctx T, callback func(T)) *Timer {
	if delay == 0 {
		delay = 1
	}
	return &Timer{
		Delay:    delay,
		Periodic: periodic,
		fire:     func() { callback(ctx) },
	}
}

// Attached reports whether the timer is currently present in a feed.
func (t *Timer) Attached() bool { return t.attached }

// Target returns the counter value the timer is next due at. Zero if the
// timer is not attached.
func (t *Timer) Target() uint32 {
	if !t.attached {
		return 0
	}
	return t.target
}

// Invoke runs the timer's callback. Exported so scheduler.Control can fire
// it from the tick ISR and from ManualFire without the feed package having
// to expose target/attached/next alongside it.
func (t *Timer) Invoke() {
	if t.fire != nil {
		t.fire()
	}
}
