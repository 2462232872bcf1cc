// Package scheduler implements the scheduling core: it services the
// interrupt, drains the mailbox, advances fired timers, reinserts
// periodics, reprograms the compare register, and invokes callbacks. It
// also routes foreground calls either directly (when the hardware is
// stopped, or re-entrantly from inside tick()) or via the mailbox (when
// the counter is running).
//
// Caller contract: every public method here issues at most one mailbox
// request per call. Issuing a second foreground request before the
// synthesized interrupt has been serviced overwrites the first — see
// pkg/mailbox's package doc. In the intended single-foreground-context
// usage this is safe because the synthesized interrupt preempts on exit
// of the calling function, unless the foreground is itself already
// running inside an interrupt of equal or higher priority.
package scheduler

import (
	"os"
	"sync/atomic"

	"github.com/butter-bot-machines/timermux/pkg/counter"
	"github.com/butter-bot-machines/timermux/pkg/errors"
	"github.com/butter-bot-machines/timermux/pkg/feed"
	"github.com/butter-bot-machines/timermux/pkg/hook"
	"github.com/butter-bot-machines/timermux/pkg/logging"
	loggingslog "github.com/butter-bot-machines/timermux/pkg/logging/slog"
	"github.com/butter-bot-machines/timermux/pkg/mailbox"
)

// jitterEpsilon is the modular window within which a deadline is treated
// as already due, so a late interrupt is never rescheduled into the far
// future by wraparound arithmetic. 1000 ticks matches the original
// source's CALLBACK_JITTER constant.
const jitterEpsilon = 1000

// Options configures a Control beyond the counter it drives.
type Options struct {
	// Logger receives structured diagnostics; if nil, a JSON logger at
	// info level writing to os.Stdout is used.
	Logger logging.Logger
}

// Control is the application-facing scheduler: attach/detach timers,
// change their delay, synchronize them to one another, fire them on
// demand, and drive the underlying counter.
type Control struct {
	cnt   counter.Counter
	feed  *feed.Feed
	mbox  mailbox.Mailbox
	mask  uint32

	tickInProgress atomic.Bool
	reg            *hook.Registration

	logger logging.Logger
}

// New creates a Control bound to cnt and registers its tick as a
// compare-match handler on cnt. The counter is not started; call Begin to
// do that.
func New(cnt counter.Counter, opts Options) *Control {
	logger := opts.Logger
	if logger == nil {
		logger = loggingslog.NewLogger(logging.LevelInfo, os.Stdout)
	}

	c := &Control{
		cnt:    cnt,
		mask:   counter.Mask(cnt.Bits()),
		logger: logger.WithGroup("scheduler"),
	}
	c.feed = feed.New(cnt, cnt.Bits())
	c.reg = hook.Register(cnt, c.tick)
	return c
}

// Begin starts the underlying counter, re-registering the interrupt
// routing if a previous Stop tore it down. No partial state is left behind
// if the counter fails to start.
func (c *Control) Begin() error {
	if err := c.cnt.Start(); err != nil {
		return errors.HardwareFailure.Wrap(err, "failed to start counter")
	}
	if c.reg == nil {
		c.reg = hook.Register(c.cnt, c.tick)
	}
	c.logger.Info("scheduler started", "tick_frequency", c.cnt.TickFrequency())
	return nil
}

// Stop halts the counter and tears down interrupt routing.
func (c *Control) Stop() {
	if c.reg != nil {
		c.reg.Close()
		c.reg = nil
	}
	c.cnt.Stop()
	c.logger.Info("scheduler stopped")
}

// IsRunning reports whether the underlying counter is advancing.
func (c *Control) IsRunning() bool { return c.cnt.IsRunning() }

// ActualTickFrequency returns the counter's effective tick rate in Hz.
func (c *Control) ActualTickFrequency() uint32 { return c.cnt.TickFrequency() }

// now snapshots the counter once; every scheduling decision within one
// call uses this single value, since the modular "sooner" relation is
// only meaningful relative to one now.
func (c *Control) now() uint32 { return c.cnt.ReadNow() }

func (c *Control) mod(x uint32) uint32 { return x & c.mask }

// dist is the modular distance of x ahead of now.
func (c *Control) dist(now, x uint32) uint32 { return (x - now) & c.mask }

// direct reports whether the caller may mutate scheduling state directly
// instead of posting to the mailbox: either the counter isn't running, or
// this call is itself happening from inside tick().
func (c *Control) direct() bool {
	return !c.cnt.IsRunning() || c.tickInProgress.Load()
}

// Attach attaches t, computing its target as now+delay. No-op if already
// attached.
func (c *Control) Attach(t *feed.Timer) {
	if c.direct() {
		c.attachDirect(c.now(), t)
		return
	}
	c.mbox.Post(mailbox.Attach, mailbox.Request{Subject: t})
	c.cnt.TriggerCompareInterrupt()
}

func (c *Control) attachDirect(now uint32, t *feed.Timer) {
	if t.Attached() {
		return
	}
	c.feed.Insert(now, t, c.mod(now+t.Delay))
}

// Detach removes t from the feed. No-op if not attached.
func (c *Control) Detach(t *feed.Timer) {
	if c.direct() {
		c.feed.Remove(c.now(), t)
		return
	}
	c.mbox.Post(mailbox.Detach, mailbox.Request{Subject: t})
	c.cnt.TriggerCompareInterrupt()
}

// ChangeDelay changes t's delay, per the corrected algorithm (fire
// immediately only when the new delay has already elapsed, in either
// direction of change). No-op if d == 0.
func (c *Control) ChangeDelay(t *feed.Timer, d uint32) {
	if d == 0 {
		return
	}
	if c.direct() {
		c.changeDelayDirect(c.now(), t, d)
		return
	}
	c.mbox.Post(mailbox.ChangeDelay, mailbox.Request{Subject: t, NewDelay: d})
	c.cnt.TriggerCompareInterrupt()
}

func (c *Control) changeDelayDirect(now uint32, t *feed.Timer, d uint32) {
	if !t.Attached() {
		t.Delay = d
		return
	}

	elapsed := c.elapsedTicksDirect(now, t)
	if elapsed > d {
		// the new delay is already exceeded: fire now, breaking synchrony
		// with the virtual start, but guaranteeing progress.
		c.invoke(t)
		t.Delay = d
		newTarget := c.mod(now + d)
		c.feed.UpdateTarget(now, t, newTarget)
		return
	}

	newTarget := c.mod(t.Target() + d - t.Delay)
	t.Delay = d
	c.feed.UpdateTarget(now, t, newTarget)
}

// AttachInSync attaches t so that its phase matches ref's virtual start.
// No-op if t is already attached.
func (c *Control) AttachInSync(t, ref *feed.Timer) {
	if c.direct() {
		c.attachInSyncDirect(c.now(), t, ref)
		return
	}
	c.mbox.Post(mailbox.AttachInSync, mailbox.Request{Subject: t, Reference: ref})
	c.cnt.TriggerCompareInterrupt()
}

func (c *Control) attachInSyncDirect(now uint32, t, ref *feed.Timer) {
	if t.Attached() {
		return
	}
	start := c.mod(ref.Target() - ref.Delay)
	c.feed.Insert(now, t, feed.SyncNext(c.mask, start, now, t.Delay))
}

// ManualFire invokes t's callback immediately. If t was attached as a
// one-shot, it is detached; if periodic (attached or not), it ends up
// attached with a fresh target of now+delay.
func (c *Control) ManualFire(t *feed.Timer) {
	if c.direct() {
		c.manualFireDirect(c.now(), t)
		return
	}
	c.mbox.Post(mailbox.ManualFire, mailbox.Request{Subject: t})
	c.cnt.TriggerCompareInterrupt()
}

func (c *Control) manualFireDirect(now uint32, t *feed.Timer) {
	wasAttached := t.Attached()
	if wasAttached {
		c.feed.Remove(now, t)
	}

	c.invoke(t)

	if !t.Periodic {
		return
	}
	c.feed.Insert(now, t, c.mod(now+t.Delay))
}

// RemainingTicks returns how many ticks remain until t fires, or 0 if not
// attached.
func (c *Control) RemainingTicks(t *feed.Timer) uint32 {
	if !t.Attached() {
		return 0
	}
	return c.dist(c.now(), t.Target())
}

// ElapsedTicks returns how many ticks have elapsed since t's virtual
// start, or 0 if not attached.
func (c *Control) ElapsedTicks(t *feed.Timer) uint32 {
	if !t.Attached() {
		return 0
	}
	return c.elapsedTicksDirect(c.now(), t)
}

func (c *Control) elapsedTicksDirect(now uint32, t *feed.Timer) uint32 {
	return t.Delay - c.dist(now, t.Target())
}

func (c *Control) invoke(t *feed.Timer) {
	t.Invoke()
}

// Sleep busy-waits for at least the given number of ticks, tolerating
// ticks >= the counter's modulus by accumulating modular deltas rather
// than comparing absolute values directly. Must not be called while the
// counter is stopped; returns immediately if it is.
func (c *Control) Sleep(ticks uint32) {
	if !c.cnt.IsRunning() {
		return
	}
	prev := c.now()
	for ticks > 0 {
		cur := c.now()
		diff := c.dist(prev, cur)
		if diff > ticks {
			diff = ticks
		}
		ticks -= diff
		prev = cur
	}
}

// tick is the ISR body, registered via hook.Register in New. It services
// the mailbox and the expired head of the feed using a single now snapshot
// per drain step, exactly as spec'd: the mailbox request is dispatched
// first, against the same now the drain loop starts with, and now is
// re-read after every callback since a callback may take arbitrary time.
func (c *Control) tick() {
	c.tickInProgress.Store(true)
	defer c.tickInProgress.Store(false)

	now := c.now()

	if op, req := c.mbox.Drain(); op != mailbox.None {
		c.dispatchDirect(now, op, req)
	}

	for {
		head := c.feed.Head()
		if head == nil {
			break
		}
		if c.dist(head.Target(), now) >= jitterEpsilon {
			break
		}

		if head.Periodic {
			newTarget := c.mod(head.Target() + head.Delay)
			c.feed.UpdateTarget(now, head, newTarget)
		} else {
			c.feed.Remove(now, head)
		}

		c.invoke(head)
		now = c.now()
	}
}

// dispatchDirect applies a drained mailbox request against now. Called
// only from tick(), so every direct-mutation helper it reaches is safe to
// call re-entrantly.
func (c *Control) dispatchDirect(now uint32, op mailbox.Op, req mailbox.Request) {
	switch op {
	case mailbox.Attach:
		c.attachDirect(now, req.Subject)
	case mailbox.Detach:
		c.feed.Remove(now, req.Subject)
	case mailbox.ChangeDelay:
		c.changeDelayDirect(now, req.Subject, req.NewDelay)
	case mailbox.AttachInSync:
		c.attachInSyncDirect(now, req.Subject, req.Reference)
	case mailbox.ManualFire:
		c.manualFireDirect(now, req.Subject)
	}
}
