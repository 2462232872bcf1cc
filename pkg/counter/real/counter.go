// Package real implements counter.Counter on top of a software oscillator
// (github.com/benbjohnson/clock) in place of a physical capture/compare
// register. It still behaves like hardware from the scheduler's point of
// view: the counter advances independently of the foreground, wraps at its
// modulus, and delivers compare matches asynchronously to the registered
// handler.
package real

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/butter-bot-machines/timermux/pkg/counter"
)

// Counter is a free-running up-counter clocked by a clock.Clock ticker.
type Counter struct {
	clk           clock.Clock
	bits          uint8
	tickFreq      uint32
	tickPeriod    time.Duration
	mask          uint32
	now           uint32 // atomic, advanced by the ticker goroutine only
	compare       uint32 // atomic
	running       atomic.Bool
	handlerMu     sync.RWMutex
	handler       func()
	ticker        *clock.Ticker
	synthesize    chan struct{}
	stopDispatch  chan struct{}
	dispatchGroup sync.WaitGroup
}

// New creates a counter driven by clk, ticking at tickFreq Hz with the
// given counter width. clk is typically clock.New() in production and a
// clock.Mock in tests that want a real (not counter/mock) Counter but
// controlled time.
func New(clk clock.Clock, tickFreq uint32, bits uint8) *Counter {
	if clk == nil {
		clk = clock.New()
	}
	return &Counter{
		clk:        clk,
		bits:       bits,
		tickFreq:   tickFreq,
		tickPeriod: time.Second / time.Duration(tickFreq),
		mask:       counter.Mask(bits),
	}
}

// Bits returns the counter width.
func (c *Counter) Bits() uint8 { return c.bits }

// TickFrequency returns the configured tick rate.
func (c *Counter) TickFrequency() uint32 { return c.tickFreq }

// ReadNow returns the current counter value.
func (c *Counter) ReadNow() uint32 {
	return atomic.LoadUint32(&c.now) & c.mask
}

// SetCompare installs the next compare-match target.
func (c *Counter) SetCompare(value uint32) {
	atomic.StoreUint32(&c.compare, value&c.mask)
}

// IsRunning reports whether the oscillator is advancing.
func (c *Counter) IsRunning() bool {
	return c.running.Load()
}

// OnCompareMatch registers the ISR entry point.
func (c *Counter) OnCompareMatch(handler func()) {
	c.handlerMu.Lock()
	c.handler = handler
	c.handlerMu.Unlock()
}

// Start begins advancing the counter and dispatching compare matches.
// Both the periodic tick and a synthesized interrupt funnel through the
// same dispatch goroutine, which is what guarantees the handler is never
// invoked concurrently with itself.
func (c *Counter) Start() error {
	if c.running.Swap(true) {
		return nil
	}

	c.ticker = c.clk.Ticker(c.tickPeriod)
	c.synthesize = make(chan struct{}, 1)
	c.stopDispatch = make(chan struct{})

	c.dispatchGroup.Add(1)
	go c.dispatchLoop()

	return nil
}

// Stop halts the oscillator and the dispatch goroutine.
func (c *Counter) Stop() {
	if !c.running.Swap(false) {
		return
	}
	c.ticker.Stop()
	close(c.stopDispatch)
	c.dispatchGroup.Wait()
}

// TriggerCompareInterrupt synthesizes a compare match without waiting for
// the oscillator.
func (c *Counter) TriggerCompareInterrupt() {
	select {
	case c.synthesize <- struct{}{}:
	default:
		// a synthesized interrupt is already pending; it will observe the
		// same or a later state, so dropping this one is harmless.
	}
}

func (c *Counter) dispatchLoop() {
	defer c.dispatchGroup.Done()
	for {
		select {
		case <-c.stopDispatch:
			return
		case <-c.ticker.C:
			atomic.AddUint32(&c.now, 1)
			c.fireIfDue()
		case <-c.synthesize:
			c.fire()
		}
	}
}

// fireIfDue only invokes the handler when the counter equals the installed
// compare value, mirroring a real capture/compare peripheral which only
// interrupts on a match. A compare value the counter has already passed
// is not matched until the counter wraps around to it.
func (c *Counter) fireIfDue() {
	now := c.ReadNow()
	compare := atomic.LoadUint32(&c.compare)
	if now == compare {
		c.fire()
	}
}

func (c *Counter) fire() {
	c.handlerMu.RLock()
	h := c.handler
	c.handlerMu.RUnlock()
	if h != nil {
		h()
	}
}
