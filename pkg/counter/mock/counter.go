// Package mock implements counter.Counter synchronously for tests: Advance
// and FireCompareMatch are the only way time moves or an interrupt fires,
// so property tests and scenario tests can drive the scheduler one
// deterministic step at a time.
package mock

import (
	"sync"

	"github.com/butter-bot-machines/timermux/pkg/counter"
)

// Counter is a fully synchronous, single-threaded stand-in for hardware.
type Counter struct {
	mu       sync.Mutex
	bits     uint8
	mask     uint32
	tickFreq uint32
	now      uint32
	compare  uint32
	running  bool
	handler  func()
}

// New creates a stopped mock counter starting at now=0.
func New(bits uint8, tickFreq uint32) *Counter {
	return &Counter{
		bits:     bits,
		mask:     counter.Mask(bits),
		tickFreq: tickFreq,
	}
}

func (c *Counter) Bits() uint8          { return c.bits }
func (c *Counter) TickFrequency() uint32 { return c.tickFreq }

func (c *Counter) ReadNow() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Counter) SetCompare(value uint32) {
	c.mu.Lock()
	c.compare = value & c.mask
	c.mu.Unlock()
}

func (c *Counter) Compare() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compare
}

func (c *Counter) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Counter) Start() error {
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	return nil
}

func (c *Counter) Stop() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *Counter) OnCompareMatch(handler func()) {
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
}

// TriggerCompareInterrupt invokes the handler synchronously, exactly like
// FireCompareMatch. Kept separate to satisfy counter.Counter and to read
// naturally from scheduler code ("trigger the interrupt").
func (c *Counter) TriggerCompareInterrupt() {
	c.invoke()
}

// SetNow jumps the counter directly to value without firing the handler.
// Useful to seed scenario tests at a specific starting tick.
func (c *Counter) SetNow(value uint32) {
	c.mu.Lock()
	c.now = value & c.mask
	c.mu.Unlock()
}

// Advance moves the counter forward by delta ticks (mod the counter
// width) without invoking the handler, even if the advance crosses the
// compare value. Tests call FireCompareMatch explicitly to simulate the
// ISR, which keeps cause (time passing) and effect (interrupt firing)
// separately controllable.
func (c *Counter) Advance(delta uint32) {
	c.mu.Lock()
	c.now = (c.now + delta) & c.mask
	c.mu.Unlock()
}

// FireCompareMatch invokes the registered handler synchronously, as if a
// compare-match interrupt had just been taken.
func (c *Counter) FireCompareMatch() {
	c.invoke()
}

func (c *Counter) invoke() {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h()
	}
}
