// Package hook implements the process-wide interrupt routing the original
// source needs to fan one global hardware callback out to every live
// controller instance. Go's counter.Counter.OnCompareMatch already lets a
// single scheduler register its own closure directly, so the fan-out
// itself is rarely needed — but several scheduler.Control instances can
// legitimately share one physical counter.Counter (e.g. a bus multiplexed
// across logical channels in tests), and that is exactly the situation
// spec.md's global callback chain was built for. Register and Close give
// instances the same init/teardown lifecycle as the original's
// constructor/destructor registration, expressed as an explicit handle
// instead of relying on destructors Go doesn't have.
package hook

import (
	"sync"

	"github.com/butter-bot-machines/timermux/pkg/counter"
)

type entry struct {
	handler func()
}

// registry is the per-source fan-out list. Mutating it — registering or
// deregistering a handler — always happens with the source's compare
// interrupt disabled, matching "protected from the ISR by disabling the
// compare interrupt during register/unregister" (spec.md §9).
type registry struct {
	mu      sync.Mutex
	entries map[*entry]struct{}
}

var (
	registriesMu sync.Mutex
	registries   = map[counter.Counter]*registry{}
)

// Registration is the handle returned by Register; Close deregisters it.
type Registration struct {
	source counter.Counter
	reg    *registry
	e      *entry
}

// Register adds handler to source's dispatch list and installs the
// fan-out trampoline on source if this is its first registration. Returns
// a Registration whose Close removes just this handler.
func Register(source counter.Counter, handler func()) *Registration {
	registriesMu.Lock()
	reg, ok := registries[source]
	if !ok {
		reg = &registry{entries: map[*entry]struct{}{}}
		registries[source] = reg
	}
	registriesMu.Unlock()

	wasRunning := source.IsRunning()
	if wasRunning {
		source.Stop()
	}

	reg.mu.Lock()
	e := &entry{handler: handler}
	reg.entries[e] = struct{}{}
	first := len(reg.entries) == 1
	if first {
		source.OnCompareMatch(func() { reg.fire() })
	}
	reg.mu.Unlock()

	if wasRunning {
		source.Start()
	}

	return &Registration{source: source, reg: reg, e: e}
}

// Close deregisters the handler. Safe to call once; a second call is a
// no-op.
func (r *Registration) Close() {
	if r == nil || r.e == nil {
		return
	}
	wasRunning := r.source.IsRunning()
	if wasRunning {
		r.source.Stop()
	}

	r.reg.mu.Lock()
	delete(r.reg.entries, r.e)
	empty := len(r.reg.entries) == 0
	r.reg.mu.Unlock()

	if empty {
		r.source.OnCompareMatch(nil)
		registriesMu.Lock()
		if registries[r.source] == r.reg {
			delete(registries, r.source)
		}
		registriesMu.Unlock()
	}

	if wasRunning {
		r.source.Start()
	}
	r.e = nil
}

func (reg *registry) fire() {
	reg.mu.Lock()
	handlers := make([]func(), 0, len(reg.entries))
	for e := range reg.entries {
		handlers = append(handlers, e.handler)
	}
	reg.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}
