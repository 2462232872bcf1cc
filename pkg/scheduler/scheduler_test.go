package scheduler

import (
	"testing"

	"github.com/butter-bot-machines/timermux/pkg/counter/mock"
	"github.com/butter-bot-machines/timermux/pkg/feed"
	"github.com/butter-bot-machines/timermux/pkg/logging"
	"github.com/butter-bot-machines/timermux/pkg/logging/memory"
)

func newTestControl(t *testing.T) (*Control, *mock.Counter) {
	t.Helper()
	cnt := mock.New(16, 1000)
	ctrl := New(cnt, Options{})
	return ctrl, cnt
}

// With the counter stopped, every mutator must take the direct path:
// no mailbox round-trip, no synthesized interrupt needed to observe the
// effect.
func TestAttachDirectWhileStopped(t *testing.T) {
	ctrl, cnt := newTestControl(t)
	cnt.SetNow(100)

	fired := false
	timer := feed.NewTimer(50, false, func() { fired = true })
	ctrl.Attach(timer)

	if !timer.Attached() {
		t.Fatal("timer should be attached")
	}
	if timer.Target() != 150 {
		t.Errorf("target = %d, want 150", timer.Target())
	}

	cnt.SetNow(150)
	cnt.FireCompareMatch()
	if !fired {
		t.Error("callback should have fired")
	}
	if timer.Attached() {
		t.Error("one-shot timer should detach after firing")
	}
}

func TestPeriodicTimerReattachesAfterFiring(t *testing.T) {
	ctrl, cnt := newTestControl(t)
	cnt.SetNow(0)

	fireCount := 0
	timer := feed.NewTimer(100, true, func() { fireCount++ })
	ctrl.Attach(timer)

	for i := 0; i < 3; i++ {
		want := timer.Target()
		cnt.SetNow(want)
		cnt.FireCompareMatch()
	}

	if fireCount != 3 {
		t.Errorf("fireCount = %d, want 3", fireCount)
	}
	if !timer.Attached() {
		t.Error("periodic timer should remain attached")
	}
}

func TestDetachRemovesFromFeed(t *testing.T) {
	ctrl, cnt := newTestControl(t)
	cnt.SetNow(0)

	timer := feed.NewTimer(10, false, func() {})
	ctrl.Attach(timer)
	ctrl.Detach(timer)

	if timer.Attached() {
		t.Error("timer should be detached")
	}
}

// ChangeDelay's corrected algorithm: a delay shortened past the elapsed
// time fires immediately instead of silently rolling over.
func TestChangeDelayFiresImmediatelyWhenAlreadyElapsed(t *testing.T) {
	ctrl, cnt := newTestControl(t)
	cnt.SetNow(0)

	fireCount := 0
	timer := feed.NewTimer(1000, false, func() { fireCount++ })
	ctrl.Attach(timer)

	cnt.SetNow(500) // 500 ticks elapsed out of 1000
	ctrl.ChangeDelay(timer, 100)

	if fireCount != 1 {
		t.Errorf("fireCount = %d, want 1 (new delay already exceeded)", fireCount)
	}
}

func TestChangeDelayPreservesPhaseWhenNotYetElapsed(t *testing.T) {
	ctrl, cnt := newTestControl(t)
	cnt.SetNow(0)

	timer := feed.NewTimer(1000, false, func() {})
	ctrl.Attach(timer)

	cnt.SetNow(100) // 100 elapsed, 900 remaining
	ctrl.ChangeDelay(timer, 2000)

	// virtual start (target - delay) is preserved: old target 1000, old
	// delay 1000 -> start 0; new delay 2000 -> new target 2000.
	want := uint32(2000)
	if timer.Target() != want {
		t.Errorf("target = %d, want %d", timer.Target(), want)
	}
}

func TestAttachInSyncAlignsToReferenceVirtualStart(t *testing.T) {
	ctrl, cnt := newTestControl(t)
	cnt.SetNow(0)

	ref := feed.NewTimer(100, true, func() {})
	ctrl.Attach(ref) // ref.target = 100, virtual start = 0

	cnt.SetNow(250)
	t2 := feed.NewTimer(100, true, func() {})
	ctrl.AttachInSync(t2, ref)

	// ref fires every 100 ticks starting from 0: 0,100,200,300,...
	// from now=250, the next aligned fire is 300.
	if t2.Target() != 300 {
		t.Errorf("target = %d, want 300", t2.Target())
	}
}

func TestManualFireOneShotDetaches(t *testing.T) {
	ctrl, cnt := newTestControl(t)
	cnt.SetNow(0)

	fired := false
	timer := feed.NewTimer(500, false, func() { fired = true })
	ctrl.Attach(timer)

	ctrl.ManualFire(timer)
	if !fired {
		t.Error("callback should have fired")
	}
	if timer.Attached() {
		t.Error("one-shot manual fire should detach the timer")
	}
}

func TestManualFirePeriodicReattachesWithFreshTarget(t *testing.T) {
	ctrl, cnt := newTestControl(t)
	cnt.SetNow(42)

	timer := feed.NewTimer(100, true, func() {})
	ctrl.ManualFire(timer) // never attached before

	if !timer.Attached() {
		t.Fatal("periodic timer should attach after manual fire")
	}
	if timer.Target() != 142 {
		t.Errorf("target = %d, want 142", timer.Target())
	}
}

func TestRemainingAndElapsedTicks(t *testing.T) {
	ctrl, cnt := newTestControl(t)
	cnt.SetNow(0)

	timer := feed.NewTimer(100, false, func() {})
	ctrl.Attach(timer)

	cnt.SetNow(30)
	if got := ctrl.RemainingTicks(timer); got != 70 {
		t.Errorf("RemainingTicks = %d, want 70", got)
	}
	if got := ctrl.ElapsedTicks(timer); got != 30 {
		t.Errorf("ElapsedTicks = %d, want 30", got)
	}
}

func TestUnattachedRemainingElapsedAreZero(t *testing.T) {
	ctrl, _ := newTestControl(t)
	timer := feed.NewTimer(100, false, func() {})
	if ctrl.RemainingTicks(timer) != 0 || ctrl.ElapsedTicks(timer) != 0 {
		t.Error("unattached timer must report 0 remaining/elapsed")
	}
}

// While the counter is running and tick isn't in progress, mutators must
// route through the mailbox and synthesize an interrupt rather than
// mutating the feed inline.
func TestMutatorsRouteThroughMailboxWhileRunning(t *testing.T) {
	ctrl, cnt := newTestControl(t)
	if err := ctrl.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer ctrl.Stop()

	cnt.SetNow(0)
	timer := feed.NewTimer(100, false, func() {})
	ctrl.Attach(timer) // posts to mailbox + synthesizes interrupt, serviced synchronously by mock

	if !timer.Attached() {
		t.Error("timer should be attached once the synthesized interrupt is serviced")
	}
}

// A delay well inside jitterEpsilon (5 < 1000) must not make the
// synthesized interrupt that services the attach also fire the timer: the
// drain loop only fires a head whose target is already behind now, not one
// merely near in the future. A regression here would detach this one-shot
// immediately instead of leaving it attached to fire on its own target.
func TestAttachNearFutureDoesNotFireEarly(t *testing.T) {
	ctrl, cnt := newTestControl(t)
	if err := ctrl.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer ctrl.Stop()

	cnt.SetNow(0)
	fired := false
	timer := feed.NewTimer(5, false, func() { fired = true })
	ctrl.Attach(timer)

	if fired {
		t.Error("timer fired early on attach; drain loop should only fire already-expired heads")
	}
	if !timer.Attached() {
		t.Error("timer should remain attached, waiting for its own target")
	}
}

// A late or synthesized interrupt that arrives after the head's target has
// already passed (now a few ticks ahead of target, not a few ticks behind
// it) must still drain and fire that head, per jitterEpsilon's modular
// "already due" window.
func TestTickFiresAnAlreadyPassedHead(t *testing.T) {
	ctrl, cnt := newTestControl(t)
	cnt.SetNow(0)

	fired := false
	timer := feed.NewTimer(100, false, func() { fired = true })
	ctrl.Attach(timer) // counter not running: direct attach, target = 100

	cnt.SetNow(105) // the interrupt arrives 5 ticks after the target elapsed
	ctrl.tick()

	if !fired {
		t.Error("expected the already-passed head to fire")
	}
	if timer.Attached() {
		t.Error("one-shot timer should be detached after firing")
	}
}

func TestBeginPropagatesHardwareFailure(t *testing.T) {
	cnt := &failingCounter{Counter: *mock.New(16, 1000)}
	ctrl := New(cnt, Options{})
	if err := ctrl.Begin(); err == nil {
		t.Fatal("expected Begin to propagate the counter's start error")
	}
}

type failingCounter struct {
	mock.Counter
}

func (f *failingCounter) Start() error {
	return errStartFailed
}

var errStartFailed = startError{}

type startError struct{}

func (startError) Error() string { return "counter failed to start" }

func TestBeginAndStopLogLifecycleEvents(t *testing.T) {
	logger := memory.NewLogger(logging.LevelDebug, nil)
	cnt := mock.New(16, 1000)
	ctrl := New(cnt, Options{Logger: logger})

	if err := ctrl.Begin(); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	ctrl.Stop()

	entries := logger.GetEntries()
	var sawBegin, sawStop bool
	for _, e := range entries {
		switch e.Message {
		case "scheduler started":
			sawBegin = true
		case "scheduler stopped":
			sawStop = true
		}
	}
	if !sawBegin {
		t.Error("expected a log entry recording scheduler start")
	}
	if !sawStop {
		t.Error("expected a log entry recording scheduler stop")
	}
}
