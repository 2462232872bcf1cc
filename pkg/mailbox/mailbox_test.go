package mailbox

import (
	"testing"

	"github.com/butter-bot-machines/timermux/pkg/feed"
)

func TestDrainEmptyReturnsNone(t *testing.T) {
	var m Mailbox
	op, req := m.Drain()
	if op != None {
		t.Errorf("op = %v, want None", op)
	}
	if req != (Request{}) {
		t.Errorf("req = %+v, want zero value", req)
	}
}

func TestPostThenDrainReturnsTheRequestOnce(t *testing.T) {
	var m Mailbox
	subject := feed.NewTimer(10, false, func() {})

	m.Post(ChangeDelay, Request{Subject: subject, NewDelay: 50})

	op, req := m.Drain()
	if op != ChangeDelay {
		t.Errorf("op = %v, want ChangeDelay", op)
	}
	if req.Subject != subject || req.NewDelay != 50 {
		t.Errorf("req = %+v, want Subject=%v NewDelay=50", req, subject)
	}

	// a second drain without an intervening post must see None.
	op, _ = m.Drain()
	if op != None {
		t.Errorf("op after drain = %v, want None", op)
	}
}

func TestPostOverwritesAPendingUndrainedRequest(t *testing.T) {
	var m Mailbox
	first := feed.NewTimer(10, false, func() {})
	second := feed.NewTimer(20, false, func() {})

	m.Post(Attach, Request{Subject: first})
	m.Post(Detach, Request{Subject: second})

	op, req := m.Drain()
	if op != Detach {
		t.Errorf("op = %v, want Detach (second post wins)", op)
	}
	if req.Subject != second {
		t.Error("expected the second post's subject to survive")
	}
}
