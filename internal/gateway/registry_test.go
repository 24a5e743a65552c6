package gateway

import (
	"errors"
	"testing"

	"github.com/hearthd/hearth/pkg/models"
)

type fakeConn struct {
	sent    []models.Event
	closed  bool
	sendErr error
}

func (c *fakeConn) Send(event models.Event) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, event)
	return nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestRegistryAttachReplacesPrevious(t *testing.T) {
	r := NewRegistry(nil, nil)
	first := &fakeConn{}
	second := &fakeConn{}

	r.Attach("user-1", first)
	r.Attach("user-1", second)
	if !first.closed {
		t.Fatal("replaced connection was not closed")
	}
	if second.closed {
		t.Fatal("new connection was closed")
	}

	r.Notify("user-1", models.Event{Type: models.EventStatus, Text: "hi"})
	if len(first.sent) != 0 || len(second.sent) != 1 {
		t.Fatalf("delivery after replacement: first=%d second=%d", len(first.sent), len(second.sent))
	}
}

func TestRegistryQueuesWhileOffline(t *testing.T) {
	r := NewRegistry(nil, nil)

	r.Notify("user-1", models.Event{Type: models.EventStatus, Text: "reminder one"})
	r.Notify("user-1", models.Event{Type: models.EventStatus, Text: "reminder two"})
	if got := r.Connected(); len(got) != 0 {
		t.Fatalf("Connected() = %v, want none", got)
	}

	conn := &fakeConn{}
	r.Attach("user-1", conn)
	if len(conn.sent) != 2 {
		t.Fatalf("drained %d queued events, want 2", len(conn.sent))
	}
	if conn.sent[0].Text != "reminder one" || conn.sent[1].Text != "reminder two" {
		t.Fatalf("queue drained out of order: %v", conn.sent)
	}

	// The queue is consumed; a reconnect delivers nothing extra.
	replacement := &fakeConn{}
	r.Attach("user-1", replacement)
	if len(replacement.sent) != 0 {
		t.Fatalf("second attach drained %d events, want 0", len(replacement.sent))
	}
}

func TestRegistrySendFailureRequeues(t *testing.T) {
	r := NewRegistry(nil, nil)
	broken := &fakeConn{sendErr: errors.New("write: broken pipe")}
	r.Attach("user-1", broken)

	r.Notify("user-1", models.Event{Type: models.EventStatus, Text: "lost?"})

	r.Detach("user-1", broken)
	fresh := &fakeConn{}
	r.Attach("user-1", fresh)
	if len(fresh.sent) != 1 || fresh.sent[0].Text != "lost?" {
		t.Fatalf("re-queued event not delivered on reconnect: %v", fresh.sent)
	}
}

func TestRegistryDetachOnlyActive(t *testing.T) {
	r := NewRegistry(nil, nil)
	old := &fakeConn{}
	current := &fakeConn{}
	r.Attach("user-1", old)
	r.Attach("user-1", current)

	// A stale detach from the replaced connection must not drop the live one.
	r.Detach("user-1", old)
	if got := r.Connected(); len(got) != 1 || got[0] != "user-1" {
		t.Fatalf("Connected() = %v, want user-1 still attached", got)
	}

	r.Detach("user-1", current)
	if got := r.Connected(); len(got) != 0 {
		t.Fatalf("Connected() = %v, want empty after detach", got)
	}
}
