package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 4)
	defer unsub()

	b.Publish(Event{Kind: "sync.batch", Timestamp: time.Now()})
	b.Publish(Event{Kind: "status.changed", Timestamp: time.Now()})

	select {
	case evt := <-ch:
		if evt.Kind != "sync.batch" {
			t.Errorf("kind = %q, want sync.batch", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for sync.batch")
	}

	// The non-matching event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event %q", evt.Kind)
	default:
	}
}

func TestEmptyPrefixReceivesAll(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 4)
	defer unsub()

	b.Publish(Event{Kind: "a"})
	b.Publish(Event{Kind: "b"})

	if got := len(ch); got != 2 {
		t.Errorf("buffered events = %d, want 2", got)
	}
}

func TestFullSubscriberDropsEvents(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("x.", 1)
	defer unsub()

	// Second publish must not block even though the buffer is full.
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Kind: "x.1"})
		b.Publish(Event{Kind: "x.2"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on full subscriber")
	}
	if got := len(ch); got != 1 {
		t.Errorf("buffered events = %d, want 1", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("x.", 1)
	unsub()

	b.Publish(Event{Kind: "x.1"})
	if got := len(ch); got != 0 {
		t.Errorf("got %d events after unsubscribe, want 0", got)
	}
}
