package phxsocket

import (
	"testing"
	"time"
)

func TestFuncSubscriber(t *testing.T) {
	var got *Message
	sub := NewFuncSubscriber(func(msg *Message) { got = msg })

	sub.Deliver(&Message{Topic: "t", Event: "e"})
	if got == nil || got.Topic != "t" {
		t.Errorf("delivered = %+v", got)
	}

	select {
	case <-sub.Done():
		t.Fatal("Done closed before Close")
	default:
	}

	sub.Close()
	sub.Close() // idempotent
	select {
	case <-sub.Done():
	default:
		t.Error("Done not closed after Close")
	}
}

func TestWatchLivenessNotifiesOnTermination(t *testing.T) {
	sub := NewFuncSubscriber(nil)
	notified := make(chan *livenessWatch, 1)

	w := watchLiveness(sub, "room:1", func(topic string, got *livenessWatch) {
		if topic != "room:1" {
			t.Errorf("topic = %q, want room:1", topic)
		}
		notified <- got
	})

	sub.Close()
	select {
	case got := <-notified:
		if got != w {
			t.Error("notification carries the wrong watch token")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no notification after subscriber terminated")
	}
}

func TestWatchLivenessStopSuppressesNotify(t *testing.T) {
	sub := NewFuncSubscriber(nil)
	notified := make(chan struct{}, 1)

	w := watchLiveness(sub, "room:1", func(string, *livenessWatch) {
		notified <- struct{}{}
	})
	w.stop()
	w.stop() // idempotent
	sub.Close()

	select {
	case <-notified:
		t.Error("stopped watch still notified")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistryDrain(t *testing.T) {
	r := newRegistry()
	r.put("a", &channelEntry{subscriber: NewFuncSubscriber(nil)})
	r.put("b", &channelEntry{subscriber: NewFuncSubscriber(nil)})
	if r.len() != 2 {
		t.Fatalf("len = %d, want 2", r.len())
	}

	entries := r.drain()
	if len(entries) != 2 {
		t.Errorf("drained %d entries, want 2", len(entries))
	}
	if r.len() != 0 {
		t.Errorf("len after drain = %d, want 0", r.len())
	}
	if _, ok := r.get("a"); ok {
		t.Error("entry survived drain")
	}
}
