package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	defer unsub()

	b.Emit(KindSyncStatusChanged, "ok")

	select {
	case evt := <-ch:
		if evt.Kind != KindSyncStatusChanged {
			t.Errorf("got kind %q, want %s", evt.Kind, KindSyncStatusChanged)
		}
		if evt.Timestamp.IsZero() {
			t.Error("event timestamp not set")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("chain.", 10)
	defer unsub()

	b.Emit(KindMessageUpserted, nil)
	b.Emit(KindChainMismatch, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindChainMismatch {
			t.Errorf("got kind %q, want %s", evt.Kind, KindChainMismatch)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("sync.", 10)
	unsub()
	unsub() // second call is a no-op

	b.Emit(KindSyncStatusChanged, nil)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after unsubscribe")
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("channel not closed after unsubscribe")
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 1)
	defer unsub()

	b.Emit(KindMessageUpserted, "one")
	b.Emit(KindMessageUpserted, "two")

	evt := <-ch
	if evt.Payload != "one" {
		t.Errorf("got %v, want one", evt.Payload)
	}
	if b.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", b.Dropped())
	}
}

func TestNilBusIsSafe(t *testing.T) {
	var b *Bus
	b.Emit(KindChainAppended, nil)
	if b.Dropped() != 0 {
		t.Error("nil bus should report zero drops")
	}
}
