package events

import "testing"

type testEvent struct{ name string }

func (e testEvent) Kind() string { return e.name }

func TestHubDeliversToAllSubscribers(t *testing.T) {
	hub := NewHub(4)
	a := hub.Subscribe()
	b := hub.Subscribe()

	hub.Publish(testEvent{"patch_progress"})

	for _, sub := range []*Subscription{a, b} {
		select {
		case ev := <-sub.Events():
			if ev.Kind() != "patch_progress" {
				t.Fatalf("expected patch_progress, got %s", ev.Kind())
			}
		default:
			t.Fatal("expected event to be buffered")
		}
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(1)
	sub := hub.Subscribe()
	defer sub.Cancel()

	hub.Publish(testEvent{"first"})
	hub.Publish(testEvent{"second"})

	if got := hub.Dropped(); got != 1 {
		t.Fatalf("expected 1 dropped event, got %d", got)
	}

	ev := <-sub.Events()
	if ev.Kind() != "first" {
		t.Fatalf("expected first event retained, got %s", ev.Kind())
	}
}

func TestCancelClosesChannelAndStopsDelivery(t *testing.T) {
	hub := NewHub(4)
	sub := hub.Subscribe()

	sub.Cancel()
	sub.Cancel() // idempotent

	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected channel closed after cancel")
	}

	// Publishing after cancel must not panic or count drops for this sub.
	hub.Publish(testEvent{"late"})
	if got := hub.Dropped(); got != 0 {
		t.Fatalf("expected no drops after cancel, got %d", got)
	}
}

func TestCloseCancelsAllSubscriptions(t *testing.T) {
	hub := NewHub(4)
	sub := hub.Subscribe()

	hub.Close()

	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected channel closed by hub shutdown")
	}

	// Subscribe after close yields an already-closed handle.
	late := hub.Subscribe()
	if _, ok := <-late.Events(); ok {
		t.Fatal("expected closed channel for late subscriber")
	}
}
