package realtime

import "testing"

func TestHubDeliversOnlyToChannelSubscribers(t *testing.T) {
	hub := NewHub()
	a, b := NewSubscriber(4), NewSubscriber(4)
	hub.Subscribe("booking:1", a)
	hub.Subscribe("booking:2", b)

	if n := hub.Deliver("booking:1", []byte("x")); n != 1 {
		t.Fatalf("expected one delivery, got %d", n)
	}
	if got := string(<-a.C()); got != "x" {
		t.Fatalf("unexpected payload %q", got)
	}
	select {
	case p := <-b.C():
		t.Fatalf("subscriber of another channel got %q", p)
	default:
	}
}

func TestHubLateJoinerMissesEarlierMessages(t *testing.T) {
	hub := NewHub()
	hub.Deliver("booking:1", []byte("early"))

	s := NewSubscriber(4)
	hub.Subscribe("booking:1", s)
	hub.Deliver("booking:1", []byte("late"))

	if got := string(<-s.C()); got != "late" {
		t.Fatalf("expected only the later message, got %q", got)
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	slow, fast := NewSubscriber(1), NewSubscriber(4)
	hub.Subscribe("c", slow)
	hub.Subscribe("c", fast)

	hub.Deliver("c", []byte("1"))
	if n := hub.Deliver("c", []byte("2")); n != 1 {
		t.Fatalf("full subscriber must be skipped without blocking, delivered=%d", n)
	}
	if len(fast.C()) != 2 || len(slow.C()) != 1 {
		t.Fatalf("unexpected queue lengths fast=%d slow=%d", len(fast.C()), len(slow.C()))
	}
}

func TestHubRemoveDropsAllSubscriptions(t *testing.T) {
	hub := NewHub()
	s := NewSubscriber(4)
	hub.Subscribe("booking:1", s)
	hub.Subscribe("driver:9", s)
	hub.Remove(s)

	if hub.Subscribers("booking:1") != 0 || hub.Subscribers("driver:9") != 0 {
		t.Fatalf("removed subscriber still registered")
	}
	select {
	case <-s.Done():
	default:
		t.Fatal("Done must be closed after Remove")
	}
	if n := hub.Deliver("booking:1", []byte("x")); n != 0 {
		t.Fatalf("expected no deliveries, got %d", n)
	}
	hub.Remove(s)
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	s := NewSubscriber(4)
	hub.Subscribe("booking:1", s)
	hub.Unsubscribe("booking:1", s)
	if hub.Subscribers("booking:1") != 0 {
		t.Fatalf("expected channel to be empty")
	}
}
