package events

import (
	"testing"
	"time"
)

func TestHubRoutesByTaskID(t *testing.T) {
	h := NewHub(4)
	a := h.Subscribe("a")
	b := h.Subscribe("b")
	defer a.Close()
	defer b.Close()

	h.Publish(Event{Type: TypeLog, TaskID: "a", Message: "hello", Timestamp: time.Now()})

	select {
	case e := <-a.C:
		if e.Message != "hello" {
			t.Errorf("Expected message hello, got %q", e.Message)
		}
	default:
		t.Fatal("Expected event on subscription a")
	}

	select {
	case e := <-b.C:
		t.Fatalf("Unexpected event on subscription b: %+v", e)
	default:
	}
}

func TestHubDropsWhenFull(t *testing.T) {
	h := NewHub(1)
	s := h.Subscribe("x")
	defer s.Close()

	h.Publish(Event{TaskID: "x", Message: "1"})
	h.Publish(Event{TaskID: "x", Message: "2"})

	if got := len(s.C); got != 1 {
		t.Fatalf("Expected 1 buffered event, got %d", got)
	}
	if e := <-s.C; e.Message != "1" {
		t.Errorf("Expected first event to be kept, got %q", e.Message)
	}
}

func TestSubscriptionClose(t *testing.T) {
	h := NewHub(1)
	s := h.Subscribe("x")
	if h.Subscribers("x") != 1 {
		t.Fatalf("Expected 1 subscriber")
	}

	s.Close()
	s.Close()

	if h.Subscribers("x") != 0 {
		t.Errorf("Expected 0 subscribers after close, got %d", h.Subscribers("x"))
	}
	if _, ok := <-s.C; ok {
		t.Error("Expected closed channel")
	}

	// Publishing after close must not panic.
	h.Publish(Event{TaskID: "x"})
}
