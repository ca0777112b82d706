package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var order []string
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(1*time.Second, func() {
		order = append(order, "a")
		// Chained timer due within the same Advance window.
		c.AfterFunc(500*time.Millisecond, func() { order = append(order, "a2") })
	})
	c.AfterFunc(5*time.Second, func() { order = append(order, "late") })

	c.Advance(2 * time.Second)

	want := []string{"a", "a2", "b"}
	if len(order) != len(want) {
		t.Fatalf("Expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, order)
		}
	}
	if !c.Now().Equal(start.Add(2 * time.Second)) {
		t.Errorf("Expected clock at +2s, got %s", c.Now())
	}
	if c.Pending() != 1 {
		t.Errorf("Expected 1 pending timer, got %d", c.Pending())
	}
}

func TestFakeStop(t *testing.T) {
	c := NewFake(time.Now())
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	if !tm.Stop() {
		t.Fatal("Expected Stop to report an active timer")
	}
	if tm.Stop() {
		t.Error("Expected second Stop to report false")
	}

	c.Advance(time.Minute)
	if fired {
		t.Error("Stopped timer fired")
	}
}

func TestFakeClockInsideCallback(t *testing.T) {
	start := time.Unix(0, 0)
	c := NewFake(start)
	var seen time.Time
	c.AfterFunc(3*time.Second, func() { seen = c.Now() })
	c.Advance(10 * time.Second)

	if !seen.Equal(start.Add(3 * time.Second)) {
		t.Errorf("Expected callback to observe +3s, got %s", seen.Sub(start))
	}
}
