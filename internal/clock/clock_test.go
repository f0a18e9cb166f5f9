package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFunc(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	stopped := c.AfterFunc(time.Second, func() { fired = append(fired, "stopped") })

	if !stopped.Stop() {
		t.Fatal("Stop on pending timer returned false")
	}
	if stopped.Stop() {
		t.Error("second Stop returned true")
	}

	c.Advance(500 * time.Millisecond)
	if len(fired) != 0 {
		t.Fatalf("timers fired early: %v", fired)
	}

	c.Advance(2 * time.Second)
	if len(fired) != 2 || fired[0] != "a" || fired[1] != "b" {
		t.Errorf("fired = %v, want [a b]", fired)
	}
	if got := c.Now(); !got.Equal(start.Add(2500 * time.Millisecond)) {
		t.Errorf("Now() = %v", got)
	}
	if c.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", c.Pending())
	}
}

func TestFakeCallbackMayRearm(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	count := 0
	var arm func()
	arm = func() {
		c.AfterFunc(time.Second, func() {
			count++
			if count < 3 {
				arm()
			}
		})
	}
	arm()
	for i := 0; i < 5; i++ {
		c.Advance(time.Second)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
