package schedule

import (
	"sync"
	"testing"
	"time"
)

func newTestClock(t *testing.T, start time.Time) (*Clock, *[]string, *sync.Mutex) {
	t.Helper()
	c := NewClock()
	c.lastChecked = start.Truncate(time.Minute)

	var mu sync.Mutex
	fired := []string{}
	c.OnDue(func(name string) {
		mu.Lock()
		fired = append(fired, name)
		mu.Unlock()
	})
	return c, &fired, &mu
}

func TestParseRejectsBadExpressions(t *testing.T) {
	for _, spec := range []string{"", "* * *", "61 * * * *", "* * * * * *"} {
		if _, err := Parse(spec); err == nil {
			t.Fatalf("Parse(%q) succeeded, want error", spec)
		}
	}
	if _, err := Parse("*/5 * * * *"); err != nil {
		t.Fatalf("Parse rejected a valid expression: %v", err)
	}
}

func TestClockFiresOncePerMatchingMinute(t *testing.T) {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)
	c, fired, mu := newTestClock(t, start)
	if err := c.Add("meter-1", "* * * * *"); err != nil {
		t.Fatal(err)
	}

	now := start.Add(time.Minute + 10*time.Second)
	c.now = func() time.Time { return now }

	c.poll()
	c.poll() // same minute again: duplicate suppressed
	now = now.Add(20 * time.Second)
	c.poll() // still the same minute

	mu.Lock()
	defer mu.Unlock()
	if len(*fired) != 1 {
		t.Fatalf("fired %d times in one minute, want 1", len(*fired))
	}
}

func TestClockMatchesExpression(t *testing.T) {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)
	c, fired, mu := newTestClock(t, start)
	if err := c.Add("meter-1", "30 * * * *"); err != nil {
		t.Fatal(err)
	}

	// Walk an hour, one poll per minute.
	for i := 1; i <= 60; i++ {
		now := start.Add(time.Duration(i) * time.Minute)
		c.now = func() time.Time { return now }
		c.poll()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(*fired) != 1 {
		t.Fatalf("fired %d times, want 1 (minute 30 only)", len(*fired))
	}
}

func TestClockForwardJumpFiresCrossedMinutes(t *testing.T) {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)
	c, fired, mu := newTestClock(t, start)
	if err := c.Add("meter-1", "*/5 * * * *"); err != nil {
		t.Fatal(err)
	}

	// Jump 30 minutes forward in a single poll: minutes 5,10,...,30 crossed.
	now := start.Add(30 * time.Minute)
	c.now = func() time.Time { return now }
	c.poll()

	mu.Lock()
	defer mu.Unlock()
	if len(*fired) != 6 {
		t.Fatalf("fired %d times after forward jump, want 6", len(*fired))
	}
}

func TestClockBackwardJumpDoesNotRefire(t *testing.T) {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)
	c, fired, mu := newTestClock(t, start)
	if err := c.Add("meter-1", "* * * * *"); err != nil {
		t.Fatal(err)
	}

	now := start.Add(2 * time.Minute)
	c.now = func() time.Time { return now }
	c.poll()

	// Clock jumps back an hour: nothing may re-fire.
	now = start.Add(-time.Hour)
	c.poll()
	now = start.Add(2 * time.Minute)
	c.poll()

	mu.Lock()
	defer mu.Unlock()
	if len(*fired) != 2 {
		t.Fatalf("fired %d times around backward jump, want 2", len(*fired))
	}
}

func TestClockRemoveStopsFires(t *testing.T) {
	start := time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)
	c, fired, mu := newTestClock(t, start)
	if err := c.Add("meter-1", "* * * * *"); err != nil {
		t.Fatal(err)
	}
	c.Remove("meter-1")

	now := start.Add(time.Minute)
	c.now = func() time.Time { return now }
	c.poll()

	mu.Lock()
	defer mu.Unlock()
	if len(*fired) != 0 {
		t.Fatalf("removed schedule fired %d times", len(*fired))
	}
}

func TestClockStartStop(t *testing.T) {
	c := NewClock()
	c.tick = 5 * time.Millisecond
	c.Start()
	c.Start() // idempotent
	c.Stop()
	c.Stop() // idempotent
}
