// Package schedule provides the minute-granularity recurring trigger that
// drives device runs. Expressions are standard five-field cron specs;
// fires are duplicate-suppressed so each named schedule fires exactly once
// per matching minute.
package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates a five-field cron expression.
func Parse(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return sched, nil
}

type entry struct {
	spec      string
	sched     cron.Schedule
	lastFired time.Time
}

// Clock emits a due-event when wall-clock enters a minute matching a named
// schedule. If the system clock jumps backwards past events are not
// re-fired; if it jumps forward one event fires per crossed scheduled
// minute, with any backlog coalesced downstream by the run-once wrapper.
type Clock struct {
	mu          sync.Mutex
	entries     map[string]*entry
	handlers    []func(name string)
	lastChecked time.Time

	now  func() time.Time
	tick time.Duration
	stop chan struct{}
	done chan struct{}
}

// NewClock creates a stopped clock polling at 15 second intervals.
func NewClock() *Clock {
	return &Clock{
		entries: make(map[string]*entry),
		now:     time.Now,
		tick:    15 * time.Second,
	}
}

// Add registers or replaces a named schedule.
func (c *Clock) Add(name, spec string) error {
	sched, err := Parse(spec)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[name] = &entry{spec: spec, sched: sched}
	c.mu.Unlock()
	return nil
}

// Remove drops a named schedule. Unknown names are ignored.
func (c *Clock) Remove(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

// OnDue registers a handler invoked with the schedule name on each fire.
// Handlers run on the clock goroutine and must not block; triggering runs
// through the run-once wrapper satisfies that.
func (c *Clock) OnDue(fn func(name string)) {
	c.mu.Lock()
	c.handlers = append(c.handlers, fn)
	c.mu.Unlock()
}

// Start begins polling. The minute in progress at start time does not fire.
func (c *Clock) Start() {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return
	}
	c.lastChecked = c.now().Truncate(time.Minute)
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.tick)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.poll()
			}
		}
	}()
}

// Stop cleanly stops further fires and waits for the poll loop to exit.
func (c *Clock) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// poll walks every minute between the last checked minute and now, firing
// matching entries at most once per minute per name.
func (c *Clock) poll() {
	c.mu.Lock()
	cur := c.now().Truncate(time.Minute)
	if !cur.After(c.lastChecked) {
		// Same minute, or the clock jumped backwards.
		c.mu.Unlock()
		return
	}

	type fire struct{ name string }
	var fires []fire
	for m := c.lastChecked.Add(time.Minute); !m.After(cur); m = m.Add(time.Minute) {
		for name, e := range c.entries {
			if !matchesMinute(e.sched, m) {
				continue
			}
			if !m.After(e.lastFired) {
				continue
			}
			e.lastFired = m
			fires = append(fires, fire{name: name})
		}
	}
	c.lastChecked = cur
	handlers := c.handlers
	c.mu.Unlock()

	for _, f := range fires {
		for _, fn := range handlers {
			fn(f.name)
		}
	}
}

// matchesMinute reports whether m (truncated to the minute) is an
// activation time of sched.
func matchesMinute(sched cron.Schedule, m time.Time) bool {
	return sched.Next(m.Add(-time.Second)).Equal(m)
}
