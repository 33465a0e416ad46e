package clock

import (
	"context"
	"sync"
	"time"
)

type recordedEvent struct {
	sessionID string
	event     string
	data      any
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *fakeBroadcaster) PublishSession(sessionID, event string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{sessionID: sessionID, event: event, data: data})
}

func (b *fakeBroadcaster) last() (recordedEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return recordedEvent{}, false
	}
	return b.events[len(b.events)-1], true
}

func (b *fakeBroadcaster) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		if ev.event == event {
			n++
		}
	}
	return n
}

// manualClock is a settable time source for the engine.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// advance moves time forward one second per step and delivers a tick after
// each, regardless of the engine's timer.
func (c *manualClock) advance(e *Engine, sessionID string, n int) (State, error) {
	var st State
	var err error
	for i := 0; i < n; i++ {
		c.Add(time.Second)
		st, err = e.send(context.Background(), sessionID, command{kind: cmdTick})
		if err != nil {
			return st, err
		}
	}
	return st, nil
}

func newManualEngine(opts ...Option) (*Engine, *fakeBroadcaster, *manualClock) {
	pub := &fakeBroadcaster{}
	clk := newManualClock()
	opts = append([]Option{WithTickInterval(time.Hour), WithNow(clk.Now)}, opts...)
	return NewEngine(pub, opts...), pub, clk
}
