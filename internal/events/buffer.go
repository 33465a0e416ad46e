package events

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type StreamEvent struct {
	EventID  string `json:"event_id"`
	Event    string `json:"event"`
	Topic    string `json:"topic"`
	ServerTS int64  `json:"server_ts"`
	Data     any    `json:"data"`
}

// EventBuffer keeps the last max events of one topic for replay and fans
// new events out to subscribers. Slow subscribers miss live events but can
// catch up through ReplayAfter.
type EventBuffer struct {
	mu       sync.Mutex
	topic    string
	seq      *atomic.Int64
	max      int
	events   []StreamEvent
	watchers map[chan StreamEvent]struct{}
	closed   bool
	touched  time.Time
}

func NewEventBuffer(topic string, max int) *EventBuffer {
	return newEventBuffer(topic, max, new(atomic.Int64))
}

// newEventBuffer draws ids from seq. The hub shares one sequence across
// topics so a topic recreated after a sweep never reuses an id.
func newEventBuffer(topic string, max int, seq *atomic.Int64) *EventBuffer {
	if max <= 0 {
		max = 256
	}
	return &EventBuffer{
		topic:    topic,
		seq:      seq,
		max:      max,
		watchers: map[chan StreamEvent]struct{}{},
		touched:  time.Now(),
	}
}

func (b *EventBuffer) Append(event string, data any) StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return StreamEvent{}
	}
	now := time.Now()
	b.touched = now
	ev := StreamEvent{
		EventID:  strconv.FormatInt(b.seq.Add(1), 10),
		Event:    event,
		Topic:    b.topic,
		ServerTS: now.UnixMilli(),
		Data:     data,
	}
	b.events = append(b.events, ev)
	if len(b.events) > b.max {
		b.events = b.events[len(b.events)-b.max:]
	}
	for ch := range b.watchers {
		select {
		case ch <- ev:
		default:
			metricEventsDroppedTotal.Add(1)
		}
	}
	return ev
}

func (b *EventBuffer) ReplayAfter(lastEventID string) []StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	last, err := strconv.ParseInt(lastEventID, 10, 64)
	if lastEventID == "" || err != nil {
		last = 0
	}
	out := make([]StreamEvent, 0, len(b.events))
	for _, ev := range b.events {
		id, _ := strconv.ParseInt(ev.EventID, 10, 64)
		if id > last {
			out = append(out, ev)
		}
	}
	return out
}

func (b *EventBuffer) Subscribe() chan StreamEvent {
	ch := make(chan StreamEvent, 32)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.watchers[ch] = struct{}{}
	b.touched = time.Now()
	return ch
}

func (b *EventBuffer) Unsubscribe(ch chan StreamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.watchers[ch]; ok {
		delete(b.watchers, ch)
		close(ch)
		b.touched = time.Now()
	}
}

// idleSince reports when the buffer was last used, and false while it has
// subscribers or is closed.
func (b *EventBuffer) idleSince() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.touched, !b.closed && len(b.watchers) == 0
}

func (b *EventBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.watchers {
		close(ch)
		delete(b.watchers, ch)
	}
}

func (b *EventBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
