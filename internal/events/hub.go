package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	sessionTopicPrefix = "session:"
	playerTopicPrefix  = "player:"
	closedTopicTTL     = 5 * time.Minute
	idleTopicTTL       = 30 * time.Minute
)

func SessionTopic(sessionID string) string { return sessionTopicPrefix + sessionID }
func PlayerTopic(playerID string) string { return playerTopicPrefix + playerID }

// Hub routes events to per-session and per-player buffers. It is the
// Broadcaster used by the clock, grace, matchmaking and finalize packages.
type Hub struct {
	seq atomic.Int64

	mu       sync.Mutex
	max      int
	topics   map[string]*EventBuffer
	closedAt map[string]time.Time
}

func NewHub(bufferSize int) *Hub {
	return &Hub{
		max:      bufferSize,
		topics:   map[string]*EventBuffer{},
		closedAt: map[string]time.Time{},
	}
}

// PublishSession appends to the session topic. game_ended is the last event
// of a session, so the topic is closed right after it.
func (h *Hub) PublishSession(sessionID, event string, data any) {
	h.publish(SessionTopic(sessionID), event, data)
	if event == GameEnded {
		h.CloseSession(sessionID)
	}
}

func (h *Hub) PublishPlayer(playerID, event string, data any) {
	h.publish(PlayerTopic(playerID), event, data)
}

func (h *Hub) publish(topic, event string, data any) {
	h.mu.Lock()
	h.bufferLocked(topic).Append(event, data)
	h.mu.Unlock()
	metricEventsPublishedTotal.Add(1)
}

// Buffer returns the buffer for topic, creating it on first use. Closed
// session topics stay readable for replay until they are swept.
func (h *Hub) Buffer(topic string) *EventBuffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bufferLocked(topic)
}

// Subscribe returns the topic's buffer with a live subscription on it. The
// two happen under the hub lock so a sweep cannot drop the topic in between.
func (h *Hub) Subscribe(topic string) (*EventBuffer, chan StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := h.bufferLocked(topic)
	return buf, buf.Subscribe()
}

func (h *Hub) bufferLocked(topic string) *EventBuffer {
	if buf, ok := h.topics[topic]; ok {
		return buf
	}
	buf := newEventBuffer(topic, h.max, &h.seq)
	h.topics[topic] = buf
	metricTopicsOpen.Add(1)
	return buf
}

// Lookup returns an existing buffer without creating one.
func (h *Hub) Lookup(topic string) (*EventBuffer, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, ok := h.topics[topic]
	return buf, ok
}

// CloseSession closes the session topic after its terminal event so that
// subscribers drain and exit.
func (h *Hub) CloseSession(sessionID string) {
	topic := SessionTopic(sessionID)
	h.mu.Lock()
	buf, ok := h.topics[topic]
	if ok {
		h.closedAt[topic] = time.Now()
	}
	h.mu.Unlock()
	if ok {
		buf.Close()
	}
}

// Sweep drops closed topics older than closedTopicTTL, and open topics
// nobody has published to or watched for idleTopicTTL. The idle rule covers
// player topics and sessions left WAITING that never reach game_ended.
func (h *Hub) Sweep(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for topic, buf := range h.topics {
		if at, closed := h.closedAt[topic]; closed {
			if now.Sub(at) < closedTopicTTL {
				continue
			}
			delete(h.closedAt, topic)
		} else if last, idle := buf.idleSince(); !idle || now.Sub(last) < idleTopicTTL {
			continue
		}
		delete(h.topics, topic)
		metricTopicsOpen.Add(-1)
		removed++
	}
	return removed
}

// RunSweeper sweeps closed and idle topics every interval until ctx is done.
func (h *Hub) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			h.Sweep(now)
		}
	}
}
