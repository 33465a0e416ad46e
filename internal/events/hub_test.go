package events

import (
	"testing"
	"time"
)

func TestHubRoutesByTopic(t *testing.T) {
	h := NewHub(16)
	h.PublishSession("s1", TimerUpdate, map[string]int{"white": 10})
	h.PublishPlayer("p1", MatchFound, map[string]string{"session_id": "s1"})

	sess, ok := h.Lookup(SessionTopic("s1"))
	if !ok {
		t.Fatal("session topic missing")
	}
	if got := sess.ReplayAfter(""); len(got) != 1 || got[0].Event != TimerUpdate {
		t.Fatalf("unexpected session events: %+v", got)
	}
	player, ok := h.Lookup(PlayerTopic("p1"))
	if !ok {
		t.Fatal("player topic missing")
	}
	if got := player.ReplayAfter(""); len(got) != 1 || got[0].Event != MatchFound {
		t.Fatalf("unexpected player events: %+v", got)
	}
}

func TestHubCloseSessionAndSweep(t *testing.T) {
	h := NewHub(16)
	h.PublishSession("s1", GameEnded, nil)
	h.CloseSession("s1")

	buf, ok := h.Lookup(SessionTopic("s1"))
	if !ok || !buf.Closed() {
		t.Fatal("expected closed buffer to remain for replay")
	}
	if n := h.Sweep(time.Now()); n != 0 {
		t.Fatalf("Sweep() removed %d, want 0 before ttl", n)
	}
	if n := h.Sweep(time.Now().Add(closedTopicTTL + time.Second)); n != 1 {
		t.Fatalf("Sweep() removed %d, want 1", n)
	}
	if _, ok := h.Lookup(SessionTopic("s1")); ok {
		t.Fatal("expected topic removed after sweep")
	}
}

func TestGameEndedClosesSessionTopic(t *testing.T) {
	h := NewHub(16)
	buf := h.Buffer(SessionTopic("s2"))
	ch := buf.Subscribe()
	h.PublishSession("s2", GameEnded, map[string]string{"reason": "STALEMATE"})

	ev, ok := <-ch
	if !ok || ev.Event != GameEnded {
		t.Fatalf("expected game_ended before close, got %+v ok=%v", ev, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected subscriber channel closed after game_ended")
	}
	h.PublishSession("s2", TimerUpdate, nil)
	if got := buf.ReplayAfter(""); len(got) != 1 {
		t.Fatalf("closed topic accepted events: %+v", got)
	}
}

func TestSweepDropsIdlePlayerTopics(t *testing.T) {
	h := NewHub(16)
	h.PublishPlayer("p1", MatchFound, map[string]string{"session_id": "s1"})
	h.PublishPlayer("p2", MatchFound, map[string]string{"session_id": "s1"})
	_, ch := h.Subscribe(PlayerTopic("p2"))

	if n := h.Sweep(time.Now().Add(idleTopicTTL / 2)); n != 0 {
		t.Fatalf("Sweep() removed %d, want 0 before idle ttl", n)
	}
	if n := h.Sweep(time.Now().Add(idleTopicTTL + time.Second)); n != 1 {
		t.Fatalf("Sweep() removed %d, want 1", n)
	}
	if _, ok := h.Lookup(PlayerTopic("p1")); ok {
		t.Fatal("expected idle player topic removed")
	}
	if _, ok := h.Lookup(PlayerTopic("p2")); !ok {
		t.Fatal("watched player topic must survive sweep")
	}
	select {
	case _, ok := <-ch:
		if !ok {
			t.Fatal("subscriber of a watched topic was closed")
		}
	default:
	}
}

func TestSweepDropsAbandonedSessionTopics(t *testing.T) {
	h := NewHub(16)
	h.PublishSession("waiting", ParticipantJoined, nil)

	if n := h.Sweep(time.Now().Add(idleTopicTTL + time.Second)); n != 1 {
		t.Fatalf("Sweep() removed %d, want 1", n)
	}
	if _, ok := h.Lookup(SessionTopic("waiting")); ok {
		t.Fatal("expected abandoned session topic removed")
	}
}

func TestRecreatedTopicKeepsIDsIncreasing(t *testing.T) {
	h := NewHub(16)
	h.PublishPlayer("p1", MatchFound, nil)
	first, _ := h.Lookup(PlayerTopic("p1"))
	lastID := first.ReplayAfter("")[0].EventID

	h.Sweep(time.Now().Add(idleTopicTTL + time.Second))
	h.PublishPlayer("p1", MatchFound, nil)

	again, ok := h.Lookup(PlayerTopic("p1"))
	if !ok || again == first {
		t.Fatal("expected a fresh buffer after sweep")
	}
	// A client reconnecting with the old Last-Event-ID must still see the
	// new event.
	if got := again.ReplayAfter(lastID); len(got) != 1 {
		t.Fatalf("ReplayAfter(%s) = %+v, want the new event", lastID, got)
	}
}
