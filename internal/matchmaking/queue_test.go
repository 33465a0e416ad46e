package matchmaking

import (
	"context"
	"errors"
	"sync"
	"testing"

	"staked-arena/internal/events"
	"staked-arena/internal/session"
)

type playerEvent struct {
	playerID string
	event    string
	data     any
}

type recordingPub struct {
	mu  sync.Mutex
	got []playerEvent
}

func (p *recordingPub) PublishPlayer(playerID, event string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, playerEvent{playerID, event, data})
}

func (p *recordingPub) find(playerID, event string) (any, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.got {
		if e.playerID == playerID && e.event == event {
			return e.data, true
		}
	}
	return nil, false
}

type fakeFactory struct {
	mu    sync.Mutex
	fail  error
	failN int
	pairs [][2]Entry
	stake []int64
	hook  func()
}

func (f *fakeFactory) CreateMatch(_ context.Context, first, second Entry, stake int64) (Match, error) {
	if f.hook != nil {
		f.hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs = append(f.pairs, [2]Entry{first, second})
	f.stake = append(f.stake, stake)
	if f.fail != nil {
		return Match{}, f.fail
	}
	if f.failN > 0 {
		f.failN--
		return Match{}, errors.New("db down")
	}
	return Match{
		SessionID: "sess-" + first.PlayerID + "-" + second.PlayerID,
		White:     first.PlayerID,
		Black:     second.PlayerID,
		Stake:     stake,
		Mode:      first.Mode,
		Option:    first.Option,
	}, nil
}

func newTestQueue(f *fakeFactory) (*Queue, *recordingPub) {
	pub := &recordingPub{}
	return New(f, pub, session.DefaultTimeControls(), []int64{1, 5, 25, 100}), pub
}

func blitz(player string, stake int64) Entry {
	return Entry{PlayerID: player, Mode: "BLITZ", Option: "BLITZ_3", Stake: stake, Transport: "conn-" + player}
}

func mustJoin(t *testing.T, q *Queue, e Entry) JoinResult {
	t.Helper()
	res, err := q.Join(context.Background(), e)
	if err != nil {
		t.Fatalf("join %s: %v", e.PlayerID, err)
	}
	return res
}

func TestFIFOPairingLeavesThirdQueued(t *testing.T) {
	f := &fakeFactory{}
	q, pub := newTestQueue(f)

	mustJoin(t, q, blitz("A", 5))
	mustJoin(t, q, blitz("B", 5))
	res := mustJoin(t, q, blitz("C", 5))

	if len(f.pairs) != 1 || f.pairs[0][0].PlayerID != "A" || f.pairs[0][1].PlayerID != "B" {
		t.Fatalf("expected (A,B) pairing, got %+v", f.pairs)
	}
	if res.Position != 1 {
		t.Fatalf("expected C at position 1, got %d", res.Position)
	}
	if st := q.Status(res.Key); st.Depth != 1 {
		t.Fatalf("expected depth 1, got %d", st.Depth)
	}
	data, ok := pub.find("A", events.MatchFound)
	if !ok {
		t.Fatalf("A did not get match_found")
	}
	if p := data.(MatchFoundPayload); p.Side != session.White || p.OpponentID != "B" {
		t.Fatalf("unexpected payload for A: %+v", p)
	}
	data, _ = pub.find("B", events.MatchFound)
	if p := data.(MatchFoundPayload); p.Side != session.Black {
		t.Fatalf("expected B to play black, got %+v", p)
	}
}

func TestFailedMatchRequeuesAtFrontInOrder(t *testing.T) {
	f := &fakeFactory{fail: errors.New("db down")}
	q, pub := newTestQueue(f)

	mustJoin(t, q, blitz("A", 5))
	mustJoin(t, q, blitz("B", 5))

	key, _ := q.KeyFor("BLITZ", "BLITZ_3", 5)
	q.mu.Lock()
	bucket := append([]Entry(nil), q.buckets[key]...)
	q.mu.Unlock()
	if len(bucket) != 2 || bucket[0].PlayerID != "A" || bucket[1].PlayerID != "B" {
		t.Fatalf("expected [A B] back at the front, got %+v", bucket)
	}
	for _, p := range []string{"A", "B"} {
		data, ok := pub.find(p, events.Error)
		if !ok || data.(events.ErrorPayload).Code != codeMatchFailed {
			t.Fatalf("expected match_failed for %s", p)
		}
	}

	// C arrives after the failure; the retry pops A and B again first.
	f.mu.Lock()
	f.fail = nil
	f.mu.Unlock()
	mustJoin(t, q, blitz("C", 5))
	last := f.pairs[len(f.pairs)-1]
	if last[0].PlayerID != "A" || last[1].PlayerID != "B" {
		t.Fatalf("expected retry to pair A and B, got %+v", last)
	}
	if _, ok := q.Queued("C"); !ok {
		t.Fatalf("C should still be queued")
	}
}

func TestStakeIsMinimumOfPair(t *testing.T) {
	f := &fakeFactory{}
	q, pub := newTestQueue(f)

	mustJoin(t, q, blitz("A", 5))
	mustJoin(t, q, blitz("B", 10))

	if len(f.stake) != 1 || f.stake[0] != 5 {
		t.Fatalf("expected stake 5, got %v", f.stake)
	}
	for _, p := range []string{"A", "B"} {
		data, ok := pub.find(p, events.MatchFound)
		if !ok || data.(MatchFoundPayload).Stake != 5 {
			t.Fatalf("expected match_found with stake 5 for %s", p)
		}
	}
}

func TestRejoinUpdatesTransportInPlace(t *testing.T) {
	q, _ := newTestQueue(&fakeFactory{})
	mustJoin(t, q, blitz("A", 5))
	e := blitz("A", 5)
	e.Transport = "conn-A-reloaded"
	res := mustJoin(t, q, e)

	if !res.Rejoined || res.Status.Depth != 1 {
		t.Fatalf("expected in-place rejoin, got %+v", res)
	}
	if q.LeaveByTransport("conn-A") {
		t.Fatalf("old transport should no longer match")
	}
	if !q.LeaveByTransport("conn-A-reloaded") {
		t.Fatalf("new transport should match")
	}
}

func TestJoinMovesPlayerBetweenBuckets(t *testing.T) {
	q, _ := newTestQueue(&fakeFactory{})
	mustJoin(t, q, blitz("A", 5))
	res := mustJoin(t, q, Entry{PlayerID: "A", Mode: "RAPID", Option: "RAPID_10", Stake: 5})

	old, _ := q.KeyFor("BLITZ", "BLITZ_3", 5)
	if q.Status(old).Depth != 0 {
		t.Fatalf("player still in old bucket")
	}
	if key, _ := q.Queued("A"); key != res.Key {
		t.Fatalf("expected A in %v, got %v", res.Key, key)
	}
}

func TestLeave(t *testing.T) {
	q, pub := newTestQueue(&fakeFactory{})
	mustJoin(t, q, blitz("A", 5))
	if !q.Leave("A") {
		t.Fatalf("expected removal")
	}
	if q.Leave("A") {
		t.Fatalf("second leave should be a no-op")
	}
	if _, ok := pub.find("A", events.QueueLeft); !ok {
		t.Fatalf("expected queue_left")
	}
}

func TestJoinValidation(t *testing.T) {
	q, _ := newTestQueue(&fakeFactory{})
	if _, err := q.Join(context.Background(), Entry{PlayerID: "A", Mode: "BLITZ", Option: "BLITZ_99", Stake: 5}); !errors.Is(err, session.ErrUnknownTimeControl) {
		t.Fatalf("expected unknown time control, got %v", err)
	}
	if _, err := q.Join(context.Background(), blitz("A", 0)); !errors.Is(err, ErrStakeTooLow) {
		t.Fatalf("expected stake too low, got %v", err)
	}
	if _, err := q.Join(context.Background(), Entry{Mode: "BLITZ", Option: "BLITZ_3", Stake: 5}); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected invalid entry, got %v", err)
	}
}

func TestStakeTiersSeparateBuckets(t *testing.T) {
	f := &fakeFactory{}
	q, _ := newTestQueue(f)
	mustJoin(t, q, blitz("A", 5))
	mustJoin(t, q, blitz("B", 30))
	if len(f.pairs) != 0 {
		t.Fatalf("different tiers must not pair")
	}
	if got := len(q.Depths()); got != 2 {
		t.Fatalf("expected two buckets, got %d", got)
	}
}

func TestStatusEstimate(t *testing.T) {
	q, _ := newTestQueue(&fakeFactory{})
	key, _ := q.KeyFor("BLITZ", "BLITZ_3", 5)
	if st := q.Status(key); st.EstimatedWaitSeconds != 60 || st.MinStake != 5 {
		t.Fatalf("unexpected empty status: %+v", st)
	}
	mustJoin(t, q, blitz("A", 5))
	if st := q.Status(key); st.EstimatedWaitSeconds != 10 || st.Depth != 1 {
		t.Fatalf("unexpected busy status: %+v", st)
	}
}

func TestRejoinDuringCreationIsRemovedDefensively(t *testing.T) {
	f := &fakeFactory{}
	q, _ := newTestQueue(f)
	f.hook = func() {
		f.hook = nil
		// A reconnects from a new tab while the match is being created.
		if _, err := q.Join(context.Background(), Entry{PlayerID: "A", Mode: "BLITZ", Option: "BLITZ_3", Stake: 5, Transport: "conn-A"}); err != nil {
			t.Errorf("rejoin: %v", err)
		}
	}
	mustJoin(t, q, blitz("A", 5))
	mustJoin(t, q, blitz("B", 5))

	if _, ok := q.Queued("A"); ok {
		t.Fatalf("A must not stay queued after being matched")
	}
	if len(f.pairs) != 1 {
		t.Fatalf("expected a single match, got %d", len(f.pairs))
	}
}

func TestJoinsDuringFailedCreationStillPair(t *testing.T) {
	f := &fakeFactory{failN: 1}
	q, pub := newTestQueue(f)
	f.hook = func() {
		f.hook = nil
		mustJoin(t, q, blitz("C", 5))
		mustJoin(t, q, blitz("D", 5))
	}
	mustJoin(t, q, blitz("A", 5))
	mustJoin(t, q, blitz("B", 5))

	if len(f.pairs) != 2 || f.pairs[1][0].PlayerID != "C" || f.pairs[1][1].PlayerID != "D" {
		t.Fatalf("expected failed (A,B) then (C,D), got %+v", f.pairs)
	}
	if _, ok := pub.find("C", events.MatchFound); !ok {
		t.Fatalf("C did not get match_found")
	}
	key, _ := q.KeyFor("BLITZ", "BLITZ_3", 5)
	q.mu.Lock()
	bucket := append([]Entry(nil), q.buckets[key]...)
	pairing := q.pairing[key]
	q.mu.Unlock()
	if len(bucket) != 2 || bucket[0].PlayerID != "A" || bucket[1].PlayerID != "B" {
		t.Fatalf("expected [A B] still queued, got %+v", bucket)
	}
	if pairing {
		t.Fatalf("pairing pass left marked as running")
	}
}
