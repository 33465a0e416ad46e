package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"staked-arena/internal/session"
	"staked-arena/internal/store"
	"staked-arena/internal/testutil"
)

func TestCreateAndGetSession(t *testing.T) {
	st, cleanup := testutil.OpenTestStore(t)
	defer cleanup()
	ctx := context.Background()

	sess := testutil.MustSession(t, st, "p-white", "p-black", 10)
	got, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.State != session.StateWaiting || got.Stake != 10 {
		t.Fatalf("unexpected session: %+v", got)
	}
	if len(got.Participants) != 2 || got.Participants[0].Side != session.White {
		t.Fatalf("expected white first, got %+v", got.Participants)
	}
	if !got.Result.IsLive() {
		t.Fatalf("expected live result, got %s", got.Result)
	}
	if _, err := st.GetSession(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAddParticipantAssignsFreeSide(t *testing.T) {
	st, cleanup := testutil.OpenTestStore(t)
	defer cleanup()
	ctx := context.Background()

	sess := &session.Session{Mode: "rapid", Option: "10+0", Participants: []session.Participant{
		{PlayerID: "creator", Side: session.White, Creator: true},
	}}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := st.AddParticipant(ctx, sess.ID, session.Participant{PlayerID: "joiner", Side: session.White})
	if err != nil {
		t.Fatalf("add participant: %v", err)
	}
	if side, _ := got.SideOf("joiner"); side != session.Black {
		t.Fatalf("expected black for joiner, got %s", side)
	}
	if _, err := st.AddParticipant(ctx, sess.ID, session.Participant{PlayerID: "third"}); !errors.Is(err, store.ErrSessionFull) {
		t.Fatalf("expected session full, got %v", err)
	}
}

func TestClaimSessionEndOnlyOnce(t *testing.T) {
	st, cleanup := testutil.OpenTestStore(t)
	defer cleanup()
	ctx := context.Background()

	sess := testutil.MustSession(t, st, "w", "b", 0)
	ok, err := st.ActivateSession(ctx, sess.ID, time.Now())
	if err != nil || !ok {
		t.Fatalf("activate: ok=%v err=%v", ok, err)
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := st.ClaimSessionEnd(ctx, sess.ID, session.ReasonWhiteTimeout, time.Now())
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if won {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if claims != 1 {
		t.Fatalf("expected exactly one claim, got %d", claims)
	}

	got, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != session.StateEnded || got.EndReason != session.ReasonWhiteTimeout {
		t.Fatalf("unexpected end state: %+v", got)
	}
	if _, err := st.ClaimSessionEnd(ctx, "missing", session.ReasonStalemate, time.Now()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListActiveSessionsIncludesClock(t *testing.T) {
	st, cleanup := testutil.OpenTestStore(t)
	defer cleanup()
	ctx := context.Background()

	active := testutil.MustSession(t, st, "a1", "a2", 0)
	_ = testutil.MustSession(t, st, "w1", "w2", 0)
	if _, err := st.ActivateSession(ctx, active.ID, time.Now()); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := st.SaveClock(ctx, store.ClockSnapshot{
		SessionID: active.ID, WhiteTime: 120, BlackTime: 90, ActiveSide: session.Black,
	}); err != nil {
		t.Fatalf("save clock: %v", err)
	}

	list, err := st.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(list) != 1 || list[0].Session.ID != active.ID {
		t.Fatalf("expected only the active session, got %+v", list)
	}
	c := list[0].Clock
	if c == nil || c.WhiteTime != 120 || c.BlackTime != 90 || c.ActiveSide != session.Black {
		t.Fatalf("unexpected clock: %+v", c)
	}
	if len(list[0].Session.Participants) != 2 {
		t.Fatalf("expected participants loaded, got %+v", list[0].Session.Participants)
	}
}

func TestRecordMoveAppendsOnlyWhileActive(t *testing.T) {
	st, cleanup := testutil.OpenTestStore(t)
	defer cleanup()
	ctx := context.Background()

	sess := testutil.MustSession(t, st, "m-white", "m-black", 0)
	if err := st.RecordMove(ctx, sess.ID, "e2e4", "fen-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("move on waiting session: got %v, want ErrNotFound", err)
	}
	if ok, err := st.ActivateSession(ctx, sess.ID, time.Now()); err != nil || !ok {
		t.Fatalf("activate: ok=%v err=%v", ok, err)
	}
	if err := st.RecordMove(ctx, sess.ID, "e2e4", "fen-1"); err != nil {
		t.Fatalf("record move: %v", err)
	}
	if err := st.RecordMove(ctx, sess.ID, "e7e5", "fen-2"); err != nil {
		t.Fatalf("record move: %v", err)
	}
	got, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.FEN != "fen-2" || len(got.Moves) != 2 || got.Moves[0] != "e2e4" || got.Moves[1] != "e7e5" {
		t.Fatalf("fen=%q moves=%v", got.FEN, got.Moves)
	}
}
