package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"staked-arena/internal/clock"
	"staked-arena/internal/config"
	"staked-arena/internal/events"
	"staked-arena/internal/finalize"
	"staked-arena/internal/matchmaking"
	"staked-arena/internal/rating"
	"staked-arena/internal/session"
	"staked-arena/internal/store"
)

type fakeAdminStore struct {
	pingErr  error
	credited map[string]int64
}

func (f *fakeAdminStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeAdminStore) ListLedgerEntries(context.Context, store.LedgerFilter, int, int) ([]store.LedgerEntry, error) {
	return []store.LedgerEntry{{ID: "le_1", PlayerID: "p1", Amount: -10}}, nil
}

func (f *fakeAdminStore) EnsureAccount(context.Context, string, int64) error { return nil }

func (f *fakeAdminStore) Credit(_ context.Context, pid string, amount int64, _, _, _ string) (int64, error) {
	if f.credited == nil {
		f.credited = map[string]int64{}
	}
	f.credited[pid] += amount
	return f.credited[pid], nil
}

func (f *fakeAdminStore) ListOpenReconciliation(context.Context, int) ([]store.ReconciliationItem, error) {
	return nil, nil
}

type fakeSessions struct {
	sessions map[string]*session.Session
}

func (f *fakeSessions) Session(_ context.Context, id string) (*session.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessions) Clock(_ context.Context, id string) (clock.Update, error) {
	if id == "ses_live" {
		return clock.Update{SessionID: id, WhiteTime: 170, BlackTime: 180, ActiveSide: session.White, Running: true}, nil
	}
	return clock.Update{}, clock.ErrClockNotFound
}

type fakeQueues struct{}

func (fakeQueues) KeyFor(mode, option string, stake int64) (matchmaking.BucketKey, error) {
	if stake < 1 {
		return matchmaking.BucketKey{}, matchmaking.ErrStakeTooLow
	}
	return matchmaking.BucketKey{Mode: mode, Option: option, StakeTier: 0}, nil
}

func (fakeQueues) Status(key matchmaking.BucketKey) matchmaking.QueueStatus {
	return matchmaking.QueueStatus{BucketKey: key, MinStake: 1, Depth: 1, EstimatedWaitSeconds: 10}
}

func (fakeQueues) Depths() []matchmaking.QueueStatus { return nil }

type fakeFinal struct{ calls int }

func (f *fakeFinal) Finalize(_ context.Context, sid, _ string, reason session.Reason) (finalize.Outcome, error) {
	if sid == "missing" {
		return finalize.Outcome{}, store.ErrNotFound
	}
	f.calls++
	return finalize.Outcome{Applied: f.calls == 1, SessionID: sid, Reason: reason, Result: session.ResultFor(reason)}, nil
}

type fakeRatings struct{ err error }

func (f fakeRatings) Run(context.Context, time.Time) (rating.Report, error) {
	return rating.Report{Players: 4, Updated: 4, Committed: f.err == nil}, f.err
}

type routerHarness struct {
	router http.Handler
	store  *fakeAdminStore
	hub    *events.Hub
	final  *fakeFinal
}

func newRouterHarness(t *testing.T, ratingsErr error) *routerHarness {
	t.Helper()
	h := &routerHarness{
		store: &fakeAdminStore{},
		hub:   events.NewHub(32),
		final: &fakeFinal{},
	}
	sessions := &fakeSessions{sessions: map[string]*session.Session{
		"ses_live": {ID: "ses_live", State: session.StateActive, Mode: "BLITZ", Option: "BLITZ_3"},
	}}
	h.router = NewRouter(RouterDeps{
		Store:    h.store,
		Sessions: sessions,
		Events:   h.hub,
		Queues:   fakeQueues{},
		Final:    h.final,
		Ratings:  fakeRatings{err: ratingsErr},
	}, config.ServerConfig{AdminAPIKey: "secret"})
	return h
}

func (h *routerHarness) do(method, path string, body any, admin bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if admin {
		req.Header.Set("X-Admin-Key", "secret")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	h := newRouterHarness(t, nil)
	if w := h.do(http.MethodGet, "/healthz", nil, false); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	h.store.pingErr = errors.New("down")
	w := h.do(http.MethodGet, "/healthz", nil, false)
	if w.Code != http.StatusServiceUnavailable || decodeBody(t, w)["db"] != "down" {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
}

func TestSessionAndClockRoutes(t *testing.T) {
	h := newRouterHarness(t, nil)

	w := h.do(http.MethodGet, "/api/sessions/ses_live", nil, false)
	if w.Code != http.StatusOK || decodeBody(t, w)["id"] != "ses_live" {
		t.Fatalf("get session: %d %s", w.Code, w.Body.String())
	}
	w = h.do(http.MethodGet, "/api/sessions/nope", nil, false)
	if w.Code != http.StatusNotFound || decodeBody(t, w)["error"] != "session_not_found" {
		t.Fatalf("missing session: %d %s", w.Code, w.Body.String())
	}
	w = h.do(http.MethodGet, "/api/sessions/ses_live/clock", nil, false)
	if w.Code != http.StatusOK || decodeBody(t, w)["white_time"] != float64(170) {
		t.Fatalf("clock: %d %s", w.Code, w.Body.String())
	}
	w = h.do(http.MethodGet, "/api/sessions/nope/clock", nil, false)
	if w.Code != http.StatusNotFound || decodeBody(t, w)["error"] != "clock_not_found" {
		t.Fatalf("missing clock: %d %s", w.Code, w.Body.String())
	}
}

func TestQueueStatusRoute(t *testing.T) {
	h := newRouterHarness(t, nil)
	if w := h.do(http.MethodGet, "/api/queues/BLITZ/BLITZ_3/status?stake=abc", nil, false); w.Code != http.StatusBadRequest {
		t.Fatalf("bad stake status = %d", w.Code)
	}
	w := h.do(http.MethodGet, "/api/queues/BLITZ/BLITZ_3/status?stake=0", nil, false)
	if w.Code != http.StatusBadRequest || decodeBody(t, w)["error"] != "stake_below_minimum" {
		t.Fatalf("low stake: %d %s", w.Code, w.Body.String())
	}
	w = h.do(http.MethodGet, "/api/queues/BLITZ/BLITZ_3/status?stake=5", nil, false)
	body := decodeBody(t, w)
	if w.Code != http.StatusOK || body["mode"] != "BLITZ" || body["estimated_wait_seconds"] != float64(10) {
		t.Fatalf("status: %d %s", w.Code, w.Body.String())
	}
}

func TestAdminFinalizeRequiresKeyAndValidReason(t *testing.T) {
	h := newRouterHarness(t, nil)
	path := "/api/admin/sessions/ses_live/finalize"

	if w := h.do(http.MethodPost, path, map[string]string{"reason": "STALEMATE"}, false); w.Code != http.StatusUnauthorized {
		t.Fatalf("no key status = %d", w.Code)
	}
	if w := h.do(http.MethodPost, path, map[string]string{"reason": "BORED"}, true); w.Code != http.StatusBadRequest {
		t.Fatalf("bad reason status = %d", w.Code)
	}
	w := h.do(http.MethodPost, path, map[string]string{"reason": "STALEMATE"}, true)
	if w.Code != http.StatusOK || decodeBody(t, w)["applied"] != true {
		t.Fatalf("first finalize: %d %s", w.Code, w.Body.String())
	}
	w = h.do(http.MethodPost, path, map[string]string{"reason": "STALEMATE"}, true)
	if w.Code != http.StatusOK || decodeBody(t, w)["applied"] != false {
		t.Fatalf("replayed finalize: %d %s", w.Code, w.Body.String())
	}
	w = h.do(http.MethodPost, "/api/admin/sessions/missing/finalize", map[string]string{"reason": "STALEMATE"}, true)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing session status = %d", w.Code)
	}
}

func TestAdminRatingRun(t *testing.T) {
	h := newRouterHarness(t, nil)
	w := h.do(http.MethodPost, "/api/admin/ratings/run", nil, true)
	if w.Code != http.StatusOK || decodeBody(t, w)["players"] != float64(4) {
		t.Fatalf("run: %d %s", w.Code, w.Body.String())
	}

	h = newRouterHarness(t, rating.ErrBatchAborted)
	if w := h.do(http.MethodPost, "/api/admin/ratings/run", nil, true); w.Code != http.StatusConflict {
		t.Fatalf("aborted run status = %d", w.Code)
	}
}

func TestAdminTopupCreditsPlayer(t *testing.T) {
	h := newRouterHarness(t, nil)
	w := h.do(http.MethodPost, "/api/admin/topup", map[string]any{"player_id": "p1", "amount": 50}, true)
	if w.Code != http.StatusOK || decodeBody(t, w)["balance"] != float64(50) {
		t.Fatalf("topup: %d %s", w.Code, w.Body.String())
	}
	if w := h.do(http.MethodPost, "/api/admin/topup", map[string]any{"player_id": "p1", "amount": -1}, true); w.Code != http.StatusBadRequest {
		t.Fatalf("negative topup status = %d", w.Code)
	}
}

func TestSessionEventsReplayUntilGameEnded(t *testing.T) {
	h := newRouterHarness(t, nil)
	h.hub.PublishSession("ses_live", events.MovePlayed, map[string]string{"move": "e2e4"})
	h.hub.PublishSession("ses_live", events.GameEnded, map[string]string{"reason": "WHITE_RESIGNED"})

	w := h.do(http.MethodGet, "/api/sessions/ses_live/events", nil, false)
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	out := w.Body.String()
	if !strings.Contains(out, "event: move_played") || !strings.Contains(out, "event: game_ended") {
		t.Fatalf("stream = %q", out)
	}
	if strings.Index(out, "move_played") > strings.Index(out, "game_ended") {
		t.Fatalf("events out of order: %q", out)
	}
}

func TestSessionEventsHonourLastEventID(t *testing.T) {
	h := newRouterHarness(t, nil)
	h.hub.PublishSession("ses_live", events.MovePlayed, map[string]string{"move": "e2e4"})
	h.hub.PublishSession("ses_live", events.MovePlayed, map[string]string{"move": "e7e5"})
	h.hub.PublishSession("ses_live", events.GameEnded, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/ses_live/events", nil)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	out := w.Body.String()
	if strings.Contains(out, "e2e4") || !strings.Contains(out, "e7e5") {
		t.Fatalf("stream = %q", out)
	}
}
