package rating

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"staked-arena/internal/config"
	"staked-arena/internal/store"
)

type fakeBatchStore struct {
	mu        sync.Mutex
	games     []store.RatedGame
	ratings   map[string]store.Rating
	gameErrs  map[string][]error
	pageSizes []int
	committed []store.Rating
	excluded  []string
	commits   int
	failures  map[string]string
}

func newFakeBatchStore(games ...store.RatedGame) *fakeBatchStore {
	return &fakeBatchStore{
		games:    games,
		ratings:  map[string]store.Rating{},
		gameErrs: map[string][]error{},
		failures: map[string]string{},
	}
}

func (f *fakeBatchStore) ListRatingPlayers(_ context.Context, from, to time.Time, after string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageSizes = append(f.pageSizes, limit)
	seen := map[string]bool{}
	for _, g := range f.games {
		if g.EndedAt.Before(from) || !g.EndedAt.Before(to) {
			continue
		}
		seen[g.WhiteID] = true
		seen[g.BlackID] = true
	}
	var ids []string
	for id := range seen {
		if id > after {
			ids = append(ids, id)
		}
	}
	sortStrings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (f *fakeBatchStore) ListPlayerGames(_ context.Context, pid string, from, to time.Time) ([]store.RatedGame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.gameErrs[pid]; len(errs) > 0 {
		err := errs[0]
		f.gameErrs[pid] = errs[1:]
		if err != nil {
			return nil, err
		}
	}
	var out []store.RatedGame
	for _, g := range f.games {
		if g.EndedAt.Before(from) || !g.EndedAt.Before(to) {
			continue
		}
		if g.WhiteID == pid || g.BlackID == pid {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeBatchStore) GetRatings(_ context.Context, ids []string) (map[string]store.Rating, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]store.Rating{}
	for _, id := range ids {
		if r, ok := f.ratings[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

func (f *fakeBatchStore) CommitRatingPeriod(_ context.Context, updates []store.Rating, _, _ time.Time, excluded []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	f.committed = append(f.committed, updates...)
	f.excluded = append(f.excluded, excluded...)
	return nil
}

func (f *fakeBatchStore) RecordRatingFailure(_ context.Context, pid string, _ time.Time, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[pid] = errText
	return nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func testRatingConfig() config.RatingConfig {
	return config.RatingConfig{BatchSize: 2, MaxAttempts: 3, RetryBaseMS: 10, FailureThreshold: 0.2}
}

func newTestUpdater(st BatchStore, cfg config.RatingConfig) (*BatchUpdater, *[]time.Duration) {
	b := NewBatchUpdater(st, cfg)
	var slept []time.Duration
	b.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return b, &slept
}

// Wednesday; the closed period is Mon 2026-10-05 .. Mon 2026-10-12.
var batchNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func inPeriod(h int) time.Time { return time.Date(2026, 10, 6, h, 0, 0, 0, time.UTC) }

func TestPeriodFor(t *testing.T) {
	cases := []struct {
		now        time.Time
		start, end time.Time
	}{
		{batchNow, time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 10, 12, 3, 0, 0, 0, time.UTC), time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)},
		{time.Date(2026, 10, 18, 23, 59, 0, 0, time.UTC), time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		start, end := PeriodFor(tc.now)
		if !start.Equal(tc.start) || !end.Equal(tc.end) {
			t.Fatalf("PeriodFor(%s) = %s..%s, want %s..%s", tc.now, start, end, tc.start, tc.end)
		}
	}
}

func TestRunCommitsAllPlayersAcrossPages(t *testing.T) {
	st := newFakeBatchStore(
		store.RatedGame{SessionID: "s1", WhiteID: "p1", BlackID: "p2", Score: 1, EndedAt: inPeriod(1)},
		store.RatedGame{SessionID: "s2", WhiteID: "p3", BlackID: "p4", Score: 0.5, EndedAt: inPeriod(2)},
		store.RatedGame{SessionID: "s3", WhiteID: "p5", BlackID: "p1", Score: 0, EndedAt: inPeriod(3)},
		store.RatedGame{SessionID: "old", WhiteID: "p9", BlackID: "p8", Score: 1, EndedAt: time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)},
	)
	b, _ := newTestUpdater(st, testRatingConfig())

	rep, err := b.Run(context.Background(), batchNow)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Players != 5 || rep.Updated != 5 || rep.Failed != 0 || !rep.Committed {
		t.Fatalf("report = %+v", rep)
	}
	if st.commits != 1 || len(st.committed) != 5 {
		t.Fatalf("commits = %d updates = %d", st.commits, len(st.committed))
	}
	byID := map[string]store.Rating{}
	for _, r := range st.committed {
		byID[r.PlayerID] = r
	}
	if byID["p1"].Games != 2 {
		t.Fatalf("p1 games = %d, want 2", byID["p1"].Games)
	}
	// p1 beat p2 and beat p5 as Black.
	if byID["p1"].Rating <= DefaultRating || byID["p2"].Rating >= DefaultRating {
		t.Fatalf("ratings p1=%.1f p2=%.1f", byID["p1"].Rating, byID["p2"].Rating)
	}
	if byID["p3"].Rating != DefaultRating {
		t.Fatalf("even draw should keep p3 at default, got %.3f", byID["p3"].Rating)
	}
}

func TestRunUsesPeriodStartRatings(t *testing.T) {
	st := newFakeBatchStore(store.RatedGame{SessionID: "s1", WhiteID: "a", BlackID: "b", Score: 1, EndedAt: inPeriod(1)})
	st.ratings["b"] = store.Rating{PlayerID: "b", Rating: 1800, Deviation: 60, Volatility: 0.06, Games: 40}
	b, _ := newTestUpdater(st, testRatingConfig())

	if _, err := b.Run(context.Background(), batchNow); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := Update(NewPlayer(), []Game{{Opponent: Player{Rating: 1800, Deviation: 60, Volatility: 0.06}, Score: 1}}, DefaultTau)
	for _, r := range st.committed {
		if r.PlayerID == "a" && !near(r.Rating, want.Rating, 1e-9) {
			t.Fatalf("a rating = %.4f, want %.4f", r.Rating, want.Rating)
		}
		if r.PlayerID == "b" && r.Games != 41 {
			t.Fatalf("b games = %d, want 41", r.Games)
		}
	}
}

func TestRunRetriesTransientErrors(t *testing.T) {
	st := newFakeBatchStore(store.RatedGame{SessionID: "s1", WhiteID: "a", BlackID: "b", Score: 1, EndedAt: inPeriod(1)})
	st.gameErrs["a"] = []error{fmt.Errorf("read: %w", ErrTransient), context.DeadlineExceeded}
	b, slept := newTestUpdater(st, testRatingConfig())

	rep, err := b.Run(context.Background(), batchNow)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Failed != 0 || rep.Retries != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if len(*slept) != 2 || (*slept)[0] != 10*time.Millisecond || (*slept)[1] != 20*time.Millisecond {
		t.Fatalf("backoff = %v, want [10ms 20ms]", *slept)
	}
}

func TestRunExcludesPermanentFailures(t *testing.T) {
	var games []store.RatedGame
	for i := 0; i < 5; i++ {
		games = append(games, store.RatedGame{
			SessionID: fmt.Sprintf("s%d", i),
			WhiteID:   fmt.Sprintf("w%d", i),
			BlackID:   fmt.Sprintf("x%d", i),
			Score:     1,
			EndedAt:   inPeriod(i),
		})
	}
	st := newFakeBatchStore(games...)
	st.gameErrs["w0"] = []error{errors.New("corrupt row")}
	b, slept := newTestUpdater(st, testRatingConfig())

	rep, err := b.Run(context.Background(), batchNow)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Failed != 1 || rep.Updated != 9 || !rep.Committed {
		t.Fatalf("report = %+v", rep)
	}
	if len(*slept) != 0 {
		t.Fatalf("permanent error should not retry, slept %v", *slept)
	}
	if st.failures["w0"] == "" {
		t.Fatalf("failure not recorded")
	}
	if len(st.excluded) != 1 || st.excluded[0] != "w0" {
		t.Fatalf("excluded = %v", st.excluded)
	}
}

func TestRunAbortsAboveThreshold(t *testing.T) {
	st := newFakeBatchStore(
		store.RatedGame{SessionID: "s1", WhiteID: "a", BlackID: "b", Score: 1, EndedAt: inPeriod(1)},
	)
	st.gameErrs["a"] = []error{errors.New("boom")}
	b, _ := newTestUpdater(st, testRatingConfig())

	rep, err := b.Run(context.Background(), batchNow)
	if !errors.Is(err, ErrBatchAborted) {
		t.Fatalf("err = %v, want ErrBatchAborted", err)
	}
	if rep.Committed || st.commits != 0 {
		t.Fatalf("aborted batch committed: %+v commits=%d", rep, st.commits)
	}
}

func TestRunTransientExhaustionCountsAsFailure(t *testing.T) {
	st := newFakeBatchStore(store.RatedGame{SessionID: "s1", WhiteID: "a", BlackID: "b", Score: 1, EndedAt: inPeriod(1)})
	st.gameErrs["a"] = []error{ErrTransient, ErrTransient, ErrTransient}
	cfg := testRatingConfig()
	cfg.FailureThreshold = 0.5
	b, slept := newTestUpdater(st, cfg)

	rep, err := b.Run(context.Background(), batchNow)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Failed != 1 || rep.Updated != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if len(*slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(*slept))
	}
}

func TestRunEmptyPeriod(t *testing.T) {
	st := newFakeBatchStore()
	b, _ := newTestUpdater(st, testRatingConfig())
	rep, err := b.Run(context.Background(), batchNow)
	if err != nil || rep.Players != 0 || st.commits != 0 {
		t.Fatalf("rep=%+v err=%v commits=%d", rep, err, st.commits)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(fmt.Errorf("x: %w", ErrTransient)) {
		t.Fatalf("wrapped ErrTransient not transient")
	}
	if IsTransient(errors.New("nope")) || IsTransient(nil) {
		t.Fatalf("plain error classified transient")
	}
}
