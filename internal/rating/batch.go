package rating

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"staked-arena/internal/config"
	"staked-arena/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

var (
	// ErrTransient marks an error worth retrying.
	ErrTransient    = errors.New("rating: transient error")
	ErrBatchAborted = errors.New("rating: batch aborted, failure rate above threshold")
)

type BatchStore interface {
	ListRatingPlayers(ctx context.Context, from, to time.Time, after string, limit int) ([]string, error)
	ListPlayerGames(ctx context.Context, playerID string, from, to time.Time) ([]store.RatedGame, error)
	GetRatings(ctx context.Context, playerIDs []string) (map[string]store.Rating, error)
	CommitRatingPeriod(ctx context.Context, updates []store.Rating, from, to time.Time, excluded []string) error
	RecordRatingFailure(ctx context.Context, playerID string, periodStart time.Time, errText string) error
}

type Report struct {
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Players     int       `json:"players"`
	Updated     int       `json:"updated"`
	Failed      int       `json:"failed"`
	Retries     int       `json:"retries"`
	Committed   bool      `json:"committed"`
}

type BatchUpdater struct {
	store            BatchStore
	batchSize        int
	maxAttempts      int
	retryBase        time.Duration
	failureThreshold float64
	tau              float64

	sleep func(ctx context.Context, d time.Duration) error
}

func NewBatchUpdater(st BatchStore, cfg config.RatingConfig) *BatchUpdater {
	b := &BatchUpdater{
		store:            st,
		batchSize:        cfg.BatchSize,
		maxAttempts:      cfg.MaxAttempts,
		retryBase:        time.Duration(cfg.RetryBaseMS) * time.Millisecond,
		failureThreshold: cfg.FailureThreshold,
		tau:              DefaultTau,
		sleep:            sleepCtx,
	}
	if b.batchSize <= 0 {
		b.batchSize = 100
	}
	if b.maxAttempts <= 0 {
		b.maxAttempts = 1
	}
	return b
}

// PeriodFor returns the rating period that most recently closed before now:
// Monday 00:00 UTC of the previous week up to Monday 00:00 UTC of this week.
func PeriodFor(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sinceMonday := (int(day.Weekday()) + 6) % 7
	end := day.AddDate(0, 0, -sinceMonday)
	return end.AddDate(0, 0, -7), end
}

func (b *BatchUpdater) Run(ctx context.Context, now time.Time) (Report, error) {
	from, to := PeriodFor(now)
	rep := Report{PeriodStart: from, PeriodEnd: to}
	logger := log.With().Time("period_start", from).Time("period_end", to).Logger()

	var (
		updates  []store.Rating
		excluded []string
		after    string
	)
	for {
		players, err := b.store.ListRatingPlayers(ctx, from, to, after, b.batchSize)
		if err != nil {
			return rep, fmt.Errorf("list rating players: %w", err)
		}
		if len(players) == 0 {
			break
		}
		for _, pid := range players {
			rep.Players++
			upd, retries, err := b.computeWithRetry(ctx, pid, from, to)
			rep.Retries += retries
			if err != nil {
				if ctx.Err() != nil {
					return rep, ctx.Err()
				}
				rep.Failed++
				excluded = append(excluded, pid)
				logger.Warn().Err(err).Str("player_id", pid).Msg("rating_player_failed")
				if rerr := b.store.RecordRatingFailure(ctx, pid, from, err.Error()); rerr != nil {
					logger.Error().Err(rerr).Str("player_id", pid).Msg("rating_failure_record_error")
				}
				continue
			}
			updates = append(updates, upd)
		}
		after = players[len(players)-1]
		if len(players) < b.batchSize {
			break
		}
	}

	metricBatchPlayers.Add(int64(rep.Players))
	metricBatchFailures.Add(int64(rep.Failed))
	if rep.Players == 0 {
		return rep, nil
	}
	if float64(rep.Failed)/float64(rep.Players) > b.failureThreshold {
		metricBatchAborts.Add(1)
		logger.Error().Int("players", rep.Players).Int("failed", rep.Failed).Msg("rating_batch_aborted")
		return rep, fmt.Errorf("%w: %d of %d players failed", ErrBatchAborted, rep.Failed, rep.Players)
	}
	if err := b.store.CommitRatingPeriod(ctx, updates, from, to, excluded); err != nil {
		return rep, fmt.Errorf("commit rating period: %w", err)
	}
	rep.Updated = len(updates)
	rep.Committed = true
	metricBatchCommits.Add(1)
	logger.Info().Int("players", rep.Players).Int("updated", rep.Updated).Int("failed", rep.Failed).Msg("rating_batch_committed")
	return rep, nil
}

func (b *BatchUpdater) computeWithRetry(ctx context.Context, playerID string, from, to time.Time) (store.Rating, int, error) {
	var lastErr error
	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		upd, err := b.compute(ctx, playerID, from, to)
		if err == nil {
			return upd, attempt - 1, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt == b.maxAttempts {
			break
		}
		delay := b.retryBase * time.Duration(1<<(attempt-1))
		if err := b.sleep(ctx, delay); err != nil {
			return store.Rating{}, attempt, err
		}
	}
	retries := 0
	if IsTransient(lastErr) {
		retries = b.maxAttempts - 1
	}
	return store.Rating{}, retries, lastErr
}

// compute rates one player. Every rating read here is the stored one, which
// is the period-start value since updates are committed only at the end.
func (b *BatchUpdater) compute(ctx context.Context, playerID string, from, to time.Time) (store.Rating, error) {
	games, err := b.store.ListPlayerGames(ctx, playerID, from, to)
	if err != nil {
		return store.Rating{}, fmt.Errorf("load games: %w", err)
	}
	ids := []string{playerID}
	for _, g := range games {
		ids = append(ids, opponentOf(g, playerID))
	}
	stored, err := b.store.GetRatings(ctx, ids)
	if err != nil {
		return store.Rating{}, fmt.Errorf("load ratings: %w", err)
	}

	self := playerFrom(stored, playerID)
	matches := make([]Game, 0, len(games))
	for _, g := range games {
		score := g.Score
		if g.BlackID == playerID {
			score = 1 - g.Score
		}
		matches = append(matches, Game{Opponent: playerFrom(stored, opponentOf(g, playerID)), Score: score})
	}
	next := Update(self, matches, b.tau)
	return store.Rating{
		PlayerID:   playerID,
		Rating:     next.Rating,
		Deviation:  next.Deviation,
		Volatility: next.Volatility,
		Games:      stored[playerID].Games + len(games),
		UpdatedAt:  to,
	}, nil
}

func opponentOf(g store.RatedGame, playerID string) string {
	if g.WhiteID == playerID {
		return g.BlackID
	}
	return g.WhiteID
}

func playerFrom(stored map[string]store.Rating, id string) Player {
	r, ok := stored[id]
	if !ok {
		return NewPlayer()
	}
	return Player{Rating: r.Rating, Deviation: r.Deviation, Volatility: r.Volatility}
}

func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return pgconn.SafeToRetry(err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
