package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// EnqueueRatedGame queues a finished session for the next rating batch.
// Re-enqueueing the same session is a no-op.
func (s *Store) EnqueueRatedGame(ctx context.Context, g RatedGame) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO rating_queue (session_id, white_id, black_id, score, ended_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (session_id) DO NOTHING`,
		g.SessionID, g.WhiteID, g.BlackID, g.Score, g.EndedAt)
	return err
}

// ListRatingPlayers pages through the players with unrated games ending in
// [from, to), ordered by id. Pass the last id of the previous page as after.
func (s *Store) ListRatingPlayers(ctx context.Context, from, to time.Time, after string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT player_id FROM (
			SELECT white_id AS player_id FROM rating_queue
			WHERE rated_at IS NULL AND ended_at >= $1 AND ended_at < $2
			UNION
			SELECT black_id FROM rating_queue
			WHERE rated_at IS NULL AND ended_at >= $1 AND ended_at < $2
		) p
		WHERE player_id > $3
		ORDER BY player_id
		LIMIT $4`, from, to, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) ListPlayerGames(ctx context.Context, playerID string, from, to time.Time) ([]RatedGame, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT session_id, white_id, black_id, score, ended_at
		FROM rating_queue
		WHERE rated_at IS NULL AND ended_at >= $2 AND ended_at < $3
		  AND (white_id = $1 OR black_id = $1)
		ORDER BY ended_at, session_id`, playerID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RatedGame
	for rows.Next() {
		var g RatedGame
		if err := rows.Scan(&g.SessionID, &g.WhiteID, &g.BlackID, &g.Score, &g.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// GetRatings returns stored ratings keyed by player. Players never rated are
// absent from the map.
func (s *Store) GetRatings(ctx context.Context, playerIDs []string) (map[string]Rating, error) {
	out := make(map[string]Rating, len(playerIDs))
	if len(playerIDs) == 0 {
		return out, nil
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT player_id, rating, deviation, volatility, games, updated_at
		FROM ratings WHERE player_id = ANY($1)`, playerIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r Rating
		if err := rows.Scan(&r.PlayerID, &r.Rating, &r.Deviation, &r.Volatility, &r.Games, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out[r.PlayerID] = r
	}
	return out, rows.Err()
}

// CommitRatingPeriod writes every update and marks the period's games rated
// in one transaction. Games involving an excluded player stay queued.
func (s *Store) CommitRatingPeriod(ctx context.Context, updates []Rating, from, to time.Time, excluded []string) error {
	if excluded == nil {
		excluded = []string{}
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range updates {
			batch.Queue(`
				INSERT INTO ratings (player_id, rating, deviation, volatility, games, updated_at)
				VALUES ($1,$2,$3,$4,$5,now())
				ON CONFLICT (player_id) DO UPDATE SET
					rating = EXCLUDED.rating,
					deviation = EXCLUDED.deviation,
					volatility = EXCLUDED.volatility,
					games = EXCLUDED.games,
					updated_at = EXCLUDED.updated_at`,
				r.PlayerID, r.Rating, r.Deviation, r.Volatility, r.Games)
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `
			UPDATE rating_queue SET rated_at = now()
			WHERE rated_at IS NULL AND ended_at >= $1 AND ended_at < $2
			  AND NOT (white_id = ANY($3) OR black_id = ANY($3))`,
			from, to, excluded)
		return err
	})
}

func (s *Store) RecordRatingFailure(ctx context.Context, playerID string, periodStart time.Time, errText string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO rating_failures (id, player_id, period_start, error) VALUES ($1,$2,$3,$4)`,
		NewPrefixedID("rf"), playerID, periodStart, errText)
	return err
}
