package store

import (
	"context"
	"errors"
	"time"

	"staked-arena/internal/session"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var ErrSessionNotWaiting = errors.New("session_not_waiting")

const sessionColumns = `id, state, mode, option, stake, fen, moves, end_reason, result, settlement_ref, created_at, started_at, ended_at`

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	if sess.ID == "" {
		sess.ID = NewID()
	}
	if sess.State == "" {
		sess.State = session.StateWaiting
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO sessions (id, state, mode, option, stake, fen, created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			sess.ID, string(sess.State), sess.Mode, sess.Option, sess.Stake, sess.FEN, sess.CreatedAt); err != nil {
			return err
		}
		for _, p := range sess.Participants {
			if err := insertParticipant(ctx, tx, sess.ID, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertParticipant(ctx context.Context, q querier, sessionID string, p session.Participant) error {
	_, err := q.Exec(ctx,
		`INSERT INTO session_participants (session_id, player_id, side, ready, creator) VALUES ($1,$2,$3,$4,$5)`,
		sessionID, p.PlayerID, p.Side.String(), p.Ready, p.Creator)
	return err
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := scanSession(s.Pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID))
	if err != nil {
		return nil, mapNotFound(err)
	}
	parts, err := s.loadParticipants(ctx, s.Pool, []string{sessionID})
	if err != nil {
		return nil, err
	}
	sess.Participants = parts[sessionID]
	return sess, nil
}

// FindOpenSessionByPlayer returns the newest WAITING or ACTIVE session the
// player takes part in.
func (s *Store) FindOpenSessionByPlayer(ctx context.Context, playerID string) (*session.Session, error) {
	var id string
	err := s.Pool.QueryRow(ctx, `
		SELECT s.id FROM sessions s
		JOIN session_participants p ON p.session_id = s.id
		WHERE p.player_id = $1 AND s.state IN ('WAITING', 'ACTIVE')
		ORDER BY s.created_at DESC
		LIMIT 1`, playerID).Scan(&id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return s.GetSession(ctx, id)
}

// AddParticipant seats a second player in a WAITING session. The requested
// side is used when free, otherwise the remaining side is assigned.
func (s *Store) AddParticipant(ctx context.Context, sessionID string, p session.Participant) (*session.Session, error) {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var state string
		if err := tx.QueryRow(ctx, `SELECT state FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&state); err != nil {
			return mapNotFound(err)
		}
		if session.State(state) != session.StateWaiting {
			return ErrSessionNotWaiting
		}
		parts, err := s.loadParticipants(ctx, tx, []string{sessionID})
		if err != nil {
			return err
		}
		seated := parts[sessionID]
		taken := map[session.Side]bool{}
		for _, existing := range seated {
			if existing.PlayerID == p.PlayerID {
				return nil
			}
			taken[existing.Side] = true
		}
		if len(seated) >= 2 {
			return ErrSessionFull
		}
		if !p.Side.Valid() || taken[p.Side] {
			p.Side = session.White
			if taken[session.White] {
				p.Side = session.Black
			}
		}
		return insertParticipant(ctx, tx, sessionID, p)
	})
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, sessionID)
}

func (s *Store) SetParticipantReady(ctx context.Context, sessionID, playerID string, ready bool) (*session.Session, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE session_participants SET ready = $3 WHERE session_id = $1 AND player_id = $2`,
		sessionID, playerID, ready)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.GetSession(ctx, sessionID)
}

// ActivateSession moves a WAITING session to ACTIVE. It reports false when
// the session was not WAITING.
func (s *Store) ActivateSession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE sessions SET state = 'ACTIVE', started_at = $2, updated_at = now() WHERE id = $1 AND state = 'WAITING'`,
		sessionID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimSessionEnd is the only transition into ENDED. Exactly one caller per
// session gets true; every later caller gets false with a nil error.
func (s *Store) ClaimSessionEnd(ctx context.Context, sessionID string, reason session.Reason, at time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE sessions SET state = 'ENDED', end_reason = $2, ended_at = $3, updated_at = now() WHERE id = $1 AND state <> 'ENDED'`,
		sessionID, string(reason), at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *Store) RecordSessionResult(ctx context.Context, sessionID string, result session.Result) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE sessions SET result = $2, updated_at = now() WHERE id = $1 AND state = 'ENDED'`,
		sessionID, resultParam(result))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetSettlementRef(ctx context.Context, sessionID, ref string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE sessions SET settlement_ref = $2, updated_at = now() WHERE id = $1`, sessionID, textParam(ref))
	return err
}

// RecordMove appends a move and stores the resulting position. Only ACTIVE
// sessions accept moves.
func (s *Store) RecordMove(ctx context.Context, sessionID, move, fen string) error {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE sessions SET fen = $2, moves = array_append(moves, $3), updated_at = now()
		 WHERE id = $1 AND state = 'ACTIVE'`, sessionID, fen, move)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SaveClock(ctx context.Context, c ClockSnapshot) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO session_clocks (session_id, white_time, black_time, active_side, increment, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (session_id) DO UPDATE SET
			white_time = EXCLUDED.white_time,
			black_time = EXCLUDED.black_time,
			active_side = EXCLUDED.active_side,
			increment = EXCLUDED.increment,
			updated_at = EXCLUDED.updated_at`,
		c.SessionID, c.WhiteTime, c.BlackTime, sideParam(c.ActiveSide), c.Increment, c.UpdatedAt)
	return err
}

func (s *Store) GetClock(ctx context.Context, sessionID string) (*ClockSnapshot, error) {
	var (
		c      ClockSnapshot
		active pgtype.Text
	)
	err := s.Pool.QueryRow(ctx,
		`SELECT session_id, white_time, black_time, active_side, increment, updated_at FROM session_clocks WHERE session_id = $1`,
		sessionID).Scan(&c.SessionID, &c.WhiteTime, &c.BlackTime, &active, &c.Increment, &c.UpdatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	c.ActiveSide = sideVal(active)
	return &c, nil
}

func (s *Store) ListActiveSessions(ctx context.Context) ([]ActiveSession, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT s.id, s.state, s.mode, s.option, s.stake, s.fen, s.moves, s.end_reason, s.result, s.settlement_ref,
		       s.created_at, s.started_at, s.ended_at,
		       c.white_time, c.black_time, c.active_side, c.increment, c.updated_at
		FROM sessions s
		LEFT JOIN session_clocks c ON c.session_id = s.id
		WHERE s.state = 'ACTIVE'
		ORDER BY s.started_at NULLS FIRST, s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out []ActiveSession
		ids []string
	)
	for rows.Next() {
		var (
			sess                   session.Session
			state                  string
			endReason, result, ref pgtype.Text
			started, ended         pgtype.Timestamptz
			white, black, incr     pgtype.Int4
			active                 pgtype.Text
			clockAt                pgtype.Timestamptz
		)
		if err := rows.Scan(&sess.ID, &state, &sess.Mode, &sess.Option, &sess.Stake, &sess.FEN, &sess.Moves,
			&endReason, &result, &ref, &sess.CreatedAt, &started, &ended,
			&white, &black, &active, &incr, &clockAt); err != nil {
			return nil, err
		}
		if err := fillSession(&sess, state, endReason, result, ref, started, ended); err != nil {
			return nil, err
		}
		item := ActiveSession{Session: sess}
		if white.Valid && black.Valid && clockAt.Valid {
			item.Clock = &ClockSnapshot{
				SessionID:  sess.ID,
				WhiteTime:  int(white.Int32),
				BlackTime:  int(black.Int32),
				ActiveSide: sideVal(active),
				Increment:  int(incr.Int32),
				UpdatedAt:  clockAt.Time,
			}
		}
		out = append(out, item)
		ids = append(ids, sess.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	parts, err := s.loadParticipants(ctx, s.Pool, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Session.Participants = parts[out[i].Session.ID]
	}
	return out, nil
}

func (s *Store) loadParticipants(ctx context.Context, q querier, sessionIDs []string) (map[string][]session.Participant, error) {
	rows, err := q.Query(ctx, `
		SELECT session_id, player_id, side, ready, creator
		FROM session_participants
		WHERE session_id = ANY($1)
		ORDER BY session_id, side DESC`, sessionIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]session.Participant, len(sessionIDs))
	for rows.Next() {
		var (
			sessionID string
			p         session.Participant
			side      string
		)
		if err := rows.Scan(&sessionID, &p.PlayerID, &side, &p.Ready, &p.Creator); err != nil {
			return nil, err
		}
		if p.Side, err = session.ParseSide(side); err != nil {
			return nil, err
		}
		out[sessionID] = append(out[sessionID], p)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var (
		sess                   session.Session
		state                  string
		endReason, result, ref pgtype.Text
		started, ended         pgtype.Timestamptz
	)
	if err := row.Scan(&sess.ID, &state, &sess.Mode, &sess.Option, &sess.Stake, &sess.FEN, &sess.Moves,
		&endReason, &result, &ref, &sess.CreatedAt, &started, &ended); err != nil {
		return nil, err
	}
	if err := fillSession(&sess, state, endReason, result, ref, started, ended); err != nil {
		return nil, err
	}
	return &sess, nil
}

func fillSession(sess *session.Session, state string, endReason, result, ref pgtype.Text, started, ended pgtype.Timestamptz) error {
	sess.State = session.State(state)
	sess.EndReason = session.Reason(textVal(endReason))
	r, err := session.ParseResult(textVal(result))
	if err != nil {
		return err
	}
	sess.Result = r
	sess.SettlementRef = textVal(ref)
	sess.StartedAt = timePtrVal(started)
	sess.EndedAt = timePtrVal(ended)
	return nil
}
