package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// AddSpectator records playerID as watching sessionID and returns the
// session's spectators in join order. Watching twice keeps the first join.
func (s *Store) AddSpectator(ctx context.Context, sessionID, playerID string) ([]string, error) {
	var out []string
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO session_spectators (session_id, player_id)
			VALUES ($1,$2)
			ON CONFLICT (session_id, player_id) DO NOTHING`,
			sessionID, playerID); err != nil {
			return err
		}
		var err error
		out, err = listSpectators(ctx, tx, sessionID)
		return err
	})
	return out, err
}

func (s *Store) IsSpectator(ctx context.Context, sessionID, playerID string) (bool, error) {
	var ok bool
	err := s.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM session_spectators WHERE session_id = $1 AND player_id = $2
		)`, sessionID, playerID).Scan(&ok)
	return ok, err
}

func listSpectators(ctx context.Context, q querier, sessionID string) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT player_id FROM session_spectators
		WHERE session_id = $1
		ORDER BY joined_at, player_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) SaveChatMessage(ctx context.Context, m ChatMessage) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO chat_messages (id, session_id, player_id, content, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		m.ID, m.SessionID, m.PlayerID, m.Content, m.CreatedAt)
	return err
}

// ListChatMessages returns the latest limit messages of a session, oldest
// first.
func (s *Store) ListChatMessages(ctx context.Context, sessionID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id, session_id, player_id, content, created_at FROM (
			SELECT id, session_id, player_id, content, created_at
			FROM chat_messages
			WHERE session_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) m
		ORDER BY created_at, id`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ChatMessage{}
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.PlayerID, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
