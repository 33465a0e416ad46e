package arena

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"staked-arena/internal/events"
	"staked-arena/internal/session"
	"staked-arena/internal/store"

	"github.com/rs/zerolog/log"
)

const (
	maxChatRunes   = 500
	chatHistoryLen = 50
)

// Spectate adds playerID to the audience of a session and returns the board,
// the clock and recent chat. The players of the session are turned away since
// they already receive its topic.
func (s *Service) Spectate(ctx context.Context, sessionID, playerID string) (SpectateResult, error) {
	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return SpectateResult{}, err
	}
	if _, seated := sess.SideOf(playerID); seated {
		return SpectateResult{}, ErrAlreadyInGame
	}
	spectators, err := s.deps.Audience.AddSpectator(ctx, sessionID, playerID)
	if err != nil {
		return SpectateResult{}, fmt.Errorf("add spectator: %w", err)
	}
	history, err := s.deps.Audience.ListChatMessages(ctx, sessionID, chatHistoryLen)
	if err != nil {
		return SpectateResult{}, fmt.Errorf("list chat: %w", err)
	}

	res := SpectateResult{Session: sess, Spectators: spectators, Chat: make([]ChatPayload, 0, len(history))}
	for _, m := range history {
		res.Chat = append(res.Chat, chatPayloadOf(m))
	}
	if st, ok := s.deps.Clocks.Get(ctx, sessionID); ok {
		u := st.Update()
		res.Clock = &u
	}
	s.deps.Events.PublishSession(sessionID, events.SpectatorJoined, SpectatorPayload{
		SessionID:  sessionID,
		PlayerID:   playerID,
		Spectators: spectators,
	})
	log.Info().Str("session_id", sessionID).Str("player_id", playerID).Int("spectators", len(spectators)).Msg("spectator joined")
	return res, nil
}

// Chat posts a message to an ACTIVE session. Its players and spectators may
// post; everyone on the session topic receives it.
func (s *Service) Chat(ctx context.Context, sessionID, playerID, content string) (ChatPayload, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > maxChatRunes {
		return ChatPayload{}, ErrInvalidRequest
	}
	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return ChatPayload{}, err
	}
	if sess.State != session.StateActive {
		return ChatPayload{}, ErrInvalidState
	}
	if _, seated := sess.SideOf(playerID); !seated {
		watching, err := s.deps.Audience.IsSpectator(ctx, sessionID, playerID)
		if err != nil {
			return ChatPayload{}, fmt.Errorf("check spectator: %w", err)
		}
		if !watching {
			return ChatPayload{}, ErrNotParticipant
		}
	}

	m := store.ChatMessage{
		ID:        store.NewPrefixedID("chat"),
		SessionID: sessionID,
		PlayerID:  playerID,
		Content:   content,
		CreatedAt: s.deps.Now().UTC(),
	}
	if err := s.deps.Audience.SaveChatMessage(ctx, m); err != nil {
		return ChatPayload{}, fmt.Errorf("save chat message: %w", err)
	}
	p := chatPayloadOf(m)
	s.deps.Events.PublishSession(sessionID, events.ChatMessage, p)
	return p, nil
}
