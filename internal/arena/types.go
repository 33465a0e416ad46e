package arena

import (
	"context"
	"time"

	"staked-arena/internal/clock"
	"staked-arena/internal/finalize"
	"staked-arena/internal/rules"
	"staked-arena/internal/session"
	"staked-arena/internal/store"
)

type Store interface {
	CreateSession(ctx context.Context, sess *session.Session) error
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
	FindOpenSessionByPlayer(ctx context.Context, playerID string) (*session.Session, error)
	AddParticipant(ctx context.Context, sessionID string, p session.Participant) (*session.Session, error)
	SetParticipantReady(ctx context.Context, sessionID, playerID string, ready bool) (*session.Session, error)
	ActivateSession(ctx context.Context, sessionID string, at time.Time) (bool, error)
	RecordMove(ctx context.Context, sessionID, move, fen string) error
	SaveClock(ctx context.Context, c store.ClockSnapshot) error
}

type Clocks interface {
	Create(sessionID string, initialPerSide, increment int, startingSide session.Side) clock.State
	Start(ctx context.Context, sessionID string, side session.Side) error
	SwitchTurn(ctx context.Context, sessionID string, justMoved session.Side) (clock.State, error)
	Stop(ctx context.Context, sessionID string) (clock.State, error)
	Get(ctx context.Context, sessionID string) (clock.State, bool)
}

type Finalizer interface {
	Finalize(ctx context.Context, sessionID, triggeredBy string, reason session.Reason) (finalize.Outcome, error)
}

type Escrower interface {
	Escrow(ctx context.Context, sessionID, playerID string, amount int64) (int64, error)
}

type Grace interface {
	OnDisconnect(ctx context.Context, sessionID, playerID string) error
	OnReconnect(ctx context.Context, sessionID, playerID string) bool
	Pending(sessionID, playerID string) (time.Time, bool)
}

type QueueLeaver interface {
	Leave(playerID string) bool
	LeaveByTransport(transport string) bool
}

type Broadcaster interface {
	PublishSession(sessionID, event string, data any)
	PublishPlayer(playerID, event string, data any)
}

type TimeControlLookup interface {
	Lookup(mode, option string) (session.TimeControl, error)
}

// Audience stores who watches a session and what is said in it.
type Audience interface {
	AddSpectator(ctx context.Context, sessionID, playerID string) ([]string, error)
	IsSpectator(ctx context.Context, sessionID, playerID string) (bool, error)
	SaveChatMessage(ctx context.Context, m store.ChatMessage) error
	ListChatMessages(ctx context.Context, sessionID string, limit int) ([]store.ChatMessage, error)
}

// LineEngine can replay a full move list. Engines that implement it get
// repetition draws detected.
type LineEngine interface {
	ApplyLine(fen string, moves []string) (rules.Position, error)
}

type Deps struct {
	Store    Store
	Audience Audience
	Clocks   Clocks
	Final    Finalizer
	Escrow   Escrower
	Grace    Grace
	Queue    QueueLeaver
	Events   Broadcaster
	TCs      TimeControlLookup
	Rules    rules.Engine
	Now      func() time.Time
}

type StartedPayload struct {
	SessionID string       `json:"session_id"`
	White     string       `json:"white"`
	Black     string       `json:"black"`
	Stake     int64        `json:"stake"`
	FEN       string       `json:"fen"`
	Clock     clock.Update `json:"clock"`
	StartedAt time.Time    `json:"started_at"`
}

// ParticipantPayload is the data of participant_joined and participant_ready.
type ParticipantPayload struct {
	SessionID string       `json:"session_id"`
	PlayerID  string       `json:"player_id"`
	Side      session.Side `json:"side"`
}

type MovePayload struct {
	SessionID string         `json:"session_id"`
	PlayerID  string         `json:"player_id"`
	Side      session.Side   `json:"side"`
	Move      string         `json:"move"`
	FEN       string         `json:"fen"`
	Ply       int            `json:"ply"`
	Clock     clock.Update   `json:"clock"`
	Terminal  bool           `json:"terminal"`
	Reason    session.Reason `json:"reason,omitempty"`
}

type DrawOfferPayload struct {
	SessionID string       `json:"session_id"`
	OfferedBy session.Side `json:"offered_by"`
	PlayerID  string       `json:"player_id"`
}

type DrawAnswerPayload struct {
	SessionID string       `json:"session_id"`
	PlayerID  string       `json:"player_id"`
	Accepted  bool         `json:"accepted"`
	Resumed   session.Side `json:"resumed_side,omitempty"`
}

type DeletedPayload struct {
	SessionID string `json:"session_id"`
	PlayerID  string `json:"player_id"`
}

// ResumePayload is what a reconnecting player needs to redraw the game.
type ResumePayload struct {
	Session     *session.Session `json:"session"`
	Clock       *clock.Update    `json:"clock,omitempty"`
	Reconnected bool             `json:"reconnected"`
	DrawOffer   *session.Side    `json:"draw_offer_by,omitempty"`
	OpponentDue *time.Time       `json:"opponent_forfeit_at,omitempty"`
}

// SpectatorPayload is the data of spectator_joined.
type SpectatorPayload struct {
	SessionID  string   `json:"session_id"`
	PlayerID   string   `json:"player_id"`
	Spectators []string `json:"spectators"`
}

// SpectateResult is what a new spectator needs to draw the game.
type SpectateResult struct {
	Session    *session.Session `json:"session"`
	Clock      *clock.Update    `json:"clock,omitempty"`
	Spectators []string         `json:"spectators"`
	Chat       []ChatPayload    `json:"chat"`
}

type ChatPayload struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	PlayerID  string    `json:"player_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func chatPayloadOf(m store.ChatMessage) ChatPayload {
	return ChatPayload{
		ID:        m.ID,
		SessionID: m.SessionID,
		PlayerID:  m.PlayerID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}
