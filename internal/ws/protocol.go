package ws

import "staked-arena/internal/session"

// Client message types.
const (
	MsgJoinQueue   = "join_queue"
	MsgLeaveQueue  = "leave_queue"
	MsgCreateGame  = "create_game"
	MsgJoinGame    = "join_game"
	MsgReady       = "ready"
	MsgMove        = "move"
	MsgResign      = "resign"
	MsgOfferDraw   = "offer_draw"
	MsgRespondDraw = "respond_draw"
	MsgDeleteGame  = "delete_game"
	MsgResumeGame  = "resume_game"
	MsgSpectate    = "spectate"
	MsgChat        = "chat"
)

// Envelope is decoded first to route a frame by its type.
type Envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
}

type JoinQueueMessage struct {
	Mode   string `json:"mode"`
	Option string `json:"option"`
	Stake  int64  `json:"stake"`
}

type CreateGameMessage struct {
	Mode   string       `json:"mode"`
	Option string       `json:"option"`
	Stake  int64        `json:"stake"`
	Side   session.Side `json:"side"`
}

// SessionMessage carries the target session of join_game, ready, resign,
// offer_draw, delete_game and spectate.
type SessionMessage struct {
	SessionID string `json:"session_id"`
}

type MoveMessage struct {
	SessionID string `json:"session_id"`
	Move      string `json:"move"`
}

type ChatMessage struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

type RespondDrawMessage struct {
	SessionID string `json:"session_id"`
	Accept    bool   `json:"accept"`
}

// Reply answers one client frame. Event is "ack" on success and "error"
// otherwise; hub events are forwarded as events.StreamEvent frames.
type Reply struct {
	Event     string `json:"event"`
	Type      string `json:"type,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

const eventAck = "ack"
