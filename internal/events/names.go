package events

const (
	TimerUpdate       = "timer_update"
	TimerExpired      = "timer_expired"
	GameStarted       = "game_started"
	GameEnded         = "game_ended"
	GameDeleted       = "game_deleted"
	MovePlayed        = "move_played"
	ParticipantLeft   = "participant_left"
	ParticipantJoined = "participant_joined"
	ParticipantReady  = "participant_ready"
	QueueStatusUpdate = "queue_status_update"
	MatchFound        = "match_found"
	QueueJoined       = "queue_joined"
	QueueLeft         = "queue_left"
	Error             = "error"
	AcceptGameEnd     = "accept_game_end"
	DrawDeclined      = "draw_declined"
	GameEndAck        = "game_end_ack"
	ResumeGame        = "resume_game"
	SpectatorJoined   = "spectator_joined"
	ChatMessage       = "chat_message"
)

// ErrorPayload is the data of an Error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
