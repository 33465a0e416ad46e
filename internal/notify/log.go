package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogAdapter writes notifications to a zerolog logger. Used when no broker
// is configured.
type LogAdapter struct {
	logger zerolog.Logger
}

func NewLogAdapter(logger zerolog.Logger) *LogAdapter {
	return &LogAdapter{logger: logger}
}

func (l *LogAdapter) Name() string { return "log" }

func (l *LogAdapter) Send(_ context.Context, n Notification) error {
	l.logger.Info().
		Str("event", n.Event).
		Str("session_id", n.SessionID).
		Str("reason", n.Reason).
		Str("result", n.Result).
		Str("white_id", n.WhiteID).
		Str("black_id", n.BlackID).
		Int64("stake", n.Stake).
		Str("settlement_ref", n.SettlementRef).
		Msg("match notification")
	return nil
}
