package store

import (
	"time"

	"staked-arena/internal/session"
)

// ClockSnapshot is the persisted copy of a session clock. UpdatedAt is the
// instant TimeLeft was last accurate.
type ClockSnapshot struct {
	SessionID  string
	WhiteTime  int
	BlackTime  int
	ActiveSide session.Side
	Increment  int
	UpdatedAt  time.Time
}

// ActiveSession is what recovery needs to rebuild one running clock.
type ActiveSession struct {
	Session session.Session
	Clock   *ClockSnapshot
}

type LedgerEntry struct {
	ID        string
	PlayerID  string
	Type      string
	Amount    int64
	RefType   string
	RefID     string
	CreatedAt time.Time
}

type Rating struct {
	PlayerID   string
	Rating     float64
	Deviation  float64
	Volatility float64
	Games      int
	UpdatedAt  time.Time
}

// RatedGame is one finished session waiting for the rating batch. Score is
// from White's point of view.
type RatedGame struct {
	SessionID string
	WhiteID   string
	BlackID   string
	Score     float64
	EndedAt   time.Time
}

type ReconciliationItem struct {
	ID        string
	SessionID string
	Step      string
	Error     string
	CreatedAt time.Time
}

type ChatMessage struct {
	ID        string
	SessionID string
	PlayerID  string
	Content   string
	CreatedAt time.Time
}
