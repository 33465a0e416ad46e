package clock

import (
	"time"

	"staked-arena/internal/session"
)

// State is a point-in-time copy of one session clock. Remaining is the
// exact balance; TimeLeft is the same balance in whole seconds, rounded up
// so a side shows zero only once it is out of time.
type State struct {
	SessionID  string
	TimeLeft   [2]int
	Remaining  [2]time.Duration
	Active     session.Side
	Increment  int
	Running    bool
	LastTickAt time.Time
}

func (s State) Left(side session.Side) int {
	if !side.Valid() {
		return 0
	}
	return s.TimeLeft[side]
}

// Deadline is the wall-clock instant the active side runs out of time if
// nobody moves. It is zero when no side is active.
func (s State) Deadline() time.Time {
	if !s.Active.Valid() || s.LastTickAt.IsZero() {
		return time.Time{}
	}
	return s.LastTickAt.Add(s.Remaining[s.Active])
}

func (s *State) syncSeconds() {
	for i, d := range s.Remaining {
		s.TimeLeft[i] = int((d + time.Second - 1) / time.Second)
	}
}

// fromSeconds fills Remaining from TimeLeft for snapshots that only carry
// whole seconds.
func (s *State) fromSeconds() {
	if s.Remaining != ([2]time.Duration{}) {
		return
	}
	for i, sec := range s.TimeLeft {
		s.Remaining[i] = time.Duration(max(sec, 0)) * time.Second
	}
}

// Update is the payload of timer_update and timer_expired events.
type Update struct {
	SessionID  string       `json:"session_id"`
	WhiteTime  int          `json:"white_time"`
	BlackTime  int          `json:"black_time"`
	ActiveSide session.Side `json:"active_side"`
	Running    bool         `json:"running"`
}

func (s State) Update() Update {
	return Update{
		SessionID:  s.SessionID,
		WhiteTime:  s.TimeLeft[session.White],
		BlackTime:  s.TimeLeft[session.Black],
		ActiveSide: s.Active,
		Running:    s.Running,
	}
}
