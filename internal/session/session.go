// Package session holds the match data model shared by the clock, grace,
// matchmaking and finalize packages.
package session

import (
	"encoding/json"
	"fmt"
	"time"
)

type Side int8

const (
	NoSide Side = -1
	White  Side = 0
	Black  Side = 1
)

func (s Side) Opponent() Side {
	switch s {
	case White:
		return Black
	case Black:
		return White
	default:
		return NoSide
	}
}

func (s Side) Valid() bool { return s == White || s == Black }

func (s Side) String() string {
	switch s {
	case White:
		return "white"
	case Black:
		return "black"
	default:
		return "none"
	}
}

func ParseSide(v string) (Side, error) {
	switch v {
	case "white", "w":
		return White, nil
	case "black", "b":
		return Black, nil
	case "", "none":
		return NoSide, nil
	default:
		return NoSide, fmt.Errorf("unknown side %q", v)
	}
}

func (s Side) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = NoSide
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseSide(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type State string

const (
	StateWaiting State = "WAITING"
	StateActive  State = "ACTIVE"
	StateEnded   State = "ENDED"
)

func (s State) rank() int {
	switch s {
	case StateWaiting:
		return 0
	case StateActive:
		return 1
	case StateEnded:
		return 2
	default:
		return -1
	}
}

// CanMoveTo reports whether next is a legal forward transition from s.
func (s State) CanMoveTo(next State) bool {
	from, to := s.rank(), next.rank()
	return from >= 0 && to > from && s != StateEnded
}

type Participant struct {
	PlayerID string `json:"player_id"`
	Side     Side   `json:"side"`
	Ready    bool   `json:"ready"`
	Creator  bool   `json:"creator"`
}

type Session struct {
	ID            string        `json:"id"`
	State         State         `json:"state"`
	Mode          string        `json:"mode"`
	Option        string        `json:"option"`
	Participants  []Participant `json:"participants"`
	Stake         int64         `json:"stake"`
	EndReason     Reason        `json:"end_reason,omitempty"`
	Result        Result        `json:"result"`
	SettlementRef string        `json:"settlement_ref,omitempty"`
	FEN           string        `json:"fen,omitempty"`
	Moves         []string      `json:"moves,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
}

func (s *Session) SideOf(playerID string) (Side, bool) {
	for _, p := range s.Participants {
		if p.PlayerID == playerID {
			return p.Side, true
		}
	}
	return NoSide, false
}

func (s *Session) PlayerOn(side Side) (string, bool) {
	for _, p := range s.Participants {
		if p.Side == side {
			return p.PlayerID, true
		}
	}
	return "", false
}

func (s *Session) Creator() (Participant, bool) {
	for _, p := range s.Participants {
		if p.Creator {
			return p, true
		}
	}
	return Participant{}, false
}

func (s *Session) AllReady() bool {
	if len(s.Participants) != 2 {
		return false
	}
	for _, p := range s.Participants {
		if !p.Ready {
			return false
		}
	}
	return true
}
