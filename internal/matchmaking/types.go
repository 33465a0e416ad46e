package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"staked-arena/internal/session"
)

var (
	ErrInvalidEntry = errors.New("invalid_queue_entry")
	ErrStakeTooLow  = errors.New("stake_below_minimum")
)

const (
	emptyBucketWaitSeconds = 60
	busyBucketWaitSeconds  = 10

	codeMatchFailed = "match_failed"
)

// Entry is one queued player. Transport identifies the connection that
// queued them so the entry can be dropped when that connection closes.
type Entry struct {
	PlayerID  string    `json:"player_id"`
	Mode      string    `json:"mode"`
	Option    string    `json:"option"`
	Stake     int64     `json:"stake"`
	Transport string    `json:"-"`
	JoinedAt  time.Time `json:"joined_at"`
}

type BucketKey struct {
	Mode      string `json:"mode"`
	Option    string `json:"option"`
	StakeTier int    `json:"stake_tier"`
}

func (k BucketKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Mode, k.Option, k.StakeTier)
}

type QueueStatus struct {
	BucketKey
	MinStake             int64 `json:"min_stake"`
	Depth                int   `json:"depth"`
	EstimatedWaitSeconds int   `json:"estimated_wait_seconds"`
}

type JoinResult struct {
	Key      BucketKey   `json:"key"`
	Position int         `json:"position"`
	Status   QueueStatus `json:"status"`
	Rejoined bool        `json:"rejoined"`
}

// Match is what the session factory created for a pair.
type Match struct {
	SessionID string
	White     string
	Black     string
	Stake     int64
	Mode      string
	Option    string
}

// SessionFactory creates the session for a popped pair. first queued
// earlier than second and plays White.
type SessionFactory interface {
	CreateMatch(ctx context.Context, first, second Entry, stake int64) (Match, error)
}

type Broadcaster interface {
	PublishPlayer(playerID, event string, data any)
}

type TimeControlLookup interface {
	Lookup(mode, option string) (session.TimeControl, error)
}

// MatchFoundPayload is sent to each paired player.
type MatchFoundPayload struct {
	SessionID  string       `json:"session_id"`
	Side       session.Side `json:"side"`
	Stake      int64        `json:"stake"`
	Mode       string       `json:"mode"`
	Option     string       `json:"option"`
	OpponentID string       `json:"opponent_id"`
}

type queueEventPayload struct {
	Key                  BucketKey `json:"key"`
	Position             int       `json:"position,omitempty"`
	Depth                int       `json:"depth"`
	EstimatedWaitSeconds int       `json:"estimated_wait_seconds"`
}
