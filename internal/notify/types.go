// Package notify fans match results out to external sinks off the request
// path. Delivery is best effort with bounded retries.
package notify

import (
	"context"
	"time"
)

const EventMatchEnded = "match_ended"

type Notification struct {
	Event         string    `json:"event"`
	SessionID     string    `json:"session_id"`
	Reason        string    `json:"reason"`
	Result        string    `json:"result"`
	WhiteID       string    `json:"white_id"`
	BlackID       string    `json:"black_id"`
	Stake         int64     `json:"stake"`
	SettlementRef string    `json:"settlement_ref,omitempty"`
	EndedAt       time.Time `json:"ended_at"`
}

// Adapter delivers one notification to one sink.
type Adapter interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

type Config struct {
	Enabled             bool
	Workers             int
	RetryMax            int
	RetryBase           time.Duration
	FailureThreshold    int
	CircuitOpenDuration time.Duration
	DispatchBuffer      int
}

type job struct {
	Adapter string
	Payload Notification
	Attempt int
}
