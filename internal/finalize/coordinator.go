// Package finalize ends sessions. Whatever triggers the end (clock expiry,
// a lapsed reconnect window, resignation, a terminal move or a deletion),
// the terminal side effects run exactly once per session.
package finalize

import (
	"context"
	"errors"
	"sync"
	"time"

	"staked-arena/internal/clock"
	"staked-arena/internal/events"
	"staked-arena/internal/notify"
	"staked-arena/internal/session"
	"staked-arena/internal/store"

	"github.com/rs/zerolog/log"
)

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
	ClaimSessionEnd(ctx context.Context, sessionID string, reason session.Reason, at time.Time) (bool, error)
	RecordSessionResult(ctx context.Context, sessionID string, result session.Result) error
	SaveClock(ctx context.Context, c store.ClockSnapshot) error
	SetSettlementRef(ctx context.Context, sessionID, ref string) error
	RecordReconciliation(ctx context.Context, sessionID, step, errText string) error
}

type Settler interface {
	Settle(ctx context.Context, sess *session.Session, result session.Result) (string, error)
}

type Rater interface {
	RecordResult(ctx context.Context, sess *session.Session, result session.Result) error
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
}

type Broadcaster interface {
	PublishSession(sessionID, event string, data any)
}

type ClockControl interface {
	Get(ctx context.Context, sessionID string) (clock.State, bool)
	Start(ctx context.Context, sessionID string, side session.Side) error
	Stop(ctx context.Context, sessionID string) (clock.State, error)
	Delete(ctx context.Context, sessionID string)
}

type GraceCanceller interface {
	CancelSession(sessionID string)
}

// ClockCache is the hot snapshot store; its entry is dropped on finalize.
type ClockCache interface {
	Delete(ctx context.Context, sessionID string) error
}

// Outcome reports what a Finalize call did. Applied is true only for the
// call that moved the session to ENDED.
type Outcome struct {
	Applied       bool
	SessionID     string
	Reason        session.Reason
	Result        session.Result
	SettlementRef string
	EndedAt       time.Time
}

// EndedPayload is the data of the game_ended event.
type EndedPayload struct {
	SessionID     string         `json:"session_id"`
	Reason        session.Reason `json:"reason"`
	Result        session.Result `json:"result"`
	Winner        session.Side   `json:"winner"`
	TriggeredBy   string         `json:"triggered_by,omitempty"`
	WhiteTime     int            `json:"white_time"`
	BlackTime     int            `json:"black_time"`
	SettlementRef string         `json:"settlement_ref,omitempty"`
	EndedAt       time.Time      `json:"ended_at"`
}

type Deps struct {
	Store    SessionStore
	Clock    ClockControl
	Settler  Settler
	Rater    Rater
	Notifier Notifier
	Events   Broadcaster
	Cache    ClockCache
	Now      func() time.Time

	// ExpiryRetryBase is the first backoff between finalize attempts after a
	// clock expiry; it doubles per attempt.
	ExpiryRetryBase time.Duration
}

const (
	expiryAttempts         = 5
	defaultExpiryRetryBase = 200 * time.Millisecond
	expiryCallTimeout      = 30 * time.Second
)

type Coordinator struct {
	deps Deps

	mu    sync.RWMutex
	grace GraceCanceller
}

func New(deps Deps) *Coordinator {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.ExpiryRetryBase <= 0 {
		deps.ExpiryRetryBase = defaultExpiryRetryBase
	}
	return &Coordinator{deps: deps}
}

// SetGrace wires the reconnect tracker. The tracker itself calls Finalize,
// so it is attached after both exist.
func (c *Coordinator) SetGrace(g GraceCanceller) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grace = g
}

// OnClockExpired adapts Finalize to clock.ExpiryFunc. The expired clock
// never fires again, so failed attempts are retried with backoff and a
// final failure is left for reconciliation.
func (c *Coordinator) OnClockExpired(sessionID string, side session.Side) {
	reason := session.TimeoutOf(side)
	var err error
	for attempt := 1; attempt <= expiryAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), expiryCallTimeout)
		_, err = c.Finalize(ctx, sessionID, "", reason)
		cancel()
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("session_id", sessionID).Int("attempt", attempt).Msg("finalize on clock expiry failed")
		if attempt < expiryAttempts {
			time.Sleep(c.deps.ExpiryRetryBase * time.Duration(1<<(attempt-1)))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), expiryCallTimeout)
	defer cancel()
	c.reconcile(ctx, sessionID, "finalize_timeout", err)
}

// Finalize ends the session with reason. Only the caller that wins the
// conditional ENDED update runs settlement, rating and the broadcast;
// every other caller gets Outcome{Applied: false} and a nil error.
func (c *Coordinator) Finalize(ctx context.Context, sessionID, triggeredBy string, reason session.Reason) (Outcome, error) {
	if !reason.Valid() {
		return Outcome{}, errors.New("invalid end reason")
	}
	logger := log.With().Str("session_id", sessionID).Str("reason", string(reason)).Logger()

	clockState, hasClock := c.deps.Clock.Get(ctx, sessionID)
	wasRunning, activeSide := hasClock && clockState.Running, clockState.Active
	if stopped, err := c.deps.Clock.Stop(ctx, sessionID); err == nil {
		clockState, hasClock = stopped, true
	} else if !errors.Is(err, clock.ErrClockNotFound) {
		logger.Warn().Err(err).Msg("stop clock before finalize failed")
	}

	endedAt := c.deps.Now()
	claimed, err := c.deps.Store.ClaimSessionEnd(ctx, sessionID, reason, endedAt)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn().Msg("finalize for unknown session")
		return Outcome{}, nil
	}
	if err != nil {
		metricFinalizeErrors.Add(1)
		// The session is still ACTIVE; give its clock back so a timeout can
		// still end it.
		if wasRunning {
			if rerr := c.deps.Clock.Start(context.WithoutCancel(ctx), sessionID, activeSide); rerr != nil {
				logger.Warn().Err(rerr).Msg("restart clock after failed claim failed")
			}
		}
		return Outcome{}, err
	}
	if !claimed {
		metricFinalizeNoop.Add(1)
		logger.Debug().Msg("session already ended")
		return Outcome{SessionID: sessionID}, nil
	}
	metricFinalizeApplied.Add(1)

	result := session.ResultFor(reason)
	out := Outcome{
		Applied:   true,
		SessionID: sessionID,
		Reason:    reason,
		Result:    result,
		EndedAt:   endedAt,
	}

	if err := c.deps.Store.RecordSessionResult(ctx, sessionID, result); err != nil {
		c.reconcile(ctx, sessionID, "record_result", err)
	}
	if hasClock {
		if err := c.deps.Store.SaveClock(ctx, snapshotOf(clockState, endedAt)); err != nil {
			c.reconcile(ctx, sessionID, "save_clock", err)
		}
	}

	sess, err := c.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		c.reconcile(ctx, sessionID, "load_session", err)
	}
	if sess != nil {
		out.SettlementRef = c.settle(ctx, sess, result)
		c.rate(ctx, sess, result)
	}

	c.deps.Clock.Delete(ctx, sessionID)
	if c.deps.Cache != nil {
		if err := c.deps.Cache.Delete(ctx, sessionID); err != nil {
			logger.Warn().Err(err).Msg("drop cached clock failed")
		}
	}
	c.mu.RLock()
	g := c.grace
	c.mu.RUnlock()
	if g != nil {
		g.CancelSession(sessionID)
	}

	payload := EndedPayload{
		SessionID:     sessionID,
		Reason:        reason,
		Result:        result,
		Winner:        session.NoSide,
		TriggeredBy:   triggeredBy,
		WhiteTime:     clockState.TimeLeft[session.White],
		BlackTime:     clockState.TimeLeft[session.Black],
		SettlementRef: out.SettlementRef,
		EndedAt:       endedAt,
	}
	if w, ok := result.Winner(); ok {
		payload.Winner = w
	}
	c.deps.Events.PublishSession(sessionID, events.GameEnded, payload)

	if c.deps.Notifier != nil && sess != nil {
		white, _ := sess.PlayerOn(session.White)
		black, _ := sess.PlayerOn(session.Black)
		c.deps.Notifier.Notify(ctx, notify.Notification{
			Event:         notify.EventMatchEnded,
			SessionID:     sessionID,
			Reason:        string(reason),
			Result:        result.String(),
			WhiteID:       white,
			BlackID:       black,
			Stake:         sess.Stake,
			SettlementRef: out.SettlementRef,
			EndedAt:       endedAt,
		})
	}

	logger.Info().Str("result", result.String()).Str("triggered_by", triggeredBy).Msg("session finalized")
	return out, nil
}

func (c *Coordinator) settle(ctx context.Context, sess *session.Session, result session.Result) string {
	if c.deps.Settler == nil {
		return ""
	}
	// Void still runs so any escrow taken before the void is refunded.
	ref, err := c.deps.Settler.Settle(ctx, sess, result)
	if err != nil {
		c.reconcile(ctx, sess.ID, "settle", err)
		return ""
	}
	if ref == "" {
		return ""
	}
	if err := c.deps.Store.SetSettlementRef(ctx, sess.ID, ref); err != nil {
		c.reconcile(ctx, sess.ID, "settlement_ref", err)
	}
	return ref
}

func (c *Coordinator) rate(ctx context.Context, sess *session.Session, result session.Result) {
	if c.deps.Rater == nil || !result.Rated() {
		return
	}
	if err := c.deps.Rater.RecordResult(ctx, sess, result); err != nil {
		c.reconcile(ctx, sess.ID, "rating", err)
	}
}

func (c *Coordinator) reconcile(ctx context.Context, sessionID, step string, cause error) {
	metricFinalizeStepErrors.Add(step, 1)
	log.Error().Err(cause).Str("session_id", sessionID).Str("step", step).Msg("finalize step failed")
	if err := c.deps.Store.RecordReconciliation(ctx, sessionID, step, cause.Error()); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Str("step", step).Msg("record reconciliation failed")
	}
}

func snapshotOf(st clock.State, at time.Time) store.ClockSnapshot {
	return store.ClockSnapshot{
		SessionID:  st.SessionID,
		WhiteTime:  st.TimeLeft[session.White],
		BlackTime:  st.TimeLeft[session.Black],
		ActiveSide: session.NoSide,
		Increment:  st.Increment,
		UpdatedAt:  at,
	}
}
