// Package recovery rebuilds running clocks after a restart, charging the
// downtime to the side that was on move.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"staked-arena/internal/clock"
	"staked-arena/internal/clockcache"
	"staked-arena/internal/finalize"
	"staked-arena/internal/rules"
	"staked-arena/internal/session"
	"staked-arena/internal/store"

	"github.com/rs/zerolog/log"
)

type ActiveLister interface {
	ListActiveSessions(ctx context.Context) ([]store.ActiveSession, error)
}

type ClockLoader interface {
	Load(ctx context.Context, sessionID string) (clock.State, error)
}

type Clocks interface {
	Restore(st clock.State) clock.State
	Start(ctx context.Context, sessionID string, side session.Side) error
}

type Finalizer interface {
	Finalize(ctx context.Context, sessionID, triggeredBy string, reason session.Reason) (finalize.Outcome, error)
}

type TimeControlLookup interface {
	Lookup(mode, option string) (session.TimeControl, error)
}

type Report struct {
	Scanned   int `json:"scanned"`
	Resumed   int `json:"resumed"`
	Finalized int `json:"finalized"`
	Failed    int `json:"failed"`
}

type Manager struct {
	Store  ActiveLister
	Cache  ClockLoader
	Clocks Clocks
	Final  Finalizer
	TCs    TimeControlLookup
}

// Recover walks every ACTIVE session once. A session whose side to move
// ran out while the process was down is finalized as a timeout before any
// clock starts; the rest resume with the downtime deducted.
func (m *Manager) Recover(ctx context.Context, now time.Time) (Report, error) {
	active, err := m.Store.ListActiveSessions(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list active sessions: %w", err)
	}
	var rep Report
	for _, item := range active {
		rep.Scanned++
		logger := log.With().Str("session_id", item.Session.ID).Logger()
		resumed, err := m.recoverOne(ctx, item, now)
		switch {
		case err != nil:
			rep.Failed++
			logger.Error().Err(err).Msg("recover session failed")
		case resumed:
			rep.Resumed++
		default:
			rep.Finalized++
		}
	}
	log.Info().
		Int("scanned", rep.Scanned).
		Int("resumed", rep.Resumed).
		Int("finalized", rep.Finalized).
		Int("failed", rep.Failed).
		Msg("session recovery complete")
	return rep, nil
}

func (m *Manager) recoverOne(ctx context.Context, item store.ActiveSession, now time.Time) (bool, error) {
	st, err := m.baseline(item)
	if err != nil {
		return false, err
	}
	if m.Cache != nil {
		cached, err := m.Cache.Load(ctx, item.Session.ID)
		switch {
		case err == nil:
			if cached.LastTickAt.After(st.LastTickAt) {
				st = cached
				st.SessionID = item.Session.ID
			}
		case !errors.Is(err, clockcache.ErrNotFound):
			log.Warn().Err(err).Str("session_id", item.Session.ID).Msg("clock cache unavailable, using database snapshot")
		}
	}
	if !st.Active.Valid() {
		side, err := rules.Turn(item.Session.FEN)
		if err != nil {
			return false, err
		}
		st.Active = side
	}

	side := st.Active
	deadline := st.Deadline()
	if !now.Before(deadline) {
		if _, err := m.Final.Finalize(ctx, item.Session.ID, "", session.TimeoutOf(side)); err != nil {
			return false, err
		}
		return false, nil
	}

	elapsed := int(now.Sub(st.LastTickAt) / time.Second)
	if elapsed > 0 {
		st.TimeLeft[side] -= elapsed
	}
	st.LastTickAt = now
	m.Clocks.Restore(st)
	if err := m.Clocks.Start(ctx, item.Session.ID, side); err != nil {
		return false, err
	}
	return true, nil
}

// baseline is the clock as Postgres last saw it, or a fresh clock from the
// time control when no snapshot was ever written.
func (m *Manager) baseline(item store.ActiveSession) (clock.State, error) {
	sess := item.Session
	if c := item.Clock; c != nil {
		return clock.State{
			SessionID:  sess.ID,
			TimeLeft:   [2]int{c.WhiteTime, c.BlackTime},
			Active:     c.ActiveSide,
			Increment:  c.Increment,
			LastTickAt: c.UpdatedAt,
		}, nil
	}
	tc, err := m.TCs.Lookup(sess.Mode, sess.Option)
	if err != nil {
		return clock.State{}, err
	}
	since := sess.CreatedAt
	if sess.StartedAt != nil {
		since = *sess.StartedAt
	}
	return clock.State{
		SessionID:  sess.ID,
		TimeLeft:   [2]int{tc.InitialSeconds, tc.InitialSeconds},
		Active:     session.NoSide,
		Increment:  tc.IncrementSeconds,
		LastTickAt: since,
	}, nil
}
