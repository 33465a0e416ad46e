// Package grace gives a disconnected player a window to come back before
// the session is forfeited on their behalf.
package grace

import (
	"context"
	"errors"
	"sync"
	"time"

	"staked-arena/internal/events"
	"staked-arena/internal/finalize"
	"staked-arena/internal/session"

	"github.com/rs/zerolog/log"
)

var reconnectGracePeriod = 30 * time.Second

var ErrClosed = errors.New("grace tracker closed")

type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
}

type Finalizer interface {
	Finalize(ctx context.Context, sessionID, triggeredBy string, reason session.Reason) (finalize.Outcome, error)
}

type Broadcaster interface {
	PublishSession(sessionID, event string, data any)
}

// LeftPayload is the data of participant_left.
type LeftPayload struct {
	SessionID    string       `json:"session_id"`
	PlayerID     string       `json:"player_id"`
	Side         session.Side `json:"side"`
	Deadline     time.Time    `json:"deadline"`
	GraceSeconds int          `json:"grace_seconds"`
}

// JoinedPayload is the data of participant_joined.
type JoinedPayload struct {
	SessionID string       `json:"session_id"`
	PlayerID  string       `json:"player_id"`
	Side      session.Side `json:"side"`
}

type entryKey struct {
	sessionID string
	playerID  string
}

type entry struct {
	gen      uint64
	deadline time.Time
	timer    *time.Timer
}

type fire struct {
	key entryKey
	gen uint64
}

type Option func(*Tracker)

func WithWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.window = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker keeps one pending forfeit per (session, player). A single loop
// goroutine owns the entry map; callers and timers talk to it over
// channels, and a timer whose generation no longer matches is ignored.
type Tracker struct {
	sessions SessionReader
	fin      Finalizer
	pub      Broadcaster
	window   time.Duration
	now      func() time.Time

	ops       chan func()
	fires     chan fire
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// owned by run
	entries map[entryKey]*entry
	gen     uint64
}

func New(sessions SessionReader, fin Finalizer, pub Broadcaster, opts ...Option) *Tracker {
	t := &Tracker{
		sessions: sessions,
		fin:      fin,
		pub:      pub,
		window:   reconnectGracePeriod,
		now:      time.Now,
		ops:      make(chan func()),
		fires:    make(chan fire),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		entries:  map[entryKey]*entry{},
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.run()
	return t
}

func (t *Tracker) Window() time.Duration { return t.window }

// Close stops every timer and the loop. Pending forfeits are abandoned;
// recovery re-evaluates the sessions on the next start.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() { close(t.done) })
	<-t.stopped
	t.wg.Wait()
}

func (t *Tracker) run() {
	defer close(t.stopped)
	for {
		select {
		case <-t.done:
			for k, e := range t.entries {
				e.timer.Stop()
				delete(t.entries, k)
			}
			metricGracePending.Set(0)
			return
		case op := <-t.ops:
			op()
		case f := <-t.fires:
			e, ok := t.entries[f.key]
			if !ok || e.gen != f.gen {
				continue
			}
			delete(t.entries, f.key)
			metricGracePending.Set(int64(len(t.entries)))
			metricGraceExpired.Add(1)
			t.wg.Add(1)
			go t.expire(f.key)
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (t *Tracker) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case t.ops <- func() { fn(); close(finished) }:
	case <-t.done:
		return ErrClosed
	}
	<-finished
	return nil
}

// OnDisconnect opens the reconnect window for playerID. Sessions that are
// not ACTIVE are ignored. A second disconnect restarts the window.
func (t *Tracker) OnDisconnect(ctx context.Context, sessionID, playerID string) error {
	sess, err := t.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.State != session.StateActive {
		return nil
	}
	side, ok := sess.SideOf(playerID)
	if !ok {
		return nil
	}

	k := entryKey{sessionID: sessionID, playerID: playerID}
	var deadline time.Time
	err = t.do(func() {
		if prev, ok := t.entries[k]; ok {
			prev.timer.Stop()
		}
		t.gen++
		gen := t.gen
		deadline = t.now().Add(t.window)
		timer := time.AfterFunc(t.window, func() {
			select {
			case t.fires <- fire{key: k, gen: gen}:
			case <-t.done:
			}
		})
		t.entries[k] = &entry{gen: gen, deadline: deadline, timer: timer}
		metricGracePending.Set(int64(len(t.entries)))
	})
	if err != nil {
		return err
	}

	t.pub.PublishSession(sessionID, events.ParticipantLeft, LeftPayload{
		SessionID:    sessionID,
		PlayerID:     playerID,
		Side:         side,
		Deadline:     deadline,
		GraceSeconds: int(t.window / time.Second),
	})
	log.Info().Str("session_id", sessionID).Str("player_id", playerID).Time("deadline", deadline).Msg("reconnect window opened")
	return nil
}

// OnReconnect closes the player's window and reports whether one was open.
func (t *Tracker) OnReconnect(ctx context.Context, sessionID, playerID string) bool {
	k := entryKey{sessionID: sessionID, playerID: playerID}
	cancelled := false
	if err := t.do(func() {
		if e, ok := t.entries[k]; ok {
			e.timer.Stop()
			delete(t.entries, k)
			cancelled = true
			metricGracePending.Set(int64(len(t.entries)))
		}
	}); err != nil || !cancelled {
		return false
	}

	side := session.NoSide
	if sess, err := t.sessions.GetSession(ctx, sessionID); err == nil {
		side, _ = sess.SideOf(playerID)
	}
	t.pub.PublishSession(sessionID, events.ParticipantJoined, JoinedPayload{
		SessionID: sessionID,
		PlayerID:  playerID,
		Side:      side,
	})
	log.Info().Str("session_id", sessionID).Str("player_id", playerID).Msg("player reconnected within window")
	return true
}

// CancelSession drops every window of the session.
func (t *Tracker) CancelSession(sessionID string) {
	_ = t.do(func() {
		for k, e := range t.entries {
			if k.sessionID != sessionID {
				continue
			}
			e.timer.Stop()
			delete(t.entries, k)
		}
		metricGracePending.Set(int64(len(t.entries)))
	})
}

// Pending returns the forfeit deadline of an open window.
func (t *Tracker) Pending(sessionID, playerID string) (time.Time, bool) {
	var (
		deadline time.Time
		ok       bool
	)
	_ = t.do(func() {
		if e, found := t.entries[entryKey{sessionID: sessionID, playerID: playerID}]; found {
			deadline, ok = e.deadline, true
		}
	})
	return deadline, ok
}

func (t *Tracker) expire(k entryKey) {
	defer t.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	logger := log.With().Str("session_id", k.sessionID).Str("player_id", k.playerID).Logger()

	sess, err := t.sessions.GetSession(ctx, k.sessionID)
	if err != nil {
		logger.Error().Err(err).Msg("load session on grace expiry failed")
		return
	}
	if sess.State != session.StateActive {
		return
	}
	side, ok := sess.SideOf(k.playerID)
	if !ok {
		return
	}
	if _, err := t.fin.Finalize(ctx, k.sessionID, k.playerID, session.DisconnectOf(side)); err != nil {
		logger.Error().Err(err).Msg("finalize on grace expiry failed")
	}
}
