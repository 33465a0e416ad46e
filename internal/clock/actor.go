package clock

import (
	"context"
	"sync"
	"time"

	"staked-arena/internal/events"
	"staked-arena/internal/session"

	"github.com/rs/zerolog/log"
)

type cmdKind uint8

const (
	cmdGet cmdKind = iota
	cmdStart
	cmdSwitch
	cmdStop
	cmdTick
)

type command struct {
	kind  cmdKind
	side  session.Side
	reply chan result
}

type result struct {
	state State
	err   error
}

type actor struct {
	sessionID string
	cmds      chan command
	quit      chan struct{}
	done      chan struct{}
	quitOnce  sync.Once
}

func newActor(sessionID string) *actor {
	return &actor{
		sessionID: sessionID,
		cmds:      make(chan command),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// stop asks the actor to exit. It does not depend on any caller context, so
// a cancelled request can never leave the goroutine behind.
func (a *actor) stop() {
	a.quitOnce.Do(func() { close(a.quit) })
}

func (a *actor) call(ctx context.Context, cmd command) (State, error) {
	cmd.reply = make(chan result, 1)
	select {
	case a.cmds <- cmd:
	case <-a.done:
		return State{}, ErrClockNotFound
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
	select {
	case res := <-cmd.reply:
		return res.state, res.err
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// loop is the state owned by one actor goroutine. Time is charged from the
// wall clock on every tick, move, pause and read, so ticks only decide how
// often updates are published and when expiry is noticed.
type loop struct {
	e       *Engine
	st      State
	timer   *time.Timer
	timerC  <-chan time.Time
	expired bool
}

func (e *Engine) run(a *actor, st State) {
	defer close(a.done)
	l := &loop{e: e, st: st}
	defer l.disarm()

	for {
		select {
		case <-a.quit:
			return
		case <-l.timerC:
			l.timer, l.timerC = nil, nil
			l.tick()
		case cmd := <-a.cmds:
			cmd.reply <- l.handle(cmd)
		}
	}
}

func (l *loop) handle(cmd command) result {
	switch cmd.kind {
	case cmdGet:
		l.settle()
	case cmdStart:
		if !cmd.side.Valid() {
			return result{state: l.st, err: ErrNotActiveSide}
		}
		now := l.e.now()
		l.charge(now)
		l.st.Active = cmd.side
		l.st.Running = !l.expired
		l.st.LastTickAt = now
		l.arm()
	case cmdSwitch:
		if !l.settle() || cmd.side != l.st.Active {
			return result{state: l.st, err: ErrNotActiveSide}
		}
		l.st.Remaining[cmd.side] += time.Duration(l.st.Increment) * time.Second
		l.st.Active = cmd.side.Opponent()
		l.st.syncSeconds()
		if l.st.Running {
			l.arm()
		}
		l.e.pub.PublishSession(l.st.SessionID, events.TimerUpdate, l.st.Update())
	case cmdStop:
		l.charge(l.e.now())
		l.disarm()
		l.st.Running = false
	case cmdTick:
		l.tick()
	}
	return result{state: l.st}
}

// charge deducts the time the active side has used since LastTickAt.
func (l *loop) charge(now time.Time) {
	if !l.st.Running || !l.st.Active.Valid() {
		return
	}
	if used := now.Sub(l.st.LastTickAt); used > 0 {
		side := l.st.Active
		l.st.Remaining[side] = max(l.st.Remaining[side]-used, 0)
	}
	l.st.LastTickAt = now
	l.st.syncSeconds()
}

// settle charges elapsed time and expires the clock if the active side ran
// out. It reports whether the clock is still alive.
func (l *loop) settle() bool {
	if l.expired {
		return false
	}
	l.charge(l.e.now())
	if l.st.Running && l.st.Active.Valid() && l.st.Remaining[l.st.Active] == 0 {
		l.expire()
		return false
	}
	return true
}

func (l *loop) tick() {
	if !l.st.Running || !l.st.Active.Valid() || l.expired {
		return
	}
	metricClockTicks.Add(1)
	if !l.settle() {
		return
	}
	l.e.pub.PublishSession(l.st.SessionID, events.TimerUpdate, l.st.Update())
	l.arm()
}

func (l *loop) expire() {
	l.disarm()
	side := l.st.Active
	l.st.Running = false
	l.expired = true
	metricClockExpiries.Add(1)
	l.e.pub.PublishSession(l.st.SessionID, events.TimerExpired, l.st.Update())
	log.Info().Str("session_id", l.st.SessionID).Str("side", side.String()).Msg("clock expired")
	if fn := l.e.expiryFunc(); fn != nil {
		go fn(l.st.SessionID, side)
	}
}

// arm schedules the next wake-up: one tick interval, or the active side's
// remaining time if that comes first.
func (l *loop) arm() {
	l.disarm()
	if !l.st.Running || !l.st.Active.Valid() {
		return
	}
	wait := min(l.e.interval, l.st.Remaining[l.st.Active])
	l.timer = time.NewTimer(wait)
	l.timerC = l.timer.C
}

func (l *loop) disarm() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer, l.timerC = nil, nil
	}
}
