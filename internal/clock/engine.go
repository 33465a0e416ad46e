package clock

import (
	"context"
	"errors"
	"sync"
	"time"

	"staked-arena/internal/session"

	"github.com/rs/zerolog/log"
)

var (
	ErrClockNotFound = errors.New("clock_not_found")
	ErrNotActiveSide = errors.New("not_active_side")
)

const defaultTickInterval = time.Second

type Broadcaster interface {
	PublishSession(sessionID, event string, data any)
}

// Snapshotter receives the clock after every turn switch.
type Snapshotter interface {
	SaveClock(ctx context.Context, st State) error
}

// ExpiryFunc is called once, on its own goroutine, when the active side of
// a running clock reaches zero.
type ExpiryFunc func(sessionID string, side session.Side)

type Option func(*Engine)

func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

func WithSnapshotter(s Snapshotter) Option {
	return func(e *Engine) { e.snap = s }
}

func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// Engine runs one actor goroutine per session clock. Each actor is the only
// writer of its State; the engine map only tracks actor handles.
type Engine struct {
	pub      Broadcaster
	snap     Snapshotter
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	clocks   map[string]*actor
	onExpire ExpiryFunc
}

func NewEngine(pub Broadcaster, opts ...Option) *Engine {
	e := &Engine{
		pub:      pub,
		interval: defaultTickInterval,
		now:      time.Now,
		clocks:   map[string]*actor{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnExpire registers the expiry callback. It must be set before any clock
// is started.
func (e *Engine) OnExpire(fn ExpiryFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onExpire = fn
}

// Create allocates a clock for sessionID. If one already exists its current
// snapshot is returned unchanged.
func (e *Engine) Create(sessionID string, initialPerSide, increment int, startingSide session.Side) State {
	per := time.Duration(initialPerSide) * time.Second
	st := State{
		SessionID: sessionID,
		Remaining: [2]time.Duration{per, per},
		Active:    startingSide,
		Increment: increment,
	}
	return e.spawn(st)
}

// Restore allocates a clock from a recovered snapshot. Like Create it keeps
// an existing clock.
func (e *Engine) Restore(st State) State {
	st.Running = false
	st.fromSeconds()
	return e.spawn(st)
}

func (e *Engine) spawn(st State) State {
	for i := range st.Remaining {
		st.Remaining[i] = max(st.Remaining[i], 0)
	}
	st.syncSeconds()
	for {
		e.mu.Lock()
		existing, ok := e.clocks[st.SessionID]
		if !ok {
			a := newActor(st.SessionID)
			e.clocks[st.SessionID] = a
			e.mu.Unlock()
			metricClocksActive.Add(1)
			go e.run(a, st)
			return st
		}
		e.mu.Unlock()
		if cur, err := existing.call(context.Background(), command{kind: cmdGet}); err == nil {
			return cur
		}
		// The old actor is shutting down; replace it once it has exited.
		<-existing.done
		e.forget(st.SessionID, existing)
	}
}

// Start begins ticking with side to move. Calling it on a running clock
// resets the tick period.
func (e *Engine) Start(ctx context.Context, sessionID string, side session.Side) error {
	_, err := e.send(ctx, sessionID, command{kind: cmdStart, side: side})
	return err
}

// SwitchTurn credits the increment to justMoved, hands the move to the other
// side and publishes the new times immediately.
func (e *Engine) SwitchTurn(ctx context.Context, sessionID string, justMoved session.Side) (State, error) {
	st, err := e.send(ctx, sessionID, command{kind: cmdSwitch, side: justMoved})
	if err != nil {
		return State{}, err
	}
	if e.snap != nil {
		if err := e.snap.SaveClock(ctx, st); err != nil {
			metricClockSnapshots.Add(1)
			log.Warn().Err(err).Str("session_id", sessionID).Msg("save clock snapshot failed")
		}
	}
	return st, nil
}

// Stop pauses the clock and keeps its state.
func (e *Engine) Stop(ctx context.Context, sessionID string) (State, error) {
	return e.send(ctx, sessionID, command{kind: cmdStop})
}

func (e *Engine) Get(ctx context.Context, sessionID string) (State, bool) {
	st, err := e.send(ctx, sessionID, command{kind: cmdGet})
	return st, err == nil
}

// Delete ends the actor and forgets the clock once the actor has exited.
// It ignores ctx cancellation so a timed-out caller never strands the
// goroutine. Deleting a missing clock is a no-op.
func (e *Engine) Delete(_ context.Context, sessionID string) {
	e.mu.Lock()
	a, ok := e.clocks[sessionID]
	e.mu.Unlock()
	if !ok {
		return
	}
	a.stop()
	<-a.done
	e.forget(sessionID, a)
}

func (e *Engine) forget(sessionID string, a *actor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clocks[sessionID] == a {
		delete(e.clocks, sessionID)
		metricClocksActive.Add(-1)
	}
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.clocks)
}

func (e *Engine) send(ctx context.Context, sessionID string, cmd command) (State, error) {
	e.mu.Lock()
	a, ok := e.clocks[sessionID]
	e.mu.Unlock()
	if !ok {
		return State{}, ErrClockNotFound
	}
	return a.call(ctx, cmd)
}

func (e *Engine) expiryFunc() ExpiryFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.onExpire
}
