// Package arena runs the session lifecycle between the transports and the
// clock, finalize, grace and ledger components.
package arena

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"staked-arena/internal/clock"
	"staked-arena/internal/events"
	"staked-arena/internal/finalize"
	"staked-arena/internal/matchmaking"
	"staked-arena/internal/rules"
	"staked-arena/internal/session"
	"staked-arena/internal/store"

	"github.com/rs/zerolog/log"
)

type drawOffer struct {
	by       session.Side
	playerID string
	resume   session.Side
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

type Service struct {
	deps Deps

	mu     sync.Mutex
	locks  map[string]*sessionLock
	offers map[string]drawOffer
}

func New(deps Deps) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Rules == nil {
		deps.Rules = rules.NewChessEngine()
	}
	return &Service{
		deps:   deps,
		locks:  map[string]*sessionLock{},
		offers: map[string]drawOffer{},
	}
}

// lock serialises the player actions of one session.
func (s *Service) lock(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}

// CreateMatch seats a matchmade pair. The earlier entry plays White.
func (s *Service) CreateMatch(ctx context.Context, first, second matchmaking.Entry, stake int64) (matchmaking.Match, error) {
	if first.PlayerID == "" || second.PlayerID == "" || first.PlayerID == second.PlayerID {
		return matchmaking.Match{}, ErrInvalidRequest
	}
	if _, err := s.deps.TCs.Lookup(first.Mode, first.Option); err != nil {
		return matchmaking.Match{}, err
	}
	sess := &session.Session{
		ID:        store.NewPrefixedID("ses"),
		State:     session.StateWaiting,
		Mode:      first.Mode,
		Option:    first.Option,
		Stake:     stake,
		FEN:       rules.StartFEN,
		CreatedAt: s.deps.Now().UTC(),
		Participants: []session.Participant{
			{PlayerID: first.PlayerID, Side: session.White, Creator: true},
			{PlayerID: second.PlayerID, Side: session.Black},
		},
	}
	if err := s.deps.Store.CreateSession(ctx, sess); err != nil {
		return matchmaking.Match{}, fmt.Errorf("create session: %w", err)
	}
	log.Info().Str("session_id", sess.ID).Str("white", first.PlayerID).Str("black", second.PlayerID).
		Int64("stake", stake).Msg("match session created")
	return matchmaking.Match{
		SessionID: sess.ID,
		White:     first.PlayerID,
		Black:     second.PlayerID,
		Stake:     stake,
		Mode:      sess.Mode,
		Option:    sess.Option,
	}, nil
}

// EnsureFree fails with ErrAlreadyInGame while the player has a WAITING or
// ACTIVE session.
func (s *Service) EnsureFree(ctx context.Context, playerID string) error {
	_, err := s.deps.Store.FindOpenSessionByPlayer(ctx, playerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil
	case err != nil:
		return err
	default:
		return ErrAlreadyInGame
	}
}

func (s *Service) CreateGame(ctx context.Context, creatorID, mode, option string, stake int64, side session.Side) (*session.Session, error) {
	if creatorID == "" || stake < 0 {
		return nil, ErrInvalidRequest
	}
	if _, err := s.deps.TCs.Lookup(mode, option); err != nil {
		return nil, err
	}
	if err := s.EnsureFree(ctx, creatorID); err != nil {
		return nil, err
	}
	if !side.Valid() {
		side = session.White
	}
	sess := &session.Session{
		ID:           store.NewPrefixedID("ses"),
		State:        session.StateWaiting,
		Mode:         mode,
		Option:       option,
		Stake:        stake,
		FEN:          rules.StartFEN,
		CreatedAt:    s.deps.Now().UTC(),
		Participants: []session.Participant{{PlayerID: creatorID, Side: side, Creator: true}},
	}
	if err := s.deps.Store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Info().Str("session_id", sess.ID).Str("player_id", creatorID).Str("side", side.String()).Msg("game created")
	return sess, nil
}

func (s *Service) JoinGame(ctx context.Context, sessionID, playerID string) (*session.Session, error) {
	if sessionID == "" || playerID == "" {
		return nil, ErrInvalidRequest
	}
	if open, err := s.deps.Store.FindOpenSessionByPlayer(ctx, playerID); err == nil && open.ID != sessionID {
		return nil, ErrAlreadyInGame
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	sess, err := s.deps.Store.AddParticipant(ctx, sessionID, session.Participant{PlayerID: playerID})
	if err != nil {
		if errors.Is(err, store.ErrSessionNotWaiting) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		return nil, err
	}
	side, _ := sess.SideOf(playerID)
	s.deps.Events.PublishSession(sessionID, events.ParticipantJoined, ParticipantPayload{
		SessionID: sessionID,
		PlayerID:  playerID,
		Side:      side,
	})
	return sess, nil
}

// Ready marks playerID ready. The call that finds both players ready
// activates the session, escrows both stakes and starts White's clock.
func (s *Service) Ready(ctx context.Context, sessionID, playerID string) (*session.Session, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	side, ok := sess.SideOf(playerID)
	if !ok {
		return nil, ErrNotParticipant
	}
	switch sess.State {
	case session.StateActive:
		return sess, nil
	case session.StateEnded:
		return nil, ErrInvalidState
	}
	sess, err = s.deps.Store.SetParticipantReady(ctx, sessionID, playerID, true)
	if err != nil {
		return nil, err
	}
	s.deps.Events.PublishSession(sessionID, events.ParticipantReady, ParticipantPayload{
		SessionID: sessionID,
		PlayerID:  playerID,
		Side:      side,
	})
	if !sess.AllReady() {
		return sess, nil
	}
	return s.start(ctx, sess, playerID)
}

func (s *Service) start(ctx context.Context, sess *session.Session, triggeredBy string) (*session.Session, error) {
	logger := log.With().Str("session_id", sess.ID).Logger()
	tc, err := s.deps.TCs.Lookup(sess.Mode, sess.Option)
	if err != nil {
		return nil, err
	}
	now := s.deps.Now().UTC()
	activated, err := s.deps.Store.ActivateSession(ctx, sess.ID, now)
	if err != nil {
		return nil, fmt.Errorf("activate session: %w", err)
	}
	if !activated {
		return s.deps.Store.GetSession(ctx, sess.ID)
	}

	for _, p := range sess.Participants {
		if _, err := s.deps.Escrow.Escrow(ctx, sess.ID, p.PlayerID, sess.Stake); err != nil {
			logger.Warn().Err(err).Str("player_id", p.PlayerID).Msg("stake escrow failed, voiding session")
			if _, ferr := s.deps.Final.Finalize(ctx, sess.ID, triggeredBy, session.ReasonGameDeleted); ferr != nil {
				logger.Error().Err(ferr).Msg("void after escrow failure failed")
			}
			return nil, fmt.Errorf("%w: player %s: %w", ErrEscrowFailed, p.PlayerID, err)
		}
	}

	s.deps.Clocks.Create(sess.ID, tc.InitialSeconds, tc.IncrementSeconds, session.White)
	if err := s.deps.Clocks.Start(ctx, sess.ID, session.White); err != nil {
		return nil, fmt.Errorf("start clock: %w", err)
	}
	st, _ := s.deps.Clocks.Get(ctx, sess.ID)
	if err := s.deps.Store.SaveClock(ctx, snapshotOf(st, now)); err != nil {
		logger.Warn().Err(err).Msg("persist initial clock failed")
	}

	white, _ := sess.PlayerOn(session.White)
	black, _ := sess.PlayerOn(session.Black)
	s.deps.Events.PublishSession(sess.ID, events.GameStarted, StartedPayload{
		SessionID: sess.ID,
		White:     white,
		Black:     black,
		Stake:     sess.Stake,
		FEN:       sess.FEN,
		Clock:     st.Update(),
		StartedAt: now,
	})
	logger.Info().Str("white", white).Str("black", black).Msg("game started")
	return s.deps.Store.GetSession(ctx, sess.ID)
}

func (s *Service) Move(ctx context.Context, sessionID, playerID, move string) (MovePayload, error) {
	move = strings.ToLower(strings.TrimSpace(move))
	if sessionID == "" || playerID == "" || move == "" {
		return MovePayload{}, ErrInvalidRequest
	}
	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return MovePayload{}, err
	}
	side, ok := sess.SideOf(playerID)
	if !ok {
		return MovePayload{}, ErrNotParticipant
	}
	if sess.State != session.StateActive {
		return MovePayload{}, ErrInvalidState
	}
	if _, pending := s.offer(sessionID); pending {
		return MovePayload{}, ErrDrawPending
	}
	st, ok := s.deps.Clocks.Get(ctx, sessionID)
	if !ok {
		return MovePayload{}, fmt.Errorf("session %s: %w", sessionID, clock.ErrClockNotFound)
	}
	if st.Active != side {
		return MovePayload{}, ErrNotYourTurn
	}

	pos, err := s.apply(sess, move)
	if err != nil {
		return MovePayload{}, err
	}
	if err := s.deps.Store.RecordMove(ctx, sessionID, move, pos.FEN); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return MovePayload{}, ErrInvalidState
		}
		return MovePayload{}, fmt.Errorf("record move: %w", err)
	}

	if !pos.Terminal {
		st, err = s.deps.Clocks.SwitchTurn(ctx, sessionID, side)
		if err != nil {
			return MovePayload{}, fmt.Errorf("switch turn: %w", err)
		}
		if err := s.deps.Store.SaveClock(ctx, snapshotOf(st, s.deps.Now().UTC())); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("persist clock failed")
		}
	}

	payload := MovePayload{
		SessionID: sessionID,
		PlayerID:  playerID,
		Side:      side,
		Move:      move,
		FEN:       pos.FEN,
		Ply:       len(sess.Moves) + 1,
		Clock:     st.Update(),
		Terminal:  pos.Terminal,
		Reason:    pos.Reason,
	}
	s.deps.Events.PublishSession(sessionID, events.MovePlayed, payload)

	if pos.Terminal {
		if _, err := s.deps.Final.Finalize(ctx, sessionID, playerID, pos.Reason); err != nil {
			return payload, err
		}
	}
	return payload, nil
}

// apply replays the whole game when the engine supports it so repetition
// draws are visible; otherwise only the last position is used.
func (s *Service) apply(sess *session.Session, move string) (rules.Position, error) {
	if le, ok := s.deps.Rules.(LineEngine); ok && (len(sess.Moves) > 0 || sess.FEN == rules.StartFEN) {
		line := make([]string, 0, len(sess.Moves)+1)
		line = append(line, sess.Moves...)
		return le.ApplyLine(rules.StartFEN, append(line, move))
	}
	fen := sess.FEN
	if fen == "" {
		fen = rules.StartFEN
	}
	return s.deps.Rules.Apply(fen, move)
}

func (s *Service) Resign(ctx context.Context, sessionID, playerID string) (finalize.Outcome, error) {
	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return finalize.Outcome{}, err
	}
	side, ok := sess.SideOf(playerID)
	if !ok {
		return finalize.Outcome{}, ErrNotParticipant
	}
	switch sess.State {
	case session.StateEnded:
		// Lost the race to another ending, e.g. a timeout a moment earlier.
		return finalize.Outcome{SessionID: sessionID}, nil
	case session.StateActive:
	default:
		return finalize.Outcome{}, ErrInvalidState
	}
	s.clearOffer(sessionID)
	return s.deps.Final.Finalize(ctx, sessionID, playerID, session.ResignationOf(side))
}

// OfferDraw pauses the clock and asks the opponent to accept a draw.
func (s *Service) OfferDraw(ctx context.Context, sessionID, playerID string) error {
	unlock := s.lock(sessionID)
	defer unlock()

	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	side, ok := sess.SideOf(playerID)
	if !ok {
		return ErrNotParticipant
	}
	if sess.State != session.StateActive {
		return ErrInvalidState
	}
	if _, pending := s.offer(sessionID); pending {
		return ErrDrawPending
	}
	opponent, ok := sess.PlayerOn(side.Opponent())
	if !ok {
		return errMissingOpponent
	}
	st, err := s.deps.Clocks.Stop(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("pause clock: %w", err)
	}
	resume := st.Active
	if !resume.Valid() {
		if resume, err = rules.Turn(sess.FEN); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.offers[sessionID] = drawOffer{by: side, playerID: playerID, resume: resume}
	s.mu.Unlock()

	s.deps.Events.PublishPlayer(opponent, events.AcceptGameEnd, DrawOfferPayload{
		SessionID: sessionID,
		OfferedBy: side,
		PlayerID:  playerID,
	})
	log.Info().Str("session_id", sessionID).Str("player_id", playerID).Str("side", side.String()).Msg("draw offered")
	return nil
}

// RespondDraw answers the pending offer. Accepting ends the game as a draw
// requested by the offering side; declining resumes the paused clock.
func (s *Service) RespondDraw(ctx context.Context, sessionID, playerID string, accept bool) (finalize.Outcome, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	offer, ok := s.offer(sessionID)
	if !ok {
		return finalize.Outcome{}, ErrNoDrawOffer
	}
	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return finalize.Outcome{}, err
	}
	side, ok := sess.SideOf(playerID)
	if !ok {
		return finalize.Outcome{}, ErrNotParticipant
	}
	if side == offer.by {
		return finalize.Outcome{}, ErrOwnDrawOffer
	}
	s.clearOffer(sessionID)
	if sess.State != session.StateActive {
		return finalize.Outcome{}, ErrInvalidState
	}

	if accept {
		s.deps.Events.PublishPlayer(offer.playerID, events.GameEndAck, DrawAnswerPayload{
			SessionID: sessionID,
			PlayerID:  playerID,
			Accepted:  true,
		})
		return s.deps.Final.Finalize(ctx, sessionID, playerID, session.DrawRequestedBy(offer.by))
	}

	if err := s.deps.Clocks.Start(ctx, sessionID, offer.resume); err != nil {
		return finalize.Outcome{}, fmt.Errorf("resume clock: %w", err)
	}
	s.deps.Events.PublishSession(sessionID, events.DrawDeclined, DrawAnswerPayload{
		SessionID: sessionID,
		PlayerID:  playerID,
		Resumed:   offer.resume,
	})
	return finalize.Outcome{}, nil
}

func (s *Service) offer(sessionID string) (drawOffer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[sessionID]
	return o, ok
}

func (s *Service) clearOffer(sessionID string) {
	s.mu.Lock()
	delete(s.offers, sessionID)
	s.mu.Unlock()
}

// Delete voids a WAITING session. Only its creator may do it.
func (s *Service) Delete(ctx context.Context, sessionID, playerID string) (finalize.Outcome, error) {
	sess, err := s.deps.Store.GetSession(ctx, sessionID)
	if err != nil {
		return finalize.Outcome{}, err
	}
	creator, ok := sess.Creator()
	if !ok || creator.PlayerID != playerID {
		return finalize.Outcome{}, ErrNotCreator
	}
	if sess.State != session.StateWaiting {
		return finalize.Outcome{}, ErrInvalidState
	}
	// game_ended closes the session topic, so game_deleted goes out first.
	s.deps.Events.PublishSession(sessionID, events.GameDeleted, DeletedPayload{SessionID: sessionID, PlayerID: playerID})
	return s.deps.Final.Finalize(ctx, sessionID, playerID, session.ReasonGameDeleted)
}

// Disconnect drops the connection's queue entries and opens the reconnect
// window when the player is in an ACTIVE game.
func (s *Service) Disconnect(ctx context.Context, playerID, transport string) error {
	if transport != "" {
		s.deps.Queue.LeaveByTransport(transport)
	} else {
		s.deps.Queue.Leave(playerID)
	}
	sess, err := s.deps.Store.FindOpenSessionByPlayer(ctx, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.State != session.StateActive {
		return nil
	}
	return s.deps.Grace.OnDisconnect(ctx, sess.ID, playerID)
}

// Reconnect closes any open window for the player and sends them
// resume_game with the current session and clock.
func (s *Service) Reconnect(ctx context.Context, playerID string) (ResumePayload, error) {
	sess, err := s.deps.Store.FindOpenSessionByPlayer(ctx, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return ResumePayload{}, ErrNoOpenSession
	}
	if err != nil {
		return ResumePayload{}, err
	}
	payload := ResumePayload{Session: sess}
	if sess.State == session.StateActive {
		payload.Reconnected = s.deps.Grace.OnReconnect(ctx, sess.ID, playerID)
		if st, ok := s.deps.Clocks.Get(ctx, sess.ID); ok {
			u := st.Update()
			payload.Clock = &u
		}
		if o, ok := s.offer(sess.ID); ok {
			by := o.by
			payload.DrawOffer = &by
		}
		if side, ok := sess.SideOf(playerID); ok {
			if opp, ok := sess.PlayerOn(side.Opponent()); ok {
				if due, ok := s.deps.Grace.Pending(sess.ID, opp); ok {
					payload.OpponentDue = &due
				}
			}
		}
	}
	s.deps.Events.PublishPlayer(playerID, events.ResumeGame, payload)
	return payload, nil
}

func (s *Service) Session(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.deps.Store.GetSession(ctx, sessionID)
}

// Clock returns the live clock of a running session.
func (s *Service) Clock(ctx context.Context, sessionID string) (clock.Update, error) {
	st, ok := s.deps.Clocks.Get(ctx, sessionID)
	if !ok {
		return clock.Update{}, clock.ErrClockNotFound
	}
	return st.Update(), nil
}

func snapshotOf(st clock.State, at time.Time) store.ClockSnapshot {
	return store.ClockSnapshot{
		SessionID:  st.SessionID,
		WhiteTime:  st.TimeLeft[session.White],
		BlackTime:  st.TimeLeft[session.Black],
		ActiveSide: st.Active,
		Increment:  st.Increment,
		UpdatedAt:  at,
	}
}
