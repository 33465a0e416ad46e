package main

import (
	"encoding/json"
	"math/rand"
	"net/url"
	"time"

	"staked-arena/internal/config"
	"staked-arena/internal/logging"
	"staked-arena/internal/rules"
	"staked-arena/internal/session"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// frame covers both forwarded hub events and replies.
type frame struct {
	Event string          `json:"event"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

type matchFound struct {
	SessionID string       `json:"session_id"`
	Side      session.Side `json:"side"`
}

type position struct {
	SessionID string `json:"session_id"`
	FEN       string `json:"fen"`
}

type resumed struct {
	Session *session.Session `json:"session"`
}

type bot struct {
	conn     *websocket.Conn
	rnd      *rand.Rand
	playerID string

	mode, option string
	stake        int64
	loop         bool

	sessionID string
	side      session.Side
}

func main() {
	logCfg, err := config.LoadLog()
	if err != nil {
		panic(err)
	}
	logging.Init(logCfg)

	cfg, err := config.LoadBot()
	if err != nil {
		log.Fatal().Err(err).Msg("load bot config failed")
	}

	conn, _, err := websocket.DefaultDialer.Dial(cfg.WSURL+"?player_id="+url.QueryEscape(cfg.PlayerID), nil)
	if err != nil {
		log.Fatal().Err(err).Msg("dial")
	}
	defer conn.Close()

	b := &bot{
		conn:     conn,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		playerID: cfg.PlayerID,
		mode:     cfg.Mode,
		option:   cfg.Option,
		stake:    cfg.Stake,
		loop:     cfg.Loop,
		side:     session.NoSide,
	}
	// A restarted bot picks its open game back up; otherwise the error
	// reply sends it to the queue.
	b.send(map[string]any{"type": "resume_game"})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Info().Err(err).Msg("connection closed")
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if !b.handle(f) {
			return
		}
	}
}

// handle reacts to one frame and reports whether the bot keeps running.
func (b *bot) handle(f frame) bool {
	switch f.Event {
	case "ack":
		if f.Type == "resume_game" {
			b.resume(f.Data)
		}
	case "match_found":
		var m matchFound
		if json.Unmarshal(f.Data, &m) != nil {
			return true
		}
		b.sessionID, b.side = m.SessionID, m.Side
		log.Info().Str("session_id", m.SessionID).Stringer("side", m.Side).Msg("match found")
		b.send(map[string]any{"type": "ready", "session_id": m.SessionID})
	case "game_started", "move_played":
		var p position
		if json.Unmarshal(f.Data, &p) != nil || p.SessionID != b.sessionID {
			return true
		}
		b.play(p.FEN)
	case "accept_game_end":
		b.send(map[string]any{"type": "respond_draw", "session_id": b.sessionID, "accept": b.rnd.Intn(2) == 0})
	case "game_ended":
		log.Info().Str("session_id", b.sessionID).RawJSON("result", f.Data).Msg("game ended")
		b.sessionID, b.side = "", session.NoSide
		if !b.loop {
			return false
		}
		b.joinQueue()
	case "error":
		if f.Type == "resume_game" {
			b.joinQueue()
			return true
		}
		log.Warn().Str("type", f.Type).RawJSON("error", f.Data).Msg("server error")
	}
	return true
}

func (b *bot) resume(raw json.RawMessage) {
	var r resumed
	if json.Unmarshal(raw, &r) != nil || r.Session == nil {
		b.joinQueue()
		return
	}
	side, ok := r.Session.SideOf(b.playerID)
	if !ok {
		b.joinQueue()
		return
	}
	b.sessionID, b.side = r.Session.ID, side
	log.Info().Str("session_id", b.sessionID).Stringer("side", side).Str("state", string(r.Session.State)).Msg("resumed")
	switch r.Session.State {
	case session.StateWaiting:
		b.send(map[string]any{"type": "ready", "session_id": b.sessionID})
	case session.StateActive:
		b.play(r.Session.FEN)
	}
}

func (b *bot) play(fen string) {
	turn, err := rules.Turn(fen)
	if err != nil || turn != b.side {
		return
	}
	moves, err := rules.LegalMoves(fen)
	if err != nil || len(moves) == 0 {
		return
	}
	mv := moves[b.rnd.Intn(len(moves))]
	b.send(map[string]any{"type": "move", "session_id": b.sessionID, "move": mv})
}

func (b *bot) joinQueue() {
	b.send(map[string]any{"type": "join_queue", "mode": b.mode, "option": b.option, "stake": b.stake})
}

func (b *bot) send(msg map[string]any) {
	payload, _ := json.Marshal(msg)
	if err := b.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		log.Error().Err(err).Msg("write")
	}
}
