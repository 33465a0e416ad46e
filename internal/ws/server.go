package ws

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strings"
	"sync"
	"time"

	"staked-arena/internal/arena"
	"staked-arena/internal/events"
	"staked-arena/internal/finalize"
	"staked-arena/internal/matchmaking"
	"staked-arena/internal/session"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	requestTimeout = 10 * time.Second
)

var (
	metricConnectionsTotal  = expvar.NewInt("ws_connections_total")
	metricConnectionsActive = expvar.NewInt("ws_connections_active")
	metricMessageErrors     = expvar.NewInt("ws_message_errors_total")
)

// Arena is the session lifecycle the socket drives.
type Arena interface {
	EnsureFree(ctx context.Context, playerID string) error
	CreateGame(ctx context.Context, creatorID, mode, option string, stake int64, side session.Side) (*session.Session, error)
	JoinGame(ctx context.Context, sessionID, playerID string) (*session.Session, error)
	Ready(ctx context.Context, sessionID, playerID string) (*session.Session, error)
	Move(ctx context.Context, sessionID, playerID, move string) (arena.MovePayload, error)
	Resign(ctx context.Context, sessionID, playerID string) (finalize.Outcome, error)
	OfferDraw(ctx context.Context, sessionID, playerID string) error
	RespondDraw(ctx context.Context, sessionID, playerID string, accept bool) (finalize.Outcome, error)
	Delete(ctx context.Context, sessionID, playerID string) (finalize.Outcome, error)
	Disconnect(ctx context.Context, playerID, transport string) error
	Reconnect(ctx context.Context, playerID string) (arena.ResumePayload, error)
	Spectate(ctx context.Context, sessionID, playerID string) (arena.SpectateResult, error)
	Chat(ctx context.Context, sessionID, playerID, content string) (arena.ChatPayload, error)
}

type Queue interface {
	Join(ctx context.Context, e matchmaking.Entry) (matchmaking.JoinResult, error)
	Leave(playerID string) bool
	LeaveByTransport(transport string) bool
}

// Topics hands out hub buffers to subscribe to.
type Topics interface {
	Subscribe(topic string) (*events.EventBuffer, chan events.StreamEvent)
}

type Client struct {
	id       string
	playerID string
	conn     *websocket.Conn
	send     chan []byte

	mu   sync.Mutex
	subs map[string]func()
	gone bool
}

type Server struct {
	arena    Arena
	queue    Queue
	topics   Topics
	upgrader websocket.Upgrader

	mu       sync.Mutex
	byPlayer map[string]*Client
}

func NewServer(a Arena, q Queue, topics Topics) *Server {
	return &Server{
		arena:    a,
		queue:    q,
		topics:   topics,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		byPlayer: map[string]*Client{},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.HandleWS(w, r)
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	playerID := strings.TrimSpace(r.URL.Query().Get("player_id"))
	if playerID == "" {
		http.Error(w, "player_id required", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &Client{
		id:       uuid.NewString(),
		playerID: playerID,
		conn:     conn,
		send:     make(chan []byte, 64),
		subs:     map[string]func(){},
	}
	metricConnectionsTotal.Add(1)
	metricConnectionsActive.Add(1)
	log.Info().Str("conn_id", c.id).Str("player_id", playerID).Msg("ws connected")

	s.register(c)
	go s.writeLoop(c)
	s.subscribe(c, events.PlayerTopic(playerID))
	s.readLoop(c)
}

// register makes c the player's live connection. A previous socket of the
// same player is closed without opening a reconnect window.
func (s *Server) register(c *Client) {
	s.mu.Lock()
	old := s.byPlayer[c.playerID]
	s.byPlayer[c.playerID] = c
	s.mu.Unlock()
	if old != nil {
		log.Info().Str("conn_id", old.id).Str("player_id", old.playerID).Msg("ws replaced")
		_ = old.conn.Close()
	}
}

func (s *Server) readLoop(c *Client) {
	defer func() {
		s.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("ws read")
			}
			return
		}
		s.handle(c, msg)
	}
}

func (s *Server) writeLoop(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.conn.Close()
				drain(c.send)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				drain(c.send)
				return
			}
		}
	}
}

func (s *Server) handle(c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		s.sendError(c, env, "invalid_request", "malformed message")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	data, err := s.dispatch(ctx, c, env, raw)
	if err != nil {
		_, code := arena.MapError(err)
		if errors.Is(err, errUnknownType) {
			code = "unknown_message_type"
		}
		s.sendError(c, env, code, err.Error())
		return
	}
	s.reply(c, Reply{Event: eventAck, Type: env.Type, RequestID: env.RequestID, Data: data})
}

var errUnknownType = errors.New("unknown message type")

func (s *Server) dispatch(ctx context.Context, c *Client, env Envelope, raw []byte) (any, error) {
	switch env.Type {
	case MsgJoinQueue:
		var m JoinQueueMessage
		if err := unmarshal(raw, &m); err != nil {
			return nil, err
		}
		if err := s.arena.EnsureFree(ctx, c.playerID); err != nil {
			return nil, err
		}
		return s.queue.Join(ctx, matchmaking.Entry{
			PlayerID:  c.playerID,
			Mode:      m.Mode,
			Option:    m.Option,
			Stake:     m.Stake,
			Transport: c.id,
		})
	case MsgLeaveQueue:
		return map[string]bool{"left": s.queue.Leave(c.playerID)}, nil
	case MsgCreateGame:
		var m CreateGameMessage
		if err := unmarshal(raw, &m); err != nil {
			return nil, err
		}
		sess, err := s.arena.CreateGame(ctx, c.playerID, m.Mode, m.Option, m.Stake, m.Side)
		if err != nil {
			return nil, err
		}
		s.subscribe(c, events.SessionTopic(sess.ID))
		return sess, nil
	case MsgJoinGame:
		var m SessionMessage
		if err := unmarshalSession(raw, &m); err != nil {
			return nil, err
		}
		sess, err := s.arena.JoinGame(ctx, m.SessionID, c.playerID)
		if err != nil {
			return nil, err
		}
		s.subscribe(c, events.SessionTopic(sess.ID))
		return sess, nil
	case MsgReady:
		var m SessionMessage
		if err := unmarshalSession(raw, &m); err != nil {
			return nil, err
		}
		return s.arena.Ready(ctx, m.SessionID, c.playerID)
	case MsgMove:
		var m MoveMessage
		if err := unmarshal(raw, &m); err != nil {
			return nil, err
		}
		if m.SessionID == "" || m.Move == "" {
			return nil, arena.ErrInvalidRequest
		}
		return s.arena.Move(ctx, m.SessionID, c.playerID, m.Move)
	case MsgResign:
		var m SessionMessage
		if err := unmarshalSession(raw, &m); err != nil {
			return nil, err
		}
		return s.arena.Resign(ctx, m.SessionID, c.playerID)
	case MsgOfferDraw:
		var m SessionMessage
		if err := unmarshalSession(raw, &m); err != nil {
			return nil, err
		}
		return nil, s.arena.OfferDraw(ctx, m.SessionID, c.playerID)
	case MsgRespondDraw:
		var m RespondDrawMessage
		if err := unmarshal(raw, &m); err != nil {
			return nil, err
		}
		if m.SessionID == "" {
			return nil, arena.ErrInvalidRequest
		}
		return s.arena.RespondDraw(ctx, m.SessionID, c.playerID, m.Accept)
	case MsgDeleteGame:
		var m SessionMessage
		if err := unmarshalSession(raw, &m); err != nil {
			return nil, err
		}
		return s.arena.Delete(ctx, m.SessionID, c.playerID)
	case MsgResumeGame:
		payload, err := s.arena.Reconnect(ctx, c.playerID)
		if err != nil {
			return nil, err
		}
		if payload.Session != nil {
			s.subscribe(c, events.SessionTopic(payload.Session.ID))
		}
		return payload, nil
	case MsgSpectate:
		var m SessionMessage
		if err := unmarshalSession(raw, &m); err != nil {
			return nil, err
		}
		res, err := s.arena.Spectate(ctx, m.SessionID, c.playerID)
		if err != nil {
			return nil, err
		}
		s.subscribe(c, events.SessionTopic(m.SessionID))
		return res, nil
	case MsgChat:
		var m ChatMessage
		if err := unmarshal(raw, &m); err != nil {
			return nil, err
		}
		if m.SessionID == "" {
			return nil, arena.ErrInvalidRequest
		}
		return s.arena.Chat(ctx, m.SessionID, c.playerID, m.Content)
	default:
		return nil, errUnknownType
	}
}

func unmarshal(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return arena.ErrInvalidRequest
	}
	return nil
}

func unmarshalSession(raw []byte, m *SessionMessage) error {
	if err := unmarshal(raw, m); err != nil {
		return err
	}
	if m.SessionID == "" {
		return arena.ErrInvalidRequest
	}
	return nil
}

// subscribe forwards topic to the client until the topic closes or the
// client goes away. Subscribing twice is a no-op.
func (s *Server) subscribe(c *Client, topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gone {
		return
	}
	if _, ok := c.subs[topic]; ok {
		return
	}
	buf, ch := s.topics.Subscribe(topic)
	c.subs[topic] = func() { buf.Unsubscribe(ch) }
	go s.forward(c, topic, ch)
}

func (s *Server) forward(c *Client, topic string, ch chan events.StreamEvent) {
	for ev := range ch {
		msg, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Str("topic", topic).Str("event", ev.Event).Msg("ws encode")
			continue
		}
		if sid := sessionOf(ev); sid != "" {
			s.subscribe(c, events.SessionTopic(sid))
		}
		safeSend(c.send, msg)
	}
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
}

// sessionOf picks the session a player-topic event points at, so matches
// found by the queue and resumed games stream to the socket.
func sessionOf(ev events.StreamEvent) string {
	switch data := ev.Data.(type) {
	case matchmaking.MatchFoundPayload:
		return data.SessionID
	case arena.ResumePayload:
		if data.Session != nil && data.Session.State != session.StateEnded {
			return data.Session.ID
		}
	}
	return ""
}

func (s *Server) unregister(c *Client) {
	c.mu.Lock()
	c.gone = true
	subs := c.subs
	c.subs = map[string]func(){}
	c.mu.Unlock()
	for _, cancel := range subs {
		cancel()
	}

	s.mu.Lock()
	current := s.byPlayer[c.playerID] == c
	if current {
		delete(s.byPlayer, c.playerID)
	}
	s.mu.Unlock()
	metricConnectionsActive.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	transport := c.id
	if current {
		if err := s.arena.Disconnect(ctx, c.playerID, transport); err != nil {
			log.Error().Err(err).Str("player_id", c.playerID).Msg("ws disconnect")
		}
	} else {
		s.queue.LeaveByTransport(transport)
	}
	log.Info().Str("conn_id", c.id).Str("player_id", c.playerID).Bool("current", current).Msg("ws closed")
	safeClose(c.send)
}

func (s *Server) reply(c *Client, r Reply) {
	msg, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Str("type", r.Type).Msg("ws encode reply")
		return
	}
	safeSend(c.send, msg)
}

func (s *Server) sendError(c *Client, env Envelope, code, message string) {
	metricMessageErrors.Add(1)
	s.reply(c, Reply{
		Event:     events.Error,
		Type:      env.Type,
		RequestID: env.RequestID,
		Data:      events.ErrorPayload{Code: code, Message: message},
	})
}

func safeClose(ch chan []byte) {
	defer func() {
		_ = recover()
	}()
	close(ch)
}

func safeSend(ch chan []byte, msg []byte) {
	defer func() {
		_ = recover()
	}()
	ch <- msg
}

func drain(ch chan []byte) {
	for range ch {
	}
}
