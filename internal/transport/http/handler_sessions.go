package httptransport

import (
	"context"
	"net/http"
	"time"

	"staked-arena/internal/arena"
	"staked-arena/internal/clock"
	"staked-arena/internal/events"
	"staked-arena/internal/session"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

var ssePingInterval = 15 * time.Second

type SessionReader interface {
	Session(ctx context.Context, sessionID string) (*session.Session, error)
	Clock(ctx context.Context, sessionID string) (clock.Update, error)
}

type EventSource interface {
	Subscribe(topic string) (*events.EventBuffer, chan events.StreamEvent)
}

type SessionHandlers struct {
	sessions SessionReader
	events   EventSource
}

func NewSessionHandlers(sessions SessionReader, ev EventSource) *SessionHandlers {
	return &SessionHandlers{sessions: sessions, events: ev}
}

func (h *SessionHandlers) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.sessions.Session(r.Context(), chi.URLParam(r, "session_id"))
		if err != nil {
			status, code := arena.MapError(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

func (h *SessionHandlers) Clock() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := h.sessions.Clock(r.Context(), chi.URLParam(r, "session_id"))
		if err != nil {
			status, code := arena.MapError(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// Events streams the session topic: buffered events after Last-Event-ID
// first, then live events until the topic closes or the client leaves.
func (h *SessionHandlers) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")
		if _, err := h.sessions.Session(r.Context(), sessionID); err != nil {
			status, code := arena.MapError(err)
			WriteHTTPError(w, status, code)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteHTTPError(w, http.StatusInternalServerError, "stream_not_supported")
			return
		}
		metricSSEConnectionsTotal.Add(1)
		metricSSEConnectionsActive.Add(1)
		defer metricSSEConnectionsActive.Add(-1)

		events.SetSSEHeaders(w)
		logger := log.With().Str("request_id", chimw.GetReqID(r.Context())).Str("session_id", sessionID).Logger()
		logger.Info().Msg("sse stream opened")

		// Subscribe before replaying so nothing published in between is lost;
		// the id check below drops the overlap.
		buf, ch := h.events.Subscribe(events.SessionTopic(sessionID))
		defer buf.Unsubscribe(ch)

		var lastSent string
		for _, ev := range buf.ReplayAfter(r.Header.Get("Last-Event-ID")) {
			if err := events.WriteSSE(w, ev); err != nil {
				return
			}
			lastSent = ev.EventID
		}
		flusher.Flush()

		ticker := time.NewTicker(ssePingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				logger.Info().Err(r.Context().Err()).Msg("sse stream closed")
				return
			case ev, ok := <-ch:
				if !ok {
					logger.Info().Msg("sse stream topic closed")
					return
				}
				if lastSent != "" && !newerThan(ev.EventID, lastSent) {
					continue
				}
				if err := events.WriteSSE(w, ev); err != nil {
					return
				}
				lastSent = ev.EventID
				flusher.Flush()
			case <-ticker.C:
				ping := events.StreamEvent{
					Event:    "ping",
					Topic:    events.SessionTopic(sessionID),
					ServerTS: time.Now().UnixMilli(),
				}
				if err := events.WriteSSE(w, ping); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func newerThan(id, than string) bool {
	if len(id) != len(than) {
		return len(id) > len(than)
	}
	return id > than
}
