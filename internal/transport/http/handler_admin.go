package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"staked-arena/internal/arena"
	"staked-arena/internal/finalize"
	"staked-arena/internal/rating"
	"staked-arena/internal/session"
	"staked-arena/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type AdminStore interface {
	Ping(ctx context.Context) error
	ListLedgerEntries(ctx context.Context, f store.LedgerFilter, limit, offset int) ([]store.LedgerEntry, error)
	EnsureAccount(ctx context.Context, playerID string, initial int64) error
	Credit(ctx context.Context, playerID string, amount int64, entryType, refType, refID string) (int64, error)
	ListOpenReconciliation(ctx context.Context, limit int) ([]store.ReconciliationItem, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Finalizer interface {
	Finalize(ctx context.Context, sessionID, triggeredBy string, reason session.Reason) (finalize.Outcome, error)
}

type RatingRunner interface {
	Run(ctx context.Context, now time.Time) (rating.Report, error)
}

type AdminHandlers struct {
	store   AdminStore
	cache   Pinger
	final   Finalizer
	ratings RatingRunner
}

func NewAdminHandlers(st AdminStore, cache Pinger, final Finalizer, ratings RatingRunner) *AdminHandlers {
	return &AdminHandlers{store: st, cache: cache, final: final, ratings: ratings}
}

func (h *AdminHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"ok": true, "db": "up"}
		status := http.StatusOK
		if err := h.store.Ping(r.Context()); err != nil {
			body["ok"], body["db"] = false, "down"
			status = http.StatusServiceUnavailable
		}
		if h.cache != nil {
			body["cache"] = "up"
			if err := h.cache.Ping(r.Context()); err != nil {
				body["cache"] = "down"
			}
		}
		writeJSON(w, status, body)
	}
}

func (h *AdminHandlers) Ledger() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := ParsePagination(r)
		f := store.LedgerFilter{PlayerID: r.URL.Query().Get("player_id"), SessionID: r.URL.Query().Get("session_id")}
		if v := r.URL.Query().Get("from"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				f.From = &t
			}
		}
		if v := r.URL.Query().Get("to"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				f.To = &t
			}
		}
		items, err := h.store.ListLedgerEntries(r.Context(), f, limit, offset)
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
	}
}

func (h *AdminHandlers) Topup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PlayerID string `json:"player_id"`
			Amount   int64  `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if body.PlayerID == "" || body.Amount <= 0 {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		if err := h.store.EnsureAccount(r.Context(), body.PlayerID, 0); err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		bal, err := h.store.Credit(r.Context(), body.PlayerID, body.Amount, store.EntryTopup, "topup", store.NewPrefixedID("top"))
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "balance": bal})
	}
}

func (h *AdminHandlers) Reconciliation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := ParsePagination(r)
		items, err := h.store.ListOpenReconciliation(r.Context(), limit)
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	}
}

// Finalize ends a session by operator decision. The reason must be one of
// the closed set; replays report applied=false.
func (h *AdminHandlers) Finalize() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		reason := session.Reason(body.Reason)
		if !reason.Valid() {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_reason")
			return
		}
		sessionID := chi.URLParam(r, "session_id")
		metricAdminFinalizeTotal.Add(1)
		out, err := h.final.Finalize(r.Context(), sessionID, "admin", reason)
		if err != nil {
			status, code := arena.MapError(err)
			WriteHTTPError(w, status, code)
			return
		}
		log.Info().Str("session_id", sessionID).Str("reason", body.Reason).Bool("applied", out.Applied).Msg("admin finalize")
		writeJSON(w, http.StatusOK, map[string]any{
			"applied":        out.Applied,
			"reason":         out.Reason,
			"result":         out.Result,
			"settlement_ref": out.SettlementRef,
		})
	}
}

func (h *AdminHandlers) RunRatings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metricAdminRatingRuns.Add(1)
		rep, err := h.ratings.Run(r.Context(), time.Now())
		if err != nil {
			log.Error().Err(err).Msg("admin rating run failed")
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "report": rep})
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}
