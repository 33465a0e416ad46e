package httptransport

import (
	"net/http"
	"strconv"

	"staked-arena/internal/arena"
	"staked-arena/internal/matchmaking"

	"github.com/go-chi/chi/v5"
)

type QueueReader interface {
	KeyFor(mode, option string, stake int64) (matchmaking.BucketKey, error)
	Status(key matchmaking.BucketKey) matchmaking.QueueStatus
	Depths() []matchmaking.QueueStatus
}

type QueueHandlers struct {
	queues QueueReader
}

func NewQueueHandlers(q QueueReader) *QueueHandlers {
	return &QueueHandlers{queues: q}
}

func (h *QueueHandlers) Depths() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"items": h.queues.Depths()})
	}
}

func (h *QueueHandlers) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stake, err := strconv.ParseInt(r.URL.Query().Get("stake"), 10, 64)
		if err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_stake")
			return
		}
		key, err := h.queues.KeyFor(chi.URLParam(r, "mode"), chi.URLParam(r, "option"), stake)
		if err != nil {
			status, code := arena.MapError(err)
			WriteHTTPError(w, status, code)
			return
		}
		writeJSON(w, http.StatusOK, h.queues.Status(key))
	}
}
