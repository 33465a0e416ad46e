package httptransport

import (
	"expvar"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"staked-arena/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

type RouterDeps struct {
	Store    AdminStore
	Cache    Pinger
	Sessions SessionReader
	Events   EventSource
	Queues   QueueReader
	Final    Finalizer
	Ratings  RatingRunner
	WS       http.Handler
}

func NewRouter(deps RouterDeps, cfg config.ServerConfig) *chi.Mux {
	sessionHandlers := NewSessionHandlers(deps.Sessions, deps.Events)
	queueHandlers := NewQueueHandlers(deps.Queues)
	adminHandlers := NewAdminHandlers(deps.Store, deps.Cache, deps.Final, deps.Ratings)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", adminHandlers.Health())
	if deps.WS != nil {
		r.Handle("/ws", deps.WS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(APILogMiddleware())
		r.Get("/sessions/{session_id}", sessionHandlers.Get())
		r.Get("/sessions/{session_id}/clock", sessionHandlers.Clock())
		r.Get("/sessions/{session_id}/events", sessionHandlers.Events())
		r.Get("/queues", queueHandlers.Depths())
		r.Get("/queues/{mode}/{option}/status", queueHandlers.Status())

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminAPIKey))
			r.Use(AdminAuditMiddleware(auditBodyLimit))
			r.Get("/ledger", adminHandlers.Ledger())
			r.Post("/topup", adminHandlers.Topup())
			r.Get("/reconciliation", adminHandlers.Reconciliation())
			r.Post("/sessions/{session_id}/finalize", adminHandlers.Finalize())
			r.Post("/ratings/run", adminHandlers.RunRatings())

			r.Get("/debug/vars", expvar.Handler().ServeHTTP)
		})
	})
	return r
}

func LogRoutes(r chi.Router) {
	type routeDef struct {
		Method string
		Path   string
	}
	routes := make([]routeDef, 0, 64)
	err := chi.Walk(r, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeDef{Method: method, Path: route})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("walk routes failed")
		return
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Registered routes (%d):\n", len(routes)))
	for _, rt := range routes {
		b.WriteString(fmt.Sprintf("  %-6s %s\n", rt.Method, rt.Path))
	}
	fmt.Print(b.String())
}
