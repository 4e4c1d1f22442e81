package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/memchat/internal/handler/persona"
	"github.com/zhouzirui/memchat/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/memchat/internal/middleware"
	personaModel "github.com/zhouzirui/memchat/internal/model/persona"
	"github.com/zhouzirui/memchat/internal/observability"
	"github.com/zhouzirui/memchat/pkg/utils"
)

// Deps are the services the router exposes.
type Deps struct {
	Personas personaModel.Store
	// Bridge may be nil when no model backend is configured.
	Bridge   stream.Starter
	Metrics  *observability.StreamingMetrics
	Gatherer prometheus.Gatherer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ai":     deps.Bridge != nil,
		})
	})

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		persona.New(deps.Personas).RegisterRoutes(api)

		if deps.Bridge != nil {
			stream.New(deps.Bridge, deps.Metrics).RegisterRoutes(api)
			return
		}
		unavailable := func(w http.ResponseWriter, r *http.Request) {
			utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
		}
		api.Post("/chat", unavailable)
		api.Get("/chat/ws", unavailable)
	})

	return r
}
