package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"paintops/internal/auth"
	"paintops/internal/bulk"
	"paintops/internal/config"
	"paintops/internal/http/handler"
	mw "paintops/internal/http/middleware"
	"paintops/internal/logger"
	"paintops/internal/store"
	"paintops/internal/views"
)

func NewRouter(cfg config.Config, log *logger.Logger, s store.Store, reg *views.Registry, ctrl *bulk.Controller, jwtSvc *auth.JWT) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	log = log.Named("http")
	me := &handler.MeHandler{}
	phasesH := &handler.PhasesHandler{Store: s, Log: log}
	jobsH := &handler.JobsHandler{Views: reg, Log: log}
	bulkH := &handler.BulkHandler{Views: reg, Ctrl: ctrl, Log: log}
	historyH := &handler.HistoryHandler{Store: s, Log: log}
	dashH := &handler.DashboardHandler{Views: reg, Log: log}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(jwtSvc))

		r.Get("/me", me.Me)
		r.Get("/phases", phasesH.List)

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobsH.List)
			r.Get("/stream", jobsH.Stream)
			r.Post("/refetch", jobsH.Refetch)
			r.Post("/bulk/{action}", bulkH.Apply)
			r.Get("/{id}/history", historyH.Timeline)
		})

		r.Get("/dashboard", dashH.Get)
		r.Post("/dashboard/refresh", dashH.Refresh)
	})

	return r
}
