// Package server assembles the draftd http handler from its apps.
package server

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"
	"github.com/koinonia/draftsafe/app"
	"github.com/koinonia/draftsafe/auth"
	"github.com/koinonia/draftsafe/conf"
	"github.com/koinonia/draftsafe/db"
	"github.com/koinonia/draftsafe/draft"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Server is the draft server: the auth app and the draft api over one
// database.
type Server struct {
	Auth   *auth.App
	Drafts *draft.API
	Apps   []app.App

	db  db.DB
	cfg *conf.Config
	log zerolog.Logger
}

// New builds the apps for cfg over conn.  Call Migrate before serving.
func New(cfg *conf.Config, conn db.DB, log zerolog.Logger) *Server {
	authApp := auth.NewApp(cfg, conn).WithLogger(log)
	drafts := draft.NewAPI(conn, authApp.Sessions).WithLogger(log.With().Str("component", "drafts").Logger())

	return &Server{
		Auth:   authApp,
		Drafts: drafts,
		Apps:   []app.App{authApp, drafts},
		db:     conn,
		cfg:    cfg,
		log:    log,
	}
}

// Migrate brings every app's schema up to date.
func (s *Server) Migrate() error {
	return app.MigrateAll(s.Apps...)
}

func healthz(conn db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var one int
		if err := conn.GetContext(r.Context(), &one, `SELECT 1`); err != nil {
			app.Http500("health check", w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

// Handler returns the root handler.  Requests are traced, logged and
// recovered from panics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.WithLogger(s.log))
	r.Use(s.Auth.Sessions.AddSessionMiddleware)
	r.Use(s.cfg.AddConfigMiddleware)

	r.Get("/healthz", healthz(s.db))
	r.Handle("/metrics", promhttp.Handler())
	for _, a := range s.Apps {
		a.Bind(r)
	}

	var h http.Handler = r
	if s.cfg.Debug {
		h = handlers.CombinedLoggingHandler(os.Stderr, h)
	}
	h = handlers.RecoveryHandler(handlers.PrintRecoveryStack(s.cfg.Debug))(h)
	return otelhttp.NewHandler(h, "draftd")
}
