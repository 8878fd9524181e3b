// Package httpapi is the JSON HTTP surface of the guardian server.
package httpapi

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/authz"
	"github.com/MrEthical07/guardian/middleware"
)

// Deps are the collaborators of the router. Metrics may be nil.
type Deps struct {
	Engine   *guardian.Engine
	Children Children
	Grants   Grants
	Metrics  http.Handler
	Logger   *slog.Logger
}

// NewRouter registers every route.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		engine:   d.Engine,
		children: d.Children,
		grants:   d.Grants,
		validate: validator.New(),
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogging(logger))

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	childID := func(r *http.Request) string { return chi.URLParam(r, "childID") }

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", h.register)
		r.Post("/auth/login", h.login)
		r.Post("/auth/refresh", h.refresh)
		r.Post("/auth/logout", h.logout)
		r.Post("/auth/verify/confirm", h.confirmVerification)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAccess(d.Engine))

			r.Post("/auth/logout-all", h.logoutAll)
			r.Get("/auth/sessions", h.listSessions)
			r.Post("/auth/password", h.changePassword)
			r.Post("/auth/verify/request", h.requestVerification)

			r.Route("/children", func(r chi.Router) {
				r.With(middleware.RequireRole(guardian.RoleParent)).Post("/", h.createChild)
				r.With(middleware.RequireRole(guardian.RoleParent)).Get("/", h.listChildren)

				r.With(middleware.Authorize(d.Engine, guardian.ClassChild, authz.ActionRead, childID)).
					Get("/{childID}", h.getChild)
				r.With(middleware.Authorize(d.Engine, guardian.ClassChild, authz.ActionShare, childID)).
					Post("/{childID}/grants", h.grantAccess)
				r.With(middleware.Authorize(d.Engine, guardian.ClassChild, authz.ActionShare, childID)).
					Delete("/{childID}/grants/{professionalID}", h.revokeAccess)
			})

			r.Route("/admin/users/{userID}", func(r chi.Router) {
				r.Use(middleware.RequireRole(guardian.RoleAdmin))
				r.Post("/suspend", h.adminTransition(d.Engine.SuspendAccount))
				r.Post("/reinstate", h.adminTransition(d.Engine.ReinstateAccount))
				r.Post("/unlock", h.adminTransition(d.Engine.UnlockAccount))
			})
		})
	})

	return r
}

func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.LogAttrs(r.Context(), slog.LevelInfo, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", chimw.GetReqID(r.Context())),
			)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
