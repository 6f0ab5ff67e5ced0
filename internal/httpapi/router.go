// Package httpapi is the portal's HTTP surface: session endpoints, the
// verification flow and guarded pages served from the UI upstream.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/practigate/internal/boundary"
	"github.com/and161185/practigate/internal/claims"
	"github.com/and161185/practigate/internal/guard"
	"github.com/and161185/practigate/internal/principal"
	"github.com/and161185/practigate/internal/service"
)

// VerifierPolicy admits principals allowed to submit licences.
var VerifierPolicy = guard.Policy{Roles: []claims.Role{claims.RolePractitioner, claims.RolePharmacy}}

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Sessions  service.SessionService
	Licensing service.LicensingService
	// Principals resolves the identity of each browsing scope.
	Principals *principal.Registry
	Guard      *guard.Guard
	Routes     *guard.RouteTable
	// Upstream serves pages; nil answers 404 for everything not handled here.
	Upstream http.Handler
	// Metrics is mounted at /metrics when set.
	Metrics  http.Handler
	Boundary *boundary.Boundary
	// ScopeCookie defaults to guard.DefaultScopeCookie.
	ScopeCookie string
}

// API holds the handlers.
type API struct {
	deps Deps
	log  *zap.Logger
}

// New builds the API.
func New(deps Deps, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Boundary == nil {
		deps.Boundary = boundary.New(logger, boundary.Options{})
	}
	if deps.ScopeCookie == "" {
		deps.ScopeCookie = guard.DefaultScopeCookie
	}
	if deps.Upstream == nil {
		deps.Upstream = http.NotFoundHandler()
	}
	return &API{deps: deps, log: logger.Named("http")}
}

// Router returns the root handler.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.accessLog)
	r.Use(a.deps.Boundary.Middleware)
	r.Use(guard.EnsureScope(a.deps.ScopeCookie))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	if a.deps.Metrics != nil {
		r.Handle("/metrics", a.deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Get("/session", a.getSession)
		r.Post("/session/sign-in", a.signIn)
		r.Post("/session/sign-out", a.signOut)
		r.Get("/session/return", a.consumeReturn)
		r.Get("/access/watch", a.watchAccess)

		r.Group(func(r chi.Router) {
			r.Use(a.requirePolicy(VerifierPolicy))
			r.Post("/verifications", a.submitVerification)
			r.Post("/verifications/{id}/wait", a.waitVerification)
		})
	})

	r.With(a.deps.Guard.ProtectTable(a.deps.Routes)).Handle("/*", a.deps.Upstream)
	return r
}

func (a *API) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Info("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("dur", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
