package guard

import (
	"context"
	"net/http"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/practigate/internal/session"
)

// DefaultScopeCookie names the cookie that carries the browsing-session scope.
const DefaultScopeCookie = "pg_scope"

// ScopeFunc extracts the browsing-session scope from a request.
type ScopeFunc func(r *http.Request) string

type scopeKey struct{}

// WithScope stores a scope id in ctx.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the scope stored by WithScope.
func ScopeFromContext(ctx context.Context) string {
	s, _ := ctx.Value(scopeKey{}).(string)
	return s
}

// CookieScope reads the scope from the request context, then from the named cookie.
func CookieScope(name string) ScopeFunc {
	return func(r *http.Request) string {
		if s := ScopeFromContext(r.Context()); s != "" {
			return s
		}
		c, err := r.Cookie(name)
		if err != nil {
			return ""
		}
		if _, err := uuid.FromString(c.Value); err != nil {
			return ""
		}
		return c.Value
	}
}

// EnsureScope issues a scope cookie when the request has none (or a malformed
// one) and stores the scope in the request context.
func EnsureScope(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := CookieScope(name)(r)
			if scope == "" {
				scope = session.NewScopeID()
				http.SetCookie(w, &http.Cookie{
					Name:     name,
					Value:    scope,
					Path:     "/",
					HttpOnly: true,
					Secure:   r.TLS != nil,
					SameSite: http.SameSiteLaxMode,
				})
			}
			next.ServeHTTP(w, r.WithContext(WithScope(r.Context(), scope)))
		})
	}
}

// Protect lets next run only for authorized requests. Denied requests get
// the policy fallback, a 403 when onDenied handled them, or a 303 redirect.
func (g *Guard) Protect(p Policy, onDenied DenialHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next, p, onDenied)
		})
	}
}

// ProtectTable guards every request whose path matches a route in t.
// Unmatched paths pass through.
func (g *Guard) ProtectTable(t *RouteTable) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := t.Match(r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, next, p, nil)
		})
	}
}

func (g *Guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler, p Policy, onDenied DenialHandler) {
	d := g.Decide(r.Context(), Request{
		Scope:    g.scope(r),
		Path:     r.URL.RequestURI(),
		Policy:   p,
		OnDenied: onDenied,
	})
	switch {
	case d.Authorized():
		next.ServeHTTP(w, r.WithContext(WithOutcome(r.Context(), d.Outcome)))
	case d.Fallback:
		p.Fallback.ServeHTTP(w, r.WithContext(WithOutcome(r.Context(), d.Outcome)))
	case d.Handled:
		w.WriteHeader(http.StatusForbidden)
	default:
		g.log.Debug("redirecting denied request",
			zap.String("path", r.URL.Path),
			zap.Stringer("code", d.Code),
			zap.String("target", d.Target),
		)
		http.Redirect(w, r, d.Target, http.StatusSeeOther)
	}
}

type outcomeKey struct{}

// WithOutcome stores a settled outcome in ctx for downstream handlers.
func WithOutcome(ctx context.Context, o Outcome) context.Context {
	return context.WithValue(ctx, outcomeKey{}, o)
}

// OutcomeFromContext returns the outcome stored by Protect.
func OutcomeFromContext(ctx context.Context) (Outcome, bool) {
	o, ok := ctx.Value(outcomeKey{}).(Outcome)
	return o, ok
}
