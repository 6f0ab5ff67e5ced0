package guard

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/practigate/internal/claims"
	"github.com/and161185/practigate/internal/navigation"
	"github.com/and161185/practigate/internal/obs"
)

// Fixed denial destinations.
const (
	SignInPath       = "/auth/sign-in"
	StepUpPath       = "/auth/mfa/setup"
	VerifyPath       = "/professional/verify"
	ForbiddenPath    = "/forbidden"
	ReturnToParam    = "returnTo"
	evaluateDeadline = 20 * time.Second
)

// ClaimsSource supplies the claims an evaluation is made on.
// A nil result with a nil error means no principal.
type ClaimsSource interface {
	Claims(ctx context.Context) (*claims.Claims, error)
}

// ClaimsSourceFunc adapts a function to ClaimsSource.
type ClaimsSourceFunc func(ctx context.Context) (*claims.Claims, error)

func (f ClaimsSourceFunc) Claims(ctx context.Context) (*claims.Claims, error) { return f(ctx) }

// Outcome is the settled result of one evaluation.
type Outcome struct {
	State  State
	Code   DenialCode
	Claims *claims.Claims
}

// Authorized reports whether protected content may be shown.
func (o Outcome) Authorized() bool { return o.State == StateAuthorized }

// DenialContext is passed to a caller's denial handler.
type DenialContext struct {
	Code   DenialCode
	Path   string
	Policy Policy
	Claims *claims.Claims
}

// DenialResult is what a denial handler asks for. Handled stops the pipeline;
// RedirectTo proposes an explicit target that is still safety-checked.
type DenialResult struct {
	Handled    bool
	RedirectTo string
}

// DenialHandler lets callers take over or steer a denial.
type DenialHandler func(ctx context.Context, d DenialContext) DenialResult

// Request describes one guarded navigation.
type Request struct {
	// Scope identifies the browsing session for redirect history and return paths.
	Scope    string
	Path     string
	Policy   Policy
	OnDenied DenialHandler
}

// Decision is the full result of Decide.
type Decision struct {
	Outcome
	// Handled is set when the denial handler took over.
	Handled bool
	// Fallback is set when the policy's fallback should be shown instead of navigating.
	Fallback bool
	// Target is the safe destination for a denied request.
	Target     string
	LoopBroken bool
}

// Options configures a Guard.
type Options struct {
	Tracker *navigation.Tracker
	Metrics *obs.Metrics
	Now     func() time.Time
	Scope   ScopeFunc
}

// Guard evaluates policies against the current claims.
type Guard struct {
	source  ClaimsSource
	tracker *navigation.Tracker
	metrics *obs.Metrics
	log     *zap.Logger
	now     func() time.Time
	scope   ScopeFunc
}

// New builds a guard. Without a tracker the loop guard and return paths are disabled.
func New(source ClaimsSource, logger *zap.Logger, opts Options) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guard{
		source:  source,
		tracker: opts.Tracker,
		metrics: opts.Metrics,
		log:     logger.Named("guard"),
		now:     opts.Now,
		scope:   opts.Scope,
	}
	if g.metrics == nil {
		g.metrics = obs.NewMetrics(nil)
	}
	if g.now == nil {
		g.now = time.Now
	}
	if g.scope == nil {
		g.scope = CookieScope(DefaultScopeCookie)
	}
	return g
}

// Evaluate runs the policy check. Source failures and panics fail closed.
func (g *Guard) Evaluate(ctx context.Context, p Policy) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("evaluation panicked, failing closed", zap.Any("panic", r))
			out = Outcome{State: StateUnauthorized, Code: NotAuthenticated}
		}
		label := out.Code.String()
		if out.Authorized() {
			label = "authorized"
		}
		g.metrics.GuardDecisions.WithLabelValues(label).Inc()
	}()

	ctx, cancel := context.WithTimeout(ctx, evaluateDeadline)
	defer cancel()

	c, err := g.source.Claims(ctx)
	if err != nil {
		g.log.Error("claims lookup failed, failing closed", zap.Error(err))
		c = nil
	}
	failing := Failing(c, p)
	if len(failing) == 0 {
		return Outcome{State: StateAuthorized, Code: None, Claims: c}
	}
	code, err := highestPriority(failing)
	if err != nil {
		g.log.Error("denial priority invariant violated", zap.Error(err))
		code = NotAuthenticated
	}
	return Outcome{State: StateUnauthorized, Code: code, Claims: c}
}

// Decide evaluates req and, on denial, resolves where to go.
func (g *Guard) Decide(ctx context.Context, req Request) Decision {
	d := Decision{Outcome: g.Evaluate(ctx, req.Policy)}
	now := g.now()

	if d.Authorized() {
		if g.tracker != nil && req.Scope != "" {
			if err := g.tracker.ReturnPaths(req.Scope).ClearIfArrived(ctx, req.Path, now); err != nil {
				g.log.Warn("clear return path", zap.Error(err))
			}
		}
		return d
	}

	explicit := req.Policy.RedirectTo
	if req.OnDenied != nil {
		res := g.callHandler(ctx, req, d)
		if res.Handled {
			d.Handled = true
			return d
		}
		if res.RedirectTo != "" {
			explicit = res.RedirectTo
		}
	}
	if req.Policy.Fallback != nil && explicit == "" {
		d.Fallback = true
		return d
	}

	target := ""
	if explicit != "" {
		if navigation.IsSafeTarget(explicit) {
			target = explicit
		} else {
			g.metrics.GuardUnsafeTargets.Inc()
			g.log.Warn("unsafe redirect target rejected", zap.String("target", explicit), zap.Stringer("code", d.Code))
		}
	}
	if target == "" {
		target = DefaultTarget(d.Code, req.Path)
	}
	if !navigation.IsSafeTarget(target) {
		g.metrics.GuardUnsafeTargets.Inc()
		target = navigation.DefaultLanding
	}

	if g.tracker != nil && req.Scope != "" {
		target, d.LoopBroken = g.loopGuard(ctx, req.Scope, target, now)
		if req.Policy.PreserveReturnPath && !d.LoopBroken && navigation.IsSafeTarget(req.Path) {
			if err := g.tracker.ReturnPaths(req.Scope).Save(ctx, req.Path, now); err != nil {
				g.log.Warn("save return path", zap.Error(err))
			}
		}
	}
	d.Target = target
	return d
}

func (g *Guard) callHandler(ctx context.Context, req Request, d Decision) (res DenialResult) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("denial handler panicked", zap.Any("panic", r))
			res = DenialResult{}
		}
	}()
	return req.OnDenied(ctx, DenialContext{Code: d.Code, Path: req.Path, Policy: req.Policy, Claims: d.Claims.Clone()})
}

func (g *Guard) loopGuard(ctx context.Context, scope, target string, now time.Time) (string, bool) {
	h := g.tracker.History(scope)
	brk, err := h.ShouldBreak(ctx, now)
	if err != nil {
		g.log.Warn("read redirect history", zap.Error(err))
	}
	if brk {
		g.metrics.GuardLoopBreaks.Inc()
		g.log.Warn("redirect loop detected, sending to default landing", zap.String("target", target))
		if err := h.Reset(ctx); err != nil {
			g.log.Warn("reset redirect history", zap.Error(err))
		}
		return navigation.DefaultLanding, true
	}
	if err := h.Record(ctx, now); err != nil {
		g.log.Warn("record redirect", zap.Error(err))
	}
	return target, false
}

// DefaultTarget maps a denial code to its fixed destination. The sign-in
// target carries the current path when that path is safe to return to.
func DefaultTarget(code DenialCode, path string) string {
	switch code {
	case AssuranceRequired:
		return StepUpPath
	case NotVerified:
		return VerifyPath
	case RoleMismatch:
		return ForbiddenPath
	default:
		if navigation.IsSafeTarget(path) {
			return fmt.Sprintf("%s?%s=%s", SignInPath, ReturnToParam, url.QueryEscape(path))
		}
		return SignInPath
	}
}
