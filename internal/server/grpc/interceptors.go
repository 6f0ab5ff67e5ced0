package grpcserver

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/practigate/internal/claims"
	"github.com/and161185/practigate/internal/convert"
	"github.com/and161185/practigate/internal/guard"
	"github.com/and161185/practigate/internal/identity"
	"github.com/and161185/practigate/internal/obs"
)

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		// metadata only, never payloads
		log.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// MethodPolicies maps full method names ("/pkg.Service/Method") or service
// prefixes ("/pkg.Service/") to the policy guarding them.
type MethodPolicies map[string]guard.Policy

func (m MethodPolicies) lookup(full string) (guard.Policy, bool) {
	if p, ok := m[full]; ok {
		return p, true
	}
	if i := strings.LastIndex(full, "/"); i > 0 {
		p, ok := m[full[:i+1]]
		return p, ok
	}
	return guard.Policy{}, false
}

// Authorizer evaluates policies at the RPC edge from bearer-token claims.
// It does not share state with the HTTP guard; both apply the same rules.
type Authorizer struct {
	key      []byte
	policies MethodPolicies
	log      *zap.Logger
	metrics  *obs.Metrics
}

// NewAuthorizer builds an authorizer verifying HS256 tokens with key.
func NewAuthorizer(key []byte, policies MethodPolicies, logger *zap.Logger, metrics *obs.Metrics) *Authorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = obs.NewMetrics(nil)
	}
	return &Authorizer{key: key, policies: policies, log: logger.Named("authorize"), metrics: metrics}
}

// Unary returns the unary interceptor.
func (a *Authorizer) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		ctx, err := a.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

// Stream returns the stream interceptor.
func (a *Authorizer) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		ctx, err := a.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return next(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

// authorize attaches valid claims to ctx and enforces the method policy.
// Methods without a policy are open; claims are still attached when present.
func (a *Authorizer) authorize(ctx context.Context, method string) (context.Context, error) {
	var c *claims.Claims
	if tok, err := bearerTokenFromMD(ctx); err == nil {
		parsed, perr := identity.ParseAccessToken(tok, a.key)
		if perr != nil {
			a.log.Debug("bearer token rejected", zap.String("method", method), zap.Error(perr))
		} else {
			c = parsed
			ctx = WithClaims(ctx, c)
		}
	}

	p, ok := a.policies.lookup(method)
	if !ok {
		return ctx, nil
	}
	code := guard.Check(c, p)
	if code == guard.None {
		a.metrics.GuardDecisions.WithLabelValues("authorized").Inc()
		return ctx, nil
	}
	a.metrics.GuardDecisions.WithLabelValues(code.String()).Inc()
	a.log.Info("rpc denied", zap.String("method", method), zap.Stringer("code", code))
	return nil, convert.DenialStatus(code, guard.DefaultTarget(code, ""))
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
