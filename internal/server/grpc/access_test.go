package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/practigate/internal/claims"
	"github.com/and161185/practigate/internal/convert"
	"github.com/and161185/practigate/internal/guard"
	"github.com/and161185/practigate/internal/identity"
)

var signKey = []byte("edge-signing-key")

func startServer(t *testing.T, policies MethodPolicies) *AccessClient {
	t.Helper()
	log := zaptest.NewLogger(t)
	srv := New(log, Options{Authorizer: NewAuthorizer(signKey, policies, log, nil)})

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.GRPC.Serve(lis) }()
	t.Cleanup(srv.GRPC.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewAccessClient(conn)
}

func bearer(t *testing.T, c *claims.Claims) context.Context {
	t.Helper()
	tok, _, err := identity.IssueAccessToken(c, signKey, time.Hour)
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+tok)
}

func practitioner() *claims.Claims {
	return &claims.Claims{
		Subject:            "p-1",
		Email:              "dana@example.com",
		Role:               claims.RolePractitioner,
		VerificationStatus: claims.VerificationVerified,
		AssuranceLevel:     claims.AssuranceBasic,
	}
}

func TestWhoami_RequiresPrincipal(t *testing.T) {
	t.Parallel()
	cli := startServer(t, AccessPolicies())

	_, err := cli.Whoami(context.Background())
	require.Equal(t, codes.Unauthenticated, status.Code(err))
	code, target, ok := convert.DenialFromStatus(err)
	require.True(t, ok)
	require.Equal(t, guard.NotAuthenticated, code)
	require.Equal(t, guard.SignInPath, target)

	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer forged.token.value")
	_, err = cli.Whoami(ctx)
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestWhoami_ReturnsClaims(t *testing.T) {
	t.Parallel()
	cli := startServer(t, AccessPolicies())

	out, err := cli.Whoami(bearer(t, practitioner()))
	require.NoError(t, err)
	f := out.GetFields()
	require.Equal(t, "p-1", f["subject"].GetStringValue())
	require.Equal(t, "practitioner", f["role"].GetStringValue())
	require.Equal(t, "verified", f["verification_status"].GetStringValue())
}

func TestCheck_SingleCause(t *testing.T) {
	t.Parallel()
	cli := startServer(t, AccessPolicies())
	ctx := bearer(t, practitioner())

	out, err := cli.Check(ctx, guard.Policy{Roles: []claims.Role{claims.RoleAdmin}, RequireElevatedAssurance: true})
	require.NoError(t, err)
	require.False(t, out.GetFields()["authorized"].GetBoolValue())
	require.Equal(t, "assurance_required", out.GetFields()["code"].GetStringValue())
	require.Equal(t, guard.StepUpPath, out.GetFields()["target"].GetStringValue())

	out, err = cli.Check(ctx, guard.Policy{Roles: []claims.Role{claims.RolePractitioner}, RequireVerified: true})
	require.NoError(t, err)
	require.True(t, out.GetFields()["authorized"].GetBoolValue())
	require.Equal(t, "none", out.GetFields()["code"].GetStringValue())

	out, err = cli.Check(context.Background(), guard.Policy{})
	require.NoError(t, err)
	require.Equal(t, "not_authenticated", out.GetFields()["code"].GetStringValue())
}

func TestCheck_RejectsUnknownRole(t *testing.T) {
	t.Parallel()

	_, err := AccessServer{}.Check(context.Background(), mustStruct(t, map[string]any{"roles": []any{"superuser"}}))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAuthorizer_ServicePrefixPolicy(t *testing.T) {
	t.Parallel()
	cli := startServer(t, MethodPolicies{
		"/" + AccessServiceName + "/": {RequireVerified: true},
	})

	pending := practitioner()
	pending.VerificationStatus = claims.VerificationPending
	_, err := cli.Check(bearer(t, pending), guard.Policy{})
	require.Equal(t, codes.PermissionDenied, status.Code(err))
	code, target, ok := convert.DenialFromStatus(err)
	require.True(t, ok)
	require.Equal(t, guard.NotVerified, code)
	require.Equal(t, guard.VerifyPath, target)

	_, err = cli.Check(bearer(t, practitioner()), guard.Policy{})
	require.NoError(t, err)
}

func TestMethodPolicies_Lookup(t *testing.T) {
	t.Parallel()

	m := MethodPolicies{
		"/a.S/":  {RequireVerified: true},
		"/a.S/M": {RequireElevatedAssurance: true},
	}
	p, ok := m.lookup("/a.S/M")
	require.True(t, ok)
	require.True(t, p.RequireElevatedAssurance)

	p, ok = m.lookup("/a.S/Other")
	require.True(t, ok)
	require.True(t, p.RequireVerified)

	_, ok = m.lookup("/b.S/M")
	require.False(t, ok)
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc.def.ghi"))
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo"))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on non-bearer")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer   "))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on empty token")
	}

	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}
