package grpcserver

import (
	"context"
	"testing"

	"github.com/and161185/practigate/internal/claims"
)

func TestWithClaims_And_ClaimsFromCtx(t *testing.T) {
	t.Parallel()

	if c, ok := ClaimsFromCtx(context.Background()); ok || c != nil {
		t.Fatalf("expected no claims in empty ctx")
	}

	want := &claims.Claims{Subject: "p-1", Role: claims.RolePharmacy}
	ctx := WithClaims(context.Background(), want)

	got, ok := ClaimsFromCtx(ctx)
	if !ok {
		t.Fatalf("expected claims in ctx")
	}
	if got != want {
		t.Fatalf("mismatch: got %+v, want %+v", got, want)
	}

	if _, ok := ClaimsFromCtx(WithClaims(context.Background(), nil)); ok {
		t.Fatalf("expected miss on nil claims")
	}

	type ctxKey string
	const claimsKey ctxKey = "pg.claims"
	bad := context.WithValue(context.Background(), claimsKey, "not-claims")
	if c, ok := ClaimsFromCtx(bad); ok || c != nil {
		t.Fatalf("expected miss on wrong typed value")
	}
}
