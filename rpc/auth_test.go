package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "jwt-test-secret"

func signAdminJWT(t *testing.T, now time.Time, scope string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss":   "pool-ops",
		"sub":   "operator",
		"scope": scope,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func TestAdminJWTAuthorizesAdminMethods(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{JWTSecret: testJWTSecret, JWTIssuer: "pool-ops"})
	now := f.clock.Now()
	f.server.now = func() time.Time { return now }
	ctx := context.Background()

	valid := NewClient(f.http.URL, signAdminJWT(t, now, "redeem:read "+AdminScope, time.Hour))
	require.NoError(t, valid.Call(ctx, "redeem_setPause", setPauseParams{Module: "lottery", Paused: true}, nil))

	expired := NewClient(f.http.URL, signAdminJWT(t, now.Add(-2*time.Hour), AdminScope, time.Hour))
	err := expired.Call(ctx, "redeem_setPause", setPauseParams{Module: "lottery", Paused: false}, nil)
	requireRPCError(t, err, codeUnauthorized, "invalid RPC credentials")

	unscoped := NewClient(f.http.URL, signAdminJWT(t, now, "redeem:read", time.Hour))
	err = unscoped.Call(ctx, "redeem_setPause", setPauseParams{Module: "lottery", Paused: false}, nil)
	requireRPCError(t, err, codeUnauthorized, "invalid RPC credentials")

	require.Equal(t, []string{"redeem.lottery"}, f.node.Paused())
}

func TestAdminJWTRejectsForeignSignature(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{JWTSecret: "other-secret"})
	now := f.clock.Now()
	f.server.now = func() time.Time { return now }

	forged := NewClient(f.http.URL, signAdminJWT(t, now, AdminScope, time.Hour))
	err := forged.Call(context.Background(), "redeem_verifyAudit", nil, nil)
	requireRPCError(t, err, codeUnauthorized, "invalid RPC credentials")
}
