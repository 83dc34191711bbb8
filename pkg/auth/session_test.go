package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pointsledger/pkg/access"
	"pointsledger/pkg/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestSessions() SessionVerifier {
	cfg := &config.Config{}
	cfg.Session.Issuer = "backoffice"
	cfg.Session.Secret = testSecret
	return NewSessions(cfg)
}

func TestVerifySession(t *testing.T) {
	token, err := SignSession([]byte(testSecret), "backoffice", "user_7", "tenant_1", access.RoleSupport, time.Hour)
	require.NoError(t, err)

	p, err := newTestSessions().Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user_7", p.Subject)
	require.Equal(t, "tenant_1", p.TenantID)
	require.Equal(t, access.RoleSupport, p.Role)
	require.Equal(t, MethodSession, p.Method)
}

func TestVerifySessionRejects(t *testing.T) {
	expired, err := SignSession([]byte(testSecret), "backoffice", "user_7", "tenant_1", access.RoleAdmin, -time.Hour)
	require.NoError(t, err)
	_, err = newTestSessions().Verify(expired)
	require.ErrorIs(t, err, ErrInvalidSession)

	wrongKey, err := SignSession([]byte("ffffffffffffffffffffffffffffffff"), "backoffice", "user_7", "tenant_1", access.RoleAdmin, time.Hour)
	require.NoError(t, err)
	_, err = newTestSessions().Verify(wrongKey)
	require.ErrorIs(t, err, ErrInvalidSession)

	badRole, err := SignSession([]byte(testSecret), "backoffice", "user_7", "tenant_1", access.Role("owner"), time.Hour)
	require.NoError(t, err)
	_, err = newTestSessions().Verify(badRole)
	require.ErrorIs(t, err, ErrInvalidSession)

	_, err = newTestSessions().Verify("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestActor(t *testing.T) {
	require.Equal(t, "system", Actor(context.Background()))

	ctx := WithPrincipal(context.Background(), &Principal{Subject: "key_1", Method: MethodAPIKey})
	require.Equal(t, "api_key:key_1", Actor(ctx))
}
