package apikey

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pointsledger/pkg/access"
	"pointsledger/pkg/auth"
	"pointsledger/pkg/errutil"
	"pointsledger/pkg/middleware"
	"pointsledger/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: testutil.NewTestDB(t, &APIKey{}), Node: node})
}

func requireUnauthorized(t *testing.T, err error) {
	t.Helper()
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusUnauthorized, be.Status())
}

func TestIssueAndVerify(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	key, credential, err := svc.Issue(ctx, IssueRequest{TenantID: "tenant_1", Channel: "carwash", Role: access.RoleService})
	require.NoError(t, err)
	require.Contains(t, key.KeyID, "carwash_")
	require.NotContains(t, key.SecretHash, credential)

	keyID, secret, err := middleware.SplitAPIKey(credential)
	require.NoError(t, err)
	require.Equal(t, key.KeyID, keyID)

	p, err := svc.VerifyAPIKey(ctx, keyID, secret)
	require.NoError(t, err)
	require.Equal(t, "tenant_1", p.TenantID)
	require.Equal(t, access.RoleService, p.Role)
	require.Equal(t, "carwash", p.Channel)
	require.Equal(t, auth.MethodAPIKey, p.Method)

	_, err = svc.VerifyAPIKey(ctx, keyID, "wrong")
	requireUnauthorized(t, err)

	_, err = svc.VerifyAPIKey(ctx, "carwash_missing", secret)
	requireUnauthorized(t, err)
}

func TestRevokedAndExpiredKeysRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	key, credential, err := svc.Issue(ctx, IssueRequest{TenantID: "tenant_1", Channel: "pos", Role: access.RoleService})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, "tenant_1", key.KeyID))

	keyID, secret, err := middleware.SplitAPIKey(credential)
	require.NoError(t, err)
	_, err = svc.VerifyAPIKey(ctx, keyID, secret)
	requireUnauthorized(t, err)

	past := time.Now().Add(-time.Hour)
	expired, credential, err := svc.Issue(ctx, IssueRequest{TenantID: "tenant_1", Channel: "web", Role: access.RoleService, ExpiresAt: &past})
	require.NoError(t, err)
	_, secret, err = middleware.SplitAPIKey(credential)
	require.NoError(t, err)
	_, err = svc.VerifyAPIKey(ctx, expired.KeyID, secret)
	requireUnauthorized(t, err)
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.Issue(context.Background(), IssueRequest{TenantID: "tenant_1", Role: "root"})
	require.Error(t, err)
}
