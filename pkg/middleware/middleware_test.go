package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pointsledger/pkg/access"
	"pointsledger/pkg/auth"
	"pointsledger/pkg/config"
	"pointsledger/pkg/errutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

const sessionSecret = "0123456789abcdef0123456789abcdef"

type fakeKeys struct {
	calls int
}

func (f *fakeKeys) VerifyAPIKey(ctx context.Context, keyID, secret string) (*auth.Principal, error) {
	f.calls++
	if keyID == "carwash_1" && secret == "good" {
		return &auth.Principal{Subject: keyID, TenantID: "tenant_1", Role: access.RoleService, Method: auth.MethodAPIKey}, nil
	}
	return nil, errutil.Unauthorized("invalid api key", nil)
}

func newRouter(t *testing.T, keys *fakeKeys) *gin.Engine {
	t.Helper()

	authz, err := access.NewEnforcer()
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Session.Issuer = "backoffice"
	cfg.Session.Secret = sessionSecret

	r := gin.New()
	r.Use(Error())
	r.Use(Authenticate(keys, auth.NewSessions(cfg)))
	r.GET("/read", Authorize(authz, access.PointsRead), func(c *gin.Context) {
		p, _ := auth.FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"tenant": p.TenantID, "channel": GetChannel(c.Request.Context())})
	})
	r.POST("/config", Authorize(authz, access.PointsConfigWrite), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.GET("/boom", Authorize(authz, access.PointsRead), func(c *gin.Context) {
		_ = c.Error(context.DeadlineExceeded)
	})
	return r
}

func do(r http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticateAPIKey(t *testing.T) {
	keys := &fakeKeys{}
	r := newRouter(t, keys)

	w := do(r, http.MethodGet, "/read", map[string]string{HeaderAPIKey: "carwash_1.good"})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "tenant_1", body["tenant"])
	require.Equal(t, "carwash", body["channel"])

	w = do(r, http.MethodGet, "/read", map[string]string{HeaderAuthorization: "Bearer carwash_1.good"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 2, keys.calls)
}

func TestAuthenticateRejects(t *testing.T) {
	r := newRouter(t, &fakeKeys{})

	w := do(r, http.MethodGet, "/read", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, false, body["success"])
	require.Equal(t, "unauthorized", body["code"])

	w = do(r, http.MethodGet, "/read", map[string]string{HeaderAPIKey: "carwash_1.bad"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/read", map[string]string{HeaderAPIKey: "no-dot"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/read", map[string]string{HeaderAuthorization: "Bearer a.b.c"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorizeByRole(t *testing.T) {
	r := newRouter(t, &fakeKeys{})

	w := do(r, http.MethodPost, "/config", map[string]string{HeaderAPIKey: "carwash_1.good"})
	require.Equal(t, http.StatusForbidden, w.Code)

	admin, err := auth.SignSession([]byte(sessionSecret), "backoffice", "user_1", "tenant_1", access.RoleAdmin, time.Hour)
	require.NoError(t, err)
	w = do(r, http.MethodPost, "/config", map[string]string{HeaderAuthorization: "Bearer " + admin})
	require.Equal(t, http.StatusNoContent, w.Code)

	staff, err := auth.SignSession([]byte(sessionSecret), "backoffice", "user_2", "tenant_1", access.RoleStaff, time.Hour)
	require.NoError(t, err)
	w = do(r, http.MethodPost, "/config", map[string]string{HeaderAuthorization: "Bearer " + staff})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestErrorMapsContextErrors(t *testing.T) {
	r := newRouter(t, &fakeKeys{})

	w := do(r, http.MethodGet, "/boom", map[string]string{HeaderAPIKey: "carwash_1.good"})
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestDeriveChannelFromAPIKey(t *testing.T) {
	require.Equal(t, "pos", DeriveChannelFromAPIKey("pos_123"))
	require.Equal(t, "carwash", DeriveChannelFromAPIKey("carwash_123"))
	require.Equal(t, "api", DeriveChannelFromAPIKey("sk_123"))
}
