package middleware

import (
	"context"
	"errors"
	"strings"

	"pointsledger/pkg/access"
	"pointsledger/pkg/auth"
	"pointsledger/pkg/errutil"

	"github.com/gin-gonic/gin"
)

const (
	HeaderAPIKey        = "X-API-Key"
	HeaderAuthorization = "Authorization"
)

// APIKeyVerifier resolves "<key_id>.<secret>" credentials to a principal.
type APIKeyVerifier interface {
	VerifyAPIKey(ctx context.Context, keyID, secret string) (*auth.Principal, error)
}

var ErrMalformedAPIKey = errors.New("malformed api key")

// SplitAPIKey splits "<key_id>.<secret>".
func SplitAPIKey(raw string) (string, string, error) {
	keyID, secret, ok := strings.Cut(strings.TrimSpace(raw), ".")
	if !ok || keyID == "" || secret == "" {
		return "", "", ErrMalformedAPIKey
	}
	return keyID, secret, nil
}

// Authenticate accepts either an API key (X-API-Key, or a Bearer value in
// key_id.secret form) or a back-office session JWT in the Authorization
// header.
func Authenticate(keys APIKeyVerifier, sessions auth.SessionVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := resolvePrincipal(c, keys, sessions)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		ctx := auth.WithPrincipal(c.Request.Context(), principal)
		ctx = WithChannel(ctx, principal.Channel)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func resolvePrincipal(c *gin.Context, keys APIKeyVerifier, sessions auth.SessionVerifier) (*auth.Principal, error) {
	ctx := c.Request.Context()

	if raw := c.GetHeader(HeaderAPIKey); raw != "" {
		return verifyAPIKey(ctx, keys, raw)
	}

	header := c.GetHeader(HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return nil, errutil.Unauthorized("missing credentials", nil)
	}
	token = strings.TrimSpace(token)

	// a JWT has two dots, an API key exactly one
	if strings.Count(token, ".") == 1 {
		return verifyAPIKey(ctx, keys, token)
	}

	if sessions == nil {
		return nil, errutil.Unauthorized("session authentication disabled", nil)
	}
	p, err := sessions.Verify(token)
	if err != nil {
		return nil, errutil.Unauthorized("invalid session", err)
	}
	return p, nil
}

func verifyAPIKey(ctx context.Context, keys APIKeyVerifier, raw string) (*auth.Principal, error) {
	keyID, secret, err := SplitAPIKey(raw)
	if err != nil {
		return nil, errutil.Unauthorized("invalid api key", err)
	}
	if keys == nil {
		return nil, errutil.Unauthorized("api key authentication disabled", nil)
	}

	p, err := keys.VerifyAPIKey(ctx, keyID, secret)
	if err != nil {
		var be errutil.BaseError
		if errors.As(err, &be) {
			return nil, err
		}
		return nil, errutil.Internal("failed to verify api key", err)
	}
	if p.Channel == "" {
		p.Channel = DeriveChannelFromAPIKey(keyID)
	}
	return p, nil
}

// Authorize consults the permission table once for the route's action.
func Authorize(authz access.Authorizer, action access.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := auth.FromContext(c.Request.Context())
		if !ok {
			_ = c.Error(errutil.Unauthorized("missing credentials", nil))
			c.Abort()
			return
		}

		if !authz.Allowed(p.Role, action) {
			_ = c.Error(errutil.Forbidden("role "+string(p.Role)+" may not perform "+string(action), nil))
			c.Abort()
			return
		}

		c.Next()
	}
}
