package auth

import (
	"errors"
	"fmt"
	"time"

	"pointsledger/pkg/access"
	"pointsledger/pkg/config"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

var (
	ErrInvalidSession = errors.New("invalid session token")
	ErrSessionConfig  = errors.New("session secret not configured")
)

type sessionClaims struct {
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// SessionVerifier validates back-office session tokens issued by the
// external auth service (HS256 JWT with tenant_id and role claims).
type SessionVerifier interface {
	Verify(token string) (*Principal, error)
}

type Sessions struct {
	issuer string
	secret []byte
	leeway time.Duration
	now    func() time.Time
}

func NewSessions(cfg *config.Config) SessionVerifier {
	return &Sessions{
		issuer: cfg.Session.Issuer,
		secret: []byte(cfg.Session.Secret),
		leeway: 30 * time.Second,
		now:    time.Now,
	}
}

func (s *Sessions) Verify(raw string) (*Principal, error) {
	if len(s.secret) == 0 {
		return nil, ErrSessionConfig
	}

	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	var std jwt.Claims
	var custom sessionClaims
	if err := tok.Claims(s.secret, &std, &custom); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	expected := jwt.Expected{Time: s.now()}
	if s.issuer != "" {
		expected.Issuer = s.issuer
	}
	if err := std.ValidateWithLeeway(expected, s.leeway); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	if std.Expiry == nil {
		return nil, fmt.Errorf("%w: missing exp", ErrInvalidSession)
	}

	role := access.Role(custom.Role)
	if std.Subject == "" || custom.TenantID == "" || !role.Valid() {
		return nil, fmt.Errorf("%w: incomplete claims", ErrInvalidSession)
	}

	return &Principal{
		Subject:  std.Subject,
		TenantID: custom.TenantID,
		Role:     role,
		Channel:  "backoffice",
		Method:   MethodSession,
	}, nil
}

// SignSession issues a token in the format Verify accepts. Used by the seed
// command and tests; production sessions come from the auth service.
func SignSession(secret []byte, issuer, subject, tenantID string, role access.Role, ttl time.Duration) (string, error) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: secret}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", err
	}

	now := time.Now()
	std := jwt.Claims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(now.Add(ttl)),
	}

	return jwt.Signed(signer).Claims(std).Claims(sessionClaims{TenantID: tenantID, Role: string(role)}).Serialize()
}
