package auth

import (
	"context"

	"pointsledger/pkg/access"
)

type Method string

const (
	MethodAPIKey  Method = "api_key"
	MethodSession Method = "session"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject  string
	TenantID string
	Role     access.Role
	Channel  string
	Method   Method
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// Actor returns "method:subject" for audit records, or "system".
func Actor(ctx context.Context) string {
	p, ok := FromContext(ctx)
	if !ok {
		return "system"
	}
	return string(p.Method) + ":" + p.Subject
}
