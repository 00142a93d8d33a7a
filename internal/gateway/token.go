package gateway

import (
	"context"
	"strings"
)

// TokenProvider supplies the bearer token sent with each operation. An empty
// token means the request is made with Hasura's unauthorized role.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

type tokenKey struct{}

type promotedKey struct{}

type sessionVarsKey struct{}

// WithToken returns a context carrying the caller's bearer token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the token stored by WithToken.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// ContextToken reads the token from the request context, falling back to
// Fallback when the context carries none.
type ContextToken struct {
	Fallback TokenProvider
}

func (p ContextToken) Token(ctx context.Context) (string, error) {
	if token := TokenFromContext(ctx); token != "" {
		return token, nil
	}
	if p.Fallback == nil {
		return "", nil
	}
	return p.Fallback.Token(ctx)
}

// WithPromotion marks operations made with ctx as backend-only: the admin
// secret and the backend-only permissions toggle are added to the request.
func WithPromotion(ctx context.Context) context.Context {
	return context.WithValue(ctx, promotedKey{}, true)
}

// SessionVars are the Hasura session variables a promoted request acts as.
type SessionVars struct {
	UserID string
	Role   string
}

// WithSessionVars makes promoted operations run as the given user and role.
// Hasura only honors these headers on requests carrying the admin secret.
func WithSessionVars(ctx context.Context, vars SessionVars) context.Context {
	return context.WithValue(ctx, sessionVarsKey{}, vars)
}

func sessionVars(ctx context.Context) (SessionVars, bool) {
	vars, ok := ctx.Value(sessionVarsKey{}).(SessionVars)
	return vars, ok
}

func promoted(ctx context.Context) bool {
	v, _ := ctx.Value(promotedKey{}).(bool)
	return v
}

func authorization(token string) string {
	token = strings.TrimSpace(token)
	if token == "" || strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bearer " + token
}
