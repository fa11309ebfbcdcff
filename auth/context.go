// ABOUTME: Request-scoped credentials carried through context.Context
// ABOUTME: Each collaborator call pulls its bearer token from the context it was given
package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	graphTokenKey    contextKey = "graph_token_source"
	dynamicsTokenKey contextKey = "dynamics_token_source"
	principalKey     contextKey = "principal"
)

// ErrNoCredentials is returned when a call needs a token and the context carries none.
var ErrNoCredentials = errors.New("no credentials in context")

// WithGraphTokenSource attaches the Microsoft Graph token source for this request.
func WithGraphTokenSource(ctx context.Context, ts oauth2.TokenSource) context.Context {
	return context.WithValue(ctx, graphTokenKey, ts)
}

// WithDynamicsTokenSource attaches the Dynamics Web API token source for this request.
func WithDynamicsTokenSource(ctx context.Context, ts oauth2.TokenSource) context.Context {
	return context.WithValue(ctx, dynamicsTokenKey, ts)
}

// WithPrincipal records who is acting, used for audit entries.
func WithPrincipal(ctx context.Context, who string) context.Context {
	return context.WithValue(ctx, principalKey, who)
}

// Principal returns the acting user, or "" when unknown.
func Principal(ctx context.Context) string {
	who, _ := ctx.Value(principalKey).(string)
	return who
}

// GraphToken returns a valid Graph access token for this request.
func GraphToken(ctx context.Context) (string, error) {
	return tokenFrom(ctx, graphTokenKey)
}

// DynamicsToken returns a valid Dynamics access token for this request.
func DynamicsToken(ctx context.Context) (string, error) {
	return tokenFrom(ctx, dynamicsTokenKey)
}

func tokenFrom(ctx context.Context, key contextKey) (string, error) {
	ts, ok := ctx.Value(key).(oauth2.TokenSource)
	if !ok || ts == nil {
		return "", fmt.Errorf("%w: %s", ErrNoCredentials, string(key))
	}
	token, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	if !token.Valid() {
		return "", fmt.Errorf("token from %s is expired", string(key))
	}
	return token.AccessToken, nil
}
