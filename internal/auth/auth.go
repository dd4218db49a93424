// Package auth checks bearer tokens presented to the HTTP API.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes a token can carry. "*" grants everything.
const (
	ScopeWorkersRead   = "workers:ro"
	ScopeCommandsWrite = "commands:rw"
	ScopeEventsRead    = "events:ro"
	ScopeMetricsRead   = "metrics:ro"
	ScopeAll           = "*"
)

var knownScopes = map[string]struct{}{
	ScopeWorkersRead:   {},
	ScopeCommandsWrite: {},
	ScopeEventsRead:    {},
	ScopeMetricsRead:   {},
	ScopeAll:           {},
}

// KnownScope reports whether s is a scope this package understands.
func KnownScope(s string) bool {
	_, ok := knownScopes[s]
	return ok
}

// Token is a bearer token with a set of scopes.
type Token struct {
	Token  string
	Scopes []string
}

// Principal is the authenticated caller.
type Principal struct {
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ExtractBearerToken reads the token from the Authorization header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented token against the configured ones.
// Every token is compared so the time taken does not reveal which matched.
func Authenticate(presented string, tokens []Token) (Principal, bool) {
	var match *Token
	for i := range tokens {
		if constantTimeEqual(presented, tokens[i].Token) && match == nil {
			match = &tokens[i]
		}
	}
	if match == nil {
		return Principal{}, false
	}
	return Principal{Scopes: normalizeScopes(match.Scopes)}, true
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes)+1)
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	// Sending commands implies seeing the workers they go to.
	if _, ok := out[ScopeCommandsWrite]; ok {
		out[ScopeWorkersRead] = struct{}{}
	}
	return out
}

// HasAnyScope reports whether p holds "*" or one of required.
func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
