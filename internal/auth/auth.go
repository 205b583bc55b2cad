// Package auth authenticates API bearer tokens and checks their scopes.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/lo"
)

var (
	ErrMissingCredentials = errors.New("missing bearer token")
	ErrInvalidCredentials = errors.New("invalid API key")
)

// Scope grants access to one part of the API.
type Scope string

const (
	ScopeAll        Scope = "*"
	ScopeRunsRead   Scope = "runs:ro"
	ScopeRunsWrite  Scope = "runs:rw"
	ScopeEventsRead Scope = "events:ro"
)

var scopes = []Scope{ScopeAll, ScopeRunsRead, ScopeRunsWrite, ScopeEventsRead}

// ParseScope validates a scope name from configuration.
func ParseScope(s string) (Scope, error) {
	sc := Scope(strings.TrimSpace(s))
	if !lo.Contains(scopes, sc) {
		return "", fmt.Errorf("unknown scope %q", s)
	}
	return sc, nil
}

// Token is a configured bearer secret and what it may do.
type Token struct {
	Secret string
	Scopes []Scope
}

// Principal is an authenticated caller. Name identifies the credential
// without revealing it and is safe to log.
type Principal struct {
	Name   string
	Scopes []Scope
}

// Allows reports whether p holds s. "*" holds everything and runs:rw
// includes runs:ro.
func (p Principal) Allows(s Scope) bool {
	return lo.ContainsBy(p.Scopes, func(held Scope) bool {
		return held == ScopeAll || held == s || (held == ScopeRunsWrite && s == ScopeRunsRead)
	})
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticator matches bearer tokens against the admin key and the scoped
// tokens. Empty secrets never match.
type Authenticator struct {
	apiKey string
	tokens []Token
}

func NewAuthenticator(apiKey string, tokens []Token) *Authenticator {
	return &Authenticator{apiKey: apiKey, tokens: tokens}
}

// Configured reports whether any credential can authenticate.
func (a *Authenticator) Configured() bool {
	return a.apiKey != "" || lo.SomeBy(a.tokens, func(t Token) bool { return t.Secret != "" })
}

// Authenticate resolves the request's bearer token to a Principal.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	presented, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		return Principal{}, err
	}

	if secretEqual(presented, a.apiKey) {
		return Principal{Name: "api_key", Scopes: []Scope{ScopeAll}}, nil
	}
	for i, t := range a.tokens {
		if secretEqual(presented, t.Secret) {
			return Principal{Name: fmt.Sprintf("tokens[%d]", i), Scopes: t.Scopes}, nil
		}
	}
	return Principal{}, ErrInvalidCredentials
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingCredentials
	}
	rest, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", fmt.Errorf("%w: Authorization header is not a bearer token", ErrMissingCredentials)
	}
	token := strings.TrimSpace(rest)
	if token == "" {
		return "", ErrMissingCredentials
	}
	return token, nil
}

func secretEqual(presented, secret string) bool {
	if secret == "" || len(presented) != len(secret) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}
