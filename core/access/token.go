/*Package access provides utilities for access control: bearer token
verification, per-entity policy evaluation and ownership-based row scoping.
*/
package access

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const contextKeyToken contextKey = "_access_token_"

// DefaultRuleNamespace is the prefix identity providers use for custom
// claims; it is stripped during decoding so "https://example.com/roles"
// becomes "roles".
const DefaultRuleNamespace = "https://"

// AccessToken is the verified identity of one caller. It lives for a single
// request and is never persisted.
type AccessToken struct {
	Subject   string
	Roles     []string
	Claims    map[string]interface{}
	ExpiresAt time.Time
}

// HasRole returns true if the token carries the requested role; otherwise
// it returns false.
func (t *AccessToken) HasRole(role string) bool {
	if t == nil {
		return false
	}
	for _, hasRole := range t.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// HasAllRoles returns true if the token carries every one of the requested
// roles. An empty role list is not satisfied by definition.
func (t *AccessToken) HasAllRoles(roles []string) bool {
	if t == nil || len(roles) == 0 {
		return false
	}
	for _, role := range roles {
		if !t.HasRole(role) {
			return false
		}
	}
	return true
}

// ContextWithToken returns a new context with this token added to it
func ContextWithToken(ctx context.Context, t *AccessToken) context.Context {
	return context.WithValue(ctx, contextKeyToken, t)
}

// TokenFromContext retrieves a token from the context
func TokenFromContext(ctx context.Context) *AccessToken {
	t, ok := ctx.Value(contextKeyToken).(*AccessToken)
	if ok {
		return t
	}
	return nil
}

// BearerToken extracts the bearer credential from the standard
// authorization header. An absent or malformed header yields the empty
// string; the caller then proceeds as unauthenticated.
func BearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) == 0 || bearer == "null" {
		return ""
	}
	if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
		return bearer[7:]
	}
	return ""
}

// tokenFromClaims builds an AccessToken from verified claims, stripping the
// rule namespace prefix from custom claim keys.
func tokenFromClaims(claims jwt.MapClaims, ruleNamespace string) *AccessToken {
	if ruleNamespace == "" {
		ruleNamespace = DefaultRuleNamespace
	}
	t := &AccessToken{Claims: map[string]interface{}{}}
	for key, value := range claims {
		t.Claims[strings.TrimPrefix(key, ruleNamespace)] = value
	}
	if sub, ok := t.Claims["sub"].(string); ok {
		t.Subject = sub
	} else if uid, ok := t.Claims["uid"].(string); ok {
		t.Subject = uid
	}
	if roles, ok := t.Claims["roles"].([]interface{}); ok {
		for _, role := range roles {
			if s, ok := role.(string); ok {
				t.Roles = append(t.Roles, s)
			}
		}
	}
	if exp, ok := t.Claims["exp"].(float64); ok {
		t.ExpiresAt = time.Unix(int64(exp), 0)
	}
	return t
}

// Sign creates an HS256 token for the given claims. Not for deployments
// with an asymmetric identity provider; those issue their own tokens.
func Sign(secret string, claims map[string]interface{}) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims(claims))
	return token.SignedString([]byte(secret))
}
