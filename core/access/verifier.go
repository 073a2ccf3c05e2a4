package access

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v4"
)

// ErrNoVerifier is returned when neither a shared secret nor an identity
// provider is configured. Protected entities then fail closed.
var ErrNoVerifier = errors.New("no token verification configured")

// Verifier validates bearer credentials. Two mutually exclusive paths are
// selected by the token's declared signing algorithm and by which
// credentials are configured: symmetric verification against a single
// shared secret, or asymmetric verification via a signing-key lookup from
// the identity provider's JWKS endpoint.
type Verifier struct {
	// Secret enables HS256 verification when set.
	Secret string
	// JWKSURL enables RS256 verification when set.
	JWKSURL string
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// RuleNamespace is stripped from custom claim keys, defaults to
	// "https://".
	RuleNamespace string

	keys     *keyCache
	keysOnce sync.Once
}

// Configured reports whether at least one verification path is viable.
func (v *Verifier) Configured() bool {
	return v != nil && (v.Secret != "" || v.JWKSURL != "")
}

// Verify validates the bearer credential and returns the caller's access
// token.
func (v *Verifier) Verify(tokenString string) (*AccessToken, error) {
	if !v.Configured() {
		return nil, ErrNoVerifier
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "RS256"}))
	token, err := parser.ParseWithClaims(tokenString, claims, v.keyFunc)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if v.Issuer != "" {
		if iss, _ := claims["iss"].(string); iss != v.Issuer {
			return nil, fmt.Errorf("unexpected token issuer %q", iss)
		}
	}
	return tokenFromClaims(claims, v.RuleNamespace), nil
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA:
		if v.JWKSURL == "" {
			return nil, errors.New("no identity provider configured for RS256 token")
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("RS256 token carries no key identifier")
		}
		v.keysOnce.Do(func() {
			v.keys = newKeyCache(v.JWKSURL)
		})
		return v.keys.signingKey(kid)
	case *jwt.SigningMethodHMAC:
		if v.Secret == "" {
			return nil, errors.New("no shared secret configured for HS256 token")
		}
		return []byte(v.Secret), nil
	default:
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
}
