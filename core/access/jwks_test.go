package access

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jwksServer(t *testing.T, kid string, key *rsa.PublicKey) *httptest.Server {
	t.Helper()
	n := base64.RawURLEncoding.EncodeToString(key.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes())
	body := fmt.Sprintf(`{"keys":[{"kty":"RSA","kid":"%s","n":"%s","e":"%s"}]}`, kid, n, e)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func signedRS256Token(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	require.NoError(t, err)
	return s
}

func TestVerifyRS256ViaKeySet(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	server := jwksServer(t, "key-1", &key.PublicKey)
	defer server.Close()

	v := &Verifier{JWKSURL: server.URL}
	tokenString := signedRS256Token(t, key, "key-1", jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	token, err := v.Verify(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "u1", token.Subject)

	// second verification hits the cache; kill the server to prove it
	server.Close()
	_, err = v.Verify(tokenString)
	assert.NoError(t, err)
}

func TestVerifyRS256Concurrent(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	server := jwksServer(t, "key-1", &key.PublicKey)
	defer server.Close()

	v := &Verifier{JWKSURL: server.URL}
	tokenString := signedRS256Token(t, key, "key-1", jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	// the key cache is created on first use, which may happen on
	// several request goroutines at once
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := v.Verify(tokenString)
			if assert.NoError(t, err) {
				assert.Equal(t, "u1", token.Subject)
			}
		}()
	}
	wg.Wait()
}

func TestVerifyRS256UnknownKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	server := jwksServer(t, "key-1", &key.PublicKey)
	defer server.Close()

	v := &Verifier{JWKSURL: server.URL}
	tokenString := signedRS256Token(t, key, "key-2", jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Verify(tokenString)
	assert.Error(t, err)
}

func TestVerifyRS256RejectsWithoutKeySet(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	// HS256-only configuration must not accept RS256 tokens
	v := &Verifier{Secret: testSecret}
	tokenString := signedRS256Token(t, key, "key-1", jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = v.Verify(tokenString)
	assert.Error(t, err)
}

func TestRSAKeyFromModulusExponent(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	n := base64.RawURLEncoding.EncodeToString(key.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes())

	decoded, err := rsaKeyFromModulusExponent(n, e)
	require.NoError(t, err)
	assert.Equal(t, 0, decoded.N.Cmp(key.N))
	assert.Equal(t, key.E, decoded.E)

	_, err = rsaKeyFromModulusExponent("%%%", e)
	assert.Error(t, err)
	_, err = rsaKeyFromModulusExponent(n, "%%%")
	assert.Error(t, err)
}
