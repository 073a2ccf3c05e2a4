package access

import (
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/modelapi/core/logger"
)

// keyCache lazily fetches the identity provider's JSON web key set and
// caches the RSA public keys by key identifier. A lookup for an unknown
// kid triggers a refetch, rate limited so a flood of bogus tokens cannot
// hammer the provider.
type keyCache struct {
	url    string
	client *http.Client

	mutex     sync.Mutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
}

const keyRefetchInterval = time.Minute

func newKeyCache(url string) *keyCache {
	return &keyCache{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		keys:   map[string]*rsa.PublicKey{},
	}
}

func (c *keyCache) signingKey(kid string) (*rsa.PublicKey, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if key, ok := c.keys[kid]; ok {
		return key, nil
	}
	if time.Since(c.lastFetch) < keyRefetchInterval && c.lastFetch != (time.Time{}) {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	if err := c.fetch(); err != nil {
		return nil, err
	}
	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

// fetch replaces the cached key set. Caller holds the mutex.
func (c *keyCache) fetch() error {
	c.lastFetch = time.Now()
	res, err := c.client.Get(c.url)
	if err != nil {
		return fmt.Errorf("cannot fetch key set: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("cannot fetch key set: status %d", res.StatusCode)
	}

	var jwks struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(res.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("cannot decode key set: %w", err)
	}

	keys := map[string]*rsa.PublicKey{}
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		key, err := rsaKeyFromModulusExponent(k.N, k.E)
		if err != nil {
			logger.Default().Warnf("skipping key %s from %s: %v", k.Kid, c.url, err)
			continue
		}
		keys[k.Kid] = key
	}
	c.keys = keys
	return nil
}

func rsaKeyFromModulusExponent(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	exponent := 0
	for _, b := range eBytes {
		exponent = exponent<<8 | int(b)
	}
	if exponent == 0 {
		return nil, fmt.Errorf("invalid exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: exponent,
	}, nil
}
