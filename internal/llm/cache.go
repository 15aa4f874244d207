package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const clientCacheSize = 16

// clientCache amortizes per-turn client construction. Clients are immutable
// after construction, so sharing them across turns is safe.
type clientCache struct {
	inner *lru.Cache[string, Client]
}

func newClientCache() *clientCache {
	inner, err := lru.New[string, Client](clientCacheSize)
	if err != nil {
		panic(err) // only fails on non-positive size
	}
	return &clientCache{inner: inner}
}

// cacheKey builds an order-independent fingerprint of the client
// configuration. The API key is hashed so cache internals never hold it in
// recoverable form beyond the client itself.
func cacheKey(model string, temperature float64, apiKey string, reasoning map[string]any) string {
	sum := sha256.Sum256([]byte(apiKey))
	parts := []string{
		strings.TrimSpace(model),
		fmt.Sprintf("%g", temperature),
		hex.EncodeToString(sum[:8]),
		ReasoningFingerprint(reasoning),
	}
	return strings.Join(parts, "\x00")
}

func (c *clientCache) get(key string) (Client, bool) {
	return c.inner.Get(key)
}

func (c *clientCache) add(key string, client Client) {
	c.inner.Add(key, client)
}
