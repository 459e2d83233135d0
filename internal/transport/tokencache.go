package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// cachedToken is what TokenCache stores, adapted from the teacher's
// internal/common/cache.go Set/Get-with-JSON-marshal shape.
type cachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c cachedToken) valid() bool {
	return c.Token != "" && time.Now().Before(c.ExpiresAt)
}

// TokenCache stores bearer tokens keyed by (host, scope, credential
// fingerprint), per spec.md §9's "implementations MAY cache the bearer
// token" guidance. Both implementations below satisfy the same interface
// so callers never need to know which backend is active.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, token string, ttl time.Duration)
}

// tokenCacheKey fingerprints the credentials rather than storing them, so a
// cache dump never leaks a password.
func tokenCacheKey(host, scope string, creds Credentials) string {
	h := sha256.New()
	h.Write([]byte(host))
	h.Write([]byte{0})
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write([]byte(creds.Username))
	h.Write([]byte{0})
	h.Write([]byte(creds.Password))
	return "pyoci:token:" + hex.EncodeToString(h.Sum(nil))
}

// defaultTokenTTL is used when the token endpoint response carries no
// expires_in field.
const defaultTokenTTL = 55 * time.Second

// memoryTokenCache is the fallback used when no Redis address is
// configured: an in-process map guarded by a mutex.
type memoryTokenCache struct {
	mu      sync.Mutex
	entries map[string]cachedToken
}

func newMemoryTokenCache() *memoryTokenCache {
	return &memoryTokenCache{entries: make(map[string]cachedToken)}
}

func (c *memoryTokenCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || !entry.valid() {
		return "", false
	}
	return entry.Token, true
}

func (c *memoryTokenCache) Set(_ context.Context, key, token string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedToken{Token: token, ExpiresAt: time.Now().Add(ttl)}
}

// redisTokenCache backs the cache with github.com/redis/go-redis/v9, mirroring
// the teacher's internal/common.Cache Set/Get-with-JSON-marshal shape.
type redisTokenCache struct {
	client *redis.Client
}

func newRedisTokenCache(client *redis.Client) *redisTokenCache {
	return &redisTokenCache{client: client}
}

func (c *redisTokenCache) Get(ctx context.Context, key string) (string, bool) {
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	var entry cachedToken
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		return "", false
	}
	if !entry.valid() {
		return "", false
	}
	return entry.Token, true
}

func (c *redisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) {
	entry := cachedToken{Token: token, ExpiresAt: time.Now().Add(ttl)}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, key, data, ttl).Err()
}
