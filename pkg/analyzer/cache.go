package analyzer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/redis/go-redis/v9"

	"github.com/clawsec-labs/clawsec/pkg/config"
	"github.com/clawsec-labs/clawsec/pkg/contracts"
)

// NewCacheFromConfig materializes the configured cache backend: nil when
// disabled, Redis when an address is set, in-process otherwise.
func NewCacheFromConfig(cfg config.CacheConfig) Cache {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		return NewRedisCache(client)
	}
	return NewMemoryCache()
}

// Cache short-circuits repeated identical analyses. Implementations must
// treat every failure as a miss: caching is never a correctness concern.
type Cache interface {
	Get(ctx context.Context, key string) (*contracts.AnalysisResult, bool)
	Set(ctx context.Context, key string, result contracts.AnalysisResult, ttl time.Duration)
}

// Fingerprint derives the cache key for one tool call: the tool name plus
// a SHA-256 of the JCS-canonicalized input. Returns "" when the input
// cannot be canonicalized, which disables caching for that call.
func Fingerprint(tcc *contracts.ToolCallContext) string {
	raw, err := json.Marshal(tcc.ToolInput)
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return tcc.ToolName + ":" + hex.EncodeToString(sum[:])
}

// memoryEntry pairs a cached result with its deadline.
type memoryEntry struct {
	result    contracts.AnalysisResult
	expiresAt time.Time
}

// MemoryCache is the in-process TTL cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

// NewMemoryCache builds an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		clock:   time.Now,
	}
}

// WithClock replaces the time source. Test hook.
func (c *MemoryCache) WithClock(clock func() time.Time) *MemoryCache {
	c.clock = clock
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) (*contracts.AnalysisResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.clock().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	cp := e.result
	return &cp, true
}

func (c *MemoryCache) Set(_ context.Context, key string, result contracts.AnalysisResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{result: result, expiresAt: c.clock().Add(ttl)}
}

// Size returns the number of live plus expired-but-unswept entries.
func (c *MemoryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache shares analysis results across engine instances. JSON values
// under a key prefix, expiry delegated to Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache wraps an existing client. The caller owns the client's
// lifecycle.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "clawsec:analysis:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*contracts.AnalysisResult, bool) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var result contracts.AnalysisResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, false
	}
	return &result, true
}

func (c *RedisCache) Set(ctx context.Context, key string, result contracts.AnalysisResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	// Best effort; a write failure is the next call's cache miss.
	c.client.Set(ctx, c.prefix+key, raw, ttl)
}
