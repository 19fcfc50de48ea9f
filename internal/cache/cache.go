package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnmchuo/ai-orchestrator/internal/provider"
)

const DefaultTTL = time.Hour

// defaultIdempotent lists capabilities whose results are safe to replay.
// Chat is excluded: sampled generations are not idempotent.
var defaultIdempotent = map[provider.Capability]bool{
	provider.CapabilityTranslation:  true,
	provider.CapabilitySpeechToText: true,
}

// Fingerprint hashes the semantically relevant request fields. Payload
// whitespace is collapsed so formatting differences share an entry.
func Fingerprint(req *provider.Request) string {
	normalized := strings.Join(strings.Fields(req.Payload), " ")

	flags := make([]string, len(req.CulturalFlags))
	copy(flags, req.CulturalFlags)
	sort.Strings(flags)

	h := sha256.New()
	h.Write([]byte(string(req.Capability)))
	h.Write([]byte{0})
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(req.Model))
	h.Write([]byte{0})
	h.Write([]byte(req.LanguageHint))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(flags, ",")))
	return hex.EncodeToString(h.Sum(nil))
}

// Cache holds at most one response per fingerprint, evicted by TTL only.
// A nil redis client disables it; cache errors degrade to misses.
type Cache struct {
	rdb        *redis.Client
	ttl        time.Duration
	idempotent map[provider.Capability]bool
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithIdempotentCapabilities replaces the set of cacheable capabilities.
func WithIdempotentCapabilities(caps []provider.Capability) Option {
	return func(c *Cache) {
		c.idempotent = make(map[provider.Capability]bool, len(caps))
		for _, cap := range caps {
			c.idempotent[cap] = true
		}
	}
}

func New(rdb *redis.Client, opts ...Option) *Cache {
	c := &Cache{
		rdb:        rdb,
		ttl:        DefaultTTL,
		idempotent: defaultIdempotent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Cacheable reports whether a request is eligible for the cache:
// low/normal priority and an idempotent capability.
func (c *Cache) Cacheable(req *provider.Request) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	switch req.Priority {
	case provider.PriorityLow, provider.PriorityNormal, "":
	default:
		return false
	}
	return c.idempotent[req.Capability]
}

func key(fingerprint string) string {
	return fmt.Sprintf("response:%s", fingerprint)
}

func (c *Cache) Get(ctx context.Context, fingerprint string) (*provider.Response, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}

	var resp provider.Response
	if err := c.rdb.Get(ctx, key(fingerprint)).Scan(&resp); err != nil {
		return nil, false
	}
	resp.Cached = true
	return &resp, true
}

func (c *Cache) Set(ctx context.Context, fingerprint string, resp *provider.Response) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Set(ctx, key(fingerprint), resp, c.ttl).Err()
}

func (c *Cache) Invalidate(ctx context.Context, fingerprint string) {
	if c == nil || c.rdb == nil {
		return
	}
	_ = c.rdb.Del(ctx, key(fingerprint)).Err()
}
