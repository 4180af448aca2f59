package ratelimiter

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// luaTokenBucket atomically refills and attempts to consume tokens for a key,
// returning {allowed(0/1), tokens_remaining, wait_seconds}, the last two as
// strings so fractional values survive the Redis reply. Run server-side
// so concurrent pods sharing one Redis never race on the refill.
const luaTokenBucket = `
local key = KEYS[1]
local burst = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local n = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_refill')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then
	tokens = burst
	last = now
end

local elapsed = math.max(0, now - last)
tokens = math.min(burst, tokens + elapsed * rate)

local allowed = 0
local wait = 0
if tokens >= n then
	tokens = tokens - n
	allowed = 1
else
	wait = (n - tokens) / rate
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', key, 3600)

return {allowed, tostring(tokens), tostring(wait)}
`

// Shared is a fleet-wide token-bucket backed by Redis, resolving the spec
// section 9 "rate limiter scope" open question for operators who need more
// than an advisory per-pod limit. It implements the same Check contract as
// PerTenant so the publisher can use either interchangeably.
type Shared struct {
	client    redis.UniversalClient
	keyPrefix string
	def       TenantLimit
	mu        sync.RWMutex
	limits    map[string]TenantLimit
	now       func() time.Time
}

// NewShared wraps an existing Redis client (or a miniredis-backed one in
// tests).
func NewShared(client redis.UniversalClient, keyPrefix string, def TenantLimit) *Shared {
	if def == (TenantLimit{}) {
		def = DefaultTenantLimit
	}
	if keyPrefix == "" {
		keyPrefix = "ratelimit:tenant:"
	}
	return &Shared{client: client, keyPrefix: keyPrefix, def: def, limits: map[string]TenantLimit{}, now: time.Now}
}

func (s *Shared) SetTenantLimit(tenantID string, limit TenantLimit) error {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return ErrEmptyTenant
	}
	if err := limit.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.limits[tenantID] = limit
	s.mu.Unlock()
	return nil
}

func (s *Shared) GetTenantLimit(tenantID string) TenantLimit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if l, ok := s.limits[tenantID]; ok {
		return l
	}
	return s.def
}

// Check mirrors PerTenant.Check but coordinates across processes via Redis.
func (s *Shared) Check(ctx context.Context, tenantID string, numEvents int) (bool, float64, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return false, 0, ErrEmptyTenant
	}
	if numEvents < 1 {
		numEvents = 1
	}
	limit := s.GetTenantLimit(tenantID)

	res, err := s.client.Eval(ctx, luaTokenBucket, []string{s.keyPrefix + tenantID},
		limit.BurstSize, limit.EventsPerSecond, numEvents, float64(s.now().UnixNano())/1e9).Result()
	if err != nil {
		return false, 0, err
	}

	vals, ok := res.([]any)
	if !ok || len(vals) != 3 {
		return false, 0, errBadLuaResult
	}
	allowed := vals[0].(int64) == 1
	wait, _ := strconv.ParseFloat(vals[2].(string), 64)
	return allowed, wait, nil
}

// Reset clears a tenant's bucket key.
func (s *Shared) Reset(ctx context.Context, tenantID string) error {
	return s.client.Del(ctx, s.keyPrefix+tenantID).Err()
}

var errBadLuaResult = redisScriptError("ratelimiter: unexpected lua script result shape")

type redisScriptError string

func (e redisScriptError) Error() string { return string(e) }
