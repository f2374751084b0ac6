package balances

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/money"
)

const (
	versionKeyPrefix = "gl:balances:version"
	bumpChannel      = "gl.bump"
)

// Cache lookup results reported to a CacheRecorder.
const (
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheBypass = "bypass"
)

// CacheRecorder counts cache lookups per read kind ("account" or "trial").
type CacheRecorder interface {
	ObserveBalanceCache(kind, result string)
}

// Source is the uncached balance reader.
type Source interface {
	AccountBalance(ctx context.Context, q Query, accountID string) (money.Decimal, error)
	TrialBalance(ctx context.Context, q Query) ([]Row, error)
}

// CachedReader serves balance reads from Redis, keyed by a per-tenant version
// that every ledger mutation increments. Concurrent misses for the same key
// share one load. A tenant whose version bump failed is read from source until
// a later bump succeeds.
type CachedReader struct {
	source   Source
	client   *redis.Client
	ttl      time.Duration
	logger   *slog.Logger
	recorder CacheRecorder
	group    singleflight.Group

	mu    sync.Mutex
	stale map[string]struct{}
}

// NewCachedReader wraps source. A nil client disables caching.
func NewCachedReader(source Source, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedReader{source: source, client: client, ttl: ttl, logger: logger, stale: map[string]struct{}{}}
}

// WithRecorder reports hits and misses to r.
func (c *CachedReader) WithRecorder(r CacheRecorder) *CachedReader {
	c.recorder = r
	return c
}

// AccountBalance returns the cached balance or loads it from source.
func (c *CachedReader) AccountBalance(ctx context.Context, q Query, accountID string) (money.Decimal, error) {
	var out money.Decimal
	err := c.fetch(ctx, q, "account", accountID, &out, func(ctx context.Context) (any, error) {
		return c.source.AccountBalance(ctx, q, accountID)
	})
	return out, err
}

// TrialBalance returns the cached trial balance or loads it from source.
func (c *CachedReader) TrialBalance(ctx context.Context, q Query) ([]Row, error) {
	var out []Row
	err := c.fetch(ctx, q, "trial", "", &out, func(ctx context.Context) (any, error) {
		return c.source.TrialBalance(ctx, q)
	})
	return out, err
}

// Invalidate bumps the tenant version so every cached read becomes stale.
// When the bump fails the tenant bypasses the cache until one succeeds.
func (c *CachedReader) Invalidate(ctx context.Context, tenantID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(tenantID)).Result()
	if err != nil {
		c.setStale(tenantID, true)
		return fmt.Errorf("balances: bump version: %w", err)
	}
	c.setStale(tenantID, false)
	return c.client.Publish(ctx, bumpChannel, tenantID+":"+strconv.FormatInt(ver, 10)).Err()
}

// Stale reports whether tenantID is waiting for a version bump to succeed.
func (c *CachedReader) Stale(tenantID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.stale[tenantID]
	return ok
}

func (c *CachedReader) setStale(tenantID string, stale bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stale {
		c.stale[tenantID] = struct{}{}
		return
	}
	delete(c.stale, tenantID)
}

// Version returns the tenant's current cache version, 0 before any mutation.
func (c *CachedReader) Version(ctx context.Context, tenantID string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(tenantID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

func (c *CachedReader) fetch(ctx context.Context, q Query, kind, subject string, dest any, load func(context.Context) (any, error)) error {
	if c.client == nil {
		c.observe(kind, CacheBypass)
		return decodeInto(ctx, dest, load)
	}
	if c.Stale(q.TenantID) {
		if err := c.Invalidate(ctx, q.TenantID); err != nil && c.Stale(q.TenantID) {
			c.logger.Warn("balance cache still stale", slog.String("tenant", q.TenantID), slog.Any("error", err))
			c.observe(kind, CacheBypass)
			return decodeInto(ctx, dest, load)
		}
	}
	ver, err := c.Version(ctx, q.TenantID)
	if err != nil {
		c.logger.Warn("balance cache version unavailable", slog.Any("error", err))
		c.observe(kind, CacheBypass)
		return decodeInto(ctx, dest, load)
	}
	name := kind
	if subject != "" {
		name += ":" + subject
	}
	key := cacheKey(q, name, ver)
	if payload, err := c.client.Get(ctx, key).Bytes(); err == nil {
		c.observe(kind, CacheHit)
		return json.Unmarshal(payload, dest)
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("balance cache read failed", slog.String("key", key), slog.Any("error", err))
	}
	c.observe(kind, CacheMiss)
	raw, err, _ := c.group.Do(key, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.Warn("balance cache write failed", slog.String("key", key), slog.Any("error", err))
		}
		return payload, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}

func (c *CachedReader) observe(kind, result string) {
	if c.recorder != nil {
		c.recorder.ObserveBalanceCache(kind, result)
	}
}

func decodeInto(ctx context.Context, dest any, load func(context.Context) (any, error)) error {
	value, err := load(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, dest)
}

func versionKey(tenantID string) string {
	return versionKeyPrefix + ":" + tenantID
}

func cacheKey(q Query, kind string, ver int64) string {
	start, end := q.bounds()
	return strings.Join([]string{
		"gl", "balances", q.TenantID, kind,
		start.Format(time.DateOnly), end.Format(time.DateOnly),
		strconv.FormatBool(q.PostedOnly),
		"v" + strconv.FormatInt(ver, 10),
	}, ":")
}
