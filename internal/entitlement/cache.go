package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	userVersionKeyPrefix    = "entitlement:ver:"
	contextVersionKeyPrefix = "entitlement:ctxver:"
	entryKeyPrefix          = "entitlement:set:"
)

// CacheMetrics receives cache outcome signals. Implementations must be
// safe for concurrent use.
type CacheMetrics interface {
	CacheHit()
	CacheMiss()
}

// Cache memoizes resolved entitlement sets per (user, context) in Redis.
// Entry keys carry the catalog version, a per-user version stamp and a
// per-(user, context) version stamp; an entry is served only while every
// stamp is current and the TTL has not elapsed. Invalidation bumps a
// stamp rather than deleting, so a computation started before the bump
// lands under a key no subsequent Get reads. Cold keys are computed once
// via singleflight regardless of how many callers arrive concurrently.
type Cache struct {
	client   *redis.Client
	computer *Computer
	ttl      time.Duration
	group    singleflight.Group
	metrics  CacheMetrics
}

// NewCache constructs the cache. A nil metrics sink disables counters.
func NewCache(client *redis.Client, computer *Computer, ttl time.Duration, metrics CacheMetrics) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, computer: computer, ttl: ttl, metrics: metrics}
}

// Get returns the resolved set for (userID, target), computing and
// storing it when absent, expired or version-stale.
func (c *Cache) Get(ctx context.Context, userID int64, target Context) (ResolvedSet, error) {
	if err := target.Validate(); err != nil {
		return ResolvedSet{}, err
	}
	userVersion, err := c.userVersion(ctx, userID)
	if err != nil {
		return ResolvedSet{}, err
	}
	contextVersion, err := c.contextVersion(ctx, userID, target)
	if err != nil {
		return ResolvedSet{}, err
	}
	key := c.entryKey(userID, userVersion, contextVersion, target)

	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached ResolvedSet
		if unmarshalErr := json.Unmarshal(payload, &cached); unmarshalErr == nil {
			if cached.CatalogVersion == c.computer.catalog.Version() {
				c.hit()
				return cached, nil
			}
			// Catalog moved on since the entry was written; recompute.
		}
	} else if !errors.Is(err, redis.Nil) {
		return ResolvedSet{}, fmt.Errorf("entitlement: cache read: %w", err)
	}
	c.miss()

	result, err, _ := c.computeOnce(ctx, key, userID, target)
	if err != nil {
		return ResolvedSet{}, err
	}
	return result, nil
}

// InvalidateUser drops every cached entry for the user by bumping the
// per-user version; superseded entries age out through the TTL.
func (c *Cache) InvalidateUser(ctx context.Context, userID int64) error {
	if err := c.client.Incr(ctx, c.versionKey(userID)).Err(); err != nil {
		return fmt.Errorf("entitlement: invalidate user: %w", err)
	}
	return nil
}

// InvalidateUserContext drops only the entry for one context by bumping
// its version stamp. A computation still in flight writes under the old
// stamp, so it can never be served after this call returns.
func (c *Cache) InvalidateUserContext(ctx context.Context, userID int64, target Context) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if err := c.client.Incr(ctx, c.contextVersionKey(userID, target)).Err(); err != nil {
		return fmt.Errorf("entitlement: invalidate context: %w", err)
	}
	return nil
}

// TTL exposes the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// computeOnce collapses concurrent misses for the same key into a single
// computation. Waiters respect caller cancellation without cancelling
// the in-flight computation for other callers.
func (c *Cache) computeOnce(ctx context.Context, key string, userID int64, target Context) (ResolvedSet, error, bool) {
	resultChan := c.group.DoChan(key, func() (interface{}, error) {
		resolved, err := c.computer.Compute(context.WithoutCancel(ctx), userID, target)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(resolved)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(context.WithoutCancel(ctx), key, payload, c.ttl).Err(); err != nil {
			return nil, fmt.Errorf("entitlement: cache write: %w", err)
		}
		return resolved, nil
	})
	select {
	case <-ctx.Done():
		return ResolvedSet{}, ctx.Err(), false
	case res := <-resultChan:
		if res.Err != nil {
			return ResolvedSet{}, res.Err, res.Shared
		}
		return res.Val.(ResolvedSet), nil, res.Shared
	}
}

// userVersion reads the per-user stamp, initialising it on first use.
func (c *Cache) userVersion(ctx context.Context, userID int64) (int64, error) {
	key := c.versionKey(userID)
	version, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, fmt.Errorf("entitlement: init user version: %w", err)
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, fmt.Errorf("entitlement: user version: %w", err)
	}
	return version, nil
}

// contextVersion reads the per-(user, context) stamp. A missing key
// counts as version zero; the first invalidation moves it to one.
func (c *Cache) contextVersion(ctx context.Context, userID int64, target Context) (int64, error) {
	version, err := c.client.Get(ctx, c.contextVersionKey(userID, target)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("entitlement: context version: %w", err)
	}
	return version, nil
}

func (c *Cache) versionKey(userID int64) string {
	return userVersionKeyPrefix + strconv.FormatInt(userID, 10)
}

func (c *Cache) contextVersionKey(userID int64, target Context) string {
	return fmt.Sprintf("%s%d:%s", contextVersionKeyPrefix, userID, target.Key())
}

func (c *Cache) entryKey(userID, userVersion, contextVersion int64, target Context) string {
	return fmt.Sprintf("%s%d:%d:%d:%s", entryKeyPrefix, userID, userVersion, contextVersion, target.Key())
}

func (c *Cache) hit() {
	if c.metrics != nil {
		c.metrics.CacheHit()
	}
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMiss()
	}
}
