// Package cachesvc caches branch descendant closures in Redis so scope
// resolution does not walk the hierarchy on every request. Every failure
// degrades to a cache miss.
package cachesvc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/branch"
)

const keyPrefix = "branch:descendants:"

type scopeCache struct {
	client *redis.Client
	ttl    time.Duration
	logger core.Logger
}

var _ branch.ClosureCache = (*scopeCache)(nil)

func NewClient(conf *core.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
	})
}

func NewScopeCache(client *redis.Client, conf *core.Config, logger core.Logger) branch.ClosureCache {
	return &scopeCache{
		client: client,
		ttl:    conf.Redis.ScopeCacheTTL,
		logger: logger,
	}
}

func key(branchID int) string {
	return fmt.Sprintf("%s%d", keyPrefix, branchID)
}

func (c *scopeCache) GetDescendants(ctx context.Context, branchID int) ([]int, bool) {
	val, err := c.client.Get(ctx, key(branchID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("scope cache read failed", err)
		}
		return nil, false
	}
	var ids []int
	if err = json.Unmarshal(val, &ids); err != nil {
		c.logger.Warn("scope cache entry is corrupt; dropping it", err)
		c.Invalidate(ctx, branchID)
		return nil, false
	}
	return ids, true
}

func (c *scopeCache) SetDescendants(ctx context.Context, branchID int, ids []int) {
	val, err := json.Marshal(ids)
	if err != nil {
		c.logger.Warn("encoding scope cache entry failed", err)
		return
	}
	if err = c.client.Set(ctx, key(branchID), val, c.ttl).Err(); err != nil {
		c.logger.Warn("scope cache write failed", err)
	}
}

func (c *scopeCache) Invalidate(ctx context.Context, branchID int) {
	if err := c.client.Del(ctx, key(branchID)).Err(); err != nil {
		c.logger.Warn("scope cache invalidation failed", err)
	}
}
