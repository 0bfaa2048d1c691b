package cache

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/utrading/utrading-live-engine/internal/monitor"
	"github.com/utrading/utrading-live-engine/pkg/logger"
)

const cacheType = "recency"

// RecencyCache 进程内最近指纹缓存，使用 go-cache 实现 TTL 自动过期
// 超过 maxItems 时先清理过期项，仍超限则整体清空
type RecencyCache struct {
	cache    *cache.Cache
	ttl      time.Duration
	maxItems int
}

// NewRecencyCache 创建指纹缓存，清理间隔自动设为 2×TTL
func NewRecencyCache(ttl time.Duration, maxItems int) *RecencyCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if maxItems <= 0 {
		maxItems = 100000
	}
	return &RecencyCache{
		cache:    cache.New(ttl, ttl*2),
		ttl:      ttl,
		maxItems: maxItems,
	}
}

// Seen 检查指纹是否最近出现过
func (c *RecencyCache) Seen(fingerprint string) bool {
	_, ok := c.cache.Get(fingerprint)
	if ok {
		monitor.IncCacheHit(cacheType)
	} else {
		monitor.IncCacheMiss(cacheType)
	}
	return ok
}

// Mark 记录指纹
func (c *RecencyCache) Mark(fingerprint string) {
	if c.cache.ItemCount() >= c.maxItems {
		c.cache.DeleteExpired()
		if c.cache.ItemCount() >= c.maxItems {
			logger.Warn().Int("max_items", c.maxItems).Msg("recency cache full, flushing")
			c.cache.Flush()
		}
	}
	c.cache.Set(fingerprint, time.Now(), cache.DefaultExpiration)
}

// Len 当前条目数（含未清理的过期项）
func (c *RecencyCache) Len() int {
	return c.cache.ItemCount()
}

// Stats 获取统计信息
func (c *RecencyCache) Stats() map[string]any {
	return map[string]any{
		"item_count":  c.cache.ItemCount(),
		"max_items":   c.maxItems,
		"ttl_minutes": c.ttl.Minutes(),
	}
}
