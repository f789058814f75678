package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedPosition 最近一次被接受的位置
type CachedPosition struct {
	X          float64
	Y          float64
	AcceptedAt time.Time
}

// PositionCache 进程内位置缓存接口
//
// 缓存不是事实来源（存储才是），只用于减少存储读取。
type PositionCache interface {
	Get(subjectID string) (CachedPosition, bool)
	Set(subjectID string, pos CachedPosition)
	Invalidate(subjectID string)
	Len() int
}

// LRUPositionCache 有界 LRU + TTL 实现
type LRUPositionCache struct {
	lru *expirable.LRU[string, CachedPosition]
}

// NewLRUPositionCache 创建位置缓存，容量满时淘汰最久未使用的条目，条目在 ttl 后过期
func NewLRUPositionCache(capacity int, ttl time.Duration) *LRUPositionCache {
	return &LRUPositionCache{
		lru: expirable.NewLRU[string, CachedPosition](capacity, nil, ttl),
	}
}

// Get 读取缓存
func (c *LRUPositionCache) Get(subjectID string) (CachedPosition, bool) {
	return c.lru.Get(subjectID)
}

// Set 写入缓存
func (c *LRUPositionCache) Set(subjectID string, pos CachedPosition) {
	c.lru.Add(subjectID, pos)
}

// Invalidate 删除缓存条目
func (c *LRUPositionCache) Invalidate(subjectID string) {
	c.lru.Remove(subjectID)
}

// Len 当前条目数（包含尚未被清理的过期条目）
func (c *LRUPositionCache) Len() int {
	return c.lru.Len()
}
