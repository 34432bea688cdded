package cache

import (
	"context"
	"time"
)

// Store 缓存的存储
// 每张表有一个版本号，写操作之后加一，旧的缓存自然失效
type Store interface {
	// Get 第二个返回值表示有没有命中
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Version 不存在的表返回 0
	Version(ctx context.Context, table string) (int64, error)
	Incr(ctx context.Context, table string) error
}
