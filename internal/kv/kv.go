// Package kv 定义会话存储接口，支持 TTL 与前缀枚举。
// 生产环境使用 Redis，测试和单机部署使用带过期的内存 map。
package kv

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("kv: key not found")

type Store interface {
	// SetWithTTL stores value under key, replacing any previous value and TTL.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns ErrNotFound for absent or expired keys.
	Get(ctx context.Context, key string) (string, error)
	// Delete removes keys and reports how many existed. Exactly one concurrent
	// caller observes a given key as deleted.
	Delete(ctx context.Context, keys ...string) (int64, error)
	// Incr atomically increments an integer value, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// KeysByPrefix lists live keys starting with prefix in ascending order.
	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)
}
