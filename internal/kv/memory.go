package kv

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory 是进程内的 Store，过期数据在访问时惰性删除，并由定期清理兜底。
type Memory struct {
	mu   sync.Mutex
	m    map[string]entry
	now  func() time.Time
	stop chan struct{}
}

type MemoryOption func(*Memory)

// WithClock 替换 time.Now，便于测试跨过 TTL。
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{m: make(map[string]entry), now: time.Now, stop: make(chan struct{})}
	for _, o := range opts {
		o(m)
	}
	return m
}

// StartJanitor 每隔 interval 清理过期 key，直到 Close。
func (m *Memory) StartJanitor(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Memory) Close() {
	select {
	case <-m.stop:
	default:
		close(m.stop)
	}
}

func (m *Memory) sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.m {
		if e.expired(now) {
			delete(m.m, k)
		}
	}
}

// live returns the entry for key, deleting it if expired. Caller holds mu.
func (m *Memory) live(key string) (entry, bool) {
	e, ok := m.m[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(m.now()) {
		delete(m.m, key)
		return entry{}, false
	}
	return e, true
}

func (m *Memory) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.m[key] = e
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.live(k); ok {
			delete(m.m, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.live(key)
	var cur int64
	if e.value != "" {
		v, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("kv: incr %s: value is not an integer", key)
		}
		cur = v
	}
	cur++
	e.value = strconv.FormatInt(cur, 10)
	m.m[key] = e
	return cur, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return nil
	}
	e.expiresAt = m.now().Add(ttl)
	m.m[key] = e
	return nil
}

func (m *Memory) KeysByPrefix(_ context.Context, prefix string) ([]string, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k, e := range m.m {
		if e.expired(now) {
			delete(m.m, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
