package store

import (
	"context"
	"sync"
	"time"
)

// MemoryKV 进程内 KV（单实例部署 / 测试），支持过期
type MemoryKV struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

type memoryItem struct {
	value     string
	expiresAt time.Time // 零值表示不过期
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{items: map[string]memoryItem{}, now: time.Now}
}

// getLocked 读取未过期的值，过期的顺便清掉
func (m *MemoryKV) getLocked(key string) (string, bool) {
	it, ok := m.items[key]
	if !ok {
		return "", false
	}
	if !it.expiresAt.IsZero() && !m.now().Before(it.expiresAt) {
		delete(m.items, key)
		return "", false
	}
	return it.value, true
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.getLocked(key)
	if !ok {
		return "", ErrMiss
	}
	return v, nil
}

func (m *MemoryKV) SetNX(_ context.Context, key string, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.getLocked(key); ok {
		return false, nil
	}
	it := memoryItem{value: value}
	if ttl > 0 {
		it.expiresAt = m.now().Add(ttl)
	}
	m.items[key] = it
	return true, nil
}

func (m *MemoryKV) DelIfEqual(_ context.Context, key string, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.getLocked(key)
	if !ok || v != value {
		return false, nil
	}
	delete(m.items, key)
	return true, nil
}
