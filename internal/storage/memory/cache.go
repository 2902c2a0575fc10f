package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/devil3515/resume-parser/internal/constants"
)

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// Cache 进程内 JSON 缓存，同时实现 webhook 事件去重
type Cache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	defaultTTL time.Duration
	now        func() time.Time
}

// NewCache defaultTTL 为 0 时使用解析结果的默认缓存时间
func NewCache(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = constants.DefaultResultCacheTTL
	}
	return &Cache{
		entries:    make(map[string]cacheEntry),
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
}

// getLocked 调用方需持有锁，过期条目顺带删除
func (c *Cache) getLocked(key string) ([]byte, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) setLocked(key string, value []byte, ttl time.Duration) {
	e := cacheEntry{value: value}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
}

// GetJSON 读取 JSON 值到 dst，键不存在时返回 false
func (c *Cache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	data, ok := c.getLocked(key)
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("解析缓存值失败 %s: %w", key, err)
	}
	return true, nil
}

// SetJSON ttl 为 0 时使用默认时间
func (c *Cache) SetJSON(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化缓存值失败: %w", err)
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(key, data, ttl)
	return nil
}

// MarkEventProcessed 首次标记返回 true
func (c *Cache) MarkEventProcessed(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf(constants.KeyWebhookEvent, eventID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.getLocked(key); ok {
		return false, nil
	}
	c.setLocked(key, []byte("1"), ttl)
	return true, nil
}

// UnmarkEvent 删除事件标记
func (c *Cache) UnmarkEvent(_ context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, fmt.Sprintf(constants.KeyWebhookEvent, eventID))
	return nil
}

// ObjectStore 进程内对象存储
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewObjectStore 创建空存储
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string][]byte)}
}

// PutResume 保存对象副本
func (s *ObjectStore) PutResume(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

// GetObject 读取对象
func (s *ObjectStore) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("对象不存在: %s", key)
	}
	return append([]byte(nil), data...), nil
}

// Len 已保存的对象数量
func (s *ObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
