package cache

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-content/types"
	"github.com/saiset-co/sai-content/utils"
)

// DefaultTTL applies when neither the policy nor the global cache timeout yields a positive interval.
const DefaultTTL = 1 * time.Hour

type TTLResolver interface {
	GetContentConfig(key string) types.ContentPolicy
	GetGlobalConfig() types.GlobalPolicy
}

// MemoryStore keeps content entries in process. Expiry is lazy: an entry is
// only evicted by the read that finds it expired.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]*types.ContentEntry
	policies TTLResolver
	clock    types.Clock
	logger   types.Logger
}

func NewMemoryStore(logger types.Logger, policies TTLResolver, clock types.Clock) *MemoryStore {
	if clock == nil {
		clock = utils.NewSystemClock()
	}

	return &MemoryStore{
		data:     make(map[string]*types.ContentEntry),
		policies: policies,
		clock:    clock,
		logger:   logger,
	}
}

func (m *MemoryStore) Get(key string) (interface{}, bool) {
	now := m.clock.Now()

	m.mu.RLock()
	entry, exists := m.data[key]
	if !exists {
		m.mu.RUnlock()
		return nil, false
	}

	if !now.Before(entry.ExpiresAt) {
		m.mu.RUnlock()
		m.mu.Lock()
		if entry, exists := m.data[key]; exists && !now.Before(entry.ExpiresAt) {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return nil, false
	}

	value := entry.Value
	m.mu.RUnlock()

	return value, true
}

// Peek returns the entry even when it is logically expired and never evicts.
func (m *MemoryStore) Peek(key string) (types.ContentEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.data[key]
	if !exists {
		return types.ContentEntry{}, false
	}
	return *entry, true
}

func (m *MemoryStore) Set(key string, value interface{}) {
	if key == "" {
		m.logger.Warn("Attempted to set cache entry with empty key")
		return
	}

	now := m.clock.Now()
	ttl := m.ttl(key)

	entry := &types.ContentEntry{
		Key:       key,
		Value:     value,
		FetchedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	m.mu.Lock()
	m.data[key] = entry
	m.mu.Unlock()

	m.logger.Debug("Content cached", zap.String("key", key), zap.Duration("ttl", ttl))
}

// Restore puts an entry back with its original timestamps.
func (m *MemoryStore) Restore(entry types.ContentEntry) {
	if entry.Key == "" {
		return
	}

	m.mu.Lock()
	m.data[entry.Key] = &entry
	m.mu.Unlock()
}

func (m *MemoryStore) ttl(key string) time.Duration {
	if m.policies == nil {
		return DefaultTTL
	}

	if ttl := m.policies.GetContentConfig(key).TTL(); ttl > 0 {
		return ttl
	}

	if timeout := m.policies.GetGlobalConfig().CacheTimeout; timeout > 0 {
		return timeout
	}

	return DefaultTTL
}

func (m *MemoryStore) Clear(keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(keys) == 0 {
		m.data = make(map[string]*types.ContentEntry)
		return
	}

	for _, key := range keys {
		delete(m.data, key)
	}
}

func (m *MemoryStore) Stats() types.CacheStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := types.CacheStats{
		Size: len(m.data),
		Keys: make([]string, 0, len(m.data)),
	}

	for key, entry := range m.data {
		stats.Keys = append(stats.Keys, key)

		encoded, err := utils.Marshal(entry.Value)
		if err != nil {
			m.logger.Debug("Failed to size cache entry", zap.String("key", key), zap.Error(err))
			continue
		}
		stats.ApproximateByteSize += len(encoded)
	}

	sort.Strings(stats.Keys)
	return stats
}
