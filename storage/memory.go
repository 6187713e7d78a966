package storage

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemorySize bounds the in-memory cache when no size is configured.
const DefaultMemorySize = 256

// Memory is a bounded in-memory cache. Entries are evicted least recently
// used first.
type Memory struct {
	cache *lru.Cache[string, []byte]
}

// NewMemory returns an in-memory cache holding up to size entries.
func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Memory{cache: cache}, nil
}

func (m *Memory) Get(key string) ([]byte, bool) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (m *Memory) Set(key string, value []byte) error {
	m.cache.Add(key, append([]byte(nil), value...))
	return nil
}

func (m *Memory) Clear() error {
	m.cache.Purge()
	return nil
}

// Close satisfies Store. Nothing to release for an in-memory cache.
func (m *Memory) Close() error { return nil }
