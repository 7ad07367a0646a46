package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is the single-process Counter backend.
type MemoryCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	touched map[string]time.Time
}

var _ Counter = (*MemoryCounter)(nil)

// NewMemoryCounter creates an in-memory counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{
		counts:  make(map[string]int64),
		touched: make(map[string]time.Time),
	}
}

func (m *MemoryCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl > 0 {
		if at, ok := m.touched[key]; ok && time.Since(at) > ttl {
			m.counts[key] = 0
		}
	}
	m.counts[key]++
	m.touched[key] = time.Now()
	return m.counts[key], nil
}

func (m *MemoryCounter) Decr(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[key] > 0 {
		m.counts[key]--
	}
	return nil
}

func (m *MemoryCounter) Get(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key], nil
}

func (m *MemoryCounter) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, key)
	delete(m.touched, key)
	return nil
}
