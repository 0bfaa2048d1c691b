package coordination

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryBackend 进程内实现，用于单实例部署和测试
type MemoryBackend struct {
	mu          sync.Mutex
	items       *cache.Cache
	rev         uint64
	unavailable atomic.Bool
}

// NewMemoryBackend retention 为存储层回收时间
func NewMemoryBackend(retention time.Duration) *MemoryBackend {
	if retention <= 0 {
		retention = time.Hour
	}
	return &MemoryBackend{items: cache.New(retention, retention)}
}

// SetUnavailable 模拟存储不可用
func (m *MemoryBackend) SetUnavailable(v bool) {
	m.unavailable.Store(v)
}

func (m *MemoryBackend) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.unavailable.Load() {
		return ErrUnavailable
	}
	return nil
}

func (m *MemoryBackend) load(key string) (Entry, bool) {
	v, ok := m.items.Get(key)
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

func (m *MemoryBackend) store(key string, value []byte) {
	m.rev++
	cp := make([]byte, len(value))
	copy(cp, value)
	m.items.Set(key, Entry{Value: cp, Revision: m.rev}, cache.DefaultExpiration)
}

func (m *MemoryBackend) Create(ctx context.Context, key string, value []byte) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.load(key); ok {
		return ErrKeyExists
	}
	m.store(key, value)
	return nil
}

func (m *MemoryBackend) Get(ctx context.Context, key string) (Entry, error) {
	if err := m.check(ctx); err != nil {
		return Entry{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.load(key)
	if !ok {
		return Entry{}, ErrKeyNotFound
	}
	return e, nil
}

func (m *MemoryBackend) Update(ctx context.Context, key string, value []byte, revision uint64) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.load(key)
	if !ok || e.Revision != revision {
		return ErrRevisionMismatch
	}
	m.store(key, value)
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string, revision uint64) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.load(key)
	if !ok {
		return nil
	}
	if e.Revision != revision {
		return ErrRevisionMismatch
	}
	m.items.Delete(key)
	return nil
}

func (m *MemoryBackend) Ping(ctx context.Context) error {
	return m.check(ctx)
}

func (m *MemoryBackend) Close() error {
	m.items.Flush()
	return nil
}

func (m *MemoryBackend) Name() string {
	return "memory"
}
