package storage

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

func init() {
	if err := RegisterStorage(Memory, func() ServiceStorage { return new(MemoryDB) }); err != nil {
		panic(err)
	}
}

// memoryEntry is stored by pointer so sync.Map can compare entries on delete.
type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryDB is a process-local store keyed by namespace and key. It is lost on restart.
type MemoryDB struct {
	entries sync.Map
	clock   clock.Clock
	open    atomic.Bool
}

func (m *MemoryDB) Init(opts ...Option) error {
	m.clock = clock.New()
	if c, ok := getOption(opts, ClockOption); ok {
		injected, ok := c.(clock.Clock)
		if !ok {
			return errors.Errorf("option<%s> must be a clock.Clock; got %T", ClockOption, c)
		}
		m.clock = injected
	}
	m.open.Store(true)
	return nil
}

func (m *MemoryDB) Type() Type {
	return Memory
}

func (m *MemoryDB) URI() string {
	return "memory://"
}

func (m *MemoryDB) IsOpen() bool {
	return m.open.Load()
}

func (m *MemoryDB) Close() error {
	m.open.Store(false)
	m.entries.Range(func(k, _ any) bool {
		m.entries.Delete(k)
		return true
	})
	return nil
}

func memoryKey(namespace, key string) string {
	return namespace + "\x00" + key
}

func (m *MemoryDB) Write(_ context.Context, namespace, key string, value []byte) error {
	m.entries.Store(memoryKey(namespace, key), &memoryEntry{value: clone(value)})
	return nil
}

func (m *MemoryDB) WriteWithTTL(_ context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	m.entries.Store(memoryKey(namespace, key), &memoryEntry{value: clone(value), expiresAt: m.clock.Now().Add(ttl)})
	return nil
}

func (m *MemoryDB) Read(_ context.Context, namespace, key string) ([]byte, error) {
	v, ok := m.entries.Load(memoryKey(namespace, key))
	if !ok {
		return nil, nil
	}
	entry := v.(*memoryEntry)
	if entry.expired(m.clock.Now()) {
		m.entries.CompareAndDelete(memoryKey(namespace, key), v)
		return nil, nil
	}
	return clone(entry.value), nil
}

func (m *MemoryDB) ReadAndDelete(_ context.Context, namespace, key string) ([]byte, error) {
	v, ok := m.entries.LoadAndDelete(memoryKey(namespace, key))
	if !ok {
		return nil, ErrNotFound
	}
	entry := v.(*memoryEntry)
	if entry.expired(m.clock.Now()) {
		return nil, ErrNotFound
	}
	return entry.value, nil
}

func (m *MemoryDB) ReadAll(_ context.Context, namespace string) (map[string][]byte, error) {
	prefix := memoryKey(namespace, "")
	now := m.clock.Now()
	result := make(map[string][]byte)
	m.entries.Range(func(k, v any) bool {
		fullKey := k.(string)
		if !strings.HasPrefix(fullKey, prefix) {
			return true
		}
		entry := v.(*memoryEntry)
		if entry.expired(now) {
			return true
		}
		result[strings.TrimPrefix(fullKey, prefix)] = clone(entry.value)
		return true
	})
	return result, nil
}

func (m *MemoryDB) Delete(_ context.Context, namespace, key string) error {
	m.entries.Delete(memoryKey(namespace, key))
	return nil
}

func (m *MemoryDB) DeleteNamespace(_ context.Context, namespace string) error {
	prefix := memoryKey(namespace, "")
	m.entries.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			m.entries.Delete(k)
		}
		return true
	})
	return nil
}

func (m *MemoryDB) PurgeExpired(_ context.Context) (int, error) {
	now := m.clock.Now()
	purged := 0
	m.entries.Range(func(k, v any) bool {
		if v.(*memoryEntry).expired(now) && m.entries.CompareAndDelete(k, v) {
			purged++
		}
		return true
	})
	return purged, nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
