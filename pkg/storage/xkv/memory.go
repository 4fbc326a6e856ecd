package xkv

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// defaultShardCount 内存映射的分片数，必须是 2 的幂。
const defaultShardCount = 16

// Memory 进程内存储基座。
//
// 同一个 *Memory 可以被多个作业存储节点共享，用于单进程内模拟集群。
// 写入与读取都会复制字节切片，调用方修改返回值不影响存储内容。
type Memory struct {
	mu     sync.Mutex
	maps   map[string]*memoryMap
	closed atomic.Bool
}

// NewMemory 创建内存存储基座。
func NewMemory() *Memory {
	return &Memory{maps: make(map[string]*memoryMap)}
}

var _ Store = (*Memory)(nil)

// Map 返回命名映射，不存在时创建。
func (m *Memory) Map(name string) Map {
	m.mu.Lock()
	defer m.mu.Unlock()

	mm, ok := m.maps[name]
	if !ok {
		mm = newMemoryMap(name, &m.closed)
		m.maps[name] = mm
	}
	return mm
}

// Health 已关闭时返回 [ErrClosed]。
func (m *Memory) Health(context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close 关闭后所有映射操作返回 [ErrClosed]。
func (m *Memory) Close(context.Context) error {
	m.closed.Store(true)
	return nil
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

type memoryMap struct {
	name   string
	shards []memoryShard
	mask   uint64
	closed *atomic.Bool
}

func newMemoryMap(name string, closed *atomic.Bool) *memoryMap {
	shards := make([]memoryShard, defaultShardCount)
	for i := range shards {
		shards[i].entries = make(map[string][]byte)
	}
	return &memoryMap{
		name:   name,
		shards: shards,
		mask:   defaultShardCount - 1,
		closed: closed,
	}
}

func (m *memoryMap) shard(key string) *memoryShard {
	return &m.shards[xxhash.Sum64String(key)&m.mask]
}

func (m *memoryMap) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (m *memoryMap) Name() string { return m.name }

func (m *memoryMap) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	s := m.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (m *memoryMap) Put(ctx context.Context, key string, value []byte) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	if err := validateKey(key); err != nil {
		return err
	}
	s := m.shard(key)
	s.mu.Lock()
	s.entries[key] = slices.Clone(value)
	s.mu.Unlock()
	return nil
}

func (m *memoryMap) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	if err := m.check(ctx); err != nil {
		return false, err
	}
	if err := validateKey(key); err != nil {
		return false, err
	}
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.entries[key] = slices.Clone(value)
	return true, nil
}

func (m *memoryMap) Delete(ctx context.Context, key string) (bool, error) {
	if err := m.check(ctx); err != nil {
		return false, err
	}
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok, nil
}

func (m *memoryMap) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	out := make(map[string][]byte)
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for k, v := range s.entries {
			if hasPrefix(k, prefix) {
				out[k] = slices.Clone(v)
			}
		}
		s.mu.RUnlock()
	}
	return out, nil
}

func (m *memoryMap) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	var out []string
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for k := range s.entries {
			if hasPrefix(k, prefix) {
				out = append(out, k)
			}
		}
		s.mu.RUnlock()
	}
	slices.Sort(out)
	return out, nil
}

func (m *memoryMap) Len(ctx context.Context) (int, error) {
	if err := m.check(ctx); err != nil {
		return 0, err
	}
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n, nil
}

func (m *memoryMap) Clear(ctx context.Context) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		clear(s.entries)
		s.mu.Unlock()
	}
	return nil
}
