package xdlock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Registry 进程内锁表，多个 [NewMemoryLocker] 共享同一个 Registry 即构成一个"集群"。
//
// 租约按 clock 计时，到期的锁可被其他持有者取得。
// [Registry.Evict] 模拟节点离开集群：立即释放该节点持有的全部锁。
type Registry struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	owner     string
	token     string
	lease     time.Duration
	expiresAt time.Time
}

// NewRegistry 创建锁表。clock 为 nil 时使用真实时钟。
func NewRegistry(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{clock: clock, entries: make(map[string]*memoryEntry)}
}

// Evict 释放 owner 持有的全部锁，返回释放数量。
func (r *Registry) Evict(owner string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for k, e := range r.entries {
		if e.owner == owner {
			delete(r.entries, k)
			n++
		}
	}
	return n
}

// Holder 返回 key 当前的持有者，未被持有或已过期时返回 false。
func (r *Registry) Holder(key string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live(key)
	if !ok {
		return "", false
	}
	return e.owner, true
}

// live 返回未过期的条目，调用方需持有 r.mu。
func (r *Registry) live(key string) (*memoryEntry, bool) {
	e, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	if !r.clock.Now().Before(e.expiresAt) {
		delete(r.entries, key)
		return nil, false
	}
	return e, true
}

// memoryLocker 实现 Locker。
type memoryLocker struct {
	reg    *Registry
	owner  string
	closed atomic.Bool
}

// NewMemoryLocker 创建以 owner 身份操作 reg 的 Locker。
func NewMemoryLocker(reg *Registry, owner string) (Locker, error) {
	if reg == nil {
		return nil, ErrNilClient
	}
	if owner == "" {
		owner = defaultIdentity()
	}
	return &memoryLocker{reg: reg, owner: owner}, nil
}

var _ Locker = (*memoryLocker)(nil)

func (l *memoryLocker) TryLock(ctx context.Context, key string, lease time.Duration) (LockHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := validateLease(lease); err != nil {
		return nil, err
	}

	r := l.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.live(key); held {
		return nil, nil
	}
	e := &memoryEntry{
		owner:     l.owner,
		token:     uuid.NewString(),
		lease:     lease,
		expiresAt: r.clock.Now().Add(lease),
	}
	r.entries[key] = e
	return &memoryHandle{reg: r, key: key, token: e.token}, nil
}

func (l *memoryLocker) Health(context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (l *memoryLocker) Close(context.Context) error {
	l.closed.Store(true)
	return nil
}

type memoryHandle struct {
	reg   *Registry
	key   string
	token string
}

func (h *memoryHandle) Unlock(context.Context) error {
	r := h.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live(h.key)
	if !ok || e.token != h.token {
		return ErrNotLocked
	}
	delete(r.entries, h.key)
	return nil
}

func (h *memoryHandle) Extend(context.Context) error {
	r := h.reg
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.live(h.key)
	if !ok || e.token != h.token {
		return ErrNotLocked
	}
	e.expiresAt = r.clock.Now().Add(e.lease)
	return nil
}

func (h *memoryHandle) Key() string {
	return h.key
}
