package xdlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v5"

	"github.com/omeyang/xjobstore/pkg/observability/xlog"
)

// releaseTimeout ctx 已取消时释放锁使用的独立超时。
const releaseTimeout = 5 * time.Second

// errNotAcquired 单次 TryLock 未取得锁，触发重试。
var errNotAcquired = errors.New("xdlock: not acquired")

// heldKey 上下文中记录"本调用链已持有某把锁"的 key。
type heldKey struct {
	m    *Manager
	name string
}

// Manager 命名锁管理器。
//
// 同一节点内的多个 goroutine 在本地信号量上排队，拿到本地信号量后
// 再通过 Locker 竞争集群锁。Acquire 返回的 ctx 记录了已持有的锁，
// 沿该 ctx 再次 Acquire 同名锁会立即返回 [ErrReentrant]。
type Manager struct {
	locker Locker
	opts   *managerOptions

	mu     sync.Mutex
	local  map[string]chan struct{}
	held   map[string]*Guard
	closed bool
}

// NewManager 创建锁管理器。
func NewManager(locker Locker, opts ...ManagerOption) (*Manager, error) {
	if locker == nil {
		return nil, ErrNilLocker
	}
	o := defaultManagerOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Manager{
		locker: locker,
		opts:   o,
		local:  make(map[string]chan struct{}),
		held:   make(map[string]*Guard),
	}, nil
}

// Lease 返回租约时长。
func (m *Manager) Lease() time.Duration {
	return m.opts.lease
}

// Locker 返回底层锁原语。
func (m *Manager) Locker() Locker {
	return m.locker
}

// Acquire 阻塞获取命名锁，最多等待 AcquireTimeout。
//
// 返回的 ctx 应传递给临界区内的调用。错误：
//   - [ErrReentrant]: ctx 所在调用链已持有 name
//   - [ErrAcquireTimeout]: 超时仍未取得
//   - [ErrClosed]: Manager 已关闭
//   - ctx 的取消错误
func (m *Manager) Acquire(ctx context.Context, name string) (context.Context, *Guard, error) {
	if err := validateKey(name); err != nil {
		return ctx, nil, err
	}
	if Holds(ctx, m, name) {
		return ctx, nil, fmt.Errorf("%w: %s", ErrReentrant, name)
	}

	sem, err := m.semaphore(name)
	if err != nil {
		return ctx, nil, err
	}

	actx, cancel := context.WithTimeout(ctx, m.opts.acquireTimeout)
	defer cancel()

	select {
	case sem <- struct{}{}:
	case <-actx.Done():
		return ctx, nil, m.acquireError(ctx, name, actx.Err())
	}

	handle, err := m.tryAcquire(actx, name)
	if err != nil {
		<-sem
		return ctx, nil, m.acquireError(ctx, name, err)
	}

	g := &Guard{
		m:          m,
		name:       name,
		handle:     handle,
		sem:        sem,
		acquiredAt: m.opts.clock.Now(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = handle.Unlock(context.WithoutCancel(ctx))
		<-sem
		return ctx, nil, ErrClosed
	}
	m.held[name] = g
	m.mu.Unlock()

	go g.renewLoop()

	m.opts.logger.Debug(ctx, "lock acquired", slog.String("lock", name))
	return context.WithValue(ctx, heldKey{m: m, name: name}, g), g, nil
}

// tryAcquire 以指数退避重复 TryLock，直到成功或 ctx 结束。
func (m *Manager) tryAcquire(ctx context.Context, name string) (LockHandle, error) {
	var lastErr error
	handle, err := retry.NewWithData[LockHandle](
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(m.opts.retryDelay),
		retry.MaxDelay(m.opts.maxRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	).Do(func() (LockHandle, error) {
		h, err := m.locker.TryLock(ctx, name, m.opts.lease)
		switch {
		case err != nil && (errors.Is(err, ErrClosed) || errors.Is(err, ErrInvalidLease)):
			return nil, retry.Unrecoverable(err)
		case err != nil:
			lastErr = err
			return nil, err
		case h == nil:
			return nil, errNotAcquired
		}
		return h, nil
	})
	if err != nil {
		if lastErr != nil && !errors.Is(err, ErrClosed) {
			return nil, lastErr
		}
		return nil, err
	}
	return handle, nil
}

func (m *Manager) acquireError(parent context.Context, name string, err error) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	if errors.Is(err, ErrClosed) || errors.Is(err, ErrInvalidLease) {
		return err
	}
	m.opts.logger.Warn(parent, "lock acquire timeout",
		slog.String("lock", name), xlog.Duration(m.opts.acquireTimeout), xlog.Err(err))
	if errors.Is(err, errNotAcquired) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrAcquireTimeout, name, m.opts.acquireTimeout)
	}
	return fmt.Errorf("%w: %s: %w", ErrAcquireTimeout, name, err)
}

func (m *Manager) semaphore(name string) (chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	sem, ok := m.local[name]
	if !ok {
		sem = make(chan struct{}, 1)
		m.local[name] = sem
	}
	return sem, nil
}

// Held 返回本节点当前持有的锁名（已排序）。
func (m *Manager) Held() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.held))
	for name := range m.held {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ReleaseAll 释放本节点持有的全部锁，用于关闭流程。
func (m *Manager) ReleaseAll(ctx context.Context) error {
	m.mu.Lock()
	guards := make([]*Guard, 0, len(m.held))
	for _, g := range m.held {
		guards = append(guards, g)
	}
	m.mu.Unlock()

	var errs []error
	for _, g := range guards {
		if err := g.Release(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close 释放全部锁，之后的 Acquire 返回 [ErrClosed]。不关闭 Locker。
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.ReleaseAll(ctx)
}

// Holds 判断 ctx 所在调用链是否已通过 m 持有 name。
func Holds(ctx context.Context, m *Manager, name string) bool {
	g, ok := ctx.Value(heldKey{m: m, name: name}).(*Guard)
	return ok && !g.released.Load()
}

// =============================================================================
// Guard
// =============================================================================

// Guard 一次成功的 Acquire。持有期间后台每 lease/3 续期。
type Guard struct {
	m          *Manager
	name       string
	handle     LockHandle
	sem        chan struct{}
	acquiredAt time.Time

	stop     chan struct{}
	done     chan struct{}
	lost     atomic.Bool
	released atomic.Bool
}

// Name 返回锁名。
func (g *Guard) Name() string { return g.name }

// AcquiredAt 返回取得锁的时间。
func (g *Guard) AcquiredAt() time.Time { return g.acquiredAt }

// Lost 续期是否已失败。
func (g *Guard) Lost() bool { return g.lost.Load() }

// Release 停止续期并释放锁，重复调用返回 nil。
// 持有期间续期失败或释放时发现锁已不属于自己，返回 [ErrLeaseLost]。
func (g *Guard) Release(ctx context.Context) error {
	if g == nil || g.released.Swap(true) {
		return nil
	}
	close(g.stop)
	<-g.done

	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
	}
	err := g.handle.Unlock(ctx)

	m := g.m
	m.mu.Lock()
	if m.held[g.name] == g {
		delete(m.held, g.name)
	}
	m.mu.Unlock()
	<-g.sem

	switch {
	case g.lost.Load(), errors.Is(err, ErrNotLocked):
		m.opts.logger.Warn(ctx, "lock lease lost", slog.String("lock", g.name))
		return fmt.Errorf("%w: %s", ErrLeaseLost, g.name)
	case err != nil:
		return fmt.Errorf("xdlock: release %s: %w", g.name, err)
	}
	m.opts.logger.Debug(ctx, "lock released", slog.String("lock", g.name))
	return nil
}

func (g *Guard) renewLoop() {
	defer close(g.done)

	clock := g.m.opts.clock
	lease := g.m.opts.lease
	interval := max(lease/3, time.Millisecond)
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	lastOK := clock.Now()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.Chan():
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			err := g.handle.Extend(ctx)
			cancel()
			if err == nil {
				lastOK = clock.Now()
				continue
			}
			if errors.Is(err, ErrNotLocked) || clock.Since(lastOK) >= lease {
				g.lost.Store(true)
				g.m.opts.logger.Warn(context.Background(), "lock renewal failed, lease lost",
					slog.String("lock", g.name), xlog.Err(err))
				return
			}
			g.m.opts.logger.Warn(context.Background(), "lock renewal failed",
				slog.String("lock", g.name), xlog.Err(err))
		}
	}
}
