package xdlock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-redsync/redsync/v4"
	rsredis "github.com/go-redsync/redsync/v4/redis"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// Redis 实现
// =============================================================================

// redisLocker 基于 redsync 的 Locker。
type redisLocker struct {
	clients []redis.UniversalClient
	rs      *redsync.Redsync
	opts    *redisOptions
	closed  atomic.Bool
}

// NewRedisLocker 创建 Redis 锁。
// 单个 client 为标准 Redis 锁；多个 client 使用 Redlock 算法（需过半成功）。
func NewRedisLocker(clients []redis.UniversalClient, opts ...RedisOption) (Locker, error) {
	if len(clients) == 0 {
		return nil, ErrNilClient
	}
	for i, client := range clients {
		if client == nil {
			return nil, errors.Join(ErrNilClient, errors.New("client at index "+strconv.Itoa(i)+" is nil"))
		}
	}

	o := defaultRedisOptions()
	for _, opt := range opts {
		opt(o)
	}

	pools := make([]rsredis.Pool, len(clients))
	for i, client := range clients {
		pools[i] = goredis.NewPool(client)
	}

	return &redisLocker{
		clients: clients,
		rs:      redsync.New(pools...),
		opts:    o,
	}, nil
}

var _ Locker = (*redisLocker)(nil)

func (l *redisLocker) TryLock(ctx context.Context, key string, lease time.Duration) (LockHandle, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := validateLease(lease); err != nil {
		return nil, err
	}

	fullKey := l.opts.keyPrefix + key
	rsOpts := []redsync.Option{
		redsync.WithExpiry(lease),
		redsync.WithTries(1),
		redsync.WithDriftFactor(l.opts.driftFactor),
		redsync.WithTimeoutFactor(l.opts.timeoutFactor),
		redsync.WithShufflePools(l.opts.shufflePools),
	}
	mutex := l.rs.NewMutex(fullKey, rsOpts...)

	if err := mutex.TryLockContext(ctx); err != nil {
		err = wrapRedisError(err)
		if errors.Is(err, ErrLockHeld) {
			return nil, nil
		}
		return nil, err
	}
	return &redisHandle{mutex: mutex, key: fullKey}, nil
}

// Health 对所有 Redis 节点执行 PING。
func (l *redisLocker) Health(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	for _, client := range l.clients {
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close 不关闭传入的 Redis 客户端。
func (l *redisLocker) Close(context.Context) error {
	l.closed.Store(true)
	return nil
}

// redisHandle 实现 LockHandle。
// Locker 关闭后仍允许 Unlock/Extend，避免锁残留到过期。
type redisHandle struct {
	mutex *redsync.Mutex
	key   string
}

func (h *redisHandle) Unlock(ctx context.Context) error {
	ok, err := h.mutex.UnlockContext(ctx)
	if err != nil {
		return lostOr(wrapRedisError(err))
	}
	if !ok {
		return ErrNotLocked
	}
	return nil
}

func (h *redisHandle) Extend(ctx context.Context) error {
	ok, err := h.mutex.ExtendContext(ctx)
	if err != nil {
		return lostOr(wrapRedisError(err))
	}
	if !ok {
		return ErrNotLocked
	}
	return nil
}

func (h *redisHandle) Key() string {
	return h.key
}

// lostOr 已被他人持有或已过期都意味着本 handle 失去了锁。
func lostOr(err error) error {
	if errors.Is(err, ErrLockHeld) || errors.Is(err, ErrNotLocked) {
		return ErrNotLocked
	}
	return err
}

// wrapRedisError 将 redsync 错误转换为 xdlock 错误，保留原始错误链。
func wrapRedisError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	// ErrTaken 是结构体类型，需要 errors.As
	var errTaken *redsync.ErrTaken
	if errors.As(err, &errTaken) {
		return fmt.Errorf("%w: %w", ErrLockHeld, err)
	}
	if errors.Is(err, redsync.ErrFailed) {
		return fmt.Errorf("%w: %w", ErrLockHeld, err)
	}
	if errors.Is(err, redsync.ErrLockAlreadyExpired) {
		return fmt.Errorf("%w: %w", ErrNotLocked, err)
	}
	if errors.Is(err, redsync.ErrExtendFailed) {
		return fmt.Errorf("%w: %w", ErrNotLocked, err)
	}
	return err
}
