package xdlock

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// =============================================================================
// etcd 实现
// =============================================================================

// etcdLocker 基于 concurrency.Session 的 Locker。
//
// 每个节点应使用独立的 etcdLocker：同一 Session 下的 Mutex 对同名 key 是可重入的，
// 节点内的不可重入由 Manager 保证。
type etcdLocker struct {
	client  *clientv3.Client
	session *concurrency.Session
	opts    *etcdOptions
	closed  atomic.Bool
}

// NewEtcdLocker 创建 etcd 锁。Session TTL 由 [WithEtcdTTL] 决定。
func NewEtcdLocker(client *clientv3.Client, opts ...EtcdOption) (Locker, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	o := defaultEtcdOptions()
	for _, opt := range opts {
		opt(o)
	}

	session, err := concurrency.NewSession(
		client,
		concurrency.WithTTL(o.ttl),
		concurrency.WithContext(o.ctx),
	)
	if err != nil {
		return nil, err
	}
	return &etcdLocker{client: client, session: session, opts: o}, nil
}

var _ Locker = (*etcdLocker)(nil)

func (l *etcdLocker) TryLock(ctx context.Context, key string, lease time.Duration) (LockHandle, error) {
	if err := l.checkSession(); err != nil {
		return nil, err
	}
	if err := validateKey(key); err != nil {
		return nil, err
	}
	if err := validateLease(lease); err != nil {
		return nil, err
	}

	mutex := concurrency.NewMutex(l.session, l.opts.keyPrefix+key)
	if err := mutex.TryLock(ctx); err != nil {
		err = wrapEtcdError(err)
		if errors.Is(err, ErrLockHeld) {
			return nil, nil
		}
		return nil, err
	}
	return &etcdHandle{locker: l, mutex: mutex, key: key}, nil
}

func (l *etcdLocker) checkSession() error {
	if l.closed.Load() {
		return ErrClosed
	}
	select {
	case <-l.session.Done():
		return ErrSessionExpired
	default:
		return nil
	}
}

// Health 检查 Session 并执行一次读取。
func (l *etcdLocker) Health(ctx context.Context) error {
	if err := l.checkSession(); err != nil {
		return err
	}
	_, err := l.client.Get(ctx, l.opts.keyPrefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	return err
}

// Close 关闭 Session，撤销租约，所有由它持有的锁随之释放。
func (l *etcdLocker) Close(context.Context) error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.session.Close()
}

type etcdHandle struct {
	locker *etcdLocker
	mutex  *concurrency.Mutex
	key    string
}

func (h *etcdHandle) Unlock(ctx context.Context) error {
	select {
	case <-h.locker.session.Done():
		return ErrNotLocked
	default:
	}
	if err := h.mutex.Unlock(ctx); err != nil {
		return wrapEtcdError(err)
	}
	return nil
}

// Extend 由 Session 自动续约，这里只确认 Session 仍然存活。
func (h *etcdHandle) Extend(context.Context) error {
	select {
	case <-h.locker.session.Done():
		return ErrNotLocked
	default:
		return nil
	}
}

func (h *etcdHandle) Key() string {
	return h.key
}

// wrapEtcdError 将 etcd 错误转换为 xdlock 错误。
func wrapEtcdError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, concurrency.ErrLocked):
		return ErrLockHeld
	case errors.Is(err, concurrency.ErrSessionExpired):
		return ErrSessionExpired
	case errors.Is(err, concurrency.ErrLockReleased):
		return ErrNotLocked
	default:
		return err
	}
}
