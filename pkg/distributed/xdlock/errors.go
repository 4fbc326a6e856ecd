package xdlock

import "errors"

var (
	// ErrLockHeld 锁被其他持有者占用。
	// Locker.TryLock 不会返回此错误（而是返回 nil handle），仅用于错误转换与测试。
	ErrLockHeld = errors.New("xdlock: lock is held by another owner")

	// ErrAcquireTimeout 在获取超时内未能取得锁。
	ErrAcquireTimeout = errors.New("xdlock: acquire timeout")

	// ErrReentrant 同一个 Manager 已持有该锁。
	ErrReentrant = errors.New("xdlock: lock already held by this manager")

	// ErrLeaseLost 持有期间续期失败，锁可能已被他人取得。
	ErrLeaseLost = errors.New("xdlock: lease lost while held")

	// ErrNotLocked 锁已过期、被释放或被他人接管。
	ErrNotLocked = errors.New("xdlock: not locked")

	// ErrExtendFailed 续期操作失败（锁可能仍在，可重试）。
	ErrExtendFailed = errors.New("xdlock: failed to extend lock")

	// ErrSessionExpired etcd Session 已过期。
	ErrSessionExpired = errors.New("xdlock: session expired")

	// ErrNilClient 客户端为空。
	ErrNilClient = errors.New("xdlock: client is nil")

	// ErrNilLocker Manager 的 Locker 为空。
	ErrNilLocker = errors.New("xdlock: locker is nil")

	// ErrClosed Locker 或 Manager 已关闭。
	ErrClosed = errors.New("xdlock: closed")

	// ErrEmptyKey 锁 key 为空。
	ErrEmptyKey = errors.New("xdlock: key must not be empty")

	// ErrInvalidLease 租约时长必须为正。
	ErrInvalidLease = errors.New("xdlock: lease must be positive")
)
