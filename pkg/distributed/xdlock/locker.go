package xdlock

import (
	"context"
	"strings"
	"time"
)

// 作业存储使用的锁名。
const (
	// StateAccess 保护 Job/Trigger/Calendar 之间的结构性修改。
	StateAccess = "state-access"
	// TriggerAccess 保护触发器状态迁移与获取。
	TriggerAccess = "trigger-access"
)

// LockHandle 一次成功的锁获取。
//
// 每次 TryLock 成功都返回新的 handle，内部持有唯一 token，
// 不同获取之间不会互相释放。
type LockHandle interface {
	// Unlock 释放锁。锁已过期或被接管时返回 [ErrNotLocked]。
	Unlock(ctx context.Context) error

	// Extend 按获取时的租约时长续期。
	// 所有权已丢失返回 [ErrNotLocked]；续期请求失败返回 [ErrExtendFailed]。
	Extend(ctx context.Context) error

	// Key 返回锁的 key。
	Key() string
}

// Locker 后端锁原语。
type Locker interface {
	// TryLock 非阻塞获取锁，lease 为租约时长。
	// 锁被他人持有时返回 (nil, nil)；后端异常时返回 error。
	TryLock(ctx context.Context, key string, lease time.Duration) (LockHandle, error)

	// Health 检查后端连通性。
	Health(ctx context.Context) error

	// Close 释放 Locker 自身的资源，不关闭调用方传入的客户端。
	Close(ctx context.Context) error
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	return nil
}

func validateLease(lease time.Duration) error {
	if lease <= 0 {
		return ErrInvalidLease
	}
	return nil
}
