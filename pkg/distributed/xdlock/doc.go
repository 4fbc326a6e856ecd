// Package xdlock 提供作业存储集群使用的命名租约锁。
//
// # 分层
//
//   - [Locker]: 后端锁原语。TryLock 非阻塞，锁被其他持有者占用时返回 (nil, nil)
//   - [Manager]: 在 Locker 之上提供阻塞获取（有界重试）、后台续期、
//     不可重入检查，以及关闭时的批量释放
//
// # 后端
//
//	| 后端 | 构造函数 | 持有者失联后 |
//	|------|----------|--------------|
//	| 内存 | NewMemoryLocker(registry, owner) | 租约到期，或 Registry.Evict 强制释放 |
//	| Redis | NewRedisLocker(clients...) | redsync 过期时间到期 |
//	| etcd | NewEtcdLocker(client) | Session 租约到期 |
//	| Kubernetes | NewK8sLocker(opts) | Lease 到期 |
//
// # 锁顺序
//
// 作业存储只使用两把锁：[StateAccess] 与 [TriggerAccess]。
// 同时需要两把锁时必须先取 StateAccess，再取 TriggerAccess。
//
// # 使用模式
//
//	m, err := xdlock.NewManager(locker, xdlock.WithLease(30*time.Second))
//	g, err := m.Acquire(ctx, xdlock.TriggerAccess)
//	if err != nil {
//	    return err
//	}
//	defer g.Release(ctx)
package xdlock
