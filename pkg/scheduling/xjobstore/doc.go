// Package xjobstore 集群化的作业存储。
//
// 多个调度节点共享同一个 [xkv.Store] 与 [xdlock.Locker]，通过 Store 读写
// Job、Trigger、Calendar，并周期性调用 [Store.AcquireNextTriggers] 领取
// 即将触发的 Trigger。集群内同一个 Trigger 在被释放或触发完成之前只会被一个节点领取。
//
// # 生命周期
//
//	store, _ := xjobstore.New(kv, locker, xjobstore.WithNodeID("node-a"))
//	_ = store.Initialize(ctx, loader, signaler)
//	_ = store.SchedulerStarted(ctx)
//	triggers, _ := store.AcquireNextTriggers(ctx, time.Now().Add(30*time.Second), 10, time.Second)
//	results, _ := store.TriggersFired(ctx, triggers)
//	// 执行作业 ...
//	_ = store.TriggeredJobComplete(ctx, trigger, job, xjobstore.InstructionNoop)
//	_ = store.Shutdown(ctx)
//
// # 锁
//
// 使用两把命名锁：trigger-access 保护触发器状态迁移，state-access 保护跨多个
// key 的结构性修改。两把锁都需要时总是先 state-access 后 trigger-access。
// 单 key 的读取与 StoreJob 不加锁，依赖存储层的单 key 原子性（PutIfAbsent）。
//
// # 错误
//
// 目标已存在返回 [*AlreadyExistsError]（errors.Is(err, [ErrAlreadyExists])），
// 约束违反与存储/锁故障返回 [*PersistenceError]（errors.Is(err, [ErrPersistence])）。
// 不存在不是错误：Retrieve* 返回 nil，Remove*/Check* 返回 false。
package xjobstore
